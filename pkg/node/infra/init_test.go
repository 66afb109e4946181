/* Copyright 2025 Stall Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package infra

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"

	"github.com/stallnet/stall/pkg/assert"
	"github.com/stallnet/stall/pkg/dirs"
	"github.com/stallnet/stall/pkg/node/config"
	"github.com/stallnet/stall/pkg/node/consts"
	"github.com/stallnet/stall/pkg/node/database"
)

func setupDirs(t *testing.T) {
	t.Helper()

	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base+"/config")
	t.Setenv("XDG_DATA_HOME", base+"/data")
	t.Setenv("XDG_CACHE_HOME", base+"/cache")
	dirs.Reload()
	t.Cleanup(dirs.Reload)
}

func TestInit(t *testing.T) {
	setupDirs(t)

	ctx, err := Init("test", "http://registry.test/api", "")
	if err != nil {
		t.Fatal(errors.Wrap(err, "initializing"))
	}
	defer ctx.DB.Close()

	assert.Equal(t, ctx.APIEndpoint, "http://registry.test/api", "api endpoint mismatch")
	assert.NotEqual(t, ctx.SellerID, "", "a seller id should be generated")

	var updateID int
	if err := database.GetConfig(ctx.DB, consts.ConfigUpdateID, &updateID); err != nil {
		t.Fatal(errors.Wrap(err, "reading the update id"))
	}
	assert.Equal(t, updateID, 0, "the update id should start at zero")

	var token string
	if err := database.GetConfig(ctx.DB, consts.ConfigNetaccessToken, &token); err != nil {
		t.Fatal(errors.Wrap(err, "reading the netaccess token"))
	}
	assert.NotEqual(t, token, "", "a netaccess token should be generated")

	var lastSync int64
	if err := database.GetConfig(ctx.DB, consts.ConfigLastSyncAt, &lastSync); err != nil {
		t.Fatal(errors.Wrap(err, "reading the last sync time"))
	}
	assert.Equal(t, lastSync, int64(0), "the last sync time should start at zero")

	cf, err := config.Read(*ctx)
	if err != nil {
		t.Fatal(errors.Wrap(err, "reading the config file"))
	}
	assert.Equal(t, cf.SellerID, ctx.SellerID, "config seller id mismatch")
}

func TestInitIdempotent(t *testing.T) {
	setupDirs(t)
	dbPath := fmt.Sprintf("%s/stall.db", t.TempDir())

	ctx1, err := Init("test", "", dbPath)
	if err != nil {
		t.Fatal(errors.Wrap(err, "initializing"))
	}

	var token1 string
	if err := database.GetConfig(ctx1.DB, consts.ConfigNetaccessToken, &token1); err != nil {
		t.Fatal(errors.Wrap(err, "reading the netaccess token"))
	}
	ctx1.DB.Close()

	ctx2, err := Init("test", "", dbPath)
	if err != nil {
		t.Fatal(errors.Wrap(err, "re-initializing"))
	}
	defer ctx2.DB.Close()

	var token2 string
	if err := database.GetConfig(ctx2.DB, consts.ConfigNetaccessToken, &token2); err != nil {
		t.Fatal(errors.Wrap(err, "re-reading the netaccess token"))
	}

	assert.Equal(t, ctx2.SellerID, ctx1.SellerID, "the seller id must survive re-initialization")
	assert.Equal(t, token2, token1, "the netaccess token must survive re-initialization")
	assert.Equal(t, ctx2.APIEndpoint, DefaultAPIEndpoint, "the default endpoint should be used")
}
