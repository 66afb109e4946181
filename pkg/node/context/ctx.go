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

// Package context defines the stall node context
package context

import (
	"net/http"
	"os"

	"github.com/pkg/errors"

	"github.com/stallnet/stall/pkg/clock"
	"github.com/stallnet/stall/pkg/node/consts"
	"github.com/stallnet/stall/pkg/node/database"
)

// Paths contain directory definitions
type Paths struct {
	Home   string
	Config string
	Data   string
	Cache  string
}

// StallCtx is a context holding the information of the current runtime
type StallCtx struct {
	Paths       Paths
	Version     string
	DB          *database.DB
	SellerID    string
	APIEndpoint string
	PublicURL   string
	Clock       clock.Clock
	HTTPClient  *http.Client
}

// Redact replaces private information from the context with a set of
// placeholder values.
func Redact(ctx StallCtx) StallCtx {
	if ctx.SellerID != "" {
		ctx.SellerID = "1"
	} else {
		ctx.SellerID = "0"
	}

	return ctx
}

// InitStallDirs creates, if necessary, the directories in which stall
// places its files
func InitStallDirs(paths Paths) error {
	for _, base := range []string{paths.Config, paths.Data, paths.Cache} {
		dir := base + "/" + consts.StallDirName
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "creating directory %s", dir)
		}
	}

	return nil
}
