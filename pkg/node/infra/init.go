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

// Package infra provides operations and definitions for the
// local infrastructure for stall
package infra

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/stallnet/stall/pkg/clock"
	"github.com/stallnet/stall/pkg/dirs"
	"github.com/stallnet/stall/pkg/node/client"
	"github.com/stallnet/stall/pkg/node/config"
	"github.com/stallnet/stall/pkg/node/consts"
	"github.com/stallnet/stall/pkg/node/context"
	"github.com/stallnet/stall/pkg/node/database"
	"github.com/stallnet/stall/pkg/node/log"
	"github.com/stallnet/stall/pkg/node/utils"
)

const (
	// DefaultAPIEndpoint is the default registry endpoint used when none is configured
	DefaultAPIEndpoint = "http://localhost:3001/api"
)

// RunEFunc is a function type of stall commands
type RunEFunc func(*cobra.Command, []string) error

func getDBPath(paths context.Paths, customPath string) string {
	if customPath != "" {
		return customPath
	}

	return fmt.Sprintf("%s/%s/%s", paths.Data, consts.StallDirName, consts.StallDBFileName)
}

// newBaseCtx creates a minimal context with paths and database connection.
// This base context is used for file and database initialization before
// being enriched with config values by setupCtx.
func newBaseCtx(versionTag, customDBPath string) (context.StallCtx, error) {
	paths := context.Paths{
		Home:   dirs.Home,
		Config: dirs.ConfigHome,
		Data:   dirs.DataHome,
		Cache:  dirs.CacheHome,
	}

	if err := context.InitStallDirs(paths); err != nil {
		return context.StallCtx{}, errors.Wrap(err, "creating the stall dirs")
	}

	db, err := database.Open(getDBPath(paths, customDBPath))
	if err != nil {
		return context.StallCtx{}, errors.Wrap(err, "connecting to db")
	}

	return context.StallCtx{
		Paths:   paths,
		Version: versionTag,
		DB:      db,
	}, nil
}

// Init initializes the stall environment and returns a new stall context.
// apiEndpoint is used when creating a new config file.
func Init(versionTag, apiEndpoint, dbPath string) (*context.StallCtx, error) {
	ctx, err := newBaseCtx(versionTag, dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "initializing a context")
	}

	if err := initConfigFile(ctx, apiEndpoint); err != nil {
		return nil, errors.Wrap(err, "generating the config file")
	}

	if err := InitDB(ctx); err != nil {
		return nil, errors.Wrap(err, "initializing database")
	}
	if err := InitSystem(ctx); err != nil {
		return nil, errors.Wrap(err, "initializing system data")
	}

	ctx, err = setupCtx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "setting up the context")
	}

	log.Debug("context: %+v\n", context.Redact(ctx))

	return &ctx, nil
}

// setupCtx enriches the base context with values from the config file.
// This is called after files and database have been initialized.
func setupCtx(ctx context.StallCtx) (context.StallCtx, error) {
	cf, err := config.Read(ctx)
	if err != nil {
		return ctx, errors.Wrap(err, "reading config")
	}

	ret := context.StallCtx{
		Paths:       ctx.Paths,
		Version:     ctx.Version,
		DB:          ctx.DB,
		SellerID:    cf.SellerID,
		APIEndpoint: cf.APIEndpoint,
		PublicURL:   cf.PublicURL,
		Clock:       clock.New(),
		HTTPClient:  client.NewHTTPClient(),
	}

	return ret, nil
}

// InitDB initializes the database
func InitDB(ctx context.StallCtx) error {
	log.Debug("initializing the database\n")

	db := ctx.DB

	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS wares
		(
			id integer PRIMARY KEY AUTOINCREMENT,
			uuid text NOT NULL,
			media_id text NOT NULL,
			file_id text NOT NULL,
			description text NOT NULL DEFAULT '',
			payee_scheme_id integer NOT NULL DEFAULT 0,
			dirty bool DEFAULT 0,
			updating bool DEFAULT 0,
			deleted bool DEFAULT 0,
			problem_id integer NOT NULL DEFAULT 0
		)`)
	if err != nil {
		return errors.Wrap(err, "creating wares table")
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS payee_schemes
		(
			id integer PRIMARY KEY,
			name text NOT NULL,
			dirty bool DEFAULT 0,
			updating bool DEFAULT 0,
			deleted bool DEFAULT 0,
			problem_id integer NOT NULL DEFAULT 0
		)`)
	if err != nil {
		return errors.Wrap(err, "creating payee_schemes table")
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS payee_scheme_payees
		(
			scheme_id integer NOT NULL,
			position integer NOT NULL,
			name text NOT NULL,
			share integer NOT NULL
		)`)
	if err != nil {
		return errors.Wrap(err, "creating payee_scheme_payees table")
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS problems
		(
			id integer PRIMARY KEY AUTOINCREMENT,
			body text NOT NULL
		)`)
	if err != nil {
		return errors.Wrap(err, "creating problems table")
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS config
		(
			key text NOT NULL,
			value text NOT NULL
		)`)
	if err != nil {
		return errors.Wrap(err, "creating config table")
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS media_files
		(
			id integer PRIMARY KEY AUTOINCREMENT,
			media_id text NOT NULL,
			file_id text NOT NULL,
			name text NOT NULL,
			size integer NOT NULL DEFAULT 0,
			checksum text NOT NULL DEFAULT ''
		)`)
	if err != nil {
		return errors.Wrap(err, "creating media_files table")
	}

	_, err = db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_wares_uuid ON wares(uuid);
		CREATE INDEX IF NOT EXISTS idx_wares_scheme ON wares(payee_scheme_id);
		CREATE INDEX IF NOT EXISTS idx_payee_scheme_payees_scheme ON payee_scheme_payees(scheme_id);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_problems_body ON problems(body);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_config_key ON config(key);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_media_files_key ON media_files(media_id, file_id);`)
	if err != nil {
		return errors.Wrap(err, "creating indices")
	}

	return nil
}

// InitSystem inserts config data if missing
func InitSystem(ctx context.StallCtx) error {
	log.Debug("initializing the system\n")

	tx, err := ctx.DB.Begin()
	if err != nil {
		return errors.Wrap(err, "beginning a transaction")
	}

	netaccessToken, err := utils.GenerateUUID()
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "generating the netaccess token")
	}

	for key, val := range map[string]string{
		consts.ConfigServerID:       "0",
		consts.ConfigServerToken:    "",
		consts.ConfigServerURL:      "",
		consts.ConfigUpdateID:       "0",
		consts.ConfigNetaccessToken: netaccessToken,
		consts.ConfigLastSyncAt:     "0",
	} {
		if err := database.InitConfig(tx, key, val); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "initializing config for %s", key)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "committing transaction")
	}

	return nil
}

// initConfigFile populates a new config file if it does not exist yet
func initConfigFile(ctx context.StallCtx, apiEndpoint string) error {
	path := config.GetPath(ctx)
	ok, err := utils.FileExists(path)
	if err != nil {
		return errors.Wrap(err, "checking if config exists")
	}
	if ok {
		return nil
	}

	endpoint := apiEndpoint
	if endpoint == "" {
		endpoint = DefaultAPIEndpoint
	}

	sellerID, err := utils.GenerateUUID()
	if err != nil {
		return errors.Wrap(err, "generating the seller id")
	}

	cf := config.Config{
		APIEndpoint: endpoint,
		SellerID:    sellerID,
	}

	if err := config.Write(ctx, cf); err != nil {
		return errors.Wrap(err, "writing config")
	}

	return nil
}
