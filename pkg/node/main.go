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

package main

import (
	"os"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/stallnet/stall/pkg/node/infra"
	"github.com/stallnet/stall/pkg/node/log"

	// commands
	"github.com/stallnet/stall/pkg/node/cmd/media"
	"github.com/stallnet/stall/pkg/node/cmd/netaccess"
	"github.com/stallnet/stall/pkg/node/cmd/root"
	"github.com/stallnet/stall/pkg/node/cmd/scheme"
	"github.com/stallnet/stall/pkg/node/cmd/start"
	"github.com/stallnet/stall/pkg/node/cmd/sync"
	"github.com/stallnet/stall/pkg/node/cmd/version"
	"github.com/stallnet/stall/pkg/node/cmd/ware"
)

// apiEndpoint and versionTag are populated during link time
var apiEndpoint string
var versionTag = "master"

// parseDBPath extracts the --dbPath flag value from command line arguments
// regardless of where it appears (before or after subcommand).
// Returns empty string if not found.
func parseDBPath(args []string) string {
	for i, arg := range args {
		if strings.HasPrefix(arg, "--dbPath=") {
			return strings.TrimPrefix(arg, "--dbPath=")
		}
		if arg == "--dbPath" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func main() {
	// The database must be open before cobra parses flags, so --dbPath is
	// extracted by hand; it can appear after the subcommand.
	dbPath := parseDBPath(os.Args[1:])

	ctx, err := infra.Init(versionTag, apiEndpoint, dbPath)
	if err != nil {
		panic(errors.Wrap(err, "initializing context"))
	}
	defer ctx.DB.Close()

	root.Register(start.NewCmd(*ctx))
	root.Register(sync.NewCmd(*ctx))
	root.Register(netaccess.NewCmd(*ctx))
	root.Register(ware.NewCmd(*ctx))
	root.Register(scheme.NewCmd(*ctx))
	root.Register(media.NewCmd(*ctx))
	root.Register(version.NewCmd(*ctx))

	if err := root.Execute(); err != nil {
		log.Errorf("%s\n", err.Error())
		os.Exit(1)
	}
}
