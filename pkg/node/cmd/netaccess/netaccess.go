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

package netaccess

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/stallnet/stall/pkg/node/client"
	"github.com/stallnet/stall/pkg/node/consts"
	"github.com/stallnet/stall/pkg/node/context"
	"github.com/stallnet/stall/pkg/node/database"
	"github.com/stallnet/stall/pkg/node/infra"
	"github.com/stallnet/stall/pkg/node/log"
)

// NewCmd returns a new netaccess command
func NewCmd(ctx context.StallCtx) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "netaccess",
		Short: "Check whether the registry can reach this node",
		RunE:  newRun(ctx),
	}

	return cmd
}

func newRun(ctx context.StallCtx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		if ctx.PublicURL == "" {
			return errors.New("publicUrl is not configured; set it in the config file")
		}

		var token string
		if err := database.GetConfig(ctx.DB, consts.ConfigNetaccessToken, &token); err != nil {
			return errors.Wrap(err, "reading the netaccess token")
		}

		reachable, err := client.TestNetAccess(ctx, token)
		if err != nil {
			return errors.Wrap(err, "probing net access")
		}

		if reachable {
			log.Successf("%s is reachable from the registry\n", ctx.PublicURL)
		} else {
			log.Warnf("%s is not reachable from the registry\n", ctx.PublicURL)
		}

		return nil
	}
}
