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

package start

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron"
	"github.com/spf13/cobra"

	syncCmd "github.com/stallnet/stall/pkg/node/cmd/sync"
	"github.com/stallnet/stall/pkg/node/consts"
	nodectx "github.com/stallnet/stall/pkg/node/context"
	"github.com/stallnet/stall/pkg/node/database"
	"github.com/stallnet/stall/pkg/node/event"
	"github.com/stallnet/stall/pkg/node/infra"
	"github.com/stallnet/stall/pkg/node/log"
	"github.com/stallnet/stall/pkg/node/medialib"
	nodesync "github.com/stallnet/stall/pkg/node/sync"
)

var syncIntervalFlag time.Duration

var example = `
  * Run the node, syncing every five minutes
  stall start

  * Sync more often
  stall start --syncInterval 30s`

// NewCmd returns a new start command
func NewCmd(ctx nodectx.StallCtx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "start",
		Short:   "Run the stall node",
		Example: example,
		RunE:    newRun(ctx),
	}

	f := cmd.Flags()
	f.DurationVar(&syncIntervalFlag, "syncInterval", 5*time.Minute, "how often to sync the catalog with the registry")

	return cmd
}

func newRun(ctx nodectx.StallCtx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		if ctx.PublicURL == "" {
			return errors.New("publicUrl is not configured; set it in the config file")
		}

		sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		bus := event.NewBus()
		defer bus.Close()
		syncCmd.WatchResults(bus)

		watchNetAccess(bus)

		c := nodesync.NewCoordinator(ctx, bus, medialib.NewSQLLibrary())

		scheduler := cron.New()
		if err := scheduler.AddFunc(fmt.Sprintf("@every %s", syncIntervalFlag), c.RequestUpdate); err != nil {
			return errors.Wrap(err, "scheduling the periodic sync")
		}
		scheduler.Start()
		defer scheduler.Stop()

		log.Infof("stall node started, syncing with %s every %s\n", ctx.APIEndpoint, syncIntervalFlag)
		logLastSync(ctx)

		// Verify reachability and run an initial sync right away.
		c.RequestNetTest()
		c.RequestUpdate()

		c.Run(sigCtx)

		log.Info("stall node stopped\n")

		return nil
	}
}

func logLastSync(ctx nodectx.StallCtx) {
	var lastSync int64
	if err := database.GetConfig(ctx.DB, consts.ConfigLastSyncAt, &lastSync); err != nil {
		log.Debug("reading the last sync time: %s\n", err)
		return
	}
	if lastSync == 0 {
		log.Info("the catalog has never been synced\n")
		return
	}

	log.Infof("last synced at %s\n", time.Unix(lastSync, 0).Format(time.RFC3339))
}

func watchNetAccess(bus *event.Bus) {
	ch := bus.Subscribe(event.TopicNetAccess)
	go func() {
		for ev := range ch {
			if reachable, ok := ev.Data.(bool); ok && !reachable {
				log.Warnf("the registry cannot reach this node's public URL; buyers will not be able to download\n")
			}
		}
	}()
}
