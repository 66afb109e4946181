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

package sync

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	nodectx "github.com/stallnet/stall/pkg/node/context"
	"github.com/stallnet/stall/pkg/node/event"
	"github.com/stallnet/stall/pkg/node/infra"
	"github.com/stallnet/stall/pkg/node/log"
	"github.com/stallnet/stall/pkg/node/medialib"
	nodesync "github.com/stallnet/stall/pkg/node/sync"
)

var example = `
  stall sync`

// NewCmd returns a new sync command
func NewCmd(ctx nodectx.StallCtx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sync",
		Short:   "Sync the catalog with the registry",
		Aliases: []string{"s"},
		Example: example,
		RunE:    newRun(ctx),
	}

	return cmd
}

// watch prints every notification arriving on the given topic
func watch(bus *event.Bus, topic string, print func(event.Event)) {
	ch := bus.Subscribe(topic)
	go func() {
		for ev := range ch {
			print(ev)
		}
	}()
}

// WatchResults subscribes to the sync notifications and prints them as they
// arrive. It is shared by the one-shot sync and the daemon.
func WatchResults(bus *event.Bus) {
	watch(bus, event.TopicWareUpdated, func(ev event.Event) {
		n := ev.Data.(nodesync.WareNotification)
		log.Successf("listed ware %s\n", n.UUID)
	})
	watch(bus, event.TopicWareRemoved, func(ev event.Event) {
		n := ev.Data.(nodesync.WareNotification)
		log.Successf("removed ware %s\n", n.UUID)
	})
	watch(bus, event.TopicWareException, func(ev event.Event) {
		n := ev.Data.(nodesync.WareNotification)
		log.Warnf("registry rejected ware %s: %s\n", n.UUID, n.Problem)
	})
	watch(bus, event.TopicSchemeUpdated, func(ev event.Event) {
		n := ev.Data.(nodesync.SchemeNotification)
		log.Successf("listed payee scheme %d\n", n.ID)
	})
	watch(bus, event.TopicSchemeRemoved, func(ev event.Event) {
		n := ev.Data.(nodesync.SchemeNotification)
		log.Successf("removed payee scheme %d\n", n.ID)
	})
	watch(bus, event.TopicSchemeException, func(ev event.Event) {
		n := ev.Data.(nodesync.SchemeNotification)
		log.Warnf("registry rejected payee scheme %d: %s\n", n.ID, n.Problem)
	})
	watch(bus, event.TopicRegisterFailed, func(ev event.Event) {
		log.Errorf("registration failed: %v\n", ev.Data)
	})
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
		WatchResults(bus)

		log.Infof("syncing with %s\n", ctx.APIEndpoint)

		c := nodesync.NewCoordinator(ctx, bus, medialib.NewSQLLibrary())
		if err := c.Drain(sigCtx); err != nil {
			return errors.Wrap(err, "syncing")
		}

		log.Success("done\n")

		return nil
	}
}
