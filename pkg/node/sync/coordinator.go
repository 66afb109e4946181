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

// Package sync implements the listing synchronization core: planning update
// batches, shipping them to the registry, and reconciling the verdicts.
package sync

import (
	"context"

	"github.com/pkg/errors"

	"github.com/stallnet/stall/pkg/node/client"
	"github.com/stallnet/stall/pkg/node/consts"
	nodectx "github.com/stallnet/stall/pkg/node/context"
	"github.com/stallnet/stall/pkg/node/database"
	"github.com/stallnet/stall/pkg/node/event"
	"github.com/stallnet/stall/pkg/node/log"
	"github.com/stallnet/stall/pkg/node/medialib"
)

// opKind identifies the registry operation currently in flight
type opKind int

const (
	opNone opKind = iota
	opRegister
	opUpdate
	opNetTest
)

// inbox messages
type message interface{ isMessage() }

type updateRequest struct{}
type netTestRequest struct{}

type updateResponse struct {
	batch      Batch
	urlUpdated bool
	resp       client.SubmitListingsResp
	err        error
}

type registerResponse struct {
	resp client.RegisterSellerResp
	err  error
}

type netTestResponse struct {
	reachable bool
	err       error
}

func (updateRequest) isMessage()    {}
func (netTestRequest) isMessage()   {}
func (updateResponse) isMessage()   {}
func (registerResponse) isMessage() {}
func (netTestResponse) isMessage()  {}

const inboxSize = 16

// Coordinator owns the sync state machine. All database writes and state
// transitions happen on the goroutine running Run or Drain; registry calls
// run on short-lived worker goroutines that report back through the inbox.
// At most one registry operation is in flight at any time.
type Coordinator struct {
	ctx   nodectx.StallCtx
	bus   *event.Bus
	lib   medialib.Library
	inbox chan message

	busy           opKind
	pendingUpdate  bool
	pendingNetTest bool

	// remoteUpdateID is the registry's counter as last reported this
	// session, or -1 before any successful exchange
	remoteUpdateID int

	// lastErr records the most recent failure so that Drain can report it
	lastErr error
}

// NewCoordinator returns a coordinator ready to run
func NewCoordinator(ctx nodectx.StallCtx, bus *event.Bus, lib medialib.Library) *Coordinator {
	return &Coordinator{
		ctx:            ctx,
		bus:            bus,
		lib:            lib,
		inbox:          make(chan message, inboxSize),
		remoteUpdateID: -1,
	}
}

// RequestUpdate asks the coordinator to run a sync round. The request is
// dropped if the inbox is full; a round is already queued in that case.
func (c *Coordinator) RequestUpdate() {
	select {
	case c.inbox <- updateRequest{}:
	default:
		log.Debug("sync request dropped: inbox full\n")
	}
}

// RequestNetTest asks the coordinator to probe the node's public reachability
func (c *Coordinator) RequestNetTest() {
	select {
	case c.inbox <- netTestRequest{}:
	default:
		log.Debug("net test request dropped: inbox full\n")
	}
}

// Run processes the inbox until ctx is canceled. On cancellation it waits
// for the in-flight registry operation to report back before returning, so
// that no response is lost between send and reconciliation.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c.busy != opNone {
				c.handle(<-c.inbox)
			}
			return
		case msg := <-c.inbox:
			c.handle(msg)
			c.dispatchPending()
		}
	}
}

// Drain runs one full sync: it queues an update request and processes the
// inbox until no work remains. It is the engine behind the one-shot sync
// command.
func (c *Coordinator) Drain(ctx context.Context) error {
	c.lastErr = nil
	c.pendingUpdate = true
	c.dispatchPending()

	for c.busy != opNone || c.pendingUpdate || c.pendingNetTest {
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "waiting for sync to finish")
		case msg := <-c.inbox:
			c.handle(msg)
			c.dispatchPending()
		}
	}

	return c.lastErr
}

func (c *Coordinator) handle(msg message) {
	switch m := msg.(type) {
	case updateRequest:
		c.pendingUpdate = true
	case netTestRequest:
		c.pendingNetTest = true
	case updateResponse:
		c.busy = opNone
		c.handleUpdateResponse(m)
	case registerResponse:
		c.busy = opNone
		c.handleRegisterResponse(m)
	case netTestResponse:
		c.busy = opNone
		c.handleNetTestResponse(m)
	}
}

// dispatchPending starts the next latched operation once the coordinator is
// idle. Updates take precedence over reachability probes. It loops because a
// round can finish without going over the network and re-latch itself, as
// the divergence reset does; the latched work must still run without waiting
// for another inbox message.
func (c *Coordinator) dispatchPending() {
	for c.busy == opNone {
		switch {
		case c.pendingUpdate:
			c.pendingUpdate = false
			if err := c.startUpdate(); err != nil {
				c.lastErr = err
				log.Errorf("starting a sync round: %s\n", err)
			}
		case c.pendingNetTest:
			c.pendingNetTest = false
			if err := c.startNetTest(); err != nil {
				c.lastErr = err
				log.Errorf("starting a net test: %s\n", err)
			}
		default:
			return
		}
	}
}

type identity struct {
	serverID    int
	serverToken string
	serverURL   string
	updateID    int
}

func (c *Coordinator) readIdentity() (identity, error) {
	var id identity
	if err := database.GetConfig(c.ctx.DB, consts.ConfigServerID, &id.serverID); err != nil {
		return id, errors.Wrap(err, "reading the server id")
	}
	if err := database.GetConfig(c.ctx.DB, consts.ConfigServerToken, &id.serverToken); err != nil {
		return id, errors.Wrap(err, "reading the server token")
	}
	if err := database.GetConfig(c.ctx.DB, consts.ConfigServerURL, &id.serverURL); err != nil {
		return id, errors.Wrap(err, "reading the server url")
	}
	if err := database.GetConfig(c.ctx.DB, consts.ConfigUpdateID, &id.updateID); err != nil {
		return id, errors.Wrap(err, "reading the update id")
	}

	return id, nil
}

// startUpdate begins a sync round. Depending on the persisted identity and
// the session's view of the registry counter, the round is a registration,
// a counter-learning heartbeat, a resend of the pending batch, a fresh
// batch, or a full reset.
func (c *Coordinator) startUpdate() error {
	id, err := c.readIdentity()
	if err != nil {
		return err
	}

	// An unregistered node registers first; the update proceeds once the
	// identity exists. Registration requires the node to be publicly
	// reachable, so the worker probes before registering.
	if id.serverID == 0 {
		var token string
		if err := database.GetConfig(c.ctx.DB, consts.ConfigNetaccessToken, &token); err != nil {
			return errors.Wrap(err, "reading the netaccess token")
		}

		c.pendingUpdate = true
		c.busy = opRegister
		go func() {
			reachable, err := client.TestNetAccess(c.ctx, token)
			if err == nil && !reachable {
				err = errors.New("the node is not publicly reachable")
			}
			if err != nil {
				c.inbox <- registerResponse{err: errors.Wrap(err, "probing reachability")}
				return
			}

			resp, err := client.RegisterSeller(c.ctx)
			c.inbox <- registerResponse{resp: resp, err: err}
		}()
		return nil
	}

	// The registry counter is unknown until one exchange succeeds; learn
	// it with an empty batch before shipping content.
	if c.remoteUpdateID == -1 {
		log.Debug("heartbeat to learn the registry counter\n")
		c.pendingUpdate = true
		c.submit(id, Batch{}, id.updateID)
		return nil
	}

	var batch Batch
	var updateID int

	switch {
	case id.updateID == c.remoteUpdateID:
		batch, err = c.planBatch()
		if err != nil {
			return err
		}

		// A heartbeat reports the local counter as is; a content batch
		// proposes the next one.
		updateID = id.updateID
		if !batch.Empty() {
			updateID = id.updateID + 1
		}

	case id.updateID+1 == c.remoteUpdateID:
		// The previous batch landed on the registry but its verdict was
		// never applied locally. Resend the in-flight rows as they are;
		// the registry treats the repeated counter as idempotent.
		batch, err = c.collectPending()
		if err != nil {
			return errors.Wrap(err, "collecting the pending batch")
		}
		updateID = c.remoteUpdateID
		log.Debug("resending the pending batch of %d items\n", batch.Size())

	default:
		log.Warnf("counter divergence (local %d, registry %d); resetting for a full resync\n", id.updateID, c.remoteUpdateID)
		if err := c.reset(); err != nil {
			return errors.Wrap(err, "resetting after divergence")
		}
		c.pendingUpdate = true
		return nil
	}

	log.Debug("sync round: %d items, update id %d\n", batch.Size(), updateID)
	c.submit(id, batch, updateID)

	return nil
}

// planBatch selects the next batch in one transaction. A pending in-flight
// set, if any, is reused as is.
func (c *Coordinator) planBatch() (Batch, error) {
	tx, err := c.ctx.DB.Begin()
	if err != nil {
		return Batch{}, errors.Wrap(err, "beginning a transaction")
	}
	if err := MarkNextBatch(tx); err != nil {
		tx.Rollback()
		return Batch{}, errors.Wrap(err, "selecting the next batch")
	}
	batch, err := CollectBatch(tx, c.lib)
	if err != nil {
		tx.Rollback()
		return Batch{}, errors.Wrap(err, "collecting the batch")
	}
	if err := tx.Commit(); err != nil {
		return Batch{}, errors.Wrap(err, "committing the batch selection")
	}

	return batch, nil
}

// collectPending reads the in-flight set back in one transaction, without
// selecting new rows
func (c *Coordinator) collectPending() (Batch, error) {
	tx, err := c.ctx.DB.Begin()
	if err != nil {
		return Batch{}, errors.Wrap(err, "beginning a transaction")
	}
	batch, err := CollectBatch(tx, c.lib)
	if err != nil {
		tx.Rollback()
		return Batch{}, err
	}
	if err := tx.Commit(); err != nil {
		return Batch{}, errors.Wrap(err, "committing the pending collection")
	}

	return batch, nil
}

// submit ships the batch on a worker goroutine, refreshing the registered
// URL first if the configured public URL changed
func (c *Coordinator) submit(id identity, batch Batch, updateID int) {
	payload := batch.Payload(id.serverID, id.serverToken, updateID)
	refreshURL := id.serverURL != c.ctx.PublicURL

	c.busy = opUpdate
	go func() {
		if refreshURL {
			if err := client.UpdateSellerURL(c.ctx, id.serverID); err != nil {
				c.inbox <- updateResponse{batch: batch, err: err}
				return
			}
		}

		resp, err := client.SubmitListings(c.ctx, payload)
		c.inbox <- updateResponse{batch: batch, urlUpdated: refreshURL, resp: resp, err: err}
	}()
}

func (c *Coordinator) handleUpdateResponse(m updateResponse) {
	if m.err != nil {
		var httpErr *client.HTTPError
		if errors.As(m.err, &httpErr) && (httpErr.IsStaleUpdateID() || httpErr.IsInvalidToken() || httpErr.IsSellerExpired()) {
			log.Warnf("registry rejected the node state (%s); resetting for a full resync\n", m.err)
			if err := c.reset(); err != nil {
				c.lastErr = err
				log.Errorf("resetting after divergence: %s\n", err)
				return
			}
			c.pendingUpdate = true
			return
		}

		// Transient failure. The in-flight batch stays marked and is
		// resent on the next trigger; the latch is dropped so the
		// coordinator goes idle instead of retrying in a loop.
		c.lastErr = m.err
		c.pendingUpdate = false
		log.Warnf("sync round failed: %s\n", m.err)
		return
	}

	c.remoteUpdateID = m.resp.UpdateID

	if err := database.UpdateConfig(c.ctx.DB, consts.ConfigLastSyncAt, c.ctx.Clock.Now().Unix()); err != nil {
		log.Errorf("recording the sync time: %s\n", err)
	}

	if m.urlUpdated {
		if err := database.UpdateConfig(c.ctx.DB, consts.ConfigServerURL, c.ctx.PublicURL); err != nil {
			c.lastErr = err
			log.Errorf("persisting the server url: %s\n", err)
		}
	}

	// A heartbeat carries no verdict to apply.
	if m.batch.Empty() {
		return
	}

	if err := Reconcile(c.ctx.DB, m.batch, m.resp, c.bus); err != nil {
		c.lastErr = err
		log.Errorf("reconciling the sync round: %s\n", err)
		return
	}

	// A content batch may have left dirty rows behind; keep going until a
	// round ships empty.
	c.pendingUpdate = true
}

func (c *Coordinator) handleRegisterResponse(m registerResponse) {
	if m.err != nil {
		c.lastErr = m.err
		log.Errorf("registering the seller: %s\n", m.err)
		c.pendingUpdate = false
		c.bus.Schedule(event.Event{Topic: event.TopicRegisterFailed, Data: m.err.Error()})
		return
	}

	tx, err := c.ctx.DB.Begin()
	if err != nil {
		c.lastErr = err
		log.Errorf("beginning a transaction: %s\n", err)
		return
	}
	for k, v := range map[string]interface{}{
		consts.ConfigServerID:    m.resp.ServerID,
		consts.ConfigServerToken: m.resp.ServerToken,
		consts.ConfigServerURL:   c.ctx.PublicURL,
		consts.ConfigUpdateID:    0,
	} {
		if err := database.UpdateConfig(tx, k, v); err != nil {
			tx.Rollback()
			c.lastErr = err
			log.Errorf("persisting the seller identity: %s\n", err)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		c.lastErr = err
		log.Errorf("committing the seller identity: %s\n", err)
		return
	}

	// Registration declares counter zero on both sides.
	c.remoteUpdateID = 0

	log.Debug("registered as server %d\n", m.resp.ServerID)
}

func (c *Coordinator) startNetTest() error {
	var token string
	if err := database.GetConfig(c.ctx.DB, consts.ConfigNetaccessToken, &token); err != nil {
		return errors.Wrap(err, "reading the netaccess token")
	}

	c.busy = opNetTest
	go func() {
		reachable, err := client.TestNetAccess(c.ctx, token)
		c.inbox <- netTestResponse{reachable: reachable, err: err}
	}()

	return nil
}

func (c *Coordinator) handleNetTestResponse(m netTestResponse) {
	if m.err != nil {
		c.lastErr = m.err
		log.Warnf("net test failed: %s\n", m.err)
		return
	}

	c.bus.Schedule(event.Event{Topic: event.TopicNetAccess, Data: m.reachable})
}

// reset wipes the registered identity and marks every row dirty so that the
// next round re-registers and replays the full catalog. It is the recovery
// path for a counter divergence between this node and the registry.
func (c *Coordinator) reset() error {
	tx, err := c.ctx.DB.Begin()
	if err != nil {
		return errors.Wrap(err, "beginning a transaction")
	}

	for _, table := range []string{database.TableWares, database.TablePayeeSchemes} {
		if err := database.SetFlags(tx, table, true, false); err != nil {
			tx.Rollback()
			return err
		}
	}

	for k, v := range map[string]interface{}{
		consts.ConfigServerID:    0,
		consts.ConfigServerToken: "",
		consts.ConfigServerURL:   "",
		consts.ConfigUpdateID:    0,
	} {
		if err := database.UpdateConfig(tx, k, v); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "clearing config key %s", k)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "committing the reset")
	}

	c.remoteUpdateID = -1

	return nil
}
