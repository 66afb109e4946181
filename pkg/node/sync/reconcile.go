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
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/stallnet/stall/pkg/node/client"
	"github.com/stallnet/stall/pkg/node/consts"
	"github.com/stallnet/stall/pkg/node/database"
	"github.com/stallnet/stall/pkg/node/event"
)

// WareNotification is the payload of ware.* events
type WareNotification struct {
	UUID    string
	Problem string
}

// SchemeNotification is the payload of scheme.* events
type SchemeNotification struct {
	ID      int
	Problem string
}

// Reconcile commits the registry's verdict on a batch. Everything up to the
// counter persistence runs in one transaction; persisting the returned
// update id is the linearization point that makes the exchange durable.
// Notifications are emitted only after the transaction commits.
func Reconcile(db *database.DB, batch Batch, resp client.SubmitListingsResp, bus *event.Bus) error {
	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "beginning a transaction")
	}

	events, err := applyVerdict(tx, batch, resp)
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "applying the registry verdict")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "committing transaction")
	}

	for _, ev := range events {
		bus.Schedule(ev)
	}

	return nil
}

func applyVerdict(tx *database.DB, batch Batch, resp client.SubmitListingsResp) ([]event.Event, error) {
	wareFailures, err := recordWareFailures(tx, resp)
	if err != nil {
		return nil, err
	}
	schemeFailures, err := recordSchemeFailures(tx, resp)
	if err != nil {
		return nil, err
	}

	for _, table := range []string{database.TableWares, database.TablePayeeSchemes} {
		if err := database.PurgeDeleted(tx, table); err != nil {
			return nil, err
		}
		if err := database.ClearUpdatingFlags(tx, table); err != nil {
			return nil, err
		}
	}

	if err := database.SweepUnreferencedProblems(tx); err != nil {
		return nil, err
	}

	if err := database.UpdateConfig(tx, consts.ConfigUpdateID, resp.UpdateID); err != nil {
		return nil, errors.Wrap(err, "persisting the update id")
	}

	return collectNotifications(batch, wareFailures, schemeFailures), nil
}

// recordWareFailures persists a problem for every rejected ware and returns
// the rejection bodies keyed by ware uuid
func recordWareFailures(tx *database.DB, resp client.SubmitListingsResp) (map[string]string, error) {
	failures := map[string]string{}

	results := append(resp.Listings.Updates, resp.Listings.Removals...)
	for _, r := range results {
		if r.Exception == nil {
			continue
		}

		body, err := json.Marshal(r.Exception)
		if err != nil {
			return nil, errors.Wrapf(err, "serializing the exception for ware %s", r.ID)
		}

		problemID, err := database.RecordProblem(tx, string(body))
		if err != nil {
			return nil, errors.Wrapf(err, "recording the problem for ware %s", r.ID)
		}

		// A row edited since the batch was sent is dirty again; the newer
		// local edit wins and the stale problem is dropped.
		if _, err := tx.Exec("UPDATE wares SET problem_id = ? WHERE uuid = ? AND dirty = 0", problemID, r.ID); err != nil {
			return nil, errors.Wrapf(err, "stamping the problem onto ware %s", r.ID)
		}

		failures[r.ID] = string(body)
	}

	return failures, nil
}

// recordSchemeFailures persists a problem for every rejected scheme and
// returns the rejection bodies keyed by scheme id
func recordSchemeFailures(tx *database.DB, resp client.SubmitListingsResp) (map[int]string, error) {
	failures := map[int]string{}

	results := append(resp.PayeeSchemes.Updates, resp.PayeeSchemes.Removals...)
	for _, r := range results {
		if r.Exception == nil {
			continue
		}

		body, err := json.Marshal(r.Exception)
		if err != nil {
			return nil, errors.Wrapf(err, "serializing the exception for scheme %d", r.ID)
		}

		problemID, err := database.RecordProblem(tx, string(body))
		if err != nil {
			return nil, errors.Wrapf(err, "recording the problem for scheme %d", r.ID)
		}

		if _, err := tx.Exec("UPDATE payee_schemes SET problem_id = ? WHERE id = ? AND dirty = 0", problemID, r.ID); err != nil {
			return nil, errors.Wrapf(err, "stamping the problem onto scheme %d", r.ID)
		}

		failures[r.ID] = string(body)
	}

	return failures, nil
}

// collectNotifications partitions the batch into per-item notifications:
// anything not reported as failed succeeded
func collectNotifications(batch Batch, wareFailures map[string]string, schemeFailures map[int]string) []event.Event {
	var ret []event.Event

	for _, w := range batch.WareUpdates {
		if body, ok := wareFailures[w.ID]; ok {
			ret = append(ret, event.Event{Topic: event.TopicWareException, Data: WareNotification{UUID: w.ID, Problem: body}})
		} else {
			ret = append(ret, event.Event{Topic: event.TopicWareUpdated, Data: WareNotification{UUID: w.ID}})
		}
	}
	for _, uuid := range batch.WareRemovals {
		if body, ok := wareFailures[uuid]; ok {
			ret = append(ret, event.Event{Topic: event.TopicWareException, Data: WareNotification{UUID: uuid, Problem: body}})
		} else {
			ret = append(ret, event.Event{Topic: event.TopicWareRemoved, Data: WareNotification{UUID: uuid}})
		}
	}
	for _, s := range batch.SchemeUpdates {
		if body, ok := schemeFailures[s.ID]; ok {
			ret = append(ret, event.Event{Topic: event.TopicSchemeException, Data: SchemeNotification{ID: s.ID, Problem: body}})
		} else {
			ret = append(ret, event.Event{Topic: event.TopicSchemeUpdated, Data: SchemeNotification{ID: s.ID}})
		}
	}
	for _, id := range batch.SchemeRemovals {
		if body, ok := schemeFailures[id]; ok {
			ret = append(ret, event.Event{Topic: event.TopicSchemeException, Data: SchemeNotification{ID: id, Problem: body}})
		} else {
			ret = append(ret, event.Event{Topic: event.TopicSchemeRemoved, Data: SchemeNotification{ID: id}})
		}
	}

	return ret
}
