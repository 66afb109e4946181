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
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/stallnet/stall/pkg/assert"
	"github.com/stallnet/stall/pkg/node/client"
	"github.com/stallnet/stall/pkg/node/consts"
	"github.com/stallnet/stall/pkg/node/database"
	"github.com/stallnet/stall/pkg/node/event"
)

func collectEvents(ch <-chan event.Event, n int) []event.Event {
	var ret []event.Event
	for i := 0; i < n; i++ {
		select {
		case ev := <-ch:
			ret = append(ret, ev)
		case <-time.After(time.Second):
			return ret
		}
	}
	return ret
}

func TestReconcile(t *testing.T) {
	db := database.InitTestMemoryDB(t)
	bus := event.NewBus()
	defer bus.Close()

	updated := bus.Subscribe(event.TopicWareUpdated)
	removed := bus.Subscribe(event.TopicWareRemoved)
	schemeUpdated := bus.Subscribe(event.TopicSchemeUpdated)

	database.MustExec(t, "inserting an update", db, "INSERT INTO wares (uuid, media_id, file_id, updating) VALUES ('m1/f1', 'm1', 'f1', 1)")
	database.MustExec(t, "inserting a removal", db, "INSERT INTO wares (uuid, media_id, file_id, updating, deleted) VALUES ('m1/f2', 'm1', 'f2', 1, 1)")
	database.MustExec(t, "inserting a scheme", db, "INSERT INTO payee_schemes (id, name, updating) VALUES (1, 's1', 1)")

	batch := Batch{
		WareUpdates:   []client.WareListing{{ID: "m1/f1"}},
		WareRemovals:  []string{"m1/f2"},
		SchemeUpdates: []client.SchemeListing{{ID: 1, Name: "s1"}},
	}
	resp := client.SubmitListingsResp{
		UpdateID: 7,
		Listings: client.WareResultSet{
			Updates:  []client.WareResult{{ID: "m1/f1"}},
			Removals: []client.WareResult{{ID: "m1/f2"}},
		},
		PayeeSchemes: client.SchemeResultSet{
			Updates: []client.SchemeResult{{ID: 1}},
		},
	}

	if err := Reconcile(db, batch, resp, bus); err != nil {
		t.Fatal(errors.Wrap(err, "reconciling"))
	}

	var wareCount int
	database.MustScan(t, "counting wares", db.QueryRow("SELECT count(*) FROM wares"), &wareCount)
	assert.Equal(t, wareCount, 1, "the acknowledged removal should be purged")

	var updatingCount int
	database.MustScan(t, "counting updating", db.QueryRow("SELECT count(*) FROM wares WHERE updating = 1"), &updatingCount)
	assert.Equal(t, updatingCount, 0, "updating flags should be cleared")

	var updateID int
	if err := database.GetConfig(db, consts.ConfigUpdateID, &updateID); err != nil {
		t.Fatal(errors.Wrap(err, "reading the update id"))
	}
	assert.Equal(t, updateID, 7, "the registry's counter should be persisted")

	evs := collectEvents(updated, 1)
	assert.Equal(t, len(evs), 1, "ware.updated count mismatch")
	assert.Equal(t, evs[0].Data.(WareNotification).UUID, "m1/f1", "ware.updated payload mismatch")

	evs = collectEvents(removed, 1)
	assert.Equal(t, len(evs), 1, "ware.removed count mismatch")

	evs = collectEvents(schemeUpdated, 1)
	assert.Equal(t, len(evs), 1, "scheme.updated count mismatch")
}

func TestReconcileStampsProblems(t *testing.T) {
	db := database.InitTestMemoryDB(t)
	bus := event.NewBus()
	defer bus.Close()

	exceptions := bus.Subscribe(event.TopicWareException)

	database.MustExec(t, "inserting the rejected ware", db, "INSERT INTO wares (uuid, media_id, file_id, updating) VALUES ('m1/f1', 'm1', 'f1', 1)")
	// Edited while the batch was in flight; the newer local edit wins.
	database.MustExec(t, "inserting the re-edited ware", db, "INSERT INTO wares (uuid, media_id, file_id, dirty, updating) VALUES ('m1/f2', 'm1', 'f2', 1, 1)")

	batch := Batch{
		WareUpdates: []client.WareListing{{ID: "m1/f1"}, {ID: "m1/f2"}},
	}
	ex := &client.ItemException{Code: "bad_scheme", Message: "unknown payee scheme"}
	resp := client.SubmitListingsResp{
		UpdateID: 3,
		Listings: client.WareResultSet{
			Updates: []client.WareResult{
				{ID: "m1/f1", Exception: ex},
				{ID: "m1/f2", Exception: ex},
			},
		},
	}

	if err := Reconcile(db, batch, resp, bus); err != nil {
		t.Fatal(errors.Wrap(err, "reconciling"))
	}

	rejected, err := database.GetWare(db, "m1/f1")
	if err != nil {
		t.Fatal(errors.Wrap(err, "getting the rejected ware"))
	}
	assert.NotEqual(t, rejected.ProblemID, 0, "the rejection should be stamped")

	problem, err := database.GetProblem(db, rejected.ProblemID)
	if err != nil {
		t.Fatal(errors.Wrap(err, "getting the problem"))
	}
	assert.Equal(t, problem.Body, `{"code":"bad_scheme","message":"unknown payee scheme"}`, "problem body mismatch")

	reEdited, err := database.GetWare(db, "m1/f2")
	if err != nil {
		t.Fatal(errors.Wrap(err, "getting the re-edited ware"))
	}
	assert.Equal(t, reEdited.ProblemID, 0, "a re-edited row must not be stamped")
	assert.Equal(t, reEdited.Dirty, true, "a re-edited row must stay dirty")

	evs := collectEvents(exceptions, 2)
	assert.Equal(t, len(evs), 2, "ware.exception count mismatch")
}

func TestReconcileSweepsStaleProblems(t *testing.T) {
	db := database.InitTestMemoryDB(t)
	bus := event.NewBus()
	defer bus.Close()

	// A problem from a previous rejection; the edit that fixed the ware
	// already cleared the reference to it.
	database.MustExec(t, "inserting a stale problem", db, "INSERT INTO problems (id, body) VALUES (9, 'stale')")
	database.MustExec(t, "inserting the ware", db, "INSERT INTO wares (uuid, media_id, file_id, updating) VALUES ('m1/f1', 'm1', 'f1', 1)")

	batch := Batch{WareUpdates: []client.WareListing{{ID: "m1/f1"}}}
	resp := client.SubmitListingsResp{
		UpdateID: 2,
		Listings: client.WareResultSet{Updates: []client.WareResult{{ID: "m1/f1"}}},
	}

	if err := Reconcile(db, batch, resp, bus); err != nil {
		t.Fatal(errors.Wrap(err, "reconciling"))
	}

	var problemCount int
	database.MustScan(t, "counting problems", db.QueryRow("SELECT count(*) FROM problems"), &problemCount)
	assert.Equal(t, problemCount, 0, "the stale problem should be swept")
}
