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
	"fmt"
	"testing"

	"github.com/pkg/errors"

	"github.com/stallnet/stall/pkg/assert"
	"github.com/stallnet/stall/pkg/node/consts"
	"github.com/stallnet/stall/pkg/node/database"
	"github.com/stallnet/stall/pkg/node/medialib"
)

func markNextBatch(t *testing.T, db *database.DB) {
	t.Helper()

	tx, err := db.Begin()
	if err != nil {
		t.Fatal(errors.Wrap(err, "beginning a transaction"))
	}
	if err := MarkNextBatch(tx); err != nil {
		tx.Rollback()
		t.Fatal(errors.Wrap(err, "marking the batch"))
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(errors.Wrap(err, "committing"))
	}
}

func TestMarkNextBatchKeepsInFlightBatch(t *testing.T) {
	db := database.InitTestMemoryDB(t)

	// An in-flight row means the previous round never got a verdict.
	database.MustExec(t, "inserting an in-flight ware", db, "INSERT INTO wares (uuid, media_id, file_id, dirty, updating) VALUES ('m1/f1', 'm1', 'f1', 0, 1)")
	database.MustExec(t, "inserting a dirty ware", db, "INSERT INTO wares (uuid, media_id, file_id, dirty) VALUES ('m1/f2', 'm1', 'f2', 1)")

	markNextBatch(t, db)

	ware, err := database.GetWare(db, "m1/f2")
	if err != nil {
		t.Fatal(errors.Wrap(err, "getting the ware"))
	}

	assert.Equal(t, ware.Dirty, true, "the dirty ware must wait for the pending batch")
	assert.Equal(t, ware.Updating, false, "the dirty ware must not join the pending batch")
}

func TestMarkNextBatchSchemeExclusion(t *testing.T) {
	db := database.InitTestMemoryDB(t)

	// Scheme 1 is dirty but a withdrawn ware still references it; the
	// removal must reach the registry before the scheme ships.
	database.MustExec(t, "inserting scheme 1", db, "INSERT INTO payee_schemes (id, name, dirty) VALUES (1, 's1', 1)")
	database.MustExec(t, "inserting a withdrawn ware", db, "INSERT INTO wares (uuid, media_id, file_id, payee_scheme_id, dirty, deleted) VALUES ('m1/f1', 'm1', 'f1', 1, 1, 1)")

	markNextBatch(t, db)

	scheme, err := database.GetPayeeScheme(db, 1)
	if err != nil {
		t.Fatal(errors.Wrap(err, "getting the scheme"))
	}
	ware, err := database.GetWare(db, "m1/f1")
	if err != nil {
		t.Fatal(errors.Wrap(err, "getting the ware"))
	}

	assert.Equal(t, scheme.Updating, false, "the scheme must not ship alongside the pending removal")
	assert.Equal(t, scheme.Dirty, true, "the scheme must stay dirty for a later round")
	assert.Equal(t, ware.Updating, true, "the removal must ship")
	assert.Equal(t, ware.Dirty, false, "the removal must leave the dirty state")
}

func TestMarkNextBatchRevertsWaresAwaitingScheme(t *testing.T) {
	db := database.InitTestMemoryDB(t)

	database.MustExec(t, "inserting scheme 1", db, "INSERT INTO payee_schemes (id, name, dirty) VALUES (1, 's1', 1)")
	database.MustExec(t, "inserting a dirty ware", db, "INSERT INTO wares (uuid, media_id, file_id, payee_scheme_id, dirty) VALUES ('m1/f1', 'm1', 'f1', 1, 1)")
	database.MustExec(t, "inserting an independent ware", db, "INSERT INTO wares (uuid, media_id, file_id, payee_scheme_id, dirty) VALUES ('m1/f2', 'm1', 'f2', 0, 1)")

	markNextBatch(t, db)

	scheme, err := database.GetPayeeScheme(db, 1)
	if err != nil {
		t.Fatal(errors.Wrap(err, "getting the scheme"))
	}
	dependent, err := database.GetWare(db, "m1/f1")
	if err != nil {
		t.Fatal(errors.Wrap(err, "getting the dependent ware"))
	}
	independent, err := database.GetWare(db, "m1/f2")
	if err != nil {
		t.Fatal(errors.Wrap(err, "getting the independent ware"))
	}

	assert.Equal(t, scheme.Updating, true, "the scheme should ship")
	assert.Equal(t, dependent.Updating, false, "the dependent ware must wait for its scheme")
	assert.Equal(t, dependent.Dirty, true, "the dependent ware must stay dirty")
	assert.Equal(t, independent.Updating, true, "the independent ware should ship")
}

func TestMarkNextBatchBudget(t *testing.T) {
	db := database.InitTestMemoryDB(t)

	// More dirty wares than fit a single round, removals mixed in.
	total := consts.MaxWareUpdates + 5
	for i := 0; i < total; i++ {
		deleted := 0
		if i < 5 {
			deleted = 1
		}
		database.MustExec(t, "inserting a ware", db,
			"INSERT INTO wares (uuid, media_id, file_id, dirty, deleted) VALUES (?, 'm1', ?, 1, ?)",
			fmt.Sprintf("m1/f%03d", i), fmt.Sprintf("f%03d", i), deleted)
	}

	markNextBatch(t, db)

	var marked, markedRemovals, leftover, conflicted int
	database.MustScan(t, "counting marked", db.QueryRow("SELECT count(*) FROM wares WHERE updating = 1"), &marked)
	database.MustScan(t, "counting marked removals", db.QueryRow("SELECT count(*) FROM wares WHERE updating = 1 AND deleted = 1"), &markedRemovals)
	database.MustScan(t, "counting leftover", db.QueryRow("SELECT count(*) FROM wares WHERE dirty = 1"), &leftover)
	database.MustScan(t, "counting conflicted", db.QueryRow("SELECT count(*) FROM wares WHERE dirty = 1 AND updating = 1"), &conflicted)

	assert.Equal(t, marked, consts.MaxWareUpdates, "marked count mismatch")
	assert.Equal(t, markedRemovals, 5, "every removal should fit the round")
	assert.Equal(t, leftover, 5, "leftover count mismatch")
	assert.Equal(t, conflicted, 0, "no row may be dirty and updating at once")
}

func TestCollectBatch(t *testing.T) {
	db := database.InitTestMemoryDB(t)

	database.MustExec(t, "inserting a media file", db, "INSERT INTO media_files (media_id, file_id, name, size, checksum) VALUES ('m1', 'f1', 'track.flac', 100, 'abc')")
	database.MustExec(t, "inserting an update", db, "INSERT INTO wares (uuid, media_id, file_id, description, payee_scheme_id, updating) VALUES ('m1/f1', 'm1', 'f1', 'a track', 2, 1)")
	database.MustExec(t, "inserting a removal", db, "INSERT INTO wares (uuid, media_id, file_id, updating, deleted) VALUES ('m1/f2', 'm1', 'f2', 1, 1)")
	database.MustExec(t, "inserting a bystander", db, "INSERT INTO wares (uuid, media_id, file_id, dirty) VALUES ('m1/f3', 'm1', 'f3', 1)")
	database.MustExec(t, "inserting a scheme update", db, "INSERT INTO payee_schemes (id, name, updating) VALUES (2, 's2', 1)")
	database.MustExec(t, "inserting a scheme payee", db, "INSERT INTO payee_scheme_payees (scheme_id, position, name, share) VALUES (2, 0, 'alice', 10000)")
	database.MustExec(t, "inserting a scheme removal", db, "INSERT INTO payee_schemes (id, name, updating, deleted) VALUES (3, 's3', 1, 1)")

	batch, err := CollectBatch(db, medialib.NewSQLLibrary())
	if err != nil {
		t.Fatal(errors.Wrap(err, "collecting"))
	}

	assert.Equal(t, len(batch.WareUpdates), 1, "ware update count mismatch")
	assert.Equal(t, batch.WareUpdates[0].ID, "m1/f1", "ware update id mismatch")
	assert.Equal(t, batch.WareUpdates[0].File.Name, "track.flac", "file metadata should be joined in")
	assert.DeepEqual(t, batch.WareRemovals, []string{"m1/f2"}, "ware removals mismatch")
	assert.Equal(t, len(batch.SchemeUpdates), 1, "scheme update count mismatch")
	assert.Equal(t, batch.SchemeUpdates[0].Name, "s2", "scheme name mismatch")
	assert.DeepEqual(t, batch.SchemeRemovals, []int{3}, "scheme removals mismatch")
	assert.Equal(t, batch.Empty(), false, "batch should not be empty")
	assert.Equal(t, batch.Size(), 4, "batch size mismatch")
}

func TestCollectBatchQuarantinesMissingFile(t *testing.T) {
	db := database.InitTestMemoryDB(t)

	database.MustExec(t, "inserting a media file", db, "INSERT INTO media_files (media_id, file_id, name) VALUES ('m1', 'f2', 'b.flac')")
	database.MustExec(t, "inserting a fileless ware", db, "INSERT INTO wares (uuid, media_id, file_id, updating) VALUES ('m1/f1', 'm1', 'f1', 1)")
	database.MustExec(t, "inserting a backed ware", db, "INSERT INTO wares (uuid, media_id, file_id, updating) VALUES ('m1/f2', 'm1', 'f2', 1)")

	batch, err := CollectBatch(db, medialib.NewSQLLibrary())
	if err != nil {
		t.Fatal(errors.Wrap(err, "collecting"))
	}

	// The vanished file must not wedge the round for the rest of the batch.
	assert.Equal(t, len(batch.WareUpdates), 1, "ware update count mismatch")
	assert.Equal(t, batch.WareUpdates[0].ID, "m1/f2", "the backed ware should ship")

	quarantined, err := database.GetWare(db, "m1/f1")
	if err != nil {
		t.Fatal(errors.Wrap(err, "getting the fileless ware"))
	}
	assert.Equal(t, quarantined.Updating, false, "the fileless ware should leave the in-flight set")
	assert.Equal(t, quarantined.Dirty, false, "the fileless ware must not be rescheduled")
	assert.NotEqual(t, quarantined.ProblemID, 0, "the fileless ware should carry a problem")

	var body string
	database.MustScan(t, "reading the problem", db.QueryRow("SELECT body FROM problems WHERE id = ?", quarantined.ProblemID), &body)
	assert.Equal(t, body, fileMissingProblem, "problem body mismatch")
}
