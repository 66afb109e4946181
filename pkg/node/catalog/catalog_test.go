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

package catalog

import (
	"testing"

	"github.com/pkg/errors"

	"github.com/stallnet/stall/pkg/assert"
	"github.com/stallnet/stall/pkg/node/database"
	"github.com/stallnet/stall/pkg/node/medialib"
)

func TestAddWare(t *testing.T) {
	lib := medialib.NewSQLLibrary()

	t.Run("rejects a missing scheme", func(t *testing.T) {
		db := database.InitTestMemoryDB(t)

		_, err := AddWare(db, lib, "m1", "f1", "a track", 8)
		assert.Equal(t, errors.Cause(err), ErrSchemeNotFound, "error mismatch")
	})

	t.Run("rejects the unassigned scheme id", func(t *testing.T) {
		db := database.InitTestMemoryDB(t)

		_, err := AddWare(db, lib, "m1", "f1", "a track", 0)
		assert.Equal(t, errors.Cause(err), ErrSchemeNotFound, "error mismatch")
	})

	t.Run("rejects a scheme pending deletion", func(t *testing.T) {
		db := database.InitTestMemoryDB(t)
		database.MustExec(t, "inserting a scheme", db, "INSERT INTO payee_schemes (id, name, deleted) VALUES (1, 's1', 1)")

		_, err := AddWare(db, lib, "m1", "f1", "a track", 1)
		assert.Equal(t, errors.Cause(err), ErrSchemeNotFound, "error mismatch")
	})

	t.Run("rejects a file absent from the media library", func(t *testing.T) {
		db := database.InitTestMemoryDB(t)
		database.MustExec(t, "inserting a scheme", db, "INSERT INTO payee_schemes (id, name) VALUES (1, 's1')")

		_, err := AddWare(db, lib, "m1", "f9", "a track", 1)
		assert.Equal(t, errors.Cause(err), ErrFileMissing, "error mismatch")

		var count int
		database.MustScan(t, "counting wares", db.QueryRow("SELECT count(*) FROM wares"), &count)
		assert.Equal(t, count, 0, "no ware should be created")
	})

	t.Run("creates and updates", func(t *testing.T) {
		db := database.InitTestMemoryDB(t)
		database.MustExec(t, "inserting a scheme", db, "INSERT INTO payee_schemes (id, name) VALUES (1, 's1')")
		database.MustExec(t, "inserting a media file", db, "INSERT INTO media_files (media_id, file_id, name) VALUES ('m1', 'f1', 'track.flac')")

		inserted, err := AddWare(db, lib, "m1", "f1", "a track", 1)
		if err != nil {
			t.Fatal(errors.Wrap(err, "adding"))
		}
		assert.Equal(t, inserted, true, "first add should insert")

		inserted, err = AddWare(db, lib, "m1", "f1", "remastered", 1)
		if err != nil {
			t.Fatal(errors.Wrap(err, "re-adding"))
		}
		assert.Equal(t, inserted, false, "second add should update")

		ware, err := database.GetWare(db, "m1/f1")
		if err != nil {
			t.Fatal(errors.Wrap(err, "getting the ware"))
		}
		assert.Equal(t, ware.Description, "remastered", "description mismatch")
		assert.Equal(t, ware.Dirty, true, "the ware should be dirty")
	})
}

func TestRemoveWare(t *testing.T) {
	db := database.InitTestMemoryDB(t)
	database.MustExec(t, "inserting a ware", db, "INSERT INTO wares (uuid, media_id, file_id) VALUES ('m1/f1', 'm1', 'f1')")

	if err := RemoveWare(db, "m1/f1"); err != nil {
		t.Fatal(errors.Wrap(err, "removing"))
	}

	ware, err := database.GetWare(db, "m1/f1")
	if err != nil {
		t.Fatal(errors.Wrap(err, "getting the ware"))
	}
	assert.Equal(t, ware.Deleted, true, "deleted mismatch")
	assert.Equal(t, ware.Dirty, true, "dirty mismatch")

	err = RemoveWare(db, "m1/f9")
	assert.Equal(t, errors.Cause(err), database.ErrWareNotFound, "error mismatch")
}

func TestAddPayeeScheme(t *testing.T) {
	t.Run("rejects empty payees", func(t *testing.T) {
		db := database.InitTestMemoryDB(t)

		_, err := AddPayeeScheme(db, "empty", nil)
		assert.Equal(t, errors.Cause(err), ErrEmptyPayees, "error mismatch")
	})

	t.Run("creates under the smallest unused id", func(t *testing.T) {
		db := database.InitTestMemoryDB(t)
		database.MustExec(t, "inserting scheme 1", db, "INSERT INTO payee_schemes (id, name) VALUES (1, 's1')")
		database.MustExec(t, "inserting scheme 3", db, "INSERT INTO payee_schemes (id, name) VALUES (3, 's3')")

		id, err := AddPayeeScheme(db, "band split", []database.Payee{
			{Name: "alice", Share: 7000},
			{Name: "bob", Share: 3000},
		})
		if err != nil {
			t.Fatal(errors.Wrap(err, "adding"))
		}

		assert.Equal(t, id, 2, "allocated id mismatch")

		scheme, err := database.GetPayeeScheme(db, id)
		if err != nil {
			t.Fatal(errors.Wrap(err, "getting the scheme"))
		}

		assert.Equal(t, scheme.Name, "band split", "name mismatch")
		assert.Equal(t, scheme.Dirty, true, "a new scheme should be dirty")
		assert.DeepEqual(t, scheme.Payees, []database.Payee{
			{Name: "alice", Share: 7000},
			{Name: "bob", Share: 3000},
		}, "payees mismatch")
	})
}

func TestUpdatePayeeScheme(t *testing.T) {
	db := database.InitTestMemoryDB(t)
	database.MustExec(t, "inserting a scheme", db, "INSERT INTO payee_schemes (id, name, problem_id) VALUES (1, 'old', 7)")
	database.MustExec(t, "inserting a payee", db, "INSERT INTO payee_scheme_payees (scheme_id, position, name, share) VALUES (1, 0, 'alice', 10000)")

	err := UpdatePayeeScheme(db, 1, "new", []database.Payee{{Name: "bob", Share: 10000}})
	if err != nil {
		t.Fatal(errors.Wrap(err, "updating"))
	}

	scheme, err := database.GetPayeeScheme(db, 1)
	if err != nil {
		t.Fatal(errors.Wrap(err, "getting the scheme"))
	}

	assert.Equal(t, scheme.Name, "new", "name mismatch")
	assert.Equal(t, scheme.Dirty, true, "an edit should mark the scheme dirty")
	assert.Equal(t, scheme.ProblemID, 0, "an edit should clear the problem")
	assert.DeepEqual(t, scheme.Payees, []database.Payee{{Name: "bob", Share: 10000}}, "payees mismatch")
}

func TestUpdatePayeeSchemeKeepsInFlight(t *testing.T) {
	db := database.InitTestMemoryDB(t)
	database.MustExec(t, "inserting an in-flight scheme", db, "INSERT INTO payee_schemes (id, name, updating) VALUES (1, 'old', 1)")
	database.MustExec(t, "inserting a payee", db, "INSERT INTO payee_scheme_payees (scheme_id, position, name, share) VALUES (1, 0, 'alice', 10000)")

	err := UpdatePayeeScheme(db, 1, "new", []database.Payee{{Name: "alice", Share: 10000}})
	if err != nil {
		t.Fatal(errors.Wrap(err, "updating"))
	}

	scheme, err := database.GetPayeeScheme(db, 1)
	if err != nil {
		t.Fatal(errors.Wrap(err, "getting the scheme"))
	}

	// The row stays in the in-flight batch; an edit must not release it.
	assert.Equal(t, scheme.Updating, true, "updating mismatch")
	assert.Equal(t, scheme.Dirty, true, "dirty mismatch")
}

func TestRemovePayeeScheme(t *testing.T) {
	t.Run("rejects a referenced scheme", func(t *testing.T) {
		db := database.InitTestMemoryDB(t)
		database.MustExec(t, "inserting a scheme", db, "INSERT INTO payee_schemes (id, name) VALUES (1, 's1')")
		database.MustExec(t, "inserting a ware", db, "INSERT INTO wares (uuid, media_id, file_id, payee_scheme_id) VALUES ('m1/f1', 'm1', 'f1', 1)")

		err := RemovePayeeScheme(db, 1)
		assert.Equal(t, errors.Cause(err), ErrSchemeInUse, "error mismatch")
	})

	t.Run("allows removal once referencing wares are withdrawn", func(t *testing.T) {
		db := database.InitTestMemoryDB(t)
		database.MustExec(t, "inserting a scheme", db, "INSERT INTO payee_schemes (id, name) VALUES (1, 's1')")
		database.MustExec(t, "inserting a withdrawn ware", db, "INSERT INTO wares (uuid, media_id, file_id, payee_scheme_id, deleted) VALUES ('m1/f1', 'm1', 'f1', 1, 1)")

		if err := RemovePayeeScheme(db, 1); err != nil {
			t.Fatal(errors.Wrap(err, "removing"))
		}

		scheme, err := database.GetPayeeScheme(db, 1)
		if err != nil {
			t.Fatal(errors.Wrap(err, "getting the scheme"))
		}

		assert.Equal(t, scheme.Deleted, true, "deleted mismatch")
		assert.Equal(t, scheme.Dirty, true, "dirty mismatch")
	})
}
