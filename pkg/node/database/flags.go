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

package database

import (
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/stallnet/stall/pkg/node/consts"
)

// ErrWareNotFound is returned when an operation targets a ware that does not exist
var ErrWareNotFound = errors.New("ware not found")

// ErrSchemeIDExhausted is returned when the scheme id allocation gives up
// after the bounded number of attempts
var ErrSchemeIDExhausted = errors.New("no free payee scheme id within the attempt limit")

// SetFlags bulk-sets the dirty and updating flags on every row of the given
// table. It is used to force a full resync after a counter divergence.
func SetFlags(db *DB, table string, dirty, updating bool) error {
	query := fmt.Sprintf("UPDATE %s SET dirty = ?, updating = ?", table)
	if _, err := db.Exec(query, dirty, updating); err != nil {
		return errors.Wrapf(err, "setting flags on %s", table)
	}

	return nil
}

// PurgeDeleted physically removes the rows whose deletion the registry has
// acknowledged. A row qualifies only when it is part of the acknowledged
// batch (updating), marked deleted, has not been edited since (not dirty),
// and carries no problem.
func PurgeDeleted(db *DB, table string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE updating = 1 AND deleted = 1 AND dirty = 0 AND problem_id = 0", table)
	if _, err := db.Exec(query); err != nil {
		return errors.Wrapf(err, "purging deleted rows of %s", table)
	}

	if table == TablePayeeSchemes {
		if _, err := db.Exec("DELETE FROM payee_scheme_payees WHERE scheme_id NOT IN (SELECT id FROM payee_schemes)"); err != nil {
			return errors.Wrap(err, "purging orphaned payee rows")
		}
	}

	return nil
}

// ClearUpdatingFlags releases the in-flight batch of the given table
func ClearUpdatingFlags(db *DB, table string) error {
	query := fmt.Sprintf("UPDATE %s SET updating = 0 WHERE updating = 1", table)
	if _, err := db.Exec(query); err != nil {
		return errors.Wrapf(err, "clearing updating flags of %s", table)
	}

	return nil
}

// CountUpdating counts the rows of the given table that are part of the
// in-flight batch
func CountUpdating(db *DB, table string) (int, error) {
	var count int
	query := fmt.Sprintf("SELECT count(*) FROM %s WHERE updating = 1", table)
	if err := db.QueryRow(query).Scan(&count); err != nil {
		return 0, errors.Wrapf(err, "counting updating rows of %s", table)
	}

	return count, nil
}

// UpsertWare inserts the ware, or updates the existing row for the same
// media/file pair. It returns whether an insert occurred, so that callers can
// classify the edit as "new" versus "updated". Either way the row ends up
// dirty, not deleted, and with its problem cleared; a fresh edit supersedes
// any previously reported rejection.
func UpsertWare(db *DB, w Ware) (bool, error) {
	var count int
	if err := db.QueryRow("SELECT count(*) FROM wares WHERE uuid = ?", w.UUID).Scan(&count); err != nil {
		return false, errors.Wrapf(err, "counting wares with uuid %s", w.UUID)
	}

	if count == 0 {
		w.Dirty = true
		if err := w.Insert(db); err != nil {
			return false, err
		}

		return true, nil
	}

	_, err := db.Exec("UPDATE wares SET description = ?, payee_scheme_id = ?, dirty = 1, deleted = 0, problem_id = 0 WHERE uuid = ?",
		w.Description, w.PayeeSchemeID, w.UUID)
	if err != nil {
		return false, errors.Wrapf(err, "updating ware %s", w.UUID)
	}

	return false, nil
}

// MarkWareDeleted marks the ware for removal. The row is retained until the
// registry acknowledges the deletion.
func MarkWareDeleted(db *DB, uuid string) error {
	result, err := db.Exec("UPDATE wares SET dirty = 1, deleted = 1, problem_id = 0 WHERE uuid = ?", uuid)
	if err != nil {
		return errors.Wrapf(err, "marking ware %s deleted", uuid)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "counting affected rows")
	}
	if affected == 0 {
		return errors.Wrapf(ErrWareNotFound, "marking ware %s deleted", uuid)
	}

	return nil
}

// AllocateSchemeID inserts a new payee scheme row under the smallest unused
// positive id. A concurrent insert racing for the same gap surfaces as a
// constraint violation, which is retried up to the attempt limit.
func AllocateSchemeID(db *DB, name string) (int, error) {
	for attempt := 0; attempt < consts.MaxSchemeIDAttempts; attempt++ {
		var id int
		err := db.QueryRow(`SELECT COALESCE(MIN(id + 1), 1)
			FROM (SELECT id FROM payee_schemes UNION SELECT 0)
			WHERE id + 1 NOT IN (SELECT id FROM payee_schemes)`).Scan(&id)
		if err != nil {
			return 0, errors.Wrap(err, "finding the first free scheme id")
		}

		_, err = db.Exec("INSERT INTO payee_schemes (id, name, dirty, updating, deleted, problem_id) VALUES (?, ?, 1, 0, 0, 0)", id, name)
		if err == nil {
			return id, nil
		}

		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			continue
		}

		return 0, errors.Wrapf(err, "inserting payee scheme %d", id)
	}

	return 0, ErrSchemeIDExhausted
}
