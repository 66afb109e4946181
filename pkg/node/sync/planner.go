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
	"github.com/pkg/errors"

	"github.com/stallnet/stall/pkg/node/client"
	"github.com/stallnet/stall/pkg/node/consts"
	"github.com/stallnet/stall/pkg/node/database"
	"github.com/stallnet/stall/pkg/node/medialib"
)

// fileMissingProblem is stamped on a marked ware whose backing file has
// vanished from the media library
const fileMissingProblem = `{"code":"file_missing","message":"no backing media file"}`

// MarkNextBatch selects the rows of the next update batch by transitioning
// them dirty -> updating. It must run inside a transaction.
//
// If any row is already marked updating, a previously selected batch never
// completed (the process stopped between send and response) and that batch
// is left in place to be resent as is.
func MarkNextBatch(tx *database.DB) error {
	wareCount, err := database.CountUpdating(tx, database.TableWares)
	if err != nil {
		return errors.Wrap(err, "counting in-flight wares")
	}
	schemeCount, err := database.CountUpdating(tx, database.TablePayeeSchemes)
	if err != nil {
		return errors.Wrap(err, "counting in-flight schemes")
	}
	if wareCount > 0 || schemeCount > 0 {
		return nil
	}

	// A scheme must not ship while a dependent ware's deletion is pending;
	// the registry would reject the scheme for referencing integrity.
	_, err = tx.Exec(`UPDATE payee_schemes SET updating = 1, dirty = 0 WHERE id IN (
		SELECT id FROM payee_schemes
		WHERE dirty = 1 AND id NOT IN (SELECT payee_scheme_id FROM wares WHERE deleted = 1)
		ORDER BY id LIMIT ?)`, consts.MaxSchemeUpdates)
	if err != nil {
		return errors.Wrap(err, "marking schemes for update")
	}

	// Removals take priority within the ware budget.
	result, err := tx.Exec(`UPDATE wares SET updating = 1, dirty = 0 WHERE id IN (
		SELECT id FROM wares WHERE dirty = 1 AND deleted = 1
		ORDER BY id LIMIT ?)`, consts.MaxWareUpdates)
	if err != nil {
		return errors.Wrap(err, "marking ware removals")
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "counting marked removals")
	}

	if remaining := consts.MaxWareUpdates - int(deletedCount); remaining > 0 {
		_, err = tx.Exec(`UPDATE wares SET updating = 1, dirty = 0 WHERE id IN (
			SELECT id FROM wares WHERE dirty = 1 AND deleted = 0
			ORDER BY id LIMIT ?)`, remaining)
		if err != nil {
			return errors.Wrap(err, "marking ware updates")
		}
	}

	// Cross-table dependency tie-break: a ware cannot ship before the scheme
	// it references has resolved on the registry.
	_, err = tx.Exec(`UPDATE wares SET updating = 0, dirty = 1
		WHERE updating = 1 AND deleted = 0 AND payee_scheme_id IN (
			SELECT id FROM payee_schemes WHERE updating = 1 OR dirty = 1)`)
	if err != nil {
		return errors.Wrap(err, "reverting wares awaiting their scheme")
	}

	return nil
}

// CollectBatch reads back the rows of the in-flight set, partitioned into
// updates and removals. Ware updates are joined with their file metadata
// from the media library.
func CollectBatch(tx *database.DB, lib medialib.Library) (Batch, error) {
	var batch Batch

	rows, err := tx.Query("SELECT uuid, media_id, file_id, description, payee_scheme_id, deleted FROM wares WHERE updating = 1 AND dirty = 0 ORDER BY id")
	if err != nil {
		return batch, errors.Wrap(err, "querying in-flight wares")
	}
	defer rows.Close()

	var missing []string
	for rows.Next() {
		var w database.Ware
		if err := rows.Scan(&w.UUID, &w.MediaID, &w.FileID, &w.Description, &w.PayeeSchemeID, &w.Deleted); err != nil {
			return batch, errors.Wrap(err, "scanning an in-flight ware")
		}

		if w.Deleted {
			batch.WareRemovals = append(batch.WareRemovals, w.UUID)
			continue
		}

		info, ok, err := lib.PopulateFile(tx, w.MediaID, w.FileID)
		if err != nil {
			return batch, errors.Wrapf(err, "populating file for ware %s", w.UUID)
		}
		if !ok {
			missing = append(missing, w.UUID)
			continue
		}

		batch.WareUpdates = append(batch.WareUpdates, client.WareListing{
			ID:            w.UUID,
			Description:   w.Description,
			PayeeSchemeID: w.PayeeSchemeID,
			File:          info,
		})
	}
	if err := rows.Err(); err != nil {
		return batch, errors.Wrap(err, "iterating in-flight wares")
	}
	rows.Close()

	// A vanished file must not wedge the round for the rest of the catalog.
	// The ware leaves the in-flight set and carries a problem until it is
	// edited or removed.
	for _, uuid := range missing {
		if err := quarantineWare(tx, uuid); err != nil {
			return batch, err
		}
	}

	schemeRows, err := tx.Query("SELECT id, deleted FROM payee_schemes WHERE updating = 1 AND dirty = 0 ORDER BY id")
	if err != nil {
		return batch, errors.Wrap(err, "querying in-flight schemes")
	}
	defer schemeRows.Close()

	var schemeIDs []int
	for schemeRows.Next() {
		var id int
		var deleted bool
		if err := schemeRows.Scan(&id, &deleted); err != nil {
			return batch, errors.Wrap(err, "scanning an in-flight scheme")
		}

		if deleted {
			batch.SchemeRemovals = append(batch.SchemeRemovals, id)
		} else {
			schemeIDs = append(schemeIDs, id)
		}
	}
	if err := schemeRows.Err(); err != nil {
		return batch, errors.Wrap(err, "iterating in-flight schemes")
	}

	schemeRows.Close()

	for _, id := range schemeIDs {
		scheme, err := database.GetPayeeScheme(tx, id)
		if err != nil {
			return batch, errors.Wrapf(err, "reading scheme %d", id)
		}

		payees := make([]client.PayeeListing, 0, len(scheme.Payees))
		for _, p := range scheme.Payees {
			payees = append(payees, client.PayeeListing{Name: p.Name, Share: p.Share})
		}

		batch.SchemeUpdates = append(batch.SchemeUpdates, client.SchemeListing{
			ID:     scheme.ID,
			Name:   scheme.Name,
			Payees: payees,
		})
	}

	return batch, nil
}

// quarantineWare takes a marked ware with no backing file out of the
// in-flight set and stamps a problem on it
func quarantineWare(tx *database.DB, uuid string) error {
	problemID, err := database.RecordProblem(tx, fileMissingProblem)
	if err != nil {
		return errors.Wrapf(err, "recording the missing-file problem for ware %s", uuid)
	}

	_, err = tx.Exec("UPDATE wares SET updating = 0, dirty = 0, problem_id = ? WHERE uuid = ?", problemID, uuid)
	if err != nil {
		return errors.Wrapf(err, "quarantining ware %s", uuid)
	}

	return nil
}
