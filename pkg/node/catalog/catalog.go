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

// Package catalog provides the user-facing edit operations on the local
// catalog of wares and payee schemes. Every mutation marks the affected row
// dirty; the sync core picks dirty rows up in its next cycle. Edits never
// touch the updating flag.
package catalog

import (
	"github.com/pkg/errors"

	"github.com/stallnet/stall/pkg/node/database"
	"github.com/stallnet/stall/pkg/node/medialib"
)

// ErrSchemeNotFound is returned when an edit references a payee scheme that
// does not exist or is marked for deletion
var ErrSchemeNotFound = errors.New("payee scheme not found")

// ErrFileMissing is returned when an edit references a file absent from the
// media library
var ErrFileMissing = errors.New("media file not found in the library")

// ErrSchemeInUse is returned when removing a payee scheme that a ware still references
var ErrSchemeInUse = errors.New("payee scheme is still referenced by a ware")

// ErrEmptyPayees is returned when a payee scheme is created or updated with no payees
var ErrEmptyPayees = errors.New("payee scheme has no payees")

// AddWare creates or updates the offering for the given media/file pair.
// It returns whether a new row was inserted, so that the caller can
// distinguish "new" from "updated".
func AddWare(db *database.DB, lib medialib.Library, mediaID, fileID, description string, payeeSchemeID int) (bool, error) {
	if err := checkScheme(db, payeeSchemeID); err != nil {
		return false, err
	}

	_, ok, err := lib.PopulateFile(db, mediaID, fileID)
	if err != nil {
		return false, errors.Wrapf(err, "checking media file %s/%s", mediaID, fileID)
	}
	if !ok {
		return false, errors.Wrapf(ErrFileMissing, "%s/%s", mediaID, fileID)
	}

	ware := database.NewWare(mediaID, fileID, description, payeeSchemeID, true)

	inserted, err := database.UpsertWare(db, ware)
	if err != nil {
		return false, errors.Wrapf(err, "upserting ware %s", ware.UUID)
	}

	return inserted, nil
}

// RemoveWare marks the ware for removal. The row remains until the registry
// acknowledges the deletion.
func RemoveWare(db *database.DB, uuid string) error {
	if err := database.MarkWareDeleted(db, uuid); err != nil {
		return errors.Wrapf(err, "removing ware %s", uuid)
	}

	return nil
}

// AddPayeeScheme creates a new payee scheme under the smallest unused id
// and returns the allocated id
func AddPayeeScheme(db *database.DB, name string, payees []database.Payee) (int, error) {
	if len(payees) == 0 {
		return 0, ErrEmptyPayees
	}

	id, err := database.AllocateSchemeID(db, name)
	if err != nil {
		return 0, errors.Wrap(err, "allocating a scheme id")
	}

	if err := database.ReplacePayees(db, id, payees); err != nil {
		return 0, errors.Wrapf(err, "inserting payees of scheme %d", id)
	}

	return id, nil
}

// UpdatePayeeScheme replaces the name and payees of an existing scheme
func UpdatePayeeScheme(db *database.DB, id int, name string, payees []database.Payee) error {
	if len(payees) == 0 {
		return ErrEmptyPayees
	}
	if err := checkScheme(db, id); err != nil {
		return err
	}

	// Only the content columns change; the sync flags stay whatever they
	// are, so an edit cannot release a row from an in-flight batch.
	_, err := db.Exec("UPDATE payee_schemes SET name = ?, dirty = 1, problem_id = 0 WHERE id = ?", name, id)
	if err != nil {
		return errors.Wrapf(err, "updating scheme %d", id)
	}

	if err := database.ReplacePayees(db, id, payees); err != nil {
		return errors.Wrapf(err, "replacing payees of scheme %d", id)
	}

	return nil
}

// RemovePayeeScheme marks the scheme for removal. It is rejected while any
// non-deleted ware still references the scheme.
func RemovePayeeScheme(db *database.DB, id int) error {
	if err := checkScheme(db, id); err != nil {
		return err
	}

	count, err := database.CountSchemeReferences(db, id)
	if err != nil {
		return errors.Wrapf(err, "counting references to scheme %d", id)
	}
	if count > 0 {
		return errors.Wrapf(ErrSchemeInUse, "removing scheme %d", id)
	}

	_, err = db.Exec("UPDATE payee_schemes SET dirty = 1, deleted = 1, problem_id = 0 WHERE id = ?", id)
	if err != nil {
		return errors.Wrapf(err, "marking scheme %d deleted", id)
	}

	return nil
}

// checkScheme rejects edits referencing a missing, deleted, or unassigned scheme
func checkScheme(db *database.DB, id int) error {
	if id == 0 {
		return errors.Wrap(ErrSchemeNotFound, "scheme id 0 is unassigned")
	}

	ok, err := database.SchemeExists(db, id)
	if err != nil {
		return errors.Wrapf(err, "checking scheme %d", id)
	}
	if !ok {
		return errors.Wrapf(ErrSchemeNotFound, "scheme %d", id)
	}

	return nil
}
