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

	"github.com/pkg/errors"
)

// Table names for the rows carrying the dirty/updating/deleted flags
const (
	TableWares        = "wares"
	TablePayeeSchemes = "payee_schemes"
)

// Ware represents one sellable file offering
type Ware struct {
	RowID         int    `json:"rowid"`
	UUID          string `json:"uuid"`
	MediaID       string `json:"media_id"`
	FileID        string `json:"file_id"`
	Description   string `json:"description"`
	PayeeSchemeID int    `json:"payee_scheme_id"`
	Dirty         bool   `json:"dirty"`
	Updating      bool   `json:"updating"`
	Deleted       bool   `json:"deleted"`
	ProblemID     int    `json:"problem_id"`
}

// Payee is one payment-split rule of a payee scheme. Share is expressed in
// parts per myriad of the sale price.
type Payee struct {
	Name  string `json:"name"`
	Share int    `json:"share"`
}

// PayeeScheme is a named, ordered list of payment-split rules referenced by wares
type PayeeScheme struct {
	ID        int     `json:"id"`
	Name      string  `json:"name"`
	Payees    []Payee `json:"payees"`
	Dirty     bool    `json:"dirty"`
	Updating  bool    `json:"updating"`
	Deleted   bool    `json:"deleted"`
	ProblemID int     `json:"problem_id"`
}

// Problem is a deduplicated, serialized rejection payload reported by the registry
type Problem struct {
	ID   int    `json:"id"`
	Body string `json:"body"`
}

// WareUUID encodes the composite media/file key into the stable ware id
func WareUUID(mediaID, fileID string) string {
	return fmt.Sprintf("%s/%s", mediaID, fileID)
}

// NewWare constructs a ware with the given data
func NewWare(mediaID, fileID, description string, payeeSchemeID int, dirty bool) Ware {
	return Ware{
		UUID:          WareUUID(mediaID, fileID),
		MediaID:       mediaID,
		FileID:        fileID,
		Description:   description,
		PayeeSchemeID: payeeSchemeID,
		Dirty:         dirty,
	}
}

// Insert inserts a new ware
func (w Ware) Insert(db *DB) error {
	_, err := db.Exec("INSERT INTO wares (uuid, media_id, file_id, description, payee_scheme_id, dirty, updating, deleted, problem_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		w.UUID, w.MediaID, w.FileID, w.Description, w.PayeeSchemeID, w.Dirty, w.Updating, w.Deleted, w.ProblemID)
	if err != nil {
		return errors.Wrapf(err, "inserting ware %s", w.UUID)
	}

	return nil
}

// Update updates the ware with the given data
func (w Ware) Update(db *DB) error {
	_, err := db.Exec("UPDATE wares SET description = ?, payee_scheme_id = ?, dirty = ?, updating = ?, deleted = ?, problem_id = ? WHERE uuid = ?",
		w.Description, w.PayeeSchemeID, w.Dirty, w.Updating, w.Deleted, w.ProblemID, w.UUID)
	if err != nil {
		return errors.Wrapf(err, "updating ware %s", w.UUID)
	}

	return nil
}

// Expunge hard-deletes the ware from the database
func (w Ware) Expunge(db *DB) error {
	_, err := db.Exec("DELETE FROM wares WHERE uuid = ?", w.UUID)
	if err != nil {
		return errors.Wrapf(err, "expunging ware %s", w.UUID)
	}

	return nil
}

// GetWare reads the ware with the given uuid
func GetWare(db *DB, uuid string) (Ware, error) {
	var ret Ware
	err := db.QueryRow("SELECT id, uuid, media_id, file_id, description, payee_scheme_id, dirty, updating, deleted, problem_id FROM wares WHERE uuid = ?", uuid).
		Scan(&ret.RowID, &ret.UUID, &ret.MediaID, &ret.FileID, &ret.Description, &ret.PayeeSchemeID, &ret.Dirty, &ret.Updating, &ret.Deleted, &ret.ProblemID)
	if err != nil {
		return ret, errors.Wrapf(err, "querying ware %s", uuid)
	}

	return ret, nil
}

// Insert inserts a new payee scheme together with its payee rows. The id
// must have been allocated beforehand.
func (s PayeeScheme) Insert(db *DB) error {
	_, err := db.Exec("INSERT INTO payee_schemes (id, name, dirty, updating, deleted, problem_id) VALUES (?, ?, ?, ?, ?, ?)",
		s.ID, s.Name, s.Dirty, s.Updating, s.Deleted, s.ProblemID)
	if err != nil {
		return errors.Wrapf(err, "inserting payee scheme %d", s.ID)
	}

	if err := ReplacePayees(db, s.ID, s.Payees); err != nil {
		return err
	}

	return nil
}

// ReplacePayees replaces the payee rows of the given scheme
func ReplacePayees(db *DB, schemeID int, payees []Payee) error {
	if _, err := db.Exec("DELETE FROM payee_scheme_payees WHERE scheme_id = ?", schemeID); err != nil {
		return errors.Wrapf(err, "clearing payees of scheme %d", schemeID)
	}

	for i, p := range payees {
		_, err := db.Exec("INSERT INTO payee_scheme_payees (scheme_id, position, name, share) VALUES (?, ?, ?, ?)",
			schemeID, i, p.Name, p.Share)
		if err != nil {
			return errors.Wrapf(err, "inserting payee %d of scheme %d", i, schemeID)
		}
	}

	return nil
}

// Expunge hard-deletes the payee scheme and its payee rows
func (s PayeeScheme) Expunge(db *DB) error {
	if _, err := db.Exec("DELETE FROM payee_scheme_payees WHERE scheme_id = ?", s.ID); err != nil {
		return errors.Wrapf(err, "expunging payees of scheme %d", s.ID)
	}
	if _, err := db.Exec("DELETE FROM payee_schemes WHERE id = ?", s.ID); err != nil {
		return errors.Wrapf(err, "expunging payee scheme %d", s.ID)
	}

	return nil
}

// GetPayeeScheme reads the payee scheme with the given id, including its payees
func GetPayeeScheme(db *DB, id int) (PayeeScheme, error) {
	var ret PayeeScheme
	err := db.QueryRow("SELECT id, name, dirty, updating, deleted, problem_id FROM payee_schemes WHERE id = ?", id).
		Scan(&ret.ID, &ret.Name, &ret.Dirty, &ret.Updating, &ret.Deleted, &ret.ProblemID)
	if err != nil {
		return ret, errors.Wrapf(err, "querying payee scheme %d", id)
	}

	payees, err := getPayees(db, id)
	if err != nil {
		return ret, err
	}
	ret.Payees = payees

	return ret, nil
}

func getPayees(db *DB, schemeID int) ([]Payee, error) {
	rows, err := db.Query("SELECT name, share FROM payee_scheme_payees WHERE scheme_id = ? ORDER BY position", schemeID)
	if err != nil {
		return nil, errors.Wrapf(err, "querying payees of scheme %d", schemeID)
	}
	defer rows.Close()

	var ret []Payee
	for rows.Next() {
		var p Payee
		if err := rows.Scan(&p.Name, &p.Share); err != nil {
			return nil, errors.Wrap(err, "scanning a payee row")
		}
		ret = append(ret, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating payee rows")
	}

	return ret, nil
}

// SchemeExists checks whether a non-deleted payee scheme with the given id exists
func SchemeExists(db *DB, id int) (bool, error) {
	var count int
	err := db.QueryRow("SELECT count(*) FROM payee_schemes WHERE id = ? AND deleted = 0", id).Scan(&count)
	if err != nil {
		return false, errors.Wrapf(err, "counting payee scheme %d", id)
	}

	return count > 0, nil
}

// CountSchemeReferences counts non-deleted wares referencing the given scheme
func CountSchemeReferences(db *DB, schemeID int) (int, error) {
	var count int
	err := db.QueryRow("SELECT count(*) FROM wares WHERE payee_scheme_id = ? AND deleted = 0", schemeID).Scan(&count)
	if err != nil {
		return 0, errors.Wrapf(err, "counting references to scheme %d", schemeID)
	}

	return count, nil
}
