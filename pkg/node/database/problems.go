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
	"database/sql"

	"github.com/pkg/errors"
)

// RecordProblem finds or inserts the serialized rejection payload and
// returns its id. Payloads are deduplicated by body equality.
func RecordProblem(db *DB, body string) (int, error) {
	var id int
	err := db.QueryRow("SELECT id FROM problems WHERE body = ?", body).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, errors.Wrap(err, "querying problems")
	}

	result, err := db.Exec("INSERT INTO problems (body) VALUES (?)", body)
	if err != nil {
		return 0, errors.Wrap(err, "inserting a problem")
	}

	lastID, err := result.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "getting the problem id")
	}

	return int(lastID), nil
}

// GetProblem reads the problem with the given id
func GetProblem(db *DB, id int) (Problem, error) {
	var ret Problem
	err := db.QueryRow("SELECT id, body FROM problems WHERE id = ?", id).Scan(&ret.ID, &ret.Body)
	if err != nil {
		return ret, errors.Wrapf(err, "querying problem %d", id)
	}

	return ret, nil
}

// SweepUnreferencedProblems deletes the problems that no ware or payee
// scheme references anymore
func SweepUnreferencedProblems(db *DB) error {
	_, err := db.Exec(`DELETE FROM problems WHERE id NOT IN (
		SELECT problem_id FROM wares WHERE problem_id != 0
		UNION
		SELECT problem_id FROM payee_schemes WHERE problem_id != 0)`)
	if err != nil {
		return errors.Wrap(err, "sweeping unreferenced problems")
	}

	return nil
}
