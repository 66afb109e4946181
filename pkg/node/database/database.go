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

// Package database provides access to the local stall database
package database

import (
	"database/sql"
	"strconv"

	// sqlite driver
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// DB is a handle to the stall database. It wraps either a plain connection
// or an open transaction behind the same interface, so that data access
// functions can run in both contexts.
type DB struct {
	conn *sql.DB
	tx   *sql.Tx
}

// Open opens the database connection at the given path
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}

	return &DB{conn: conn}, nil
}

// Begin starts a transaction and returns a handle scoped to it
func (d *DB) Begin() (*DB, error) {
	if d.tx != nil {
		return nil, errors.New("already in a transaction")
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "beginning a transaction")
	}

	return &DB{conn: d.conn, tx: tx}, nil
}

// Commit commits the transaction
func (d *DB) Commit() error {
	if d.tx == nil {
		return errors.New("not in a transaction")
	}

	return d.tx.Commit()
}

// Rollback aborts the transaction. It is a no-op on a non-transactional handle
// so that it can be deferred unconditionally.
func (d *DB) Rollback() error {
	if d.tx == nil {
		return nil
	}

	return d.tx.Rollback()
}

// Close closes the underlying connection
func (d *DB) Close() error {
	if d.conn == nil {
		return nil
	}

	return d.conn.Close()
}

// Exec executes the given query
func (d *DB) Exec(query string, args ...interface{}) (sql.Result, error) {
	if d.tx != nil {
		return d.tx.Exec(query, args...)
	}

	return d.conn.Exec(query, args...)
}

// Query runs the given query returning rows
func (d *DB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	if d.tx != nil {
		return d.tx.Query(query, args...)
	}

	return d.conn.Query(query, args...)
}

// QueryRow runs the given query returning a single row
func (d *DB) QueryRow(query string, args ...interface{}) *sql.Row {
	if d.tx != nil {
		return d.tx.QueryRow(query, args...)
	}

	return d.conn.QueryRow(query, args...)
}

// GetConfig scans the config value for the given key into the dest
func GetConfig(db *DB, key string, dest interface{}) error {
	var value string
	if err := db.QueryRow("SELECT value FROM config WHERE key = ?", key).Scan(&value); err != nil {
		return errors.Wrapf(err, "querying config %s", key)
	}

	switch d := dest.(type) {
	case *string:
		*d = value
	case *int:
		i, err := strconv.Atoi(value)
		if err != nil {
			return errors.Wrapf(err, "parsing config %s value %s", key, value)
		}
		*d = i
	case *int64:
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "parsing config %s value %s", key, value)
		}
		*d = i
	default:
		return errors.Errorf("unsupported config dest type for %s", key)
	}

	return nil
}

// UpdateConfig updates the config value for the given key
func UpdateConfig(db *DB, key string, val interface{}) error {
	var value string

	switch v := val.(type) {
	case string:
		value = v
	case int:
		value = strconv.Itoa(v)
	case int64:
		value = strconv.FormatInt(v, 10)
	default:
		return errors.Errorf("unsupported config value type for %s", key)
	}

	if _, err := db.Exec("UPDATE config SET value = ? WHERE key = ?", value, key); err != nil {
		return errors.Wrapf(err, "updating config %s", key)
	}

	return nil
}

// InitConfig inserts the config key with the given value unless it already exists
func InitConfig(db *DB, key string, val string) error {
	var count int
	if err := db.QueryRow("SELECT count(*) FROM config WHERE key = ?", key).Scan(&count); err != nil {
		return errors.Wrapf(err, "counting config %s", key)
	}

	if count > 0 {
		return nil
	}

	if _, err := db.Exec("INSERT INTO config (key, value) VALUES (?, ?)", key, val); err != nil {
		return errors.Wrapf(err, "inserting config %s", key)
	}

	return nil
}
