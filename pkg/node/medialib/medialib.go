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

// Package medialib provides the media library collaborator, which resolves
// the files behind the wares into their full metadata.
package medialib

import (
	"database/sql"

	"github.com/pkg/errors"

	"github.com/stallnet/stall/pkg/node/database"
)

// FileInfo is the full metadata of a file in the media library
type FileInfo struct {
	MediaID  string `json:"mediaId"`
	FileID   string `json:"fileId"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// Library resolves media/file pairs into file metadata
type Library interface {
	// PopulateFile resolves the given media/file pair. The second return
	// value reports whether the file exists in the library.
	PopulateFile(db *database.DB, mediaID, fileID string) (FileInfo, bool, error)
}

// SQLLibrary is a Library backed by the media_files table
type SQLLibrary struct{}

// NewSQLLibrary returns a Library backed by the local database
func NewSQLLibrary() SQLLibrary {
	return SQLLibrary{}
}

// PopulateFile implements Library
func (l SQLLibrary) PopulateFile(db *database.DB, mediaID, fileID string) (FileInfo, bool, error) {
	var ret FileInfo
	err := db.QueryRow("SELECT media_id, file_id, name, size, checksum FROM media_files WHERE media_id = ? AND file_id = ?", mediaID, fileID).
		Scan(&ret.MediaID, &ret.FileID, &ret.Name, &ret.Size, &ret.Checksum)
	if err == sql.ErrNoRows {
		return ret, false, nil
	}
	if err != nil {
		return ret, false, errors.Wrapf(err, "querying media file %s/%s", mediaID, fileID)
	}

	return ret, true, nil
}

// AddFile registers a file in the media library
func AddFile(db *database.DB, info FileInfo) error {
	_, err := db.Exec("INSERT INTO media_files (media_id, file_id, name, size, checksum) VALUES (?, ?, ?, ?, ?)",
		info.MediaID, info.FileID, info.Name, info.Size, info.Checksum)
	if err != nil {
		return errors.Wrapf(err, "inserting media file %s/%s", info.MediaID, info.FileID)
	}

	return nil
}
