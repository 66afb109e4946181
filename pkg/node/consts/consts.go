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

// Package consts provides definitions of constants
package consts

var (
	// StallDirName is the name of the directory containing stall files
	StallDirName = "stall"
	// StallDBFileName is a filename for the stall SQLite database
	StallDBFileName = "stall.db"
	// ConfigFilename is the name of the config file
	ConfigFilename = "stallrc"

	// ConfigServerID is the seller identity assigned by the remote registry
	ConfigServerID = "server_id"
	// ConfigServerToken is the secret proving the seller identity
	ConfigServerToken = "server_token"
	// ConfigServerURL is the public URL registered for this node
	ConfigServerURL = "server_url"
	// ConfigUpdateID is the last update sequence number the registry has durably applied
	ConfigUpdateID = "update_id"
	// ConfigNetaccessToken is the token used for reachability probes
	ConfigNetaccessToken = "netaccess_token"
	// ConfigLastSyncAt is the unix time of the last successful exchange with the registry
	ConfigLastSyncAt = "last_sync_at"
)

const (
	// MaxWareUpdates is the most ware rows shipped in one update batch
	MaxWareUpdates = 50
	// MaxSchemeUpdates is the most payee scheme rows shipped in one update batch
	MaxSchemeUpdates = 10
	// MaxSchemeIDAttempts bounds the retries of the gap-filling scheme id allocation
	MaxSchemeIDAttempts = 10
)
