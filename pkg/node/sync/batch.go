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
	"github.com/stallnet/stall/pkg/node/client"
)

// Batch is the content of one update round: the rows of the in-flight set
// partitioned into updates and removals
type Batch struct {
	WareUpdates    []client.WareListing
	WareRemovals   []string
	SchemeUpdates  []client.SchemeListing
	SchemeRemovals []int
}

// Empty returns true if the batch carries no content. An empty batch
// functions as a heartbeat.
func (b Batch) Empty() bool {
	return len(b.WareUpdates) == 0 && len(b.WareRemovals) == 0 &&
		len(b.SchemeUpdates) == 0 && len(b.SchemeRemovals) == 0
}

// Size returns the number of items in the batch
func (b Batch) Size() int {
	return len(b.WareUpdates) + len(b.WareRemovals) + len(b.SchemeUpdates) + len(b.SchemeRemovals)
}

// Payload assembles the wire payload for the batch
func (b Batch) Payload(serverID int, serverToken string, updateID int) client.SubmitListingsPayload {
	return client.SubmitListingsPayload{
		Seller:      serverID,
		ServerToken: serverToken,
		UpdateID:    updateID,
		Listings: client.ListingBatch{
			Updates:  b.WareUpdates,
			Removals: b.WareRemovals,
		},
		PayeeSchemes: client.SchemeBatch{
			Updates:  b.SchemeUpdates,
			Removals: b.SchemeRemovals,
		},
	}
}
