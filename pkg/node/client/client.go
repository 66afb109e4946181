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

// Package client provides interfaces for interacting with the remote
// listing registry and the data structures for requests and responses
package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/stallnet/stall/pkg/node/context"
	"github.com/stallnet/stall/pkg/node/log"
	"github.com/stallnet/stall/pkg/node/medialib"
)

// HTTPError represents an HTTP error response from the registry
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf(`response %d "%s"`, e.StatusCode, e.Message)
}

// IsStaleUpdateID returns true if the registry rejected the update id
func (e *HTTPError) IsStaleUpdateID() bool {
	return e.StatusCode == http.StatusConflict
}

// IsInvalidToken returns true if the registry rejected the server token
func (e *HTTPError) IsInvalidToken() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// IsSellerExpired returns true if the seller record expired on the registry
func (e *HTTPError) IsSellerExpired() bool {
	return e.StatusCode == http.StatusGone
}

const (
	// requestTimeout is the fixed wait budget for a registry call
	requestTimeout = 30 * time.Second
	// clientRateLimitPerSecond is the max requests per second the client will make
	clientRateLimitPerSecond = 50
	// clientRateLimitBurst is the burst capacity for rate limiting
	clientRateLimitBurst = 100
)

// rateLimitedTransport wraps an http.RoundTripper with rate limiting
type rateLimitedTransport struct {
	transport http.RoundTripper
	limiter   *rate.Limiter
}

func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.transport.RoundTrip(req)
}

// NewHTTPClient creates the HTTP client used for registry calls. It rate
// limits outgoing requests and enforces the fixed wait budget.
func NewHTTPClient() *http.Client {
	interval := time.Second / time.Duration(clientRateLimitPerSecond)

	return &http.Client{
		Timeout: requestTimeout,
		Transport: &rateLimitedTransport{
			transport: http.DefaultTransport,
			limiter:   rate.NewLimiter(rate.Every(interval), clientRateLimitBurst),
		},
	}
}

func getHTTPClient(ctx context.StallCtx) *http.Client {
	if ctx.HTTPClient != nil {
		return ctx.HTTPClient
	}

	return &http.Client{Timeout: requestTimeout}
}

// doReq does a http request to the given path in the api endpoint
func doReq(ctx context.StallCtx, method, path, body string) (*http.Response, error) {
	endpoint := fmt.Sprintf("%s%s", ctx.APIEndpoint, path)
	req, err := http.NewRequest(method, endpoint, strings.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "constructing http request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stall-Version", ctx.Version)

	log.Debug("HTTP %s %s\n", method, path)

	res, err := getHTTPClient(ctx).Do(req)
	if err != nil {
		return res, errors.Wrap(err, "making http request")
	}

	log.Debug("HTTP %d %s\n", res.StatusCode, res.Status)

	if res.StatusCode >= 400 {
		defer res.Body.Close()

		b, err := io.ReadAll(res.Body)
		if err != nil {
			return res, errors.Wrapf(err, "server responded with %d but client could not read the response body", res.StatusCode)
		}

		return res, &HTTPError{
			StatusCode: res.StatusCode,
			Message:    strings.TrimRight(string(b), "\n"),
		}
	}

	return res, nil
}

func postJSON(ctx context.StallCtx, path string, payload, dest interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshaling payload")
	}

	res, err := doReq(ctx, "POST", path, string(b))
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if err := json.NewDecoder(res.Body).Decode(dest); err != nil {
		return errors.Wrap(err, "decoding response payload")
	}

	return nil
}

// RegisterSellerPayload is the payload for registering a server identity
type RegisterSellerPayload struct {
	URL             string `json:"url"`
	ListingUpdateID string `json:"listingUpdateId"`
}

// RegisterSellerResp is the response from the register endpoint
type RegisterSellerResp struct {
	ServerID    int    `json:"serverId"`
	ServerToken string `json:"serverToken"`
}

// RegisterSeller registers a new server identity for this node with the registry
func RegisterSeller(ctx context.StallCtx) (RegisterSellerResp, error) {
	payload := RegisterSellerPayload{
		URL:             ctx.PublicURL,
		ListingUpdateID: "0",
	}

	var resp RegisterSellerResp
	path := fmt.Sprintf("/catalog/sellers/%s", ctx.SellerID)
	if err := postJSON(ctx, path, payload, &resp); err != nil {
		return RegisterSellerResp{}, errors.Wrap(err, "registering the seller")
	}

	return resp, nil
}

type updateSellerURLPayload struct {
	URL string `json:"url"`
}

// UpdateSellerURL updates the public URL registered for this node
func UpdateSellerURL(ctx context.StallCtx, serverID int) error {
	payload := updateSellerURLPayload{URL: ctx.PublicURL}

	var resp struct{}
	path := fmt.Sprintf("/catalog/sellers/%s/%d", ctx.SellerID, serverID)
	if err := postJSON(ctx, path, payload, &resp); err != nil {
		return errors.Wrap(err, "updating the seller url")
	}

	return nil
}

// WareListing is a ware entry in an update batch
type WareListing struct {
	ID            string            `json:"id"`
	Description   string            `json:"description"`
	PayeeSchemeID int               `json:"payeeSchemeId"`
	File          medialib.FileInfo `json:"file"`
}

// PayeeListing is a payee entry of a scheme listing
type PayeeListing struct {
	Name  string `json:"name"`
	Share int    `json:"share"`
}

// SchemeListing is a payee scheme entry in an update batch
type SchemeListing struct {
	ID     int            `json:"id"`
	Name   string         `json:"name"`
	Payees []PayeeListing `json:"payees"`
}

// ListingBatch is the ware half of an update batch
type ListingBatch struct {
	Updates  []WareListing `json:"updates"`
	Removals []string      `json:"removals"`
}

// SchemeBatch is the payee scheme half of an update batch
type SchemeBatch struct {
	Updates  []SchemeListing `json:"updates"`
	Removals []int           `json:"removals"`
}

// SubmitListingsPayload is an update batch shipped to the registry
type SubmitListingsPayload struct {
	Seller       int          `json:"seller"`
	ServerToken  string       `json:"serverToken"`
	UpdateID     int          `json:"updateId"`
	Listings     ListingBatch `json:"listings"`
	PayeeSchemes SchemeBatch  `json:"payeeSchemes"`
}

// ItemException is a per-item rejection reported by the registry
type ItemException struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WareResult is the registry's verdict on one ware of the batch
type WareResult struct {
	ID        string         `json:"id"`
	Exception *ItemException `json:"exception,omitempty"`
}

// SchemeResult is the registry's verdict on one payee scheme of the batch
type SchemeResult struct {
	ID        int            `json:"id"`
	Exception *ItemException `json:"exception,omitempty"`
}

// WareResultSet mirrors the shape of the submitted ware batch
type WareResultSet struct {
	Updates  []WareResult `json:"updates"`
	Removals []WareResult `json:"removals"`
}

// SchemeResultSet mirrors the shape of the submitted scheme batch
type SchemeResultSet struct {
	Updates  []SchemeResult `json:"updates"`
	Removals []SchemeResult `json:"removals"`
}

// SubmitListingsResp is the registry's verdict on an update batch. UpdateID
// is the authoritative counter after the batch was applied.
type SubmitListingsResp struct {
	UpdateID     int             `json:"updateId"`
	Listings     WareResultSet   `json:"listings"`
	PayeeSchemes SchemeResultSet `json:"payeeSchemes"`
}

// SubmitListings ships an update batch to the registry. An empty batch
// functions as a heartbeat: the registry validates nothing and simply
// reports its current update counter.
func SubmitListings(ctx context.StallCtx, payload SubmitListingsPayload) (SubmitListingsResp, error) {
	var resp SubmitListingsResp
	if err := postJSON(ctx, "/catalog/listings", payload, &resp); err != nil {
		return SubmitListingsResp{}, errors.Wrap(err, "submitting listings")
	}

	return resp, nil
}

// NetAccessResp is the response from the reachability probe
type NetAccessResp struct {
	Reachable bool `json:"reachable"`
}

// TestNetAccess asks the registry to probe the public reachability of this node
func TestNetAccess(ctx context.StallCtx, token string) (bool, error) {
	v := url.Values{}
	v.Set("token", token)
	v.Set("url", ctx.PublicURL)

	res, err := doReq(ctx, "GET", fmt.Sprintf("/netaccess?%s", v.Encode()), "")
	if err != nil {
		return false, errors.Wrap(err, "probing net access")
	}
	defer res.Body.Close()

	var resp NetAccessResp
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return false, errors.Wrap(err, "decoding response payload")
	}

	return resp.Reachable, nil
}
