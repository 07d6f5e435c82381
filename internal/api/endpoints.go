package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// ErrPartyNotFound is returned by GetParty and DiscoverPeer when the
// control plane has no record of the requested party or peer.
var ErrPartyNotFound = errors.New("api: party not found")

// RegisterParty registers a new party with the control plane, carrying the
// host's identity and NAT info.
// POST /v1/parties
func (c *ControlPlane) RegisterParty(ctx context.Context, req RegisterPartyRequest) error {
	return c.doRequest(ctx, http.MethodPost, "/v1/parties", req, nil)
}

// JoinParty registers this peer against an existing party and returns the
// current roster.
// POST /v1/parties/{party_id}/join
func (c *ControlPlane) JoinParty(ctx context.Context, partyID string, req JoinPartyRequest) (*PartyInfo, error) {
	var resp PartyInfo
	path := fmt.Sprintf("/v1/parties/%s/join", url.PathEscape(partyID))
	if err := c.doRequest(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LeaveParty deregisters a peer from a party. Idempotent: leaving a peer
// that is already gone is not an error.
// POST /v1/parties/{party_id}/leave
func (c *ControlPlane) LeaveParty(ctx context.Context, partyID, peerID string) error {
	path := fmt.Sprintf("/v1/parties/%s/leave", url.PathEscape(partyID))
	err := c.doRequest(ctx, http.MethodPost, path, map[string]string{"peer_id": peerID}, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// UpdatePeer republishes a peer's identity and NAT info, e.g. after key
// rotation or a NAT remapping.
// PUT /v1/parties/{party_id}/peers
func (c *ControlPlane) UpdatePeer(ctx context.Context, partyID string, req UpdatePeerRequest) error {
	path := fmt.Sprintf("/v1/parties/%s/peers", url.PathEscape(partyID))
	return c.doRequest(ctx, http.MethodPut, path, req, nil)
}

// GetParty fetches the current state of a party. Returns ErrPartyNotFound
// if the party no longer exists.
// GET /v1/parties/{party_id}
func (c *ControlPlane) GetParty(ctx context.Context, partyID string) (*PartyInfo, error) {
	var resp PartyInfo
	path := fmt.Sprintf("/v1/parties/%s", url.PathEscape(partyID))
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrPartyNotFound
		}
		return nil, err
	}
	return &resp, nil
}

// DiscoverPeer fetches a single peer's descriptor within a party. Returns
// nil, nil if the peer isn't known to the control plane.
// GET /v1/parties/{party_id}/peers/{peer_id}
func (c *ControlPlane) DiscoverPeer(ctx context.Context, partyID, peerID string) (*PeerDescriptor, error) {
	var resp PeerDescriptor
	path := fmt.Sprintf("/v1/parties/%s/peers/%s", url.PathEscape(partyID), url.PathEscape(peerID))
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &resp, nil
}

// Heartbeat signals that peerID is still active in partyID. Callers are
// expected to invoke this at least every 30s; absence for three intervals
// lets the registry expunge the peer.
// POST /v1/parties/{party_id}/heartbeat
func (c *ControlPlane) Heartbeat(ctx context.Context, partyID, peerID string) error {
	path := fmt.Sprintf("/v1/parties/%s/heartbeat", url.PathEscape(partyID))
	return c.doRequest(ctx, http.MethodPost, path, heartbeatRequest{PeerID: peerID}, nil)
}

// ListRelays fetches the current relay directory. At most one round trip
// is expected per orchestrator connect attempt, so callers should cache
// the result for the duration of a single connect.
// GET /v1/relays
func (c *ControlPlane) ListRelays(ctx context.Context) ([]RelayEntry, error) {
	var resp listRelaysResponse
	if err := c.doRequest(ctx, http.MethodGet, "/v1/relays", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Relays, nil
}

// connectSubscribe opens the push event stream for a party. The caller is
// responsible for closing the response body.
// GET /v1/parties/{party_id}/events
func (c *ControlPlane) connectSubscribe(ctx context.Context, partyID, lastEventID string) (*http.Response, error) {
	path := fmt.Sprintf("/v1/parties/%s/events", url.PathEscape(partyID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("api: create subscribe request: %w", err)
	}

	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if token := c.getAuthToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("User-Agent", userAgentPrefix+c.version)
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api: subscribe connect: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, errorFromResponse(resp)
	}

	return resp, nil
}
