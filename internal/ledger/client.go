package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
)

// Client talks to a ledger gateway node over its JSON HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a ledger client for the given gateway endpoint.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// mintRequest is the gateway's mint submission body. Reference carries the
// discovery ID so the gateway can deduplicate resubmissions.
type mintRequest struct {
	Recipient  string            `json:"recipient"`
	TreasureID string            `json:"treasure_id"`
	Reference  string            `json:"reference,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type mintResponse struct {
	TxID        string `json:"tx_id"`
	NFTObjectID string `json:"nft_object_id"`
	Code        string `json:"code"`
	Message     string `json:"message"`
}

type statusResponse struct {
	Status      string `json:"status"`
	NFTObjectID string `json:"nft_object_id"`
}

// MintTreasureNFT submits a mint to the gateway.
func (c *Client) MintTreasureNFT(ctx context.Context, hunterAddress, treasureID string, metadata map[string]string) (*MintResult, error) {
	body := mintRequest{
		Recipient:  hunterAddress,
		TreasureID: treasureID,
		Reference:  metadata["discovery_id"],
		Metadata:   metadata,
	}

	var resp mintResponse
	status, err := c.post(ctx, "/v1/mint", body, &resp)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK, http.StatusAccepted:
		if resp.TxID == "" {
			return nil, fmt.Errorf("%w: gateway returned no tx id", ErrRejected)
		}
		return &MintResult{TxID: resp.TxID, NFTObjectID: resp.NFTObjectID}, nil
	case http.StatusPaymentRequired:
		return nil, fmt.Errorf("%w: %s", ErrInsufficientFunds, resp.Message)
	case http.StatusConflict:
		return nil, fmt.Errorf("%w: %s", ErrAlreadyMinted, resp.Message)
	default:
		return nil, fmt.Errorf("%w: status %d: %s", ErrRejected, status, resp.Message)
	}
}

// QueryMintStatus reports the state of a submitted transaction. A missing
// transaction maps to StatusUnknown rather than an error so callers can
// decide whether to resubmit.
func (c *Client) QueryMintStatus(ctx context.Context, txID string) (*StatusResult, error) {
	var resp statusResponse
	status, err := c.get(ctx, "/v1/tx/"+url.PathEscape(txID), &resp)
	if err != nil {
		return nil, err
	}

	if status == http.StatusNotFound {
		return &StatusResult{Status: StatusUnknown}, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: status query returned %d", ErrRejected, status)
	}

	switch MintStatus(resp.Status) {
	case StatusSettled:
		return &StatusResult{Status: StatusSettled, NFTObjectID: resp.NFTObjectID}, nil
	case StatusPending:
		return &StatusResult{Status: StatusPending}, nil
	default:
		return &StatusResult{Status: StatusUnknown}, nil
	}
}

func (c *Client) post(ctx context.Context, path string, body, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal ledger request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to build ledger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build ledger request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) (int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return 0, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return 0, fmt.Errorf("ledger request failed: %w", err)
	}
	defer resp.Body.Close()

	// Error bodies share the same JSON shape; decode failures on non-2xx
	// responses are tolerated since the status code alone classifies them.
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && resp.StatusCode < 300 {
		return resp.StatusCode, fmt.Errorf("failed to decode ledger response: %w", err)
	}

	log.Debug().
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Msg("ledger call completed")

	return resp.StatusCode, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
