// Package client is the Go client for the canvas HTTP API. Reads need no
// credentials; mutations send the configured bearer grant. API refusals come
// back as *errors.Error values carrying the service's error code, so callers
// can branch on codes the same way server-side code does.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	apperrors "github.com/mosaicforge/tessella/internal/platform/errors"
	"github.com/mosaicforge/tessella/internal/platform/timeouts"
)

// Options configures a Client.
type Options struct {
	// BaseURL is the canvas API root, e.g. "http://localhost:8080".
	BaseURL string

	// Grant is the bearer grant attached to mutating calls. Optional for
	// read-only use.
	Grant string

	// HTTPClient overrides the underlying HTTP client.
	HTTPClient *http.Client
}

// Client calls the canvas API.
type Client struct {
	baseURL string
	grant   string
	http    *http.Client
}

// New builds a client for the canvas API at the given base URL.
func New(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("canvas API base URL is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeouts.APIRequest}
	}
	return &Client{
		baseURL: baseURL,
		grant:   strings.TrimSpace(opts.Grant),
		http:    httpClient,
	}, nil
}

// Canvas fetches the canvas's public state.
func (c *Client) Canvas(ctx context.Context) (CanvasInfo, error) {
	var info CanvasInfo
	err := c.get(ctx, "/v1/canvas", &info)
	return info, err
}

// Cell fetches one cell.
func (c *Client) Cell(ctx context.Context, x, y uint32) (Cell, error) {
	var cell Cell
	path := fmt.Sprintf("/v1/cells/%d/%d", x, y)
	err := c.get(ctx, path, &cell)
	return cell, err
}

// Grid fetches the full grid snapshot.
func (c *Client) Grid(ctx context.Context) (Snapshot, error) {
	var snapshot Snapshot
	err := c.get(ctx, "/v1/grid", &snapshot)
	return snapshot, err
}

// Window fetches a rectangle of cells anchored at (x, y).
func (c *Client) Window(ctx context.Context, x, y, width, height uint32) (Snapshot, error) {
	query := url.Values{}
	query.Set("x", strconv.FormatUint(uint64(x), 10))
	query.Set("y", strconv.FormatUint(uint64(y), 10))
	query.Set("width", strconv.FormatUint(uint64(width), 10))
	query.Set("height", strconv.FormatUint(uint64(height), 10))

	var snapshot Snapshot
	err := c.get(ctx, "/v1/grid?"+query.Encode(), &snapshot)
	return snapshot, err
}

// Participant fetches a participant by identity.
func (c *Client) Participant(ctx context.Context, identity string) (Participant, error) {
	var participant Participant
	path := "/v1/participants/" + url.PathEscape(identity)
	err := c.get(ctx, path, &participant)
	return participant, err
}

// Events pages the journal after the given sequence number.
func (c *Client) Events(ctx context.Context, after uint64, limit int) ([]Event, error) {
	query := url.Values{}
	query.Set("after", strconv.FormatUint(after, 10))
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var page eventsPage
	if err := c.get(ctx, "/v1/events?"+query.Encode(), &page); err != nil {
		return nil, err
	}
	return page.Events, nil
}

// Edit submits a batch of cell writes.
func (c *Client) Edit(ctx context.Context, req EditRequest) (EditResult, error) {
	var result EditResult
	err := c.post(ctx, "/v1/edits", req, &result)
	return result, err
}

// Deposit funds the caller's balance.
func (c *Client) Deposit(ctx context.Context, amount uint64) (DepositResult, error) {
	var result DepositResult
	err := c.post(ctx, "/v1/treasury/deposits", depositRequest{Amount: amount}, &result)
	return result, err
}

// Rewind blacklists a participant and reverts their edits where the supplied
// chains allow it.
func (c *Client) Rewind(ctx context.Context, req RewindRequest) (RewindResult, error) {
	var result RewindResult
	err := c.post(ctx, "/v1/moderation/rewinds", req, &result)
	return result, err
}

// SetExclusive toggles exclusive mode.
func (c *Client) SetExclusive(ctx context.Context, enabled bool) (uint32, error) {
	var result heightResult
	err := c.post(ctx, "/v1/admin/exclusive", exclusiveRequest{Enabled: enabled}, &result)
	return result.Height, err
}

// SetEditorAllowed grants or revokes an exclusive-mode editor slot.
func (c *Client) SetEditorAllowed(ctx context.Context, editor string, allowed bool) (uint32, error) {
	var result heightResult
	err := c.post(ctx, "/v1/admin/editors", editorRequest{Editor: editor, Allowed: allowed}, &result)
	return result.Height, err
}

// SetBanned bans or unbans an editor.
func (c *Client) SetBanned(ctx context.Context, editor string, banned bool) (uint32, error) {
	var result heightResult
	err := c.post(ctx, "/v1/admin/bans", banRequest{Editor: editor, Banned: banned}, &result)
	return result.Height, err
}

// Freeze freezes the canvas permanently.
func (c *Client) Freeze(ctx context.Context) (uint32, error) {
	var result heightResult
	err := c.post(ctx, "/v1/admin/freeze", nil, &result)
	return result.Height, err
}

// TransferAdministration hands the administrator role to a successor.
func (c *Client) TransferAdministration(ctx context.Context, successor string) (uint32, error) {
	var result heightResult
	err := c.post(ctx, "/v1/admin/administrator", transferRequest{Successor: successor}, &result)
	return result.Height, err
}

func (c *Client) get(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, dst)
}

func (c *Client) post(ctx context.Context, path string, payload, dst any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.grant != "" {
		req.Header.Set("Authorization", "Bearer "+c.grant)
	}
	return c.do(req, dst)
}

func (c *Client) do(req *http.Request, dst any) error {
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return decodeAPIError(res)
	}
	if dst == nil {
		io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

// decodeAPIError rebuilds the service error from the refusal envelope so the
// code survives the HTTP hop. Bodies that are not the envelope degrade to an
// error keyed by status.
func decodeAPIError(res *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("canvas API status %d", res.StatusCode)
	}
	var envelope struct {
		Error struct {
			Code          apperrors.Code    `json:"code"`
			Message       string            `json:"message"`
			Metadata      map[string]string `json:"metadata"`
			CorrelationID string            `json:"correlation_id"`
		} `json:"error"`
	}
	if jsonErr := json.Unmarshal(body, &envelope); jsonErr != nil || envelope.Error.Code == "" {
		return fmt.Errorf("canvas API status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return &apperrors.Error{
		Code:     envelope.Error.Code,
		Message:  envelope.Error.Message,
		Metadata: envelope.Error.Metadata,
	}
}
