// Package client provides the Go SDK for the ledgerd HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// maxResponseBytes bounds how much of a response body is read. Exports of
// long chains are the largest responses.
const maxResponseBytes = 32 << 20

// ErrNotFound is matched by errors.Is for any 404 response.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response from ledgerd.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ledgerd error %d: %s", e.StatusCode, e.Message)
}

// Is reports 404 responses as ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Block is a committed ledger block.
type Block struct {
	Index             int       `json:"index"`
	RecordID          string    `json:"record_id"`
	EntityKind        string    `json:"entity_kind"`
	Content           string    `json:"content"`
	Fingerprint       string    `json:"fingerprint"`
	ParentFingerprint *string   `json:"parent_fingerprint"`
	Actor             string    `json:"actor"`
	CreatedAt         time.Time `json:"created_at"`
	Reason            string    `json:"reason"`
	Watermark         string    `json:"watermark"`
	Reference         string    `json:"reference"`
}

// BlockPage is one page of GET /blocks.
type BlockPage struct {
	Blocks []Block `json:"blocks"`
	From   int     `json:"from"`
	Total  int     `json:"total"`
}

// CommitRequest is the payload for Commit. Content is any JSON value; a Go
// string is committed as free text.
type CommitRequest struct {
	RecordID   string `json:"record_id"`
	EntityKind string `json:"entity_kind"`
	Content    any    `json:"content"`
	Actor      string `json:"actor,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// VerifyRequest tunes Verify. A nil CurrentContent checks the stored
// content against itself.
type VerifyRequest struct {
	CurrentContent any    `json:"current_content,omitempty"`
	DelayMS        int    `json:"delay_ms,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// Divergence is one differing field.
type Divergence struct {
	FieldPath string `json:"field_path"`
	Expected  any    `json:"expected_value"`
	Actual    any    `json:"actual_value"`
}

// Metadata is copied from the verified block.
type Metadata struct {
	Index       int       `json:"index"`
	Reference   string    `json:"reference"`
	Actor       string    `json:"actor"`
	CreatedAt   time.Time `json:"created_at"`
	EntityKind  string    `json:"entity_kind"`
	Reason      string    `json:"reason"`
	Explanation string    `json:"explanation,omitempty"`
}

// VerifyResult is the outcome of a verification.
type VerifyResult struct {
	RecordID              string       `json:"record_id"`
	Valid                 bool         `json:"is_valid"`
	StoredFingerprint     string       `json:"stored_fingerprint"`
	RecomputedFingerprint string       `json:"recomputed_fingerprint"`
	ElapsedMS             float64      `json:"elapsed_ms"`
	Divergences           []Divergence `json:"divergences"`
	ExpectedContent       any          `json:"expected_content"`
	ActualContent         any          `json:"actual_content"`
	Metadata              Metadata     `json:"metadata"`
}

// Report is the verification report document.
type Report struct {
	RecordID              string       `json:"record_id"`
	VerifiedAt            time.Time    `json:"verified_at"`
	Outcome               string       `json:"outcome"`
	ElapsedMS             float64      `json:"elapsed_ms"`
	StoredFingerprint     string       `json:"stored_fingerprint"`
	RecomputedFingerprint string       `json:"recomputed_fingerprint"`
	Divergences           []Divergence `json:"divergences"`
	Metadata              Metadata     `json:"metadata"`
}

// Overview is GET /ledger.
type Overview struct {
	Blocks    int    `json:"blocks"`
	Root      string `json:"root"`
	Watermark string `json:"watermark"`
}

// AuditIssue describes one block that fails a chain check.
type AuditIssue struct {
	Index    int    `json:"index"`
	RecordID string `json:"record_id"`
	Problem  string `json:"problem"`
}

// AuditReport is GET /ledger/audit.
type AuditReport struct {
	Blocks            int          `json:"blocks"`
	Intact            bool         `json:"intact"`
	BrokenAt          *int         `json:"broken_at"`
	Issues            []AuditIssue `json:"issues"`
	Root              string       `json:"root"`
	GlobalFingerprint string       `json:"global_fingerprint"`
}

// ExportRow is one row of an Export.
type ExportRow struct {
	Index             int       `json:"index"`
	RecordID          string    `json:"record_id"`
	EntityKind        string    `json:"entity_kind"`
	Fingerprint       string    `json:"fingerprint"`
	ParentFingerprint *string   `json:"parent_fingerprint"`
	Actor             string    `json:"actor"`
	CreatedAt         time.Time `json:"created_at"`
}

// Export is GET /ledger/export.
type Export struct {
	GeneratedAt       time.Time   `json:"generated_at"`
	Blocks            []ExportRow `json:"blocks"`
	GlobalFingerprint string      `json:"global_fingerprint"`
}

// Proof is GET /ledger/proof.
type Proof struct {
	Description       string    `json:"description"`
	GeneratedAt       time.Time `json:"generated_at"`
	TotalBlocks       int       `json:"total_blocks"`
	GlobalFingerprint string    `json:"global_fingerprint"`
	Watermark         string    `json:"watermark"`
}

// Client talks to one ledgerd instance.
type Client struct {
	base        string
	httpClient  *http.Client
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("http client must not be nil")
		}
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches an actor token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.httpClient.Timeout = d
		return nil
	}
}

// New creates a Client for the ledgerd at base.
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithBearerToken(token),
//	)
func New(base string, opts ...Option) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", base)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Commit appends a block.
func (c *Client) Commit(ctx context.Context, req CommitRequest) (*Block, error) {
	var b Block
	if err := c.call(ctx, http.MethodPost, "/api/v1/blocks", nil, req, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Find returns the latest block committed for recordID.
func (c *Client) Find(ctx context.Context, recordID string) (*Block, error) {
	var b Block
	if err := c.call(ctx, http.MethodGet, "/api/v1/records/"+url.PathEscape(recordID), nil, nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Block returns the block at index.
func (c *Client) Block(ctx context.Context, index int) (*Block, error) {
	var b Block
	if err := c.call(ctx, http.MethodGet, "/api/v1/blocks/"+strconv.Itoa(index), nil, nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// List returns up to limit blocks starting at index from.
func (c *Client) List(ctx context.Context, from, limit int) (*BlockPage, error) {
	q := url.Values{}
	q.Set("from", strconv.Itoa(from))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var page BlockPage
	if err := c.call(ctx, http.MethodGet, "/api/v1/blocks", q, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Verify checks the latest block of recordID.
func (c *Client) Verify(ctx context.Context, recordID string, req VerifyRequest) (*VerifyResult, error) {
	var res VerifyResult
	path := "/api/v1/records/" + url.PathEscape(recordID) + "/verify"
	if err := c.call(ctx, http.MethodPost, path, nil, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// VerifyBlock self-checks the block at index.
func (c *Client) VerifyBlock(ctx context.Context, index int) (*VerifyResult, error) {
	var res VerifyResult
	path := "/api/v1/blocks/" + strconv.Itoa(index) + "/verify"
	if err := c.call(ctx, http.MethodGet, path, nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Report returns the verification report of recordID.
func (c *Client) Report(ctx context.Context, recordID string) (*Report, error) {
	var r Report
	path := "/api/v1/records/" + url.PathEscape(recordID) + "/report"
	if err := c.call(ctx, http.MethodGet, path, nil, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Explain diffs two arbitrary documents. A nil maxDepth uses the server's
// default.
func (c *Client) Explain(ctx context.Context, expected, actual any, maxDepth *int) ([]Divergence, error) {
	body := map[string]any{"expected": expected, "actual": actual}
	if maxDepth != nil {
		body["max_depth"] = *maxDepth
	}
	var resp struct {
		Divergences []Divergence `json:"divergences"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/v1/explain", nil, body, &resp); err != nil {
		return nil, err
	}
	return resp.Divergences, nil
}

// Overview returns the chain length and root.
func (c *Client) Overview(ctx context.Context) (*Overview, error) {
	var o Overview
	if err := c.call(ctx, http.MethodGet, "/api/v1/ledger", nil, nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// Audit walks the full chain on the server.
func (c *Client) Audit(ctx context.Context) (*AuditReport, error) {
	var r AuditReport
	if err := c.call(ctx, http.MethodGet, "/api/v1/ledger/audit", nil, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Export returns the JSON export.
func (c *Client) Export(ctx context.Context) (*Export, error) {
	var e Export
	q := url.Values{"format": {"json"}}
	if err := c.call(ctx, http.MethodGet, "/api/v1/ledger/export", q, nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// ExportCSV copies the CSV export to w and returns the global fingerprint
// reported alongside it.
func (c *Client) ExportCSV(ctx context.Context, w io.Writer) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/ledger/export", url.Values{"format": {"csv"}}, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return "", apiError(resp.StatusCode, body)
	}
	if _, err := io.Copy(w, io.LimitReader(resp.Body, maxResponseBytes)); err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return resp.Header.Get("X-Global-Fingerprint"), nil
}

// Proof returns the global proof document.
func (c *Client) Proof(ctx context.Context) (*Proof, error) {
	var p Proof
	if err := c.call(ctx, http.MethodGet, "/api/v1/ledger/proof", nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Clear resets the ledger. adminSecret is the plaintext admin secret.
func (c *Client) Clear(ctx context.Context, adminSecret string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/v1/ledger", nil, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Admin-Secret", adminSecret)
	_, err = c.do(req)
	return err
}

// Health pings /healthz.
func (c *Client) Health(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/healthz", nil, nil)
	if err != nil {
		return err
	}
	_, err = c.do(req)
	return err
}

func (c *Client) call(ctx context.Context, method, path string, q url.Values, in, out any) error {
	req, err := c.newRequest(ctx, method, path, q, in)
	if err != nil {
		return err
	}
	body, err := c.do(req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, q url.Values, in any) (*http.Request, error) {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do executes an HTTP request, attaching the Bearer token if present.
func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, apiError(resp.StatusCode, body)
	}
	return body, nil
}

func apiError(status int, body []byte) *APIError {
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{StatusCode: status, Message: msg}
}
