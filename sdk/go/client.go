package caselinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Caseline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// CertificateRequest represents the API certificate request model (partial).
type CertificateRequest struct {
	ID              string `json:"id"`
	ResidentRef     string `json:"resident_ref"`
	CertificateType string `json:"certificate_type"`
	Purpose         string `json:"purpose"`
	ApprovalState   string `json:"approval_state"`
	RequestedBy     string `json:"requested_by"`
}

// IssuedCertificate is the certificate produced by a release.
type IssuedCertificate struct {
	ID                string `json:"id"`
	RequestID         string `json:"request_id"`
	CertificateNumber string `json:"certificate_number"`
	CertificateType   string `json:"certificate_type"`
	ValidFrom         string `json:"valid_from"`
	ValidUntil        string `json:"valid_until"`
	IsValid           bool   `json:"is_valid"`
	SignedBy          string `json:"signed_by,omitempty"`
}

// Verification is the public answer for a certificate number.
type Verification struct {
	Exists          bool   `json:"exists"`
	IsValid         bool   `json:"is_valid"`
	Expired         bool   `json:"expired"`
	CertificateType string `json:"certificate_type,omitempty"`
	ValidUntil      string `json:"valid_until,omitempty"`
	Resident        *struct {
		Ref         string `json:"ref"`
		DisplayName string `json:"display_name,omitempty"`
	} `json:"resident_summary,omitempty"`
}

// PendingItem is one row of the approval queue.
type PendingItem struct {
	Kind        string    `json:"kind"`
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Subtitle    string    `json:"subtitle,omitempty"`
	RequestedBy string    `json:"requested_by"`
	RequestedAt time.Time `json:"requested_at"`
}

type PendingStats struct {
	TotalPending int `json:"total_pending"`
	Certificates int `json:"certificates"`
	Blotters     int `json:"blotters"`
	Incidents    int `json:"incidents"`
}

type PendingList struct {
	Items      []PendingItem `json:"items"`
	Statistics PendingStats  `json:"statistics"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses. Code and Details are filled from the
// error envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsConflict reports a refused transition (illegal or stale).
func (e *APIError) IsConflict() bool { return e.StatusCode == http.StatusConflict }

// SubmitCertificate files a certificate request.
func (c *Client) SubmitCertificate(ctx context.Context, residentRef, certificateType, purpose string) (CertificateRequest, error) {
	body := map[string]any{
		"resident_ref":     residentRef,
		"certificate_type": certificateType,
		"purpose":          purpose,
	}
	var resp CertificateRequest
	err := c.do(ctx, http.MethodPost, "certificates", body, &resp)
	return resp, err
}

// Approve approves a pending record of kind certificate, blotter or incident.
func (c *Client) Approve(ctx context.Context, kind, id, remarks string) error {
	return c.decide(ctx, kind, id, "approve", remarks)
}

// Reject rejects a pending record. Remarks are required by the server.
func (c *Client) Reject(ctx context.Context, kind, id, remarks string) error {
	return c.decide(ctx, kind, id, "reject", remarks)
}

func (c *Client) decide(ctx context.Context, kind, id, action, remarks string) error {
	endpoint := fmt.Sprintf("%ss/%s/%s", kind, url.PathEscape(id), action)
	return c.do(ctx, http.MethodPost, endpoint, map[string]any{"remarks": remarks}, nil)
}

// ReleaseCertificate releases an approved request and returns the issued certificate.
func (c *Client) ReleaseCertificate(ctx context.Context, id, remarks string) (IssuedCertificate, error) {
	var resp struct {
		Issued IssuedCertificate `json:"issued"`
	}
	endpoint := fmt.Sprintf("certificates/%s/release", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"remarks": remarks}, &resp)
	return resp.Issued, err
}

// AdvanceProgress moves an approved blotter or incident forward.
func (c *Client) AdvanceProgress(ctx context.Context, kind, id, progress string) error {
	endpoint := fmt.Sprintf("%ss/%s/progress", kind, url.PathEscape(id))
	return c.do(ctx, http.MethodPost, endpoint, map[string]any{"progress": progress}, nil)
}

// InvalidateCertificate revokes an issued certificate.
func (c *Client) InvalidateCertificate(ctx context.Context, certificateID, reason string) (IssuedCertificate, error) {
	var resp IssuedCertificate
	endpoint := fmt.Sprintf("issued/%s/invalidate", url.PathEscape(certificateID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"reason": reason}, &resp)
	return resp, err
}

// SignCertificate records the signatory once per certificate.
func (c *Client) SignCertificate(ctx context.Context, certificateID, position string) (IssuedCertificate, error) {
	var resp IssuedCertificate
	endpoint := fmt.Sprintf("issued/%s/sign", url.PathEscape(certificateID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"position": position}, &resp)
	return resp, err
}

// Verify looks up a certificate number. No credentials are needed.
func (c *Client) Verify(ctx context.Context, number string) (Verification, error) {
	var resp Verification
	err := c.do(ctx, http.MethodGet, "verify/"+url.PathEscape(number), nil, &resp)
	return resp, err
}

// Pending returns the approval queue, optionally restricted to kinds.
func (c *Client) Pending(ctx context.Context, kinds ...string) (PendingList, error) {
	endpoint := "queue"
	if len(kinds) > 0 {
		endpoint += "?kind=" + url.QueryEscape(strings.Join(kinds, ","))
	}
	var resp PendingList
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// PendingCount returns the badge counts.
func (c *Client) PendingCount(ctx context.Context) (PendingStats, error) {
	var resp PendingStats
	err := c.do(ctx, http.MethodGet, "queue/count", nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var reader io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		reader = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
