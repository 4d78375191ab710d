package onec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/clinicore/onec-bridge/internal/integration"
	"github.com/clinicore/onec-bridge/pkg/logging"
)

const defaultTimeout = 20 * time.Second

// Operation names double as credential-override prefixes: a "book_token"
// credential applies only to the bookslot action.
const (
	opBook   = "book"
	opCancel = "cancel"
	opManual = "manual"
)

// Client is the stateless outbound gateway to 1C event endpoints. It never
// touches endpoint health rows; bookkeeping belongs to the caller.
type Client struct {
	httpClient *http.Client
	logger     *logging.Logger
}

// NewClient constructs a 1C client with the given transport timeout.
func NewClient(timeout time.Duration, logger *logging.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// BookSlot books a concrete slot through the endpoint's bookslot action.
func (c *Client) BookSlot(ctx context.Context, ep *integration.Endpoint, req BookSlotRequest) (*Response, error) {
	return c.post(ctx, ep, opBook, "bookslot", req)
}

// CancelBooking cancels an externally known booking by its claim id.
// Extra fields are merged into the payload as-is.
func (c *Client) CancelBooking(ctx context.Context, ep *integration.Endpoint, claimID string, extra map[string]any) (*Response, error) {
	payload := map[string]any{"claim_id": claimID}
	for k, v := range extra {
		if k == "claim_id" {
			continue
		}
		payload[k] = v
	}
	return c.post(ctx, ep, opCancel, "cancelrecord", payload)
}

// CreateManualBooking posts an ad-hoc appointment without a known slot.
func (c *Client) CreateManualBooking(ctx context.Context, ep *integration.Endpoint, req ManualBookingRequest) (*Response, error) {
	return c.post(ctx, ep, opManual, "newrecord", req)
}

func (c *Client) post(ctx context.Context, ep *integration.Endpoint, operation, action string, body any) (*Response, error) {
	if !ep.Configured() {
		return nil, integration.ErrEndpointNotConfigured
	}

	uri := strings.TrimRight(ep.BaseURL, "/") + "/events?action=" + action

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("onec: marshal %s request: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("onec: build %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.applyAuth(req, ep, operation)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{EndpointID: ep.ID, Method: http.MethodPost, URI: uri, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{EndpointID: ep.ID, Method: http.MethodPost, URI: uri, Err: fmt.Errorf("read response: %w", err)}
	}

	decoded, decodeErr := decodeResponse(respBody)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if decodeErr != nil {
			msg := string(respBody)
			if len(msg) > 300 {
				msg = msg[:300]
			}
			c.logger.Warn("1C returned undecodable error body",
				"status", resp.StatusCode, "action", action, "body", msg)
			return nil, &TransportError{
				EndpointID: ep.ID,
				Method:     http.MethodPost,
				URI:        uri,
				Err:        fmt.Errorf("status %d: %s", resp.StatusCode, msg),
			}
		}
		decoded.HTTPStatus = resp.StatusCode
		return decoded, &RejectionError{EndpointID: ep.ID, Response: decoded}
	}

	if decodeErr != nil {
		return nil, &TransportError{
			EndpointID: ep.ID,
			Method:     http.MethodPost,
			URI:        uri,
			Err:        fmt.Errorf("decode response: %w", decodeErr),
		}
	}
	decoded.HTTPStatus = resp.StatusCode
	return decoded, nil
}

// applyAuth selects the auth strategy per endpoint. A per-operation token
// override always wins over the generic endpoint token, whatever the
// strategy: override precedence decides which branch's credentials apply.
func (c *Client) applyAuth(req *http.Request, ep *integration.Endpoint, operation string) {
	token := ep.Credentials.OperationToken(operation)

	switch strings.ToLower(strings.TrimSpace(ep.AuthType)) {
	case integration.AuthNone:
		return
	case integration.AuthBasic:
		login, password := ep.Credentials.BasicAuth()
		if login != "" {
			req.SetBasicAuth(login, password)
		}
	case integration.AuthBearer:
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	default:
		// Legacy header-based token, also the fallback for unset auth_type.
		if token != "" {
			req.Header.Set("X-Auth-Token", token)
		}
	}
}

// decodeResponse tries the structured shape first and falls back to a raw
// re-decode before giving up. Either way the raw map is preserved.
func decodeResponse(body []byte) (*Response, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("empty body")
	}

	var out Response
	structuredErr := json.Unmarshal(body, &out)

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		if structuredErr != nil {
			return nil, structuredErr
		}
		return &out, nil
	}

	if structuredErr != nil {
		// Loose decode succeeded where the typed one did not (for example a
		// numeric status); rebuild the typed view manually.
		out = Response{
			Status:        stringField(raw, "status"),
			ClaimID:       stringField(raw, "claim_id"),
			AppointmentID: stringField(raw, "appointment_id"),
			Detail:        stringField(raw, "detail"),
			Message:       stringField(raw, "message"),
			StatusCode:    intField(raw, "status_code"),
		}
	}
	out.Raw = raw
	return &out, nil
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return 0
}
