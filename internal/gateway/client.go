package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cbruun/smsbridge/internal/model"
)

// DefaultBaseURL is used when the account has no (or a junk) base URL.
const DefaultBaseURL = "https://gatewayapi.eu"

const submitPath = "/rest/mtsms?extra_details=recipients_usage"

type Client struct {
	httpClient *http.Client
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BatchResponse is the parsed body of a submission call. The gateway has
// shipped two shapes over time: a per-message manifest under details, and
// a flat ordered id list. Either (or neither) may be present; the
// dispatcher decides what to trust.
type BatchResponse struct {
	Details *BatchDetails `json:"details"`
	IDs     []int64       `json:"ids"`
}

type BatchDetails struct {
	Messages []BatchMessage `json:"messages"`
}

type BatchMessage struct {
	UserRef    string           `json:"userref"`
	ID         int64            `json:"id"`
	Recipients []BatchRecipient `json:"recipients"`
}

type BatchRecipient struct {
	MSISDN    uint64  `json:"msisdn"`
	Status    string  `json:"status"`
	ErrorCode *string `json:"error_code"`
}

type Balance struct {
	Credit   float64 `json:"credit"`
	Currency string  `json:"currency"`
}

// SubmitBatch posts one group of payloads to the gateway. Basic auth with
// the API token as username and an empty password, per the submission
// endpoint's scheme.
func (c *Client) SubmitBatch(ctx context.Context, acct model.Account, payloads []Payload) (*BatchResponse, error) {
	base, err := resolveBaseURL(acct)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(payloads)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+submitPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(acct.APIToken, "")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d body=%q", ErrTransport, resp.StatusCode, truncate(raw))
	}

	var out BatchResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: non-JSON body=%q", ErrUnrecognizedResponse, truncate(raw))
	}
	return &out, nil
}

// GetBalance queries /rest/me. This endpoint authenticates with a
// "Token <token>" header, unlike submission.
func (c *Client) GetBalance(ctx context.Context, acct model.Account) (Balance, error) {
	base, err := resolveBaseURL(acct)
	if err != nil {
		return Balance{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/rest/me", nil)
	if err != nil {
		return Balance{}, err
	}
	req.Header.Set("Authorization", "Token "+acct.APIToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Balance{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Balance{}, fmt.Errorf("%w: status %d body=%q", ErrTransport, resp.StatusCode, truncate(raw))
	}

	var out struct {
		Credit   *float64 `json:"credit"`
		Currency string   `json:"currency"`
		Error    string   `json:"error"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return Balance{}, fmt.Errorf("%w: non-JSON body=%q", ErrUnrecognizedResponse, truncate(raw))
	}
	if out.Credit == nil {
		if out.Error != "" {
			return Balance{}, fmt.Errorf("%w: %s", ErrUnrecognizedResponse, out.Error)
		}
		return Balance{}, fmt.Errorf("%w: missing credit field body=%q", ErrUnrecognizedResponse, truncate(raw))
	}
	return Balance{Credit: *out.Credit, Currency: out.Currency}, nil
}

// resolveBaseURL applies the documented default for blank or junk values
// and rejects anything that still is not http(s).
func resolveBaseURL(acct model.Account) (string, error) {
	base := strings.TrimSpace(acct.BaseURL)
	if base == "" || strings.EqualFold(base, "false") {
		base = DefaultBaseURL
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return "", fmt.Errorf("%w: base URL %q must start with http:// or https://", ErrConfig, base)
	}
	return strings.TrimRight(base, "/"), nil
}

func truncate(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
