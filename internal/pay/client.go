package pay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bot-kursus/internal/metrics"
)

const formContentType = "application/x-www-form-urlencoded"

var (
	// ErrNotConfigured indicates no payment credentials are set. Surfaced at
	// invoice issuance, not at startup: browsing stays available without a
	// gateway.
	ErrNotConfigured = errors.New("payment gateway not configured")
	// ErrInvalidCredential indicates the gateway rejected the API token.
	ErrInvalidCredential = errors.New("payment gateway invalid credential")
)

// Client provides typed access to the payment gateway API.
type Client struct {
	logger   *slog.Logger
	baseURL  string
	apiToken string
	timeout  time.Duration
	http     *http.Client
	metrics  *metrics.Metrics
}

// Config holds payment gateway client configuration.
type Config struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

// New creates a new payment gateway client.
func New(cfg Config, logger *slog.Logger, metricRegistry *metrics.Metrics) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		logger:   logger.With("component", "pay"),
		baseURL:  base,
		apiToken: cfg.APIToken,
		timeout:  timeout,
		http:     &http.Client{Timeout: timeout},
		metrics:  metricRegistry,
	}
}

// InvoiceRequest describes a priced invoice to issue to a customer.
type InvoiceRequest struct {
	Customer    string
	Title       string
	Description string
	Amount      int64
	Currency    string
	Payload     string
}

// Invoice is the gateway's reference to an issued invoice.
type Invoice struct {
	Ref    string `json:"ref"`
	PayURL string `json:"pay_url"`
}

// CreateInvoice issues a priced invoice carrying the given payload. The
// payload is returned verbatim in the payment completion event.
func (c *Client) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	if c.baseURL == "" || c.apiToken == "" {
		return nil, ErrNotConfigured
	}

	form := url.Values{}
	form.Set("customer", req.Customer)
	form.Set("title", req.Title)
	form.Set("description", req.Description)
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", req.Currency)
	form.Set("payload", req.Payload)

	env, err := c.postForm(ctx, "/invoice/create", form)
	if err != nil {
		return nil, err
	}

	var inv Invoice
	if err := json.Unmarshal(env.Data, &inv); err != nil {
		return nil, fmt.Errorf("parse invoice: %w", err)
	}
	if inv.Ref == "" {
		return nil, fmt.Errorf("invoice response missing ref")
	}
	return &inv, nil
}

// ApprovePreCheckout acknowledges the gateway's pre-purchase confirmation
// for the given invoice. Always called with approval; no business rule
// rejects at this stage.
func (c *Client) ApprovePreCheckout(ctx context.Context, ref string) error {
	if c.baseURL == "" || c.apiToken == "" {
		return ErrNotConfigured
	}

	form := url.Values{}
	form.Set("ref", ref)
	form.Set("approve", "true")

	if _, err := c.postForm(ctx, "/invoice/approve", form); err != nil {
		return err
	}
	return nil
}

// responseEnvelope mirrors the gateway's standard response shape. Status and
// code are decoded defensively since the API emits both strings and
// primitives depending on the endpoint.
type responseEnvelope struct {
	Status  bool
	Message string
	Code    int
	Data    json.RawMessage
}

func (r *responseEnvelope) UnmarshalJSON(data []byte) error {
	type alias struct {
		Status  json.RawMessage `json:"status"`
		Message json.RawMessage `json:"message"`
		Code    json.RawMessage `json:"code"`
		Data    json.RawMessage `json:"data"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	r.Message = strings.TrimSpace(stringTrimQuotes(a.Message))
	r.Data = a.Data
	if len(a.Status) != 0 {
		var boolVal bool
		if err := json.Unmarshal(a.Status, &boolVal); err == nil {
			r.Status = boolVal
		} else {
			str := strings.TrimSpace(stringTrimQuotes(a.Status))
			r.Status = strings.EqualFold(str, "true") || strings.EqualFold(str, "success") || str == "1"
		}
	}
	if len(a.Code) != 0 {
		var intVal int
		if err := json.Unmarshal(a.Code, &intVal); err == nil {
			r.Code = intVal
		} else {
			str := strings.TrimSpace(stringTrimQuotes(a.Code))
			if parsed, err := strconv.Atoi(str); err == nil {
				r.Code = parsed
			}
		}
	}
	return nil
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) (*responseEnvelope, error) {
	form.Set("api_token", c.apiToken)

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", formContentType)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	status := "error"
	if err == nil {
		status = strconv.Itoa(resp.StatusCode)
	}
	if c.metrics != nil {
		c.metrics.GatewayRequests.WithLabelValues(endpoint, status).Inc()
		c.metrics.GatewayLatency.WithLabelValues(endpoint, status).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("gateway request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrInvalidCredential
	}

	var env responseEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode gateway response %s: %w", endpoint, err)
	}
	if resp.StatusCode >= 400 || !env.Status {
		msg := env.Message
		if msg == "" {
			msg = resp.Status
		}
		return nil, fmt.Errorf("gateway %s failed: %s", endpoint, msg)
	}
	return &env, nil
}

func stringTrimQuotes(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
