package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vibast-solutions/ms-go-checkout/app/httpclient"
)

// gatewayClient talks to the storefront backend's payment endpoints. All
// three drivers share it; payloads are JSON throughout (one canonical
// encoding for the conceptually single endpoint set).
type gatewayClient struct {
	http    *httpclient.Client
	baseURL string
}

func newGatewayClient(client *httpclient.Client, baseURL string) gatewayClient {
	return gatewayClient{
		http:    client,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
	}
}

type initiatePaymentRequest struct {
	OrderID  string          `json:"order_id"`
	Provider string          `json:"provider"`
	Phone    string          `json:"phone,omitempty"`
	Email    string          `json:"email,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type initiatePaymentResponse struct {
	Success           bool   `json:"success"`
	CheckoutRequestID string `json:"checkout_request_id"`
	AuthorizationURL  string `json:"authorization_url"`
	Reference         string `json:"reference"`
	Error             string `json:"error"`
}

type paymentStatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type processPaymentRequest struct {
	OrderID           string          `json:"order_id"`
	PaymentMethod     string          `json:"payment_method"`
	ProviderReference string          `json:"provider_reference"`
	Phone             string          `json:"phone,omitempty"`
	Email             string          `json:"email,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	ConversionRate    decimal.Decimal `json:"conversion_rate"`
}

type processPaymentResponse struct {
	Success      bool   `json:"success"`
	RedirectURL  string `json:"redirect_url"`
	Message      string `json:"message"`
	ErrorMessage string `json:"error_message"`
}

func (g gatewayClient) initiate(ctx context.Context, req *initiatePaymentRequest) (*initiatePaymentResponse, error) {
	var resp initiatePaymentResponse
	if err := g.http.PostJSON(ctx, g.baseURL+"/payments/initiate", req, &resp); err != nil {
		return nil, translateRejection(err, ErrRejected)
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: %s", ErrRejected, orUnknown(resp.Error))
	}
	return &resp, nil
}

func (g gatewayClient) status(ctx context.Context, reference string) (PollOutcome, error) {
	var resp paymentStatusResponse
	statusURL := g.baseURL + "/payments/status?reference=" + url.QueryEscape(reference)
	if err := g.http.GetJSON(ctx, statusURL, &resp); err != nil {
		return PollPending, err
	}
	return outcomeFromStatus(resp.Status), nil
}

func (g gatewayClient) process(ctx context.Context, req *processPaymentRequest) (string, error) {
	var resp processPaymentResponse
	if err := g.http.PostJSON(ctx, g.baseURL+"/payments/process", req, &resp); err != nil {
		return "", translateRejection(err, ErrFinalizeRejected)
	}
	if !resp.Success {
		return "", fmt.Errorf("%w: %s", ErrFinalizeRejected, orUnknown(firstNonEmpty(resp.ErrorMessage, resp.Message)))
	}
	return resp.RedirectURL, nil
}

func outcomeFromStatus(status string) PollOutcome {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success", "completed":
		return PollSucceeded
	case "failed", "error":
		return PollFailed
	case "cancelled":
		return PollCancelled
	default:
		// pending/processing and anything unrecognized stay pending; the
		// attempt budget bounds how long that can last.
		return PollPending
	}
}

// translateRejection maps a non-2xx answer to the given rejection sentinel
// while leaving timeouts and transport errors untouched.
func translateRejection(err error, sentinel error) error {
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) {
		return fmt.Errorf("%w: status=%d", sentinel, statusErr.StatusCode)
	}
	return err
}

func orUnknown(message string) string {
	if strings.TrimSpace(message) == "" {
		return "no error detail provided"
	}
	return message
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
