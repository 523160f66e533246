/**
 * @description
 * This package provides a client for the external card-payment gateway. Card
 * payments are a distinct capability from wallet payments: the orchestrator
 * calls this client to authorize and capture a charge, and the wallet balance
 * is never involved. The client encapsulates authenticated HTTP requests to
 * the gateway's endpoints, request body construction, and response parsing.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package gatewayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// CardPaymentGateway is the capability the payment orchestrator depends on.
// *Client implements it against the real gateway; tests substitute stubs.
type CardPaymentGateway interface {
	Authorize(ctx context.Context, cardNumber string, amount int64) (*Authorization, error)
	Charge(ctx context.Context, authorizationID string) (*ChargeResult, error)
}

// Client is a client for the card-payment gateway API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new gateway API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Authorization is the gateway's hold on the card funds, to be captured by a
// subsequent Charge call.
type Authorization struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// ChargeResult is the gateway's confirmation of a captured charge.
type ChargeResult struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
}

type authorizeRequest struct {
	CardNumber string `json:"card_number"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
}

type chargeRequest struct {
	AuthorizationID string `json:"authorization_id"`
}

// ErrorResponse represents an error from the gateway API.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("gateway api error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown gateway api error"
}

// Authorize asks the gateway to place a hold for the amount on the card.
// The full card number goes to the gateway only; it is never logged here.
func (c *Client) Authorize(ctx context.Context, cardNumber string, amount int64) (*Authorization, error) {
	payload := authorizeRequest{CardNumber: cardNumber, Amount: amount, Currency: "USD"}

	var auth Authorization
	if err := c.post(ctx, "/api/v1/authorizations", "authorize", payload, &auth); err != nil {
		return nil, err
	}
	return &auth, nil
}

// Charge captures a previously authorized hold.
func (c *Client) Charge(ctx context.Context, authorizationID string) (*ChargeResult, error) {
	payload := chargeRequest{AuthorizationID: authorizationID}

	var result ChargeResult
	if err := c.post(ctx, "/api/v1/charges", "charge", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// post is a generic helper to execute gateway POST requests.
func (c *Client) post(ctx context.Context, path, op string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-gateway-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=gateway_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, resp.StatusCode)
			return fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=gateway_client op=%s status=%d title=%q detail=%q", op, resp.StatusCode, firstErrorTitle(errResp), firstErrorDetail(errResp))
		return &errResp
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

func firstErrorTitle(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Title
}

func firstErrorDetail(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Detail
}
