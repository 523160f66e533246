package gatewayclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthorizeSendsAuthenticatedRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/authorizations" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("x-gateway-key"); got != "test-key" {
			t.Errorf("missing gateway key header, got %q", got)
		}
		var req struct {
			CardNumber string `json:"card_number"`
			Amount     int64  `json:"amount"`
			Currency   string `json:"currency"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if req.CardNumber != "4111111111111111" || req.Amount != 2500 {
			t.Errorf("unexpected payload: %+v", req)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Authorization{ID: "auth_1", Status: "authorized", Amount: req.Amount, Currency: req.Currency})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	auth, err := client.Authorize(context.Background(), "4111111111111111", 2500)
	if err != nil {
		t.Fatalf("Authorize returned error: %v", err)
	}
	if auth.ID != "auth_1" || auth.Status != "authorized" || auth.Amount != 2500 {
		t.Fatalf("unexpected authorization: %+v", auth)
	}
}

func TestChargeCapturesAuthorization(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/charges" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req struct {
			AuthorizationID string `json:"authorization_id"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.AuthorizationID != "auth_1" {
			t.Errorf("unexpected authorization id %q", req.AuthorizationID)
		}
		json.NewEncoder(w).Encode(ChargeResult{Reference: "chg_1", Status: "settled", Amount: 2500})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	result, err := client.Charge(context.Background(), "auth_1")
	if err != nil {
		t.Fatalf("Charge returned error: %v", err)
	}
	if result.Reference != "chg_1" || result.Status != "settled" {
		t.Fatalf("unexpected charge result: %+v", result)
	}
}

func TestGatewayErrorEnvelopeIsSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"errors": []map[string]string{{"title": "card_declined", "detail": "insufficient funds on card", "status": "402"}},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	_, err := client.Authorize(context.Background(), "4111111111111111", 2500)
	if err == nil {
		t.Fatal("expected gateway error")
	}
	var gatewayErr *ErrorResponse
	if !errors.As(err, &gatewayErr) {
		t.Fatalf("expected *ErrorResponse, got %T", err)
	}
	if gatewayErr.Errors[0].Title != "card_declined" {
		t.Fatalf("unexpected error payload: %+v", gatewayErr)
	}
}

func TestGatewayUnparsableErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>upstream timeout</html>"))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	_, err := client.Charge(context.Background(), "auth_1")
	if err == nil {
		t.Fatal("expected error for unparsable body")
	}
	var gatewayErr *ErrorResponse
	if errors.As(err, &gatewayErr) {
		t.Fatal("unparsable body produced a structured gateway error")
	}
}
