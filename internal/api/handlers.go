/**
 * @description
 * This file contains the HTTP handlers for the vault-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the
 * appropriate methods on the application service, and writing the HTTP
 * response. They act as the bridge between the web layer and the business
 * logic layer.
 *
 * Error mapping is centralized in writeServiceError so every endpoint renders
 * the core's typed errors the same way, including Retry-After on lockouts.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/ledger, internal/store,
 *   internal/vault: For service logic, models, and custom errors.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pharmacore/vault-service/internal/app"
	"github.com/pharmacore/vault-service/internal/domain"
	"github.com/pharmacore/vault-service/internal/ledger"
	"github.com/pharmacore/vault-service/internal/store"
	"github.com/pharmacore/vault-service/internal/vault"
)

// VaultHandlers holds the application service that handlers will use.
type VaultHandlers struct {
	service       *app.Service
	signingSecret string
}

// NewVaultHandlers creates a new instance of VaultHandlers.
func NewVaultHandlers(service *app.Service, signingSecret string) *VaultHandlers {
	return &VaultHandlers{service: service, signingSecret: signingSecret}
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

type loginResponse struct {
	Token      string `json:"token"`
	Identifier string `json:"identifier"`
	Registry   string `json:"registry"`
}

type changeSecretRequest struct {
	CurrentSecret string `json:"current_secret"`
	NewSecret     string `json:"new_secret"`
}

type amountRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

type cardPaymentRequest struct {
	CardNumber  string `json:"card_number"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

type addCardRequest struct {
	Number     string `json:"number"`
	HolderName string `json:"holder_name"`
	Expiry     string `json:"expiry"`
	Network    string `json:"network"`
}

type balanceResponse struct {
	Owner   string `json:"owner"`
	Balance int64  `json:"balance"`
}

// LoginHandler authenticates a principal against the registry named in the
// URL and issues a session token.
func (h *VaultHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	registry, ok := domain.ParseRegistry(chi.URLParam(r, "registry"))
	if !ok {
		h.writeError(w, http.StatusNotFound, "Unknown registry")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	principal, err := h.service.Authenticate(r.Context(), registry, req.Identifier, req.Secret)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	token, err := IssueSessionToken(h.signingSecret, principal)
	if err != nil {
		log.Printf("level=error component=api msg=\"session token issuance failed\" registry=%s err=%v", registry, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to issue session token")
		return
	}

	h.writeJSON(w, http.StatusOK, loginResponse{
		Token:      token,
		Identifier: principal.Identifier,
		Registry:   string(principal.Registry),
	})
}

// ChangeSecretHandler re-authenticates with the current secret and replaces
// it with a digest of the new one.
func (h *VaultHandlers) ChangeSecretHandler(w http.ResponseWriter, r *http.Request) {
	identifier, registry, ok := h.session(w, r)
	if !ok {
		return
	}

	var req changeSecretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.ChangeSecret(r.Context(), registry, identifier, req.CurrentSecret, req.NewSecret); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// BalanceHandler returns the authenticated principal's wallet balance.
func (h *VaultHandlers) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	identifier, _, ok := h.session(w, r)
	if !ok {
		return
	}
	balance, err := h.service.Balance(r.Context(), identifier)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, balanceResponse{Owner: identifier, Balance: balance})
}

// HistoryHandler returns the wallet's recent transactions, most recent
// first. A `limit` query parameter caps the page size.
func (h *VaultHandlers) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	identifier, _, ok := h.session(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.writeError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		limit = parsed
	}

	transactions, err := h.service.History(r.Context(), identifier, limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if transactions == nil {
		transactions = []domain.Transaction{}
	}
	h.writeJSON(w, http.StatusOK, transactions)
}

// DepositHandler credits the authenticated principal's wallet.
func (h *VaultHandlers) DepositHandler(w http.ResponseWriter, r *http.Request) {
	h.walletMutation(w, r, h.service.Deposit)
}

// WithdrawHandler debits the authenticated principal's wallet.
func (h *VaultHandlers) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	h.walletMutation(w, r, h.service.Withdraw)
}

// RefundHandler credits a refund to the authenticated principal's wallet.
func (h *VaultHandlers) RefundHandler(w http.ResponseWriter, r *http.Request) {
	h.walletMutation(w, r, h.service.Refund)
}

type mutationFunc func(ctx context.Context, owner string, amount int64, description string) (*domain.Transaction, error)

func (h *VaultHandlers) walletMutation(w http.ResponseWriter, r *http.Request, mutate mutationFunc) {
	identifier, _, ok := h.session(w, r)
	if !ok {
		return
	}

	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tx, err := mutate(r.Context(), identifier, req.Amount, req.Description)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, tx)
}

// WalletPaymentHandler settles an order from the wallet balance.
func (h *VaultHandlers) WalletPaymentHandler(w http.ResponseWriter, r *http.Request) {
	identifier, _, ok := h.session(w, r)
	if !ok {
		return
	}

	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	receipt, err := h.service.PayFromWallet(r.Context(), identifier, req.Amount, req.Description)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, receipt)
}

// CardPaymentHandler settles an order by charging a stored card through the
// external gateway.
func (h *VaultHandlers) CardPaymentHandler(w http.ResponseWriter, r *http.Request) {
	identifier, _, ok := h.session(w, r)
	if !ok {
		return
	}

	var req cardPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	receipt, err := h.service.PayWithCard(r.Context(), identifier, req.CardNumber, req.Amount, req.Description)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, receipt)
}

// AddCardHandler stores a card for the authenticated principal's wallet.
func (h *VaultHandlers) AddCardHandler(w http.ResponseWriter, r *http.Request) {
	identifier, _, ok := h.session(w, r)
	if !ok {
		return
	}

	var req addCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	card, err := h.service.AddCard(r.Context(), identifier, req.Number, req.HolderName, req.Expiry, req.Network)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, card)
}

// ListCardsHandler lists the masked stored cards for the wallet.
func (h *VaultHandlers) ListCardsHandler(w http.ResponseWriter, r *http.Request) {
	identifier, _, ok := h.session(w, r)
	if !ok {
		return
	}
	cards, err := h.service.ListCards(r.Context(), identifier)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if cards == nil {
		cards = []domain.MaskedCard{}
	}
	h.writeJSON(w, http.StatusOK, cards)
}

// RemoveCardHandler deletes a stored card by its id.
func (h *VaultHandlers) RemoveCardHandler(w http.ResponseWriter, r *http.Request) {
	identifier, _, ok := h.session(w, r)
	if !ok {
		return
	}
	cardID, err := uuid.Parse(chi.URLParam(r, "cardID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid card ID")
		return
	}
	if err := h.service.RemoveCard(r.Context(), identifier, cardID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// session pulls the authenticated identity from the request context.
func (h *VaultHandlers) session(w http.ResponseWriter, r *http.Request) (string, domain.Registry, bool) {
	identifier, ok := GetSessionIdentifier(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Unauthorized: Missing session")
		return "", "", false
	}
	registry, ok := GetSessionRegistry(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Unauthorized: Missing session")
		return "", "", false
	}
	return identifier, registry, true
}

// writeServiceError maps the core's typed errors onto HTTP statuses.
func (h *VaultHandlers) writeServiceError(w http.ResponseWriter, err error) {
	var locked *vault.AccountLockedError
	if errors.As(err, &locked) {
		w.Header().Set("Retry-After", strconv.Itoa(int(locked.RetryAfter.Seconds())))
		h.writeError(w, http.StatusLocked, locked.Error())
		return
	}
	var invalid *vault.InvalidCredentialsError
	if errors.As(err, &invalid) {
		if invalid.NowLocked {
			w.Header().Set("Retry-After", strconv.Itoa(int(invalid.RetryAfter.Seconds())))
		}
		h.writeError(w, http.StatusUnauthorized, invalid.Error())
		return
	}

	switch {
	case errors.Is(err, vault.ErrInvalidInput):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, vault.ErrInvalidCredentials):
		h.writeError(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, vault.ErrAccountLocked):
		h.writeError(w, http.StatusLocked, "Account locked")
	case errors.Is(err, vault.ErrCryptoUnavailable):
		h.writeError(w, http.StatusInternalServerError, "Credential processing unavailable")
	case errors.Is(err, app.ErrUnknownRegistry):
		h.writeError(w, http.StatusNotFound, "Unknown registry")
	case errors.Is(err, ledger.ErrInvalidAmount):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		h.writeError(w, http.StatusUnprocessableEntity, "Insufficient wallet balance")
	case errors.Is(err, ledger.ErrInvalidCardNumber):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrDuplicateCard):
		h.writeError(w, http.StatusConflict, "Card already stored")
	case errors.Is(err, app.ErrCardNotStored):
		h.writeError(w, http.StatusUnprocessableEntity, "Card not stored for this wallet")
	case errors.Is(err, app.ErrGatewayUnavailable):
		h.writeError(w, http.StatusBadGateway, "Card payment gateway unavailable")
	case errors.Is(err, store.ErrCardNotFound):
		h.writeError(w, http.StatusNotFound, "Card not found")
	default:
		log.Printf("level=error component=api msg=\"unhandled service error\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *VaultHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *VaultHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
