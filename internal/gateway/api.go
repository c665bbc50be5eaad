// ABOUTME: Admin HTTP API handlers for conversations and business-system lookups
// ABOUTME: Serves ledger windows, status transitions and ISPCube customer queries

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/facmartoni/jarvisp-prod/internal/auth"
	"github.com/facmartoni/jarvisp-prod/internal/conversation"
	"github.com/facmartoni/jarvisp-prod/internal/integration"
	"github.com/facmartoni/jarvisp-prod/internal/integration/ispcube"
	"github.com/facmartoni/jarvisp-prod/internal/store"
)

// Ledger window bounds for GET /api/conversations/{id}/messages.
const (
	defaultMessageLimit = 50
	maxMessageLimit     = 1000
)

// MessageResponse is one ledger entry in API responses.
type MessageResponse struct {
	ID         string `json:"id"`
	Seq        int    `json:"seq"`
	Role       string `json:"role"`
	Content    string `json:"content"`
	TokensUsed int    `json:"tokens_used"`
	LatencyMS  *int   `json:"latency_ms,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// ConversationCustomer identifies the customer a conversation belongs to.
type ConversationCustomer struct {
	ID    string `json:"id"`
	Phone string `json:"phone"`
	Name  string `json:"name"`
}

// ConversationMessagesResponse is the JSON response for GET /api/conversations/{id}/messages.
type ConversationMessagesResponse struct {
	ConversationID string               `json:"conversation_id"`
	Status         string               `json:"status"`
	TotalMessages  int                  `json:"total_messages"`
	Customer       ConversationCustomer `json:"customer"`
	Messages       []MessageResponse    `json:"messages"`
}

// StatusRequest is the JSON request body for POST /api/conversations/{id}/status.
type StatusRequest struct {
	Status string `json:"status"`
}

// StatusResponse is the JSON response for a successful transition.
type StatusResponse struct {
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
	IsActive       bool   `json:"is_active"`
}

// CustomerResponse is one business-system customer in API responses.
type CustomerResponse struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	DocNumber string          `json:"doc_number,omitempty"`
	Email     string          `json:"email,omitempty"`
	Phone     string          `json:"phone,omitempty"`
	Status    string          `json:"status,omitempty"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// CustomersResponse is the JSON response for GET /api/companies/{id}/ispcube/customers.
type CustomersResponse struct {
	CompanyID string             `json:"company_id"`
	Customers []CustomerResponse `json:"customers"`
}

// sendJSON writes v as a JSON response with the given status.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Warn("encoding response failed", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}

// parseLimit reads ?limit=N, defaulting to def and capping at maxLimit.
func parseLimit(r *http.Request, def, maxLimit int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	return min(n, maxLimit), true
}

// handleConversationMessages handles GET /api/conversations/{id}/messages.
// Returns the most recent ledger entries, oldest first.
func (g *Gateway) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit, ok := parseLimit(r, defaultMessageLimit, maxMessageLimit)
	if !ok {
		g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	conv, err := g.store.GetConversation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to get conversation", "conversation_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	customer, err := g.store.GetCustomer(r.Context(), conv.CustomerID)
	if err != nil {
		g.logger.Error("failed to get customer", "conversation_id", id, "customer_id", conv.CustomerID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	history, err := g.ledger.RecentHistory(r.Context(), id, limit)
	if err != nil {
		g.logger.Error("failed to read ledger", "conversation_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := ConversationMessagesResponse{
		ConversationID: conv.ID,
		Status:         string(conv.Status),
		TotalMessages:  conv.TotalMessages,
		Customer:       ConversationCustomer{ID: customer.ID, Phone: customer.Phone, Name: customer.Name},
		Messages:       make([]MessageResponse, len(history)),
	}
	for i, msg := range history {
		resp.Messages[i] = MessageResponse{
			ID:         msg.ID,
			Seq:        msg.Seq,
			Role:       string(msg.Role),
			Content:    msg.Content,
			TokensUsed: msg.TokensUsed,
			LatencyMS:  msg.LatencyMS,
			ExternalID: msg.ExternalID,
			CreatedAt:  msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
	}
	g.sendJSON(w, http.StatusOK, resp)
}

// handleConversationStatus handles POST /api/conversations/{id}/status.
func (g *Gateway) handleConversationStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req StatusRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	to := store.ConversationStatus(req.Status)
	if !conversation.ValidStatus(to) {
		g.sendJSONError(w, http.StatusBadRequest, "unknown status")
		return
	}

	conv, err := g.lifecycle.Transition(r.Context(), id, to)
	switch {
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	case errors.Is(err, conversation.ErrInvalidTransition):
		g.sendJSONError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		g.logger.Error("failed to change status", "conversation_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	subject := "anonymous"
	if ac := auth.FromContext(r.Context()); ac != nil {
		subject = ac.Subject
	}
	g.logger.Info("conversation status changed",
		"conversation_id", conv.ID,
		"status", conv.Status,
		"subject", subject,
	)

	g.sendJSON(w, http.StatusOK, StatusResponse{
		ConversationID: conv.ID,
		Status:         string(conv.Status),
		IsActive:       conv.IsActive,
	})
}

// handleISPCubeCustomers handles GET /api/companies/{id}/ispcube/customers.
// Query parameters: doc_number, limit, offset, subdomain, deleted, temporary.
func (g *Gateway) handleISPCubeCustomers(w http.ResponseWriter, r *http.Request) {
	if g.ispcube == nil {
		g.sendJSONError(w, http.StatusServiceUnavailable, "ispcube integration not configured")
		return
	}
	companyID := r.PathValue("id")
	q := r.URL.Query()

	limit, ok := parseLimit(r, ispcube.DefaultPageSize, ispcube.MaxPageSize)
	if !ok {
		g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	offset := 0
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			g.sendJSONError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		offset = n
	}

	client, err := g.ispcube.ForCompany(r.Context(), companyID, q.Get("subdomain"))
	switch {
	case errors.Is(err, ispcube.ErrNoCredential):
		g.sendJSONError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, ispcube.ErrAmbiguousCredential):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		g.logger.Error("failed to load ispcube credential", "company_id", companyID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	query := ispcube.CustomerQuery{
		DocNumber: q.Get("doc_number"),
		Limit:     limit,
		Offset:    offset,
		Deleted:   q.Get("deleted") == "true",
		Temporary: q.Get("temporary") == "true",
	}
	customers, err := integration.CallWithReauth(r.Context(), client, func(ctx context.Context) ([]ispcube.Customer, error) {
		return client.ListCustomers(ctx, query)
	})
	if err != nil {
		g.logger.Warn("ispcube customer lookup failed",
			"company_id", companyID,
			"upstream_status", integration.StatusCode(err),
			"error", err,
		)
		g.sendJSONError(w, upstreamStatus(err), "ispcube request failed")
		return
	}

	resp := CustomersResponse{CompanyID: companyID, Customers: make([]CustomerResponse, len(customers))}
	for i, c := range customers {
		resp.Customers[i] = CustomerResponse{
			ID:        c.ID.String(),
			Name:      c.Name,
			DocNumber: c.DocNumber.String(),
			Email:     c.Email,
			Phone:     c.Phone,
			Status:    c.Status,
			Raw:       c.Raw,
		}
	}
	g.sendJSON(w, http.StatusOK, resp)
}

// upstreamStatus maps integration errors to gateway responses.
func upstreamStatus(err error) int {
	var netErr *integration.NetworkError
	switch {
	case errors.As(err, &netErr), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
