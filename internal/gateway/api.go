// ABOUTME: HTTP handlers for the vault API: create, read, edit, delete and list messages.
// ABOUTME: Every response uses the {statusCode, data, message, success} envelope.

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/vault-gateway/internal/auth"
	"github.com/2389/vault-gateway/internal/delivery"
	"github.com/2389/vault-gateway/internal/store"
	"github.com/2389/vault-gateway/internal/vault"
)

// maxRequestBody bounds vault request bodies; a message is at most 2000 runes.
const maxRequestBody = 64 << 10

// APIResponse is the envelope around every vault API response.
type APIResponse struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

// CreateVaultRequest is the JSON request body for POST /api/vault.
type CreateVaultRequest struct {
	Message   string `json:"message"`
	DeliverAt string `json:"deliverAt"` // RFC 3339
}

// UpdateVaultRequest is the JSON request body for PATCH /api/vault/{id}.
// Omitted fields are left unchanged.
type UpdateVaultRequest struct {
	Message   *string `json:"message"`
	DeliverAt *string `json:"deliverAt"`
}

// VaultMessageResponse is the JSON form of a vault message.
type VaultMessageResponse struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Message     string     `json:"message"`
	DeliverAt   time.Time  `json:"deliverAt"`
	Delivered   bool       `json:"delivered"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// VaultPageResponse is the data of the delivered and upcoming listings.
type VaultPageResponse struct {
	Messages []VaultMessageResponse `json:"messages"`
	Total    int                    `json:"total"`
	Page     int                    `json:"page"`
	Limit    int                    `json:"limit"`
}

// HealthResponse is the JSON response for /health/ready.
type HealthResponse struct {
	Status      string         `json:"status"`
	Connections int            `json:"connections"`
	Scheduler   delivery.Stats `json:"scheduler"`
}

func toMessageResponse(m *store.VaultMessage) VaultMessageResponse {
	return VaultMessageResponse{
		ID:          m.ID,
		UserID:      m.OwnerID,
		Message:     m.Message,
		DeliverAt:   m.DeliverAt,
		Delivered:   m.Delivered,
		DeliveredAt: m.DeliveredAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func toPageResponse(p *vault.Page) VaultPageResponse {
	messages := make([]VaultMessageResponse, 0, len(p.Messages))
	for _, m := range p.Messages {
		messages = append(messages, toMessageResponse(m))
	}
	return VaultPageResponse{
		Messages: messages,
		Total:    p.Total,
		Page:     p.Page,
		Limit:    p.Limit,
	}
}

// writeJSON writes data inside the response envelope.
func writeJSON(w http.ResponseWriter, status int, data any, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse{
		StatusCode: status,
		Data:       data,
		Message:    message,
		Success:    status < http.StatusBadRequest,
	})
}

// sendJSONError writes a failed envelope with no data.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, nil, message)
}

// errorStatus maps vault errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, vault.ErrEmptyMessage),
		errors.Is(err, vault.ErrMessageTooLong),
		errors.Is(err, vault.ErrDeliverAtRequired),
		errors.Is(err, vault.ErrDeliverAtNotFuture),
		errors.Is(err, vault.ErrNoChanges),
		errors.Is(err, vault.ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, vault.ErrAlreadyDelivered):
		return http.StatusForbidden
	case errors.Is(err, vault.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// sendVaultError writes err with its mapped status. Internal errors are
// logged and never echoed to the client.
func (g *Gateway) sendVaultError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		g.logger.Error("vault request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		sendJSONError(w, status, "internal server error")
		return
	}
	sendJSONError(w, status, err.Error())
}

// requireUser returns the authenticated user or writes 401.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := auth.UserID(r)
	if !ok {
		sendJSONError(w, http.StatusUnauthorized, "unauthorized")
	}
	return userID, ok
}

// parseDeliverAt accepts RFC 3339 timestamps. Anything else is reported as a
// missing delivery date.
func parseDeliverAt(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, vault.ErrDeliverAtRequired
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, vault.ErrDeliverAtRequired
	}
	return t, nil
}

// parsePagination reads ?page and ?limit. Missing or malformed values fall
// back to the store defaults.
func parsePagination(r *http.Request) (page, limit int) {
	q := r.URL.Query()
	page, _ = strconv.Atoi(q.Get("page"))
	limit, _ = strconv.Atoi(q.Get("limit"))
	return page, limit
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// handleCreate handles POST /api/vault.
func (g *Gateway) handleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req CreateVaultRequest
	if !decodeBody(w, r, &req) {
		return
	}

	// An unparseable date becomes the zero time, which Create rejects after
	// checking the body.
	deliverAt, _ := parseDeliverAt(req.DeliverAt)

	msg, err := g.vault.Create(r.Context(), userID, req.Message, deliverAt)
	if err != nil {
		g.sendVaultError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessageResponse(msg), "Message saved to vault successfully")
}

// handleGet handles GET /api/vault/{id}.
func (g *Gateway) handleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	msg, err := g.vault.Get(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		g.sendVaultError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageResponse(msg), "Message fetched successfully")
}

// handleUpdate handles PATCH /api/vault/{id}.
func (g *Gateway) handleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req UpdateVaultRequest
	if !decodeBody(w, r, &req) {
		return
	}

	patch := vault.Patch{Message: req.Message}
	if req.DeliverAt != nil {
		at, err := parseDeliverAt(*req.DeliverAt)
		if err != nil {
			g.sendVaultError(w, r, err)
			return
		}
		patch.DeliverAt = &at
	}

	msg, err := g.vault.Update(r.Context(), userID, r.PathValue("id"), patch)
	if err != nil {
		g.sendVaultError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageResponse(msg), "Message updated successfully")
}

// handleDelete handles DELETE /api/vault/{id}.
func (g *Gateway) handleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	msg, err := g.vault.Delete(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		g.sendVaultError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageResponse(msg), "Message deleted successfully")
}

// handleDelivered handles GET /api/vault/delivered.
func (g *Gateway) handleDelivered(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	page, limit := parsePagination(r)
	result, err := g.vault.ListDelivered(r.Context(), userID, page, limit)
	if err != nil {
		g.sendVaultError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(result), "Delivered messages fetched successfully")
}

// handleUpcoming handles GET /api/vault/upcoming.
func (g *Gateway) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	page, limit := parsePagination(r)
	result, err := g.vault.ListUpcoming(r.Context(), userID, page, limit)
	if err != nil {
		g.sendVaultError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(result), "Upcoming messages fetched successfully")
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reports live connections and scheduler counters. It returns
// 503 until the scheduler has completed its first tick.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	stats := g.scheduler.Stats()
	resp := HealthResponse{
		Status:      "ready",
		Connections: g.registry.Len(),
		Scheduler:   stats,
	}
	status := http.StatusOK
	if stats.LastTickAt.IsZero() {
		resp.Status = "starting"
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
