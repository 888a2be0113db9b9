package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/marketbay/api/internal/domain"
	"github.com/marketbay/api/internal/platform/auth"
	"github.com/marketbay/api/internal/platform/httpx"
	"github.com/marketbay/api/internal/services"
)

const (
	defaultReturnPageSize = 20
	maxReturnPageSize     = 100
	maxReturnBodySize     = 16 * 1024
)

type createReturnRequest struct {
	OrderID   string  `json:"order_id"`
	ProductID *string `json:"product_id"`
	Reason    string  `json:"reason"`
}

type updateReturnRequest struct {
	Status          string `json:"status"`
	ResolutionNotes string `json:"resolution_notes"`
}

// ReturnHandlers exposes the return-request endpoints.
type ReturnHandlers struct {
	authn   *auth.Authenticator
	returns services.ReturnService
}

// NewReturnHandlers constructs a new ReturnHandlers instance.
func NewReturnHandlers(authn *auth.Authenticator, returns services.ReturnService) *ReturnHandlers {
	return &ReturnHandlers{
		authn:   authn,
		returns: returns,
	}
}

// Routes registers the /returns endpoints.
func (h *ReturnHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.createReturn)
	r.Get("/myreturns", h.listMyReturns)
	r.Get("/", h.listReturns)
	r.Put("/{returnID}", h.updateReturn)
}

func (h *ReturnHandlers) createReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxReturnBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req createReturnRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	request, err := h.returns.Create(ctx, services.CreateReturnCommand{
		UserID:    strings.TrimSpace(identity.UID),
		OrderID:   strings.TrimSpace(req.OrderID),
		ProductID: req.ProductID,
		Reason:    req.Reason,
	})
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, returnResponse{Return: buildReturnPayload(request)})
}

func (h *ReturnHandlers) listMyReturns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	pager, err := parsePagination(r, defaultReturnPageSize, maxReturnPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.returns.ListMine(ctx, strings.TrimSpace(identity.UID), pager)
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}
	writeReturnListResponse(w, page)
}

func (h *ReturnHandlers) listReturns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if !identity.HasRole(auth.RoleAdmin) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "admin role required", http.StatusForbidden))
		return
	}

	query := r.URL.Query()
	pager, err := parsePagination(r, defaultReturnPageSize, maxReturnPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.returns.List(ctx, services.ReturnListQuery{
		Status:     parseFilterValues(query["status"]),
		OrderID:    strings.TrimSpace(query.Get("order_id")),
		Pagination: pager,
	})
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}
	writeReturnListResponse(w, page)
}

func (h *ReturnHandlers) updateReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	returnID := strings.TrimSpace(chi.URLParam(r, "returnID"))
	if returnID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "return id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxReturnBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req updateReturnRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}
	status := strings.ToLower(strings.TrimSpace(req.Status))
	if status == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is required", http.StatusBadRequest))
		return
	}

	request, err := h.returns.UpdateStatus(ctx, services.ReturnStatusCommand{
		ReturnID:        returnID,
		TargetStatus:    domain.ReturnStatus(status),
		ResolutionNotes: req.ResolutionNotes,
		Actor:           actorFromIdentity(identity),
	})
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, returnResponse{Return: buildReturnPayload(request)})
}

type returnListResponse struct {
	Items         []returnPayload `json:"items"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

type returnResponse struct {
	Return returnPayload `json:"return"`
}

type returnPayload struct {
	ID              string  `json:"id"`
	OrderID         string  `json:"order_id"`
	UserID          string  `json:"user_id"`
	ProductID       *string `json:"product_id,omitempty"`
	Reason          string  `json:"reason"`
	Status          string  `json:"status"`
	ResolutionNotes *string `json:"resolution_notes,omitempty"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at,omitempty"`
}

func buildReturnPayload(request services.ReturnRequest) returnPayload {
	return returnPayload{
		ID:              request.ID,
		OrderID:         request.OrderID,
		UserID:          request.UserID,
		ProductID:       request.ProductID,
		Reason:          request.Reason,
		Status:          string(request.Status),
		ResolutionNotes: request.ResolutionNotes,
		CreatedAt:       formatTime(request.CreatedAt),
		UpdatedAt:       formatTime(request.UpdatedAt),
	}
}

func writeReturnListResponse(w http.ResponseWriter, page domain.CursorPage[services.ReturnRequest]) {
	items := make([]returnPayload, 0, len(page.Items))
	for _, request := range page.Items {
		items = append(items, buildReturnPayload(request))
	}
	writeJSONResponse(w, http.StatusOK, returnListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func writeReturnError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrReturnInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrReturnForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", err.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrReturnNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("return_not_found", "return request not found", http.StatusNotFound))
	case errors.Is(err, services.ErrReturnDuplicate):
		httpx.WriteError(ctx, w, httpx.NewError("return_duplicate", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrReturnInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("return_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrReturnConflict):
		httpx.WriteError(ctx, w, httpx.NewError("return_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrReturnRefundFailed):
		httpx.WriteError(ctx, w, httpx.NewError("refund_failed", err.Error(), http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("return_error", "failed to process return request", http.StatusInternalServerError))
	}
}
