package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/marketbay/api/internal/platform/auth"
	"github.com/marketbay/api/internal/platform/httpx"
	"github.com/marketbay/api/internal/services"
)

const maxPaymentBodySize = 64 * 1024

type gatewayCheckoutRequest struct {
	AddressID     string                  `json:"address_id"`
	CouponCode    string                  `json:"coupon_code"`
	ShippingPrice float64                 `json:"shipping_price"`
	RedirectURL   string                  `json:"redirect_url"`
	Items         []orderSelectionPayload `json:"items"`
}

type gatewayCheckoutResponse struct {
	PayURL       string `json:"payUrl"`
	LocalOrderID string `json:"localOrderId"`
}

type reconcileResponse struct {
	OrderID          string `json:"order_id"`
	Status           string `json:"status"`
	Succeeded        bool   `json:"succeeded"`
	AlreadyProcessed bool   `json:"already_processed,omitempty"`
}

// PaymentHandlers exposes the gateway checkout and callback endpoints.
type PaymentHandlers struct {
	authn    *auth.Authenticator
	payments services.PaymentService
}

// NewPaymentHandlers constructs a new PaymentHandlers instance.
func NewPaymentHandlers(authn *auth.Authenticator, payments services.PaymentService) *PaymentHandlers {
	return &PaymentHandlers{
		authn:    authn,
		payments: payments,
	}
}

// Routes registers the authenticated /payment endpoints. The server-to-server
// IPN route is registered separately so it can carry its own guards.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/gateway", h.startCheckout)
	r.Post("/gateway_return", h.gatewayReturn)
}

// IPNRoutes registers the unauthenticated gateway callback. Callers are
// verified by the signature inside the payload plus transport-level guards.
func (h *PaymentHandlers) IPNRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/gateway_ipn", h.gatewayIPN)
}

func (h *PaymentHandlers) startCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxPaymentBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req gatewayCheckoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	items := make([]services.OrderSelection, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.OrderSelection{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
		})
	}

	checkout, err := h.payments.StartGatewayCheckout(ctx, services.GatewayCheckoutCommand{
		UserID:        strings.TrimSpace(identity.UID),
		AddressID:     strings.TrimSpace(req.AddressID),
		CouponCode:    req.CouponCode,
		ShippingPrice: req.ShippingPrice,
		Items:         items,
		FromCart:      len(items) == 0,
		RedirectURL:   strings.TrimSpace(req.RedirectURL),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, gatewayCheckoutResponse{
		PayURL:       checkout.PayURL,
		LocalOrderID: checkout.LocalOrderID,
	})
}

// gatewayReturn handles the buyer's browser coming back from the gateway.
// The query string carries the signed result parameters.
func (h *PaymentHandlers) gatewayReturn(w http.ResponseWriter, r *http.Request) {
	h.reconcile(w, r, r.URL.Query())
}

// gatewayIPN handles the gateway's server-to-server result post. The gateway
// sends the same signed parameter set as a JSON object.
func (h *PaymentHandlers) gatewayIPN(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxPaymentBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	params := make(map[string][]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case string:
			params[key] = []string{v}
		case float64:
			params[key] = []string{strconv.FormatFloat(v, 'f', -1, 64)}
		case bool:
			if v {
				params[key] = []string{"true"}
			} else {
				params[key] = []string{"false"}
			}
		}
	}
	h.reconcile(w, r, params)
}

func (h *PaymentHandlers) reconcile(w http.ResponseWriter, r *http.Request, values map[string][]string) {
	ctx := r.Context()

	params := make(map[string]string, len(values))
	for key, list := range values {
		if len(list) > 0 {
			params[key] = list[0]
		}
	}
	if len(params) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "callback parameters are required", http.StatusBadRequest))
		return
	}

	result, err := h.payments.Reconcile(ctx, services.ReconcileCommand{
		Params:       params,
		LocalOrderID: params["orderId"],
		IsFromCart:   params["isFromCart"] == "true",
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, reconcileResponse{
		OrderID:          result.OrderID,
		Status:           string(result.Status),
		Succeeded:        result.Succeeded,
		AlreadyProcessed: result.AlreadyProcessed,
	})
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentSignature):
		httpx.WriteError(ctx, w, httpx.NewError("signature_mismatch", "callback signature verification failed", http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentGatewayFailed):
		httpx.WriteError(ctx, w, httpx.NewError("gateway_failed", err.Error(), http.StatusBadGateway))
	default:
		writeOrderError(ctx, w, err)
	}
}
