package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or gateway confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the provider reports the payment as successfully settled.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the provider reports a failure and no further action is possible.
	StatusFailed Status = "failed"
	// StatusRefunded indicates the payment has been refunded (partially or fully).
	StatusRefunded Status = "refunded"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// ErrSignatureMismatch is returned when a return payload fails signature verification.
var ErrSignatureMismatch = errors.New("payments: signature mismatch")

// RedirectRequest captures the payload required to start a redirect payment.
type RedirectRequest struct {
	// LocalOrderID is echoed back unchanged through the provider's opaque payload.
	LocalOrderID string
	// Amount is expressed in the provider's settlement unit.
	Amount   int64
	Currency string
	// OrderInfo is the human-readable description shown on the payment page.
	OrderInfo string
	// ExtraData is carried opaquely through the provider and echoed on return.
	ExtraData      map[string]string
	RedirectURL    string
	NotifyURL      string
	IdempotencyKey string
}

// RedirectSession represents the provider session returned to the client.
type RedirectSession struct {
	Provider string
	// PayURL is where the buyer's browser is sent to complete payment.
	PayURL string
	// RequestID identifies the create-payment request at the provider.
	RequestID string
	// TransactionRef is the provider-side reference for the pending transaction.
	TransactionRef string
	ExpiresAt      time.Time
	Raw            map[string]any
}

// ReturnPayload wraps the raw parameters the provider sends back after the buyer pays.
type ReturnPayload struct {
	Params map[string]string
}

// Get returns the trimmed parameter value for key.
func (p ReturnPayload) Get(key string) string {
	if p.Params == nil {
		return ""
	}
	return strings.TrimSpace(p.Params[key])
}

// ReturnResult is the normalised outcome of verifying a return payload.
type ReturnResult struct {
	Provider      string
	Succeeded     bool
	ResultCode    string
	Message       string
	TransactionID string
	LocalOrderID  string
	// ExtraData holds the opaque payload decoded from the provider echo.
	ExtraData map[string]string
	PaidAt    time.Time
}

// RefundRequest defines a provider refund attempt.
type RefundRequest struct {
	TransactionID  string
	Amount         *int64
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string
}

// PaymentDetails normalises provider specific fields for storage.
type PaymentDetails struct {
	Provider      string
	TransactionID string
	Status        Status
	Amount        int64
	Currency      string
	RefundedAt    *time.Time
	Raw           map[string]any
}

// Provider defines the contract for payment adapters to implement.
type Provider interface {
	// CreateRedirect registers the payment with the provider and returns the pay URL.
	CreateRedirect(ctx context.Context, req RedirectRequest) (RedirectSession, error)
	// VerifyReturn authenticates and decodes the provider's return payload.
	VerifyReturn(ctx context.Context, payload ReturnPayload) (ReturnResult, error)
	// Refund reverses a settled transaction.
	Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	methodRoutes    map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for methods without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithMethodRoutes configures static payment-method to provider mappings.
func WithMethodRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.methodRoutes == nil {
			m.methodRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.methodRoutes[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers: copyMap,
	}
	if _, ok := copyMap["gateway"]; ok {
		m.defaultProvider = "gateway"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Method            string
	Metadata          map[string]string
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(ctx.PreferredProvider)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
	}
	method := strings.ToLower(strings.TrimSpace(ctx.Method))
	if method != "" && m.methodRoutes != nil {
		if providerKey, ok := m.methodRoutes[method]; ok {
			provider := strings.TrimSpace(strings.ToLower(providerKey))
			if p, ok := m.providers[provider]; ok {
				return provider, p, nil
			}
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateRedirect delegates to the resolved provider.
func (m *Manager) CreateRedirect(ctx context.Context, paymentCtx PaymentContext, req RedirectRequest) (RedirectSession, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return RedirectSession{}, err
	}
	session, err := provider.CreateRedirect(ctx, req)
	if err != nil {
		return RedirectSession{}, err
	}
	session.Provider = key
	return session, nil
}

// VerifyReturn delegates to the resolved provider.
func (m *Manager) VerifyReturn(ctx context.Context, paymentCtx PaymentContext, payload ReturnPayload) (ReturnResult, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return ReturnResult{}, err
	}
	result, err := provider.VerifyReturn(ctx, payload)
	if err != nil {
		return ReturnResult{}, err
	}
	result.Provider = key
	return result, nil
}

// Refund delegates to the resolved provider.
func (m *Manager) Refund(ctx context.Context, paymentCtx PaymentContext, req RefundRequest) (PaymentDetails, error) {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return PaymentDetails{}, err
	}
	return provider.Refund(ctx, req)
}
