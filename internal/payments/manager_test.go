package payments

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	lastOp  string
	session RedirectSession
	result  ReturnResult
	payment PaymentDetails
	err     error
}

func (f *fakeProvider) CreateRedirect(ctx context.Context, req RedirectRequest) (RedirectSession, error) {
	f.lastOp = "create"
	return f.session, f.err
}

func (f *fakeProvider) VerifyReturn(ctx context.Context, payload ReturnPayload) (ReturnResult, error) {
	f.lastOp = "verify"
	return f.result, f.err
}

func (f *fakeProvider) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	f.lastOp = "refund"
	return f.payment, f.err
}

func TestManagerCreateRedirectUsesPreferredProvider(t *testing.T) {
	ctx := context.Background()
	gateway := &fakeProvider{session: RedirectSession{PayURL: "https://gw.example.com/pay"}}
	stripe := &fakeProvider{session: RedirectSession{PayURL: "https://stripe.example.com/pay"}}

	mgr, err := NewManager(map[string]Provider{
		"gateway": gateway,
		"stripe":  stripe,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	session, err := mgr.CreateRedirect(ctx, PaymentContext{PreferredProvider: "stripe"}, RedirectRequest{LocalOrderID: "ord-1", Amount: 1000})
	if err != nil {
		t.Fatalf("create redirect: %v", err)
	}

	if session.Provider != "stripe" {
		t.Fatalf("expected provider 'stripe', got %q", session.Provider)
	}
	if stripe.lastOp != "create" {
		t.Fatalf("expected stripe provider to handle call")
	}
	if gateway.lastOp != "" {
		t.Fatalf("expected gateway provider to remain unused")
	}
}

func TestManagerRoutesByMethod(t *testing.T) {
	ctx := context.Background()
	gateway := &fakeProvider{}
	stripe := &fakeProvider{}

	mgr, err := NewManager(
		map[string]Provider{
			"gateway": gateway,
			"stripe":  stripe,
		},
		WithMethodRoutes(map[string]string{"card": "stripe"}),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	session, err := mgr.CreateRedirect(ctx, PaymentContext{Method: "card"}, RedirectRequest{LocalOrderID: "ord-1", Amount: 1000})
	if err != nil {
		t.Fatalf("create redirect: %v", err)
	}
	if session.Provider != "stripe" {
		t.Fatalf("expected provider 'stripe', got %q", session.Provider)
	}
	if stripe.lastOp != "create" {
		t.Fatalf("expected stripe provider to handle call")
	}
}

func TestManagerDefaultsToGateway(t *testing.T) {
	ctx := context.Background()
	gateway := &fakeProvider{result: ReturnResult{Succeeded: true}}
	stripe := &fakeProvider{}

	mgr, err := NewManager(map[string]Provider{
		"gateway": gateway,
		"stripe":  stripe,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	result, err := mgr.VerifyReturn(ctx, PaymentContext{}, ReturnPayload{Params: map[string]string{"resultCode": "0"}})
	if err != nil {
		t.Fatalf("verify return: %v", err)
	}
	if gateway.lastOp != "verify" {
		t.Fatalf("expected the gateway default to handle call")
	}
	if result.Provider != "gateway" {
		t.Fatalf("unexpected provider in result: %q", result.Provider)
	}
}

func TestManagerSingleProviderNeedsNoRouting(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{payment: PaymentDetails{Provider: "stripe"}}

	mgr, err := NewManager(map[string]Provider{"stripe": stripe})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	details, err := mgr.Refund(ctx, PaymentContext{}, RefundRequest{TransactionID: "txn-1"})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if stripe.lastOp != "refund" {
		t.Fatalf("expected refund to invoke the only provider")
	}
	if details.Provider != "stripe" {
		t.Fatalf("unexpected provider in details: %q", details.Provider)
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(map[string]Provider{"stripe": &fakeProvider{}, "paypal": &fakeProvider{}}, WithDefaultProvider(""))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	_, err = mgr.CreateRedirect(ctx, PaymentContext{PreferredProvider: "unknown"}, RedirectRequest{LocalOrderID: "ord-1", Amount: 1000})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestNewManagerValidatesProviders(t *testing.T) {
	if _, err := NewManager(map[string]Provider{"bad": nil}); err == nil {
		t.Fatalf("expected error for nil provider")
	}
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error when providers empty")
	}
}
