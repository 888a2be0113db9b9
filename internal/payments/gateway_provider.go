package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/currency"
)

const (
	gatewayProviderKey     = "gateway"
	gatewaySignatureParam  = "signature"
	gatewayExtraDataParam  = "extraData"
	defaultGatewayTimeout  = 15 * time.Second
	gatewayRequestTypePath = "captureWallet"
)

// GatewayLogger defines the logging contract for gateway provider operations.
type GatewayLogger func(ctx context.Context, event string, fields map[string]any)

// HTTPDoer abstracts the HTTP client for test injection.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// GatewayProviderConfig configures the redirect gateway provider.
type GatewayProviderConfig struct {
	PartnerCode    string
	AccessKey      string
	SecretKey      string
	CreateEndpoint string
	RefundEndpoint string
	// SettlementCurrency is the ISO code the gateway charges in.
	SettlementCurrency string
	// SettlementRate converts one platform unit into settlement units.
	SettlementRate float64
	// MinimumAmount is the smallest chargeable settlement amount; converted
	// totals below it are floored up to this value.
	MinimumAmount int64
	HTTPClient    HTTPDoer
	Timeout       time.Duration
	Logger        GatewayLogger
	Clock         func() time.Time
}

// GatewayProvider implements Provider for an HMAC-signed redirect gateway.
// The gateway receives a canonical parameter string signed with a shared
// secret, sends the buyer to a hosted pay page, and echoes the opaque
// extraData payload back on both the browser return and the server notify.
type GatewayProvider struct {
	partnerCode    string
	accessKey      string
	secretKey      []byte
	createEndpoint string
	refundEndpoint string
	settlementCur  string
	settlementRate float64
	minimumAmount  int64
	client         HTTPDoer
	logger         GatewayLogger
	clock          func() time.Time
}

// NewGatewayProvider constructs a gateway Provider using the given configuration.
func NewGatewayProvider(cfg GatewayProviderConfig) (*GatewayProvider, error) {
	partner := strings.TrimSpace(cfg.PartnerCode)
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	endpoint := strings.TrimSpace(cfg.CreateEndpoint)
	if partner == "" || access == "" || secret == "" {
		return nil, errors.New("gateway: partner code, access key and secret key are required")
	}
	if endpoint == "" {
		return nil, errors.New("gateway: create endpoint is required")
	}
	cur := strings.ToUpper(strings.TrimSpace(cfg.SettlementCurrency))
	if cur == "" {
		return nil, errors.New("gateway: settlement currency is required")
	}
	if _, err := currency.ParseISO(cur); err != nil {
		return nil, fmt.Errorf("gateway: invalid settlement currency %q: %w", cur, err)
	}
	if cfg.SettlementRate <= 0 {
		return nil, errors.New("gateway: settlement rate must be positive")
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultGatewayTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &GatewayProvider{
		partnerCode:    partner,
		accessKey:      access,
		secretKey:      []byte(secret),
		createEndpoint: endpoint,
		refundEndpoint: strings.TrimSpace(cfg.RefundEndpoint),
		settlementCur:  cur,
		settlementRate: cfg.SettlementRate,
		minimumAmount:  cfg.MinimumAmount,
		client:         client,
		logger:         logger,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// SettlementCurrency returns the ISO code the gateway charges in.
func (p *GatewayProvider) SettlementCurrency() string { return p.settlementCur }

// ConvertToSettlement converts a platform-unit total into the gateway's
// settlement unit, rounding to a whole amount and flooring at the gateway's
// minimum chargeable amount.
func (p *GatewayProvider) ConvertToSettlement(total float64) int64 {
	converted := int64(math.Round(total * p.settlementRate))
	if converted < p.minimumAmount {
		converted = p.minimumAmount
	}
	return converted
}

// CreateRedirect registers the payment with the gateway and returns the pay URL.
func (p *GatewayProvider) CreateRedirect(ctx context.Context, req RedirectRequest) (RedirectSession, error) {
	if p == nil {
		return RedirectSession{}, errors.New("gateway: provider is nil")
	}
	orderID := strings.TrimSpace(req.LocalOrderID)
	if orderID == "" {
		return RedirectSession{}, errors.New("gateway: local order id is required")
	}
	if req.Amount <= 0 {
		return RedirectSession{}, errors.New("gateway: amount must be positive")
	}

	requestID := strings.TrimSpace(req.IdempotencyKey)
	if requestID == "" {
		requestID = fmt.Sprintf("%s-%d", orderID, p.clock().UnixNano())
	}

	extraData, err := encodeExtraData(req.ExtraData)
	if err != nil {
		return RedirectSession{}, err
	}

	params := map[string]string{
		"partnerCode":         p.partnerCode,
		"accessKey":           p.accessKey,
		"requestId":           requestID,
		"orderId":             orderID,
		"amount":              strconv.FormatInt(req.Amount, 10),
		"orderInfo":           req.OrderInfo,
		"redirectUrl":         req.RedirectURL,
		"ipnUrl":              req.NotifyURL,
		gatewayExtraDataParam: extraData,
		"requestType":         gatewayRequestTypePath,
	}
	params[gatewaySignatureParam] = p.sign(params)

	respBody, err := p.post(ctx, p.createEndpoint, params)
	if err != nil {
		return RedirectSession{}, err
	}

	var resp gatewayCreateResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return RedirectSession{}, fmt.Errorf("gateway: decode create response: %w", err)
	}
	if resp.ResultCode != 0 {
		return RedirectSession{}, fmt.Errorf("gateway: create payment rejected: code %d: %s", resp.ResultCode, resp.Message)
	}
	if strings.TrimSpace(resp.PayURL) == "" {
		return RedirectSession{}, errors.New("gateway: create response missing pay url")
	}

	p.logger(ctx, "payments.gateway.redirect.created", map[string]any{
		"orderId":   orderID,
		"requestId": requestID,
		"amount":    req.Amount,
		"currency":  p.settlementCur,
	})

	raw := map[string]any{}
	_ = json.Unmarshal(respBody, &raw)

	return RedirectSession{
		Provider:       gatewayProviderKey,
		PayURL:         resp.PayURL,
		RequestID:      requestID,
		TransactionRef: resp.TransID,
		ExpiresAt:      p.clock().Add(15 * time.Minute),
		Raw:            raw,
	}, nil
}

// VerifyReturn authenticates the echoed parameters and decodes the outcome.
// The signature covers every parameter except the signature itself, so a
// tampered resultCode or amount fails verification.
func (p *GatewayProvider) VerifyReturn(ctx context.Context, payload ReturnPayload) (ReturnResult, error) {
	if p == nil {
		return ReturnResult{}, errors.New("gateway: provider is nil")
	}
	if len(payload.Params) == 0 {
		return ReturnResult{}, errors.New("gateway: return payload is empty")
	}

	provided := payload.Get(gatewaySignatureParam)
	if provided == "" {
		return ReturnResult{}, fmt.Errorf("%w: missing signature", ErrSignatureMismatch)
	}
	unsigned := make(map[string]string, len(payload.Params))
	for k, v := range payload.Params {
		if k == gatewaySignatureParam {
			continue
		}
		unsigned[k] = v
	}
	expected := p.sign(unsigned)
	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return ReturnResult{}, ErrSignatureMismatch
	}

	extra, err := decodeExtraData(payload.Get(gatewayExtraDataParam))
	if err != nil {
		return ReturnResult{}, err
	}

	resultCode := payload.Get("resultCode")
	result := ReturnResult{
		Provider:      gatewayProviderKey,
		Succeeded:     resultCode == "0",
		ResultCode:    resultCode,
		Message:       payload.Get("message"),
		TransactionID: payload.Get("transId"),
		LocalOrderID:  payload.Get("orderId"),
		ExtraData:     extra,
		PaidAt:        p.clock(),
	}
	if result.TransactionID == "" {
		result.TransactionID = payload.Get("requestId")
	}

	p.logger(ctx, "payments.gateway.return.verified", map[string]any{
		"orderId":    result.LocalOrderID,
		"resultCode": resultCode,
		"succeeded":  result.Succeeded,
	})
	return result, nil
}

// Refund reverses a settled gateway transaction.
func (p *GatewayProvider) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("gateway: provider is nil")
	}
	if p.refundEndpoint == "" {
		return PaymentDetails{}, errors.New("gateway: refund endpoint not configured")
	}
	transID := strings.TrimSpace(req.TransactionID)
	if transID == "" {
		return PaymentDetails{}, errors.New("gateway: transaction id is required")
	}

	requestID := strings.TrimSpace(req.IdempotencyKey)
	if requestID == "" {
		requestID = fmt.Sprintf("refund-%s-%d", transID, p.clock().UnixNano())
	}
	amount := int64(0)
	if req.Amount != nil {
		amount = *req.Amount
	}

	params := map[string]string{
		"partnerCode": p.partnerCode,
		"accessKey":   p.accessKey,
		"requestId":   requestID,
		"transId":     transID,
		"amount":      strconv.FormatInt(amount, 10),
		"description": req.Reason,
	}
	params[gatewaySignatureParam] = p.sign(params)

	respBody, err := p.post(ctx, p.refundEndpoint, params)
	if err != nil {
		return PaymentDetails{}, err
	}
	var resp gatewayCreateResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return PaymentDetails{}, fmt.Errorf("gateway: decode refund response: %w", err)
	}
	if resp.ResultCode != 0 {
		return PaymentDetails{}, fmt.Errorf("gateway: refund rejected: code %d: %s", resp.ResultCode, resp.Message)
	}

	p.logger(ctx, "payments.gateway.refunded", map[string]any{
		"transId":   transID,
		"requestId": requestID,
		"amount":    amount,
	})

	refundedAt := p.clock()
	return PaymentDetails{
		Provider:      gatewayProviderKey,
		TransactionID: transID,
		Status:        StatusRefunded,
		Amount:        amount,
		Currency:      p.settlementCur,
		RefundedAt:    &refundedAt,
	}, nil
}

// sign computes the hex HMAC-SHA256 of the canonical parameter string. The
// canonical form is key=value pairs sorted by key and joined with "&".
func (p *GatewayProvider) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var builder strings.Builder
	for i, k := range keys {
		if i > 0 {
			builder.WriteByte('&')
		}
		builder.WriteString(k)
		builder.WriteByte('=')
		builder.WriteString(params[k])
	}

	mac := hmac.New(sha256.New, p.secretKey)
	mac.Write([]byte(builder.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

func (p *GatewayProvider) post(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("gateway: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gateway: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gateway: call %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("gateway: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gateway: %s returned status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}

type gatewayCreateResponse struct {
	PayURL     string `json:"payUrl"`
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
	TransID    string `json:"transId"`
}

func encodeExtraData(extra map[string]string) (string, error) {
	if len(extra) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(extra)
	if err != nil {
		return "", fmt.Errorf("gateway: encode extra data: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func decodeExtraData(encoded string) (map[string]string, error) {
	if strings.TrimSpace(encoded) == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("gateway: decode extra data: %w", err)
	}
	extra := map[string]string{}
	if err := json.Unmarshal(raw, &extra); err != nil {
		return nil, fmt.Errorf("gateway: decode extra data: %w", err)
	}
	return extra, nil
}

// Ensure interface compliance.
var _ Provider = (*GatewayProvider)(nil)
