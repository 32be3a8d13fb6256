package executor

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/agent-trust-auditor/internal/domain"
	"github.com/xela07ax/agent-trust-auditor/internal/engine"
	"github.com/xela07ax/agent-trust-auditor/internal/infra"
	"github.com/xela07ax/agent-trust-auditor/internal/ledger"
)

// fakeLedger считает вызовы и отдает фиксированное доказательство.
type fakeLedger struct {
	proofCalls int
	failProof  bool
	lastTerms  ledger.OfferTerms
}

func (f *fakeLedger) BuildPaymentProof(ctx context.Context, terms ledger.OfferTerms) (string, string, error) {
	f.proofCalls++
	f.lastTerms = terms
	if f.failProof {
		return "", "", errors.New("signer down")
	}
	return "proof-b64", "ledger-sig", nil
}

func (f *fakeLedger) SendNativeTransfer(ctx context.Context, recipient string, amount uint64) (string, error) {
	return "transfer-sig", nil
}

func newTestExecutor(t *testing.T, lc ledger.Client, timeout time.Duration) *Executor {
	t.Helper()
	cfg := infra.AuditorConfig{
		ProbeTimeout:             timeout,
		PaymentCeilingMinorUnits: 100_000, // $0.10
	}
	return New(lc, cfg, engine.NewMetrics(nil), zap.NewNop())
}

func endpointFor(srv *httptest.Server, method string) *domain.Endpoint {
	return &domain.Endpoint{
		ID:           "ep-1",
		AgentAddress: "AgentAddr111",
		BaseURL:      srv.URL,
		Path:         "/api",
		Method:       method,
		Category:     domain.CategoryUtility,
		PriceUSDC:    0.01,
	}
}

func TestProbeFreeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	e := newTestExecutor(t, &fakeLedger{}, 15*time.Second)
	res := e.Probe(context.Background(), endpointFor(srv, http.MethodGet))

	if !res.Success || !res.CapabilityVerified {
		t.Errorf("success=%v verified=%v, want true/true", res.Success, res.CapabilityVerified)
	}
	// Базовые 80 + быстрый ответ локального сервера (+10)
	if res.QualityScore != 90 {
		t.Errorf("quality = %d, want 90", res.QualityScore)
	}
	if res.HTTPStatus != http.StatusOK {
		t.Errorf("status = %d, want 200", res.HTTPStatus)
	}
	if res.PaymentSignature != "" {
		t.Error("free probe must not record a payment")
	}
}

func TestProbePaidHandshake(t *testing.T) {
	settlement := base64.StdEncoding.EncodeToString(
		[]byte(`{"success":true,"transaction":"chain-sig","network":"solana"}`))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-PAYMENT") == "" {
			w.WriteHeader(http.StatusPaymentRequired)
			w.Write([]byte(`{"accepts":[{"scheme":"exact","network":"solana","asset":"USDC","payTo":"X","maxAmountRequired":"5000","extra":{"feePayer":"Y"}}]}`))
			return
		}
		if r.Header.Get("X-PAYMENT") != "proof-b64" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("X-PAYMENT-RESPONSE", settlement)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"answer":42}`))
	}))
	defer srv.Close()

	fl := &fakeLedger{}
	e := newTestExecutor(t, fl, 15*time.Second)
	res := e.Probe(context.Background(), endpointFor(srv, http.MethodPost))

	if !res.Success || !res.CapabilityVerified {
		t.Fatalf("success=%v verified=%v, want true/true", res.Success, res.CapabilityVerified)
	}
	if res.QualityScore != 100 {
		t.Errorf("quality = %d, want 100", res.QualityScore)
	}
	if fl.proofCalls != 1 {
		t.Errorf("proof calls = %d, want 1", fl.proofCalls)
	}
	// Доказательство строится ровно под условия предложения
	if fl.lastTerms.AmountMinorUnits != 5000 || fl.lastTerms.PayTo != "X" || fl.lastTerms.FeePayer != "Y" {
		t.Errorf("unexpected offer terms: %+v", fl.lastTerms)
	}
	if res.PaymentAmountUSDC != 0.005 {
		t.Errorf("paid = %v USDC, want 0.005", res.PaymentAmountUSDC)
	}
	// Подпись берем из подтверждения расчета вендора
	if res.PaymentSignature != "chain-sig" {
		t.Errorf("signature = %q, want %q", res.PaymentSignature, "chain-sig")
	}
}

func TestProbeOverCeilingNeverPays(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-PAYMENT") != "" {
			t.Error("executor attempted a payment above the safety ceiling")
		}
		w.WriteHeader(http.StatusPaymentRequired)
		// Требуют $9000 — заведомо выше потолка
		w.Write([]byte(`{"accepts":[{"network":"solana","payTo":"X","maxAmountRequired":"9000000000","extra":{"feePayer":"Y"}}]}`))
	}))
	defer srv.Close()

	fl := &fakeLedger{}
	e := newTestExecutor(t, fl, 15*time.Second)
	res := e.Probe(context.Background(), endpointFor(srv, http.MethodGet))

	if fl.proofCalls != 0 {
		t.Fatal("ledger must not be called for over-ceiling offers")
	}
	if res.QualityScore != 90 { // 80 + быстрый ответ
		t.Errorf("quality = %d, want 90", res.QualityScore)
	}
	if !hasIssue(res, "amount_over_ceiling") {
		t.Errorf("issues = %v, want amount_over_ceiling", res.Issues)
	}
	if res.PaymentAmountUSDC != 0 {
		t.Error("no payment amount must be recorded")
	}
}

func TestProbeMalformed402(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		issue string
	}{
		{"unparsable body", `not json at all`, "malformed_402"},
		{"empty accepts", `{"accepts":[]}`, "malformed_402"},
		{"bad amount", `{"accepts":[{"network":"solana","payTo":"X","maxAmountRequired":"many","extra":{"feePayer":"Y"}}]}`, "malformed_402"},
		{"missing fee payer", `{"accepts":[{"network":"solana","payTo":"X","maxAmountRequired":"5000","extra":{}}]}`, "missing_fee_payer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusPaymentRequired)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			e := newTestExecutor(t, &fakeLedger{}, 15*time.Second)
			res := e.Probe(context.Background(), endpointFor(srv, http.MethodGet))

			// Эндпоинт жив: не-провал, capability не снимаем, оценка снижена
			if !res.Success || !res.CapabilityVerified {
				t.Errorf("success=%v verified=%v, want true/true", res.Success, res.CapabilityVerified)
			}
			if res.QualityScore != 70 { // 60 + быстрый ответ
				t.Errorf("quality = %d, want 70", res.QualityScore)
			}
			if !hasIssue(res, tt.issue) {
				t.Errorf("issues = %v, want %s", res.Issues, tt.issue)
			}
		})
	}
}

func TestProbePaidRetryStillFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-PAYMENT") == "" {
			w.WriteHeader(http.StatusPaymentRequired)
			w.Write([]byte(`{"accepts":[{"network":"solana","payTo":"X","maxAmountRequired":"5000","extra":{"feePayer":"Y"}}]}`))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := newTestExecutor(t, &fakeLedger{}, 15*time.Second)
	res := e.Probe(context.Background(), endpointFor(srv, http.MethodGet))

	if res.QualityScore != 70 { // 60 + быстрый ответ
		t.Errorf("quality = %d, want 70", res.QualityScore)
	}
	// Платеж состоялся и должен быть зафиксирован, несмотря на провал ретрая
	if res.PaymentSignature != "ledger-sig" || res.PaymentAmountUSDC != 0.005 {
		t.Errorf("payment not recorded: sig=%q amount=%v", res.PaymentSignature, res.PaymentAmountUSDC)
	}
	if !hasIssue(res, "paid_retry_failed") {
		t.Errorf("issues = %v, want paid_retry_failed", res.Issues)
	}
}

func TestProbeTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // Сервер мертв — соединение откажет

	e := newTestExecutor(t, &fakeLedger{}, 15*time.Second)
	res := e.Probe(context.Background(), endpointFor(srv, http.MethodGet))

	if res.Success || res.CapabilityVerified {
		t.Errorf("success=%v verified=%v, want false/false", res.Success, res.CapabilityVerified)
	}
	// Транспортный провал — всегда 0, поправка за латентность не применяется
	if res.QualityScore != 0 {
		t.Errorf("quality = %d, want 0", res.QualityScore)
	}
	if !hasIssue(res, "transport_error") {
		t.Errorf("issues = %v, want transport_error", res.Issues)
	}
}

func TestProbeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	e := newTestExecutor(t, &fakeLedger{}, 50*time.Millisecond)
	res := e.Probe(context.Background(), endpointFor(srv, http.MethodGet))

	if res.Success {
		t.Error("timed out probe must not be successful")
	}
	if res.QualityScore != 0 {
		t.Errorf("quality = %d, want 0", res.QualityScore)
	}
	if !hasIssue(res, "timeout") {
		t.Errorf("issues = %v, want timeout", res.Issues)
	}
}

func TestProbeHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := newTestExecutor(t, &fakeLedger{}, 15*time.Second)
	res := e.Probe(context.Background(), endpointFor(srv, http.MethodGet))

	if res.Success || res.CapabilityVerified {
		t.Error("HTTP 500 must not count as verified success")
	}
	if res.QualityScore != 30 { // 20 + быстрый ответ
		t.Errorf("quality = %d, want 30", res.QualityScore)
	}
}

func TestProbeProofBuildFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"accepts":[{"network":"solana","payTo":"X","maxAmountRequired":"5000","extra":{"feePayer":"Y"}}]}`))
	}))
	defer srv.Close()

	e := newTestExecutor(t, &fakeLedger{failProof: true}, 15*time.Second)
	res := e.Probe(context.Background(), endpointFor(srv, http.MethodGet))

	if !res.Success {
		t.Error("proof failure is an auditor-side problem, probe must not be failed")
	}
	if !hasIssue(res, "proof_build_failed") {
		t.Errorf("issues = %v, want proof_build_failed", res.Issues)
	}
}

// Переходы машины состояний: запрещенные недостижимы обычным кодом,
// но сам инвариант проверяем напрямую.
func TestStateTransitions(t *testing.T) {
	p := &probe{state: stateInit}
	if err := p.to(statePaid); err == nil {
		t.Error("init -> paid must be rejected")
	}
	if err := p.to(stateSent); err != nil {
		t.Errorf("init -> sent: %v", err)
	}
	if err := p.to(statePaid); err == nil {
		t.Error("sent -> paid must be rejected (payment without awaiting)")
	}
	if err := p.to(stateAwaitingPayment); err != nil {
		t.Errorf("sent -> awaiting: %v", err)
	}
	if err := p.to(statePaid); err != nil {
		t.Errorf("awaiting -> paid: %v", err)
	}
	if err := p.to(stateComplete); err != nil {
		t.Errorf("paid -> complete: %v", err)
	}
	if err := p.to(stateFailed); err == nil {
		t.Error("complete is terminal")
	}
}

func TestAdjustForLatency(t *testing.T) {
	tests := []struct {
		score int
		ms    int64
		want  int
	}{
		{80, 100, 90},   // быстрый — бонус
		{80, 500, 80},   // ровно на границе — без изменений
		{80, 3000, 80},  // середина — без изменений
		{80, 5000, 80},  // ровно на границе — без изменений
		{80, 6000, 70},  // медленный — штраф
		{100, 100, 100}, // зажим сверху
		{5, 9000, 0},    // зажим снизу
	}
	for _, tt := range tests {
		if got := AdjustForLatency(tt.score, tt.ms); got != tt.want {
			t.Errorf("AdjustForLatency(%d, %d) = %d, want %d", tt.score, tt.ms, got, tt.want)
		}
	}
}

func hasIssue(res *domain.TestResult, issue string) bool {
	for _, i := range res.Issues {
		if i == issue {
			return true
		}
	}
	return false
}
