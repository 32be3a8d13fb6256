package executor

/*
Пакет executor выполняет одну пробу против выбранного эндпоинта и доводит
платежное рукопожатие x402 до конца. Управление пробой — явная машина
состояний:

	Init -> Sent -> AwaitingPayment -> Paid -> Complete
	             \-> Complete (не-402 ответы)
	любое состояние -> Failed (транспортная ошибка / таймаут)

Все ошибки пробы поглощаются на ее границе: наружу всегда уходит заполненный
TestResult, часовой цикл проба никогда не роняет.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-trust-auditor/internal/domain"
	"github.com/xela07ax/agent-trust-auditor/internal/engine"
	"github.com/xela07ax/agent-trust-auditor/internal/infra"
	"github.com/xela07ax/agent-trust-auditor/internal/ledger"
	"github.com/xela07ax/agent-trust-auditor/internal/x402"
)

// state — теговое состояние пробы. Переходы зашиты в transitions,
// чтобы невалидные (например, Paid без AwaitingPayment) были невозможны.
type state int

const (
	stateInit state = iota
	stateSent
	stateAwaitingPayment
	statePaid
	stateComplete
	stateFailed
)

var stateNames = map[state]string{
	stateInit:            "init",
	stateSent:            "sent",
	stateAwaitingPayment: "awaiting_payment",
	statePaid:            "paid",
	stateComplete:        "complete",
	stateFailed:          "failed",
}

var transitions = map[state][]state{
	stateInit:            {stateSent, stateFailed},
	stateSent:            {stateAwaitingPayment, stateComplete, stateFailed},
	stateAwaitingPayment: {statePaid, stateComplete, stateFailed},
	statePaid:            {stateComplete},
}

type probe struct {
	state  state
	result *domain.TestResult
}

// to выполняет переход; запрещенный переход — баг исполнителя, не данных.
func (p *probe) to(next state) error {
	for _, allowed := range transitions[p.state] {
		if allowed == next {
			p.state = next
			return nil
		}
	}
	return fmt.Errorf("executor: invalid transition %s -> %s", stateNames[p.state], stateNames[next])
}

// Executor выполняет пробы. Ретраев нет, кроме единственного повторного
// запроса с платежным доказательством; это принципиально — вендор не должен
// получать от аудитора шторм повторов.
type Executor struct {
	httpClient *http.Client
	ledger     ledger.Client
	cfg        infra.AuditorConfig
	metrics    *engine.Metrics
	logger     *zap.Logger
}

func New(ledgerClient ledger.Client, cfg infra.AuditorConfig, metrics *engine.Metrics, logger *zap.Logger) *Executor {
	return &Executor{
		// Таймаут держим на контексте пробы, а не на клиенте:
		// так платежный ретрай живет в том же бюджете 15 секунд
		httpClient: &http.Client{},
		ledger:     ledgerClient,
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger.Named("executor"),
	}
}

// Probe выполняет одну пробу. Никогда не возвращает ошибку: любой сбой
// оседает в полях результата (success=false, quality=0 для транспортных).
func (e *Executor) Probe(ctx context.Context, ep *domain.Endpoint) *domain.TestResult {
	start := time.Now()

	p := &probe{
		state: stateInit,
		result: &domain.TestResult{
			ID:           uuid.New().String(),
			EndpointID:   ep.ID,
			AgentAddress: ep.AgentAddress,
			TestedAt:     start,
		},
	}

	probeCtx, cancel := context.WithTimeout(ctx, e.cfg.ProbeTimeout)
	defer cancel()

	e.run(probeCtx, p, ep)

	p.result.ResponseTimeMs = time.Since(start).Milliseconds()
	// Поправка за латентность применяется только к завершенным пробам:
	// транспортный провал остается нулем
	if p.state == stateComplete {
		p.result.QualityScore = AdjustForLatency(p.result.QualityScore, p.result.ResponseTimeMs)
	}

	outcome := stateNames[p.state]
	e.metrics.ProbesTotal.WithLabelValues(outcome).Inc()
	e.metrics.ProbeDuration.WithLabelValues(string(ep.Category), outcome).
		Observe(time.Since(start).Seconds())

	e.logger.Debug("probe finished",
		zap.String("endpoint_id", ep.ID),
		zap.String("outcome", outcome),
		zap.Int("quality", p.result.QualityScore),
		zap.Int64("latency_ms", p.result.ResponseTimeMs))

	return p.result
}

func (e *Executor) run(ctx context.Context, p *probe, ep *domain.Endpoint) {
	res := p.result

	// Init -> Sent: первичный запрос
	body := auditRequestBody(ep)
	res.RequestBody = body

	_ = p.to(stateSent)
	resp, respBody, err := e.doRequest(ctx, ep, body, "")
	if err != nil {
		_ = p.to(stateFailed)
		e.failTransport(res, err)
		return
	}

	res.HTTPStatus = resp.StatusCode
	res.ResponseBody = respBody
	res.Transcript = []domain.TranscriptMessage{
		{Role: "auditor", Content: body, Timestamp: time.Now()},
		{Role: "agent", Content: respBody, Timestamp: time.Now()},
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// Бесплатный успех
		_ = p.to(stateComplete)
		res.Success = true
		res.CapabilityVerified = true
		res.QualityScore = QualityFree
		res.Notes = "responded without payment"

	case resp.StatusCode == http.StatusPaymentRequired:
		e.handlePaymentRequired(ctx, p, ep, []byte(respBody))

	default:
		// Завершенный ответ с ошибочным статусом — проба не падала,
		// но заявленную функцию эндпоинт не выполнил
		_ = p.to(stateComplete)
		res.Success = false
		res.CapabilityVerified = false
		res.QualityScore = QualityHTTPErr
		res.Issues = append(res.Issues, "http_error")
		res.Notes = fmt.Sprintf("endpoint returned HTTP %d", resp.StatusCode)
	}
}

// handlePaymentRequired разбирает 402 и доводит оплату. Деградации протокола
// (кривой документ, нет feePayer) НЕ валят пробу: эндпоинт жив и отвечает,
// провалилась наша экстракция условий — квалифицируем со сниженной оценкой.
func (e *Executor) handlePaymentRequired(ctx context.Context, p *probe, ep *domain.Endpoint, body402 []byte) {
	res := p.result
	_ = p.to(stateAwaitingPayment)

	reqs, err := x402.ParseRequirements(body402)
	if err != nil {
		_ = p.to(stateComplete)
		res.Success = true
		res.CapabilityVerified = true
		res.QualityScore = QualityDegraded
		res.Issues = append(res.Issues, "malformed_402")
		res.Notes = "402 returned but payment requirements were not parsable"
		return
	}

	offer := x402.SelectOffer(reqs)

	amount, err := offer.AmountMinorUnits()
	if err != nil {
		_ = p.to(stateComplete)
		res.Success = true
		res.CapabilityVerified = true
		res.QualityScore = QualityDegraded
		res.Issues = append(res.Issues, "malformed_402")
		res.Notes = "payment offer carried an unparsable amount"
		return
	}

	if offer.Extra.FeePayer == "" {
		// Кривое предложение — повод для снижения оценки, но не для
		// снятия флага capability: до функции эндпоинта мы не дошли
		_ = p.to(stateComplete)
		res.Success = true
		res.CapabilityVerified = true
		res.QualityScore = QualityDegraded
		res.Issues = append(res.Issues, "missing_fee_payer")
		res.Notes = "payment offer is missing a fee payer"
		return
	}

	// Жесткий предохранитель: потолок фиксирован конфигом и НИКОГДА не
	// подменяется данными эндпоинта, включая его заявленную цену
	if amount > e.cfg.PaymentCeilingMinorUnits {
		_ = p.to(stateComplete)
		res.Success = true
		res.CapabilityVerified = true
		res.QualityScore = QualityDeclined
		res.Issues = append(res.Issues, "amount_over_ceiling")
		res.Notes = fmt.Sprintf("offer demands %d minor units, above the safety ceiling %d; payment not attempted",
			amount, e.cfg.PaymentCeilingMinorUnits)
		e.metrics.PaymentsTotal.WithLabelValues("over_ceiling").Inc()
		return
	}

	terms := ledger.OfferTerms{
		Scheme:           offer.Scheme,
		Network:          offer.Network,
		Asset:            offer.Asset,
		PayTo:            offer.PayTo,
		FeePayer:         offer.Extra.FeePayer,
		AmountMinorUnits: amount,
	}

	proof, signature, err := e.ledger.BuildPaymentProof(ctx, terms)
	if err != nil {
		_ = p.to(stateComplete)
		res.Success = true
		res.CapabilityVerified = true
		res.QualityScore = QualityDegraded
		res.Issues = append(res.Issues, "proof_build_failed")
		res.Notes = "could not build a payment proof for the offer"
		e.metrics.PaymentsTotal.WithLabelValues("proof_failed").Inc()
		e.logger.Warn("payment proof build failed",
			zap.String("endpoint_id", ep.ID), zap.Error(err))
		return
	}

	// Единственный разрешенный повтор: тот же запрос + заголовок X-PAYMENT
	retryResp, retryBody, err := e.doRequest(ctx, ep, res.RequestBody, proof)
	if err != nil {
		_ = p.to(stateFailed)
		e.failTransport(res, err)
		res.Notes = "transport failed on the paid retry"
		return
	}

	res.HTTPStatus = retryResp.StatusCode
	res.ResponseBody = retryBody
	res.Transcript = append(res.Transcript,
		domain.TranscriptMessage{Role: "agent", Content: retryBody, Timestamp: time.Now()})

	paidUSDC := float64(amount) / 1e6

	if retryResp.StatusCode == http.StatusOK {
		_ = p.to(statePaid)
		_ = p.to(stateComplete)
		res.Success = true
		res.CapabilityVerified = true
		res.QualityScore = QualityPaid
		res.PaymentSignature = signature
		res.PaymentAmountUSDC = paidUSDC
		res.Notes = "paid retry succeeded"

		// Подтверждение расчета от вендора (если прислал) надежнее нашей
		// локальной подписи — предпочитаем его ссылку на транзакцию
		if s, err := x402.DecodeSettlement(retryResp.Header.Get(x402.HeaderPaymentResponse)); err != nil {
			res.Issues = append(res.Issues, "bad_settlement_header")
		} else if s != nil && s.Transaction != "" {
			res.PaymentSignature = s.Transaction
		}

		e.metrics.PaymentsTotal.WithLabelValues("paid").Inc()
		e.metrics.SpendTotal.Add(paidUSDC)
		return
	}

	// Деньги ушли, но эндпоинт все равно не ответил 200
	_ = p.to(stateComplete)
	res.Success = true
	res.CapabilityVerified = true
	res.QualityScore = QualityDegraded
	res.PaymentSignature = signature
	res.PaymentAmountUSDC = paidUSDC
	res.Issues = append(res.Issues, "paid_retry_failed")
	res.Notes = fmt.Sprintf("payment sent, but the retry returned HTTP %d", retryResp.StatusCode)
	e.metrics.PaymentsTotal.WithLabelValues("paid").Inc()
	e.metrics.SpendTotal.Add(paidUSDC)
}

func (e *Executor) failTransport(res *domain.TestResult, err error) {
	res.Success = false
	res.CapabilityVerified = false
	res.QualityScore = QualityFailed
	if errors.Is(err, context.DeadlineExceeded) {
		res.Issues = append(res.Issues, "timeout")
		res.Notes = "probe timed out"
	} else {
		res.Issues = append(res.Issues, "transport_error")
		res.Notes = "transport error: " + err.Error()
	}
}

// doRequest выполняет один HTTP-вызов. Тело ответа читается с лимитом —
// размер сохраняемых данных ограничен на уровне домена.
func (e *Executor) doRequest(ctx context.Context, ep *domain.Endpoint, body, paymentProof string) (*http.Response, string, error) {
	var reader io.Reader
	if ep.Method == http.MethodPost && body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, ep.Method, ep.FullURL(), reader)
	if err != nil {
		return nil, "", err
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if paymentProof != "" {
		req.Header.Set(x402.HeaderPayment, paymentProof)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		// context.DeadlineExceeded прячется внутри *url.Error
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, domain.MaxStoredBodyBytes))
	if err != nil {
		return nil, "", err
	}
	return resp, string(raw), nil
}

// auditRequestBody собирает тело пробного запроса по категории эндпоинта.
// GET-пробы тела не несут.
func auditRequestBody(ep *domain.Endpoint) string {
	if ep.Method != http.MethodPost {
		return ""
	}
	var q string
	switch ep.Category {
	case domain.CategoryResearch:
		q = "Summarize the current state of decentralized agent payments in two sentences."
	case domain.CategoryMarketData:
		q = "What is the latest SOL/USDC price?"
	case domain.CategorySocial:
		q = "List three trending topics among autonomous agents today."
	case domain.CategoryUtility:
		q = "Validate this address format: 11111111111111111111111111111111"
	default:
		q = "Describe the service you provide in one sentence."
	}
	b, _ := json.Marshal(map[string]string{"query": q})
	return string(b)
}
