package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/xela07ax/agent-trust-auditor/internal/infra"
)

// ReliableClient оборачивает signer-клиент в слой надежности:
// rate limiter -> circuit breaker -> retries с умным бэкоффом.
// Пробы аудируемых эндпоинтов через него НЕ ходят — ретраи там запрещены;
// защита нужна только исходящим вызовам нашего собственного сайдкара.
type ReliableClient struct {
	next    Client
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	timeout time.Duration
}

func NewReliableClient(next Client, cfg infra.LedgerConfig) *ReliableClient {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ledger-signer",
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Более 5 ошибок подряд — открываемся (блокируем трафик)
			return counts.ConsecutiveFailures > 5
		},
	})

	return &ReliableClient{
		next:    next,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		timeout: cfg.RequestTimeout,
	}
}

func (w *ReliableClient) BuildPaymentProof(ctx context.Context, terms OfferTerms) (string, string, error) {
	var proof, signature string
	err := w.execute(ctx, func(callCtx context.Context) error {
		var callErr error
		proof, signature, callErr = w.next.BuildPaymentProof(callCtx, terms)
		return callErr
	})
	if err != nil {
		return "", "", err
	}
	return proof, signature, nil
}

func (w *ReliableClient) SendNativeTransfer(ctx context.Context, recipient string, amountMinorUnits uint64) (string, error) {
	var signature string
	err := w.execute(ctx, func(callCtx context.Context) error {
		var callErr error
		signature, callErr = w.next.SendNativeTransfer(callCtx, recipient, amountMinorUnits)
		return callErr
	})
	if err != nil {
		return "", err
	}
	return signature, nil
}

func (w *ReliableClient) execute(ctx context.Context, call func(context.Context) error) error {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit exceeded: %w", err)
	}

	// 2. Circuit Breaker
	_, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			// Умный расчет задержки
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Если сайдкар вернул ThrottleError (считал Retry-After)
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}

				// Иначе (сетевой лаг, 500-ка) — стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, w.timeout)
			defer cancel()
			return call(tCtx)
		})

		return nil, retryErr
	})

	return err
}
