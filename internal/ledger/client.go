package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// OfferTerms — точные условия выбранного 402-предложения, по которым
// строится доказательство. Сумма всегда в целых минорных юнитах.
type OfferTerms struct {
	Scheme           string `json:"scheme"`
	Network          string `json:"network"`
	Asset            string `json:"asset"`
	PayTo            string `json:"pay_to"`
	FeePayer         string `json:"fee_payer"`
	AmountMinorUnits uint64 `json:"amount_minor_units"`
}

// Client — потребляемый интерфейс леджера. Подписание транзакций живет в
// отдельном signer-сайдкаре; ядро умеет только просить доказательство
// или перевод и получать назад непрозрачные байты/подпись.
type Client interface {
	// BuildPaymentProof строит платежное доказательство под условия offer.
	// Возвращает base64-строку для заголовка X-PAYMENT и подпись транзакции.
	BuildPaymentProof(ctx context.Context, terms OfferTerms) (proof string, signature string, err error)

	// SendNativeTransfer отправляет нативный перевод (только отладочный путь,
	// исполнитель проб его не использует).
	SendNativeTransfer(ctx context.Context, recipient string, amountMinorUnits uint64) (signature string, err error)
}

// SignerClient — HTTP-клиент к signer-сайдкару.
type SignerClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func NewSignerClient(baseURL string, timeout time.Duration, logger *zap.Logger) *SignerClient {
	return &SignerClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.Named("ledger-signer"),
	}
}

type proofResponse struct {
	Proof     string `json:"proof"`
	Signature string `json:"signature"`
}

type transferResponse struct {
	Signature string `json:"signature"`
}

func (c *SignerClient) BuildPaymentProof(ctx context.Context, terms OfferTerms) (string, string, error) {
	var out proofResponse
	if err := c.post(ctx, "/v1/proofs", terms, &out); err != nil {
		return "", "", fmt.Errorf("ledger: build payment proof: %w", err)
	}
	if out.Proof == "" {
		return "", "", fmt.Errorf("ledger: signer returned empty proof")
	}
	return out.Proof, out.Signature, nil
}

func (c *SignerClient) SendNativeTransfer(ctx context.Context, recipient string, amountMinorUnits uint64) (string, error) {
	req := map[string]interface{}{
		"recipient":          recipient,
		"amount_minor_units": amountMinorUnits,
	}
	var out transferResponse
	if err := c.post(ctx, "/v1/transfers", req, &out); err != nil {
		return "", fmt.Errorf("ledger: native transfer: %w", err)
	}
	return out.Signature, nil
}

// post выполняет JSON-вызов к сайдкару. 429 транслируется в ThrottleError,
// чтобы ретраи выше по стеку уважали Retry-After.
func (c *SignerClient) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 2 * time.Second
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return &ThrottleError{RetryAfter: retryAfter, Cause: fmt.Errorf("signer returned 429")}
	}

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("signer returned %d: %s", resp.StatusCode, raw)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
