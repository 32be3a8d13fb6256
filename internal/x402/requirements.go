package x402

/*
Пакет x402 реализует клиентскую сторону платежного рукопожатия:
вендор отвечает 402 с JSON-документом требований (массив accepts),
аудитор строит платежное доказательство и повторяет запрос с заголовком
X-PAYMENT. Успешный ответ может нести base64-заголовок X-PAYMENT-RESPONSE
с подтверждением расчета.
*/

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Заголовки протокола.
const (
	HeaderPayment         = "X-PAYMENT"
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
)

var ErrNoOffers = errors.New("x402: requirements document contains no offers")

// Offer — одно платежное предложение из массива accepts.
// MaxAmountRequired приходит строкой в целых минорных юнитах актива.
type Offer struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	Asset             string `json:"asset"`
	PayTo             string `json:"payTo"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	Extra             struct {
		FeePayer string `json:"feePayer"`
	} `json:"extra"`
}

// AmountMinorUnits разбирает требуемую сумму. Нечисловое или отрицательное
// значение считается неразбираемым предложением.
func (o *Offer) AmountMinorUnits() (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(o.MaxAmountRequired), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("x402: bad maxAmountRequired %q: %w", o.MaxAmountRequired, err)
	}
	return v, nil
}

// Requirements — тело 402-ответа.
type Requirements struct {
	Accepts []Offer `json:"accepts"`
}

// ParseRequirements разбирает тело 402-ответа.
func ParseRequirements(body []byte) (*Requirements, error) {
	var r Requirements
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("x402: malformed requirements body: %w", err)
	}
	if len(r.Accepts) == 0 {
		return nil, ErrNoOffers
	}
	return &r, nil
}

// SelectOffer выбирает предложение по фиксированному порядку предпочтений
// сетей: mainnet -> devnet -> любая сеть с префиксом "solana" -> первое
// предложение массива. Среди равнопредпочтительных побеждает первое по
// порядку массива — это бизнес-правило, а не случайность реализации.
func SelectOffer(r *Requirements) *Offer {
	preferred := []func(string) bool{
		func(n string) bool { return n == "solana" || n == "solana-mainnet" },
		func(n string) bool { return n == "solana-devnet" },
		func(n string) bool { return strings.HasPrefix(n, "solana") },
	}
	for _, match := range preferred {
		for i := range r.Accepts {
			if match(r.Accepts[i].Network) {
				return &r.Accepts[i]
			}
		}
	}
	return &r.Accepts[0]
}

// Settlement — подтверждение расчета из заголовка X-PAYMENT-RESPONSE.
type Settlement struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction"` // Подпись транзакции в леджере
	Network     string `json:"network"`
	Payer       string `json:"payer"`
}

// DecodeSettlement разбирает base64-заголовок подтверждения.
// Пустой заголовок — не ошибка: вендор не обязан его присылать.
func DecodeSettlement(header string) (*Settlement, error) {
	if header == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("x402: settlement header is not base64: %w", err)
	}
	var s Settlement
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("x402: malformed settlement payload: %w", err)
	}
	return &s, nil
}
