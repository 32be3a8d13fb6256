package domain

import "time"

// Лимиты на размер сохраняемых данных пробы. Тела запроса/ответа и переписка
// обрезаются на границе рекордера, чтобы не раздувать строки в Postgres.
const (
	MaxStoredBodyBytes    = 16 * 1024
	MaxTranscriptMessages = 20
	MaxTranscriptMsgBytes = 4 * 1024
)

// TranscriptMessage — одна реплика диалога с эндпоинтом (если проба вела диалог).
type TranscriptMessage struct {
	Role      string    `json:"role"` // "auditor" или "agent"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// TestResult — исход одной пробы. Запись иммутабельна после сохранения,
// за единственным исключением счетчиков голосов (VotesUp/VotesDown).
type TestResult struct {
	ID           string `json:"id"` // UUID
	EndpointID   string `json:"endpoint_id"`
	AgentAddress string `json:"agent_address"`

	RequestBody  string `json:"request_body"`
	ResponseBody string `json:"response_body"`
	HTTPStatus   int    `json:"http_status"`

	ResponseTimeMs     int64 `json:"response_time_ms"`
	Success            bool  `json:"success"`
	CapabilityVerified bool  `json:"capability_verified"`
	QualityScore       int   `json:"quality_score"` // 0–100

	Issues []string `json:"issues"` // Машиночитаемые маркеры проблем ("timeout", "malformed_402", ...)
	Notes  string   `json:"notes"`  // Свободный комментарий аудитора

	// Заполняются только если в рамках пробы прошел платеж
	PaymentSignature  string  `json:"payment_signature,omitempty"`
	PaymentAmountUSDC float64 `json:"payment_amount_usdc,omitempty"`

	Transcript []TranscriptMessage `json:"transcript,omitempty"`

	VotesUp   int `json:"votes_up"`
	VotesDown int `json:"votes_down"`

	TestedAt time.Time `json:"tested_at"`
}

// PaymentRecord — публичная запись о совершенном платеже, ключ — подпись
// транзакции. Append-only, питает публичный аудит-фид.
type PaymentRecord struct {
	ID           string    `json:"id"`
	Signature    string    `json:"signature"` // Уникальна; защита от двойной записи
	AgentAddress string    `json:"agent_address"`
	EndpointID   string    `json:"endpoint_id"`
	AmountUSDC   float64   `json:"amount_usdc"`
	PayerAddress string    `json:"payer_address"` // Адрес аудитора
	PaidAt       time.Time `json:"paid_at"`
}
