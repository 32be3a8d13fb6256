package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/agent-trust-auditor/internal/domain"
)

const defaultFeedLimit = 50
const maxFeedLimit = 200

type PublicStore interface {
	RecentTests(ctx context.Context, limit int) ([]*domain.TestResult, error)
	RecentPayments(ctx context.Context, limit int) ([]*domain.PaymentRecord, error)
	GetDailyReport(ctx context.Context, agent string, date time.Time) (*domain.DailyReport, error)
	ListActiveCredentials(ctx context.Context, agent string, now time.Time) ([]*domain.Credential, error)
}

// TestFeedItem — публичная проекция пробы: адреса редактированы, сырые тела
// и транскрипт наружу не отдаются.
type TestFeedItem struct {
	ID             string   `json:"id"`
	Agent          string   `json:"agent"` // first4…last4
	Success        bool     `json:"success"`
	QualityScore   int      `json:"quality_score"`
	ResponseTimeMs int64    `json:"response_time_ms"`
	Issues         []string `json:"issues,omitempty"`
	VotesUp        int      `json:"votes_up"`
	VotesDown      int      `json:"votes_down"`
	TestedAt       string   `json:"tested_at"`
}

// PaymentFeedItem — публичная проекция платежа.
type PaymentFeedItem struct {
	Signature  string  `json:"signature"`
	Agent      string  `json:"agent"` // first4…last4
	Payer      string  `json:"payer"` // first4…last4
	AmountUSDC float64 `json:"amount_usdc"`
	PaidAt     string  `json:"paid_at"`
}

// PublicService — публичные read-пути: фиды, отчеты, документы доверия.
type PublicService struct {
	store  PublicStore
	logger *zap.Logger
}

func NewPublicService(store PublicStore, logger *zap.Logger) *PublicService {
	return &PublicService{store: store, logger: logger.Named("public")}
}

func clampFeedLimit(limit int) int {
	if limit <= 0 {
		return defaultFeedLimit
	}
	if limit > maxFeedLimit {
		return maxFeedLimit
	}
	return limit
}

// TestFeed — свежие пробы с редактированными адресами.
func (s *PublicService) TestFeed(ctx context.Context, limit int) ([]TestFeedItem, error) {
	tests, err := s.store.RecentTests(ctx, clampFeedLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("public: test feed fetch failed: %w", err)
	}

	items := make([]TestFeedItem, 0, len(tests))
	for _, t := range tests {
		items = append(items, TestFeedItem{
			ID:             t.ID,
			Agent:          domain.RedactAddress(t.AgentAddress),
			Success:        t.Success,
			QualityScore:   t.QualityScore,
			ResponseTimeMs: t.ResponseTimeMs,
			Issues:         t.Issues,
			VotesUp:        t.VotesUp,
			VotesDown:      t.VotesDown,
			TestedAt:       t.TestedAt.UTC().Format(time.RFC3339),
		})
	}
	return items, nil
}

// PaymentFeed — свежие платежи с редактированными адресами.
func (s *PublicService) PaymentFeed(ctx context.Context, limit int) ([]PaymentFeedItem, error) {
	payments, err := s.store.RecentPayments(ctx, clampFeedLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("public: payment feed fetch failed: %w", err)
	}

	items := make([]PaymentFeedItem, 0, len(payments))
	for _, p := range payments {
		items = append(items, PaymentFeedItem{
			Signature:  p.Signature,
			Agent:      domain.RedactAddress(p.AgentAddress),
			Payer:      domain.RedactAddress(p.PayerAddress),
			AmountUSDC: p.AmountUSDC,
			PaidAt:     p.PaidAt.UTC().Format(time.RFC3339),
		})
	}
	return items, nil
}

// DailyReport — отчет агента за дату или nil.
func (s *PublicService) DailyReport(ctx context.Context, agent string, date time.Time) (*domain.DailyReport, error) {
	return s.store.GetDailyReport(ctx, agent, date)
}

// Credentials — неистекшие документы агента, сгруппированные по типу.
func (s *PublicService) Credentials(ctx context.Context, agent string) (map[domain.CredentialType][]*domain.Credential, error) {
	creds, err := s.store.ListActiveCredentials(ctx, agent, time.Now())
	if err != nil {
		return nil, fmt.Errorf("public: credential fetch failed: %w", err)
	}

	grouped := map[domain.CredentialType][]*domain.Credential{}
	for _, c := range creds {
		grouped[c.Type] = append(grouped[c.Type], c)
	}
	return grouped, nil
}
