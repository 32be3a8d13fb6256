package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-trust-auditor/internal/audit"
	"github.com/xela07ax/agent-trust-auditor/internal/domain"
	"github.com/xela07ax/agent-trust-auditor/internal/infra"
	"github.com/xela07ax/agent-trust-auditor/internal/ledger"
)

var ErrTestNotFound = errors.New("test result not found")

// ActionLogger — асинхронный операторский след (реализуется audit.Trail).
type ActionLogger interface {
	Log(action audit.OperatorAction)
}

type OpsStore interface {
	InsertFraudSignal(ctx context.Context, s *domain.FraudSignal) error
	GetTestResult(ctx context.Context, id string) (*domain.TestResult, error)
	AddTestVote(ctx context.Context, id string, up bool) error
}

// JobTrigger — примитив "запусти джобу сейчас" (реализуется пакетом jobs).
type JobTrigger interface {
	TriggerAudit() bool
	TriggerDaily(day time.Time) bool
}

// OpsService — операторские действия консоли: паузы агентов, ручные запуски
// джобов, прием фрод-сигналов, голоса и отладочный перевод.
type OpsService struct {
	rdb    *redis.Client
	store  OpsStore
	jobs   JobTrigger
	ledger ledger.Client
	trail  ActionLogger
	logger *zap.Logger
}

func NewOpsService(rdb *redis.Client, store OpsStore, jobs JobTrigger, ledgerClient ledger.Client, trail ActionLogger, logger *zap.Logger) *OpsService {
	return &OpsService{
		rdb:    rdb,
		store:  store,
		jobs:   jobs,
		ledger: ledgerClient,
		trail:  trail,
		logger: logger.Named("ops"),
	}
}

// record отправляет событие в операторский след; вызов не блокирует хендлер.
func (s *OpsService) record(operatorID, action, target, detail string) {
	if s.trail == nil {
		return
	}
	s.trail.Log(audit.OperatorAction{
		ID:         uuid.New().String(),
		OperatorID: operatorID,
		Action:     action,
		Target:     target,
		Detail:     detail,
	})
}

// SetSuppressed ставит/снимает паузу аудита агента. Состояние персистится в
// Redis Set, решение транслируется подписчикам через Pub/Sub.
func (s *OpsService) SetSuppressed(ctx context.Context, agentAddress string, on bool, operatorID string) error {
	var err error
	if on {
		err = s.rdb.SAdd(ctx, infra.RedisKeySuppressedAgents, agentAddress).Err()
	} else {
		err = s.rdb.SRem(ctx, infra.RedisKeySuppressedAgents, agentAddress).Err()
	}
	if err != nil {
		return fmt.Errorf("ops: suppression state write failed: %w", err)
	}

	signal := agentAddress + ":off"
	if on {
		signal = agentAddress + ":on"
	}
	if err := s.rdb.Publish(ctx, infra.RedisChanSuppression, signal).Err(); err != nil {
		// Set уже обновлен; слушатели дочитают его при переподключении
		s.logger.Warn("suppression signal publish failed", zap.Error(err))
	}

	action := audit.ActionUnsuppress
	if on {
		action = audit.ActionSuppress
	}
	s.record(operatorID, action, agentAddress, "")

	s.logger.Info("suppression changed by operator",
		zap.String("agent", agentAddress),
		zap.Bool("suppressed", on),
		zap.String("operator", operatorID))
	return nil
}

// ReportFraudSignal принимает улику. Записи append-only.
func (s *OpsService) ReportFraudSignal(ctx context.Context, agentAddress string,
	signalType domain.FraudSignalType, severity domain.FraudSeverity, evidence, operatorID string) (*domain.FraudSignal, error) {

	switch signalType {
	case domain.FraudSelfDealing, domain.FraudFakeVolume, domain.FraudPriceManipulation,
		domain.FraudImpersonation, domain.FraudOtherSignal:
	default:
		return nil, fmt.Errorf("ops: unknown signal type %q", signalType)
	}
	switch severity {
	case domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh, domain.SeverityCritical:
	default:
		return nil, fmt.Errorf("ops: unknown severity %q", severity)
	}

	sig := &domain.FraudSignal{
		ID:           uuid.New().String(),
		AgentAddress: agentAddress,
		SignalType:   signalType,
		Severity:     severity,
		Evidence:     evidence,
		DetectedAt:   time.Now().UTC(),
	}
	if err := s.store.InsertFraudSignal(ctx, sig); err != nil {
		return nil, fmt.Errorf("ops: fraud signal insert failed: %w", err)
	}
	s.record(operatorID, audit.ActionFraudSignal, agentAddress, string(signalType)+"/"+string(severity))
	return sig, nil
}

// Vote — единственная разрешенная мутация записи пробы.
func (s *OpsService) Vote(ctx context.Context, testID string, up bool, operatorID string) error {
	t, err := s.store.GetTestResult(ctx, testID)
	if err != nil {
		return err
	}
	if t == nil {
		return ErrTestNotFound
	}
	if err := s.store.AddTestVote(ctx, testID, up); err != nil {
		return err
	}
	detail := "down"
	if up {
		detail = "up"
	}
	s.record(operatorID, audit.ActionVote, testID, detail)
	return nil
}

// RunAudit ставит внеочередной часовой цикл.
func (s *OpsService) RunAudit(operatorID string) bool {
	s.logger.Info("manual audit run requested", zap.String("operator", operatorID))
	queued := s.jobs.TriggerAudit()
	if queued {
		s.record(operatorID, audit.ActionRunAudit, "", "")
	}
	return queued
}

// RunReport ставит внеочередную компиляцию отчетов за дату.
func (s *OpsService) RunReport(day time.Time, operatorID string) bool {
	s.logger.Info("manual report run requested",
		zap.Time("date", day), zap.String("operator", operatorID))
	queued := s.jobs.TriggerDaily(day)
	if queued {
		s.record(operatorID, audit.ActionRunReport, day.Format("2006-01-02"), "")
	}
	return queued
}

// DebugTransfer — отладочный нативный перевод мимо платежного цикла.
// Проходит через тот же надежностный конвейер леджер-клиента.
func (s *OpsService) DebugTransfer(ctx context.Context, recipient string, amountMinorUnits uint64, operatorID string) (string, error) {
	signature, err := s.ledger.SendNativeTransfer(ctx, recipient, amountMinorUnits)
	if err != nil {
		return "", fmt.Errorf("ops: native transfer failed: %w", err)
	}
	s.record(operatorID, audit.ActionDebugTransfer, recipient, signature)
	s.logger.Info("debug transfer sent",
		zap.String("recipient", recipient),
		zap.Uint64("amount_minor_units", amountMinorUnits),
		zap.String("signature", signature),
		zap.String("operator", operatorID))
	return signature, nil
}
