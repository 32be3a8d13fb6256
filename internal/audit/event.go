package audit

import "time"

// OperatorAction — одна запись операторского следа: кто, что и над чем
// сделал через консоль. След append-only и пишется пачками мимо горячего пути.
type OperatorAction struct {
	ID         string    `json:"id"`          // UUID события
	OperatorID string    `json:"operator_id"` // Кто делал
	Action     string    `json:"action"`      // suppress, unsuppress, deactivate, run_audit, ...
	Target     string    `json:"target"`      // Адрес агента, ID эндпоинта, дата отчета
	Detail     string    `json:"detail"`      // Свободный контекст действия
	Timestamp  time.Time `json:"timestamp"`
}

// Имена действий, попадающих в след.
const (
	ActionSuppress      = "suppress"
	ActionUnsuppress    = "unsuppress"
	ActionRunAudit      = "run_audit"
	ActionRunReport     = "run_report"
	ActionFraudSignal   = "fraud_signal"
	ActionVote          = "vote"
	ActionDebugTransfer = "debug_transfer"
)
