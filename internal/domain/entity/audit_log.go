package entity

import (
	"time"

	"github.com/garyjia/expense-approval/internal/domain/workflow"
)

// AuditLog represents one entry in the audit trail of an expense report
type AuditLog struct {
	ID         int64          `json:"id"`
	ReportID   int64          `json:"report_id"`
	Action     string         `json:"action"`
	FromStatus workflow.State `json:"from_status,omitempty"`
	ToStatus   workflow.State `json:"to_status"`
	ActorID    int64          `json:"actor_id"`
	ActorName  string         `json:"actor_name"`
	Comment    string         `json:"comment,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
