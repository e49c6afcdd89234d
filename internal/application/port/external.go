package port

import (
	"time"

	"github.com/garyjia/expense-approval/internal/domain/workflow"
)

// TokenClaims is the identity carried by an access token
type TokenClaims struct {
	UserID    int64
	Role      workflow.Role
	Email     string
	ExpiresAt time.Time
}

// TokenIssuer issues and validates access tokens
type TokenIssuer interface {
	Issue(userID int64, role workflow.Role, email string) (string, error)
	Validate(token string) (*TokenClaims, error)
}

// WorkflowMetrics records lifecycle outcomes
type WorkflowMetrics interface {
	RecordTransition(from, to workflow.State)
	RecordSpecialReviewDecision(allApproved bool)
	RecordOperationError(op, kind string)
}
