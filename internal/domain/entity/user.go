package entity

import (
	"time"

	"github.com/garyjia/expense-approval/internal/domain/workflow"
)

// User is a person who submits or reviews expense reports
type User struct {
	ID        int64         `json:"id"`
	Name      string        `json:"name"`
	Email     string        `json:"email"`
	Role      workflow.Role `json:"role"`
	CreatedAt time.Time     `json:"created_at"`
}
