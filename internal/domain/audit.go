package domain

import "time"

type AuditTarget string

const (
	AuditTargetCustomer AuditTarget = "customer"
	AuditTargetDevice   AuditTarget = "device"
	AuditTargetAdmin    AuditTarget = "admin"
)

type AuditLog struct {
	ID         string                 `json:"id"`
	ActorID    string                 `json:"actorId"`
	DealerID   string                 `json:"dealerId,omitempty"`
	TargetType AuditTarget            `json:"targetType"`
	TargetID   string                 `json:"targetId"`
	Action     string                 `json:"action"`
	Details    map[string]interface{} `json:"details,omitempty"`
	CreatedAt  time.Time              `json:"createdAt"`
}

type AuditFilter struct {
	DealerID string
	TargetID string
	ActorID  string
	Limit    int
}
