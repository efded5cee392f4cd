package models

import "time"

// AuditAction is the closed set of operations the audit trail records.
type AuditAction string

const (
	AuditActionRead   AuditAction = "read"
	AuditActionWrite  AuditAction = "write"
	AuditActionRotate AuditAction = "rotate"
	AuditActionDelete AuditAction = "delete"
)

// AuditEntry is an immutable record of one access or mutation attempt against
// a secret. Entries are appended for failures as well as successes, so audit
// completeness never depends on the success path.
type AuditEntry struct {
	SecretID     string      `json:"secretId"`
	UserID       string      `json:"userId,omitempty"`
	Action       AuditAction `json:"action"`
	Timestamp    time.Time   `json:"timestamp"`
	Success      bool        `json:"success"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
}
