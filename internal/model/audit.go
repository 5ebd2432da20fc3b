package model

import "time"

type AuditActor struct {
	UserID string `json:"userId,omitempty"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	IP     string `json:"ip,omitempty"`
}

type AuditEntry struct {
	Action     string     `json:"action"`
	OccurredAt time.Time  `json:"occurredAt"`
	Actor      AuditActor `json:"actor"`
	Status     string     `json:"status"`
	Resource   string     `json:"resource,omitempty"`
	Before     any        `json:"before,omitempty"`
	After      any        `json:"after,omitempty"`
	Error      string     `json:"error,omitempty"`
}

type AuditQuery struct {
	Page    int
	Limit   int
	Action  string
	ActorID string
	Status  string
	From    string
	To      string
}

type AuditListData struct {
	Items []AuditEntry `json:"items"`
}

const (
	AuditActionRegister     = "auth.register"
	AuditActionLogin        = "auth.login"
	AuditActionRefresh      = "auth.refresh"
	AuditActionLogout       = "auth.logout"
	AuditActionStatusChange = "user.status"

	AuditStatusSuccess = "success"
	AuditStatusFailure = "failure"
)
