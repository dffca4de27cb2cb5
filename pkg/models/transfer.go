package models

import "time"

// TransferStatus is the lifecycle of an agent transfer invite.
type TransferStatus string

const (
	TransferPending   TransferStatus = "PENDING"
	TransferAccepted  TransferStatus = "ACCEPTED"
	TransferDeclined  TransferStatus = "DECLINED"
	TransferCancelled TransferStatus = "CANCELLED"
)

// TransferInvite is a pending transfer of an agent to a different user email.
type TransferInvite struct {
	ID         string         `json:"id"`
	AgentID    string         `json:"agent_id"`
	FromUserID string         `json:"from_user_id"`
	ToEmail    string         `json:"to_email"`
	Status     TransferStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	ResolvedAt time.Time      `json:"resolved_at,omitempty"`
}
