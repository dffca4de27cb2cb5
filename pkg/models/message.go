package models

import (
	"strings"
	"time"
)

// Channel identifies a communication transport.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
	ChannelSlack   Channel = "slack"
	ChannelDiscord Channel = "discord"
	ChannelWeb     Channel = "web"
	ChannelOther   Channel = "other"
)

// Message is an inbound or outbound communication tied to an agent and a
// conversation. Body is plain text; transports render it.
type Message struct {
	ID             string  `json:"id"`
	AgentID        string  `json:"agent_id"`
	ConversationID string  `json:"conversation_id"`
	Channel        Channel `json:"channel"`
	FromAddress    string  `json:"from_address"`
	ToAddress      string  `json:"to_address"`
	Subject        string  `json:"subject,omitempty"`
	Body           string  `json:"body"`
	IsOutbound     bool    `json:"is_outbound"`
	// AttachmentIDs refer to filesystem nodes owned by the agent.
	AttachmentIDs []string `json:"attachment_ids,omitempty"`
	// Seq is monotonically increasing per conversation.
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
	// DeliveryError records the last transport failure, if any.
	DeliveryError string `json:"delivery_error,omitempty"`
}

// CommsEndpoint is a (channel, address) pair, unique case-insensitively on
// the pair. Agent-owned endpoints are the "from" side for outbound.
type CommsEndpoint struct {
	ID        string    `json:"id"`
	Channel   Channel   `json:"channel"`
	Address   string    `json:"address"`
	AgentID   string    `json:"agent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NormalizedAddress returns the case-folded address used for uniqueness.
func (e *CommsEndpoint) NormalizedAddress() string {
	return strings.ToLower(strings.TrimSpace(e.Address))
}

// ParticipantRole distinguishes the agent side from external parties.
type ParticipantRole string

const (
	RoleAgent    ParticipantRole = "AGENT"
	RoleExternal ParticipantRole = "EXTERNAL"
)

// Conversation groups messages by (agent, channel, address).
type Conversation struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Channel   Channel   `json:"channel"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

// Participant binds an endpoint to a conversation role.
type Participant struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	EndpointID     string          `json:"endpoint_id"`
	Role           ParticipantRole `json:"role"`
}

// AllowlistPolicy controls who may converse with an agent.
type AllowlistPolicy string

const (
	// AllowlistDefault permits the owner and their contacts only.
	AllowlistDefault AllowlistPolicy = "DEFAULT"
	// AllowlistManual permits explicit allowlist entries only.
	AllowlistManual AllowlistPolicy = "MANUAL"
)

// AllowlistEntry is an explicit allow for MANUAL policy agents.
type AllowlistEntry struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Channel   Channel   `json:"channel"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}
