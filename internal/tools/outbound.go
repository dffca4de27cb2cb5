package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wardenhq/warden/internal/dupguard"
	"github.com/wardenhq/warden/internal/storage"
	"github.com/wardenhq/warden/pkg/models"
)

// Transport delivers an outbound message on its channel. Implementations
// wrap email and SMS providers; delivery errors are recorded on the
// message, not raised to the model.
type Transport interface {
	Send(ctx context.Context, msg *models.Message) error
}

// Outbox persists and delivers outbound messages behind the duplicate
// guard and the allowlist.
type Outbox struct {
	messages      storage.MessageStore
	conversations storage.ConversationStore
	allowlists    storage.AllowlistStore
	guard         *dupguard.Guard
	transports    map[models.Channel]Transport
	threshold     func(planKey string) float64
	logger        *slog.Logger
	now           func() time.Time
}

// NewOutbox creates an Outbox. threshold resolves the per-plan duplicate
// similarity ceiling; nil uses the default.
func NewOutbox(messages storage.MessageStore, conversations storage.ConversationStore, allowlists storage.AllowlistStore, guard *dupguard.Guard, transports map[models.Channel]Transport, threshold func(planKey string) float64, logger *slog.Logger) *Outbox {
	if threshold == nil {
		threshold = func(string) float64 { return dupguard.DefaultThreshold }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Outbox{
		messages:      messages,
		conversations: conversations,
		allowlists:    allowlists,
		guard:         guard,
		transports:    transports,
		threshold:     threshold,
		logger:        logger,
		now:           time.Now,
	}
}

// Send runs allowlist and duplicate checks, persists the message, and
// hands it to the channel transport. A guard rejection returns the
// violation payload with the embedding cost; other failures return errors.
func (o *Outbox) Send(ctx context.Context, agent *models.Agent, channel models.Channel, to, subject, body string) (payload map[string]any, creditsCost int64, err error) {
	if agent.AllowlistPolicy == models.AllowlistManual {
		allowed, err := o.recipientAllowed(ctx, agent.ID, channel, to)
		if err != nil {
			return nil, 0, err
		}
		if !allowed {
			return map[string]any{
				"status":  "error",
				"message": fmt.Sprintf("recipient %s is not on the allowlist", to),
			}, 0, nil
		}
	}

	violation, cost, err := o.guard.Check(ctx, agent.ID, channel, to, body, o.threshold(agent.PlanKey))
	if err != nil {
		return nil, 0, err
	}
	if violation != nil {
		return violation.Payload(), cost, nil
	}

	conv, err := o.conversations.FindOrCreate(ctx, agent.ID, channel, to)
	if err != nil {
		return nil, cost, fmt.Errorf("resolve conversation: %w", err)
	}
	msg := &models.Message{
		AgentID:        agent.ID,
		ConversationID: conv.ID,
		Channel:        channel,
		ToAddress:      to,
		Subject:        subject,
		Body:           body,
		IsOutbound:     true,
		CreatedAt:      o.now().UTC(),
	}
	if err := o.messages.Create(ctx, msg); err != nil {
		return nil, cost, fmt.Errorf("persist outbound: %w", err)
	}

	transport, ok := o.transports[channel]
	if !ok {
		return nil, cost, fmt.Errorf("no transport for channel %s", channel)
	}
	if err := transport.Send(ctx, msg); err != nil {
		msg.DeliveryError = err.Error()
		if uerr := o.messages.Update(ctx, msg); uerr != nil {
			o.logger.Error("record delivery error", "error", uerr)
		}
		return map[string]any{
			"status":  "error",
			"message": "delivery failed: " + err.Error(),
		}, cost, nil
	}

	return map[string]any{"status": "ok", "message_id": msg.ID, "seq": msg.Seq}, cost, nil
}

func (o *Outbox) recipientAllowed(ctx context.Context, agentID string, channel models.Channel, to string) (bool, error) {
	entries, err := o.allowlists.List(ctx, agentID)
	if err != nil {
		return false, fmt.Errorf("load allowlist: %w", err)
	}
	for _, e := range entries {
		if e.Channel == channel && strings.EqualFold(strings.TrimSpace(e.Address), strings.TrimSpace(to)) {
			return true, nil
		}
	}
	return false, nil
}

type sendEmailParams struct {
	To      string `json:"to" jsonschema:"required,description=Recipient email address"`
	Subject string `json:"subject" jsonschema:"required,description=Email subject line"`
	Body    string `json:"body" jsonschema:"required,description=Plain-text email body"`
}

// NewSendEmailTool builds the send_email tool over the outbox.
func NewSendEmailTool(outbox *Outbox) *Tool {
	return &Tool{
		Name:        "send_email",
		Description: "Send a plain-text email from the agent's address.",
		Schema:      GenerateSchema(&sendEmailParams{}),
		Handler: func(ctx context.Context, req *Request) (any, error) {
			to, _ := req.Params["to"].(string)
			subject, _ := req.Params["subject"].(string)
			body, _ := req.Params["body"].(string)
			payload, cost, err := outbox.Send(ctx, req.Agent, models.ChannelEmail, to, subject, body)
			req.AddCost(cost)
			if err != nil {
				return nil, err
			}
			return payload, nil
		},
	}
}

type sendSMSParams struct {
	To   string `json:"to" jsonschema:"required,description=Recipient phone number in E.164 form"`
	Body string `json:"body" jsonschema:"required,description=Message text"`
}

// NewSendSMSTool builds the send_sms tool over the outbox.
func NewSendSMSTool(outbox *Outbox) *Tool {
	return &Tool{
		Name:        "send_sms",
		Description: "Send an SMS from the agent's number.",
		Schema:      GenerateSchema(&sendSMSParams{}),
		Guards: []Guard{
			func(_ context.Context, req *Request) map[string]any {
				body, _ := req.Params["body"].(string)
				if len(body) > 1600 {
					return map[string]any{"status": "error", "message": "sms body exceeds 1600 characters"}
				}
				return nil
			},
		},
		Handler: func(ctx context.Context, req *Request) (any, error) {
			to, _ := req.Params["to"].(string)
			body, _ := req.Params["body"].(string)
			payload, cost, err := outbox.Send(ctx, req.Agent, models.ChannelSMS, to, "", body)
			req.AddCost(cost)
			if err != nil {
				return nil, err
			}
			return payload, nil
		},
	}
}

type rememberParams struct {
	Name  string `json:"name" jsonschema:"required,description=Variable name (letters digits underscores)"`
	Value string `json:"value" jsonschema:"required,description=Value to store"`
	Note  string `json:"note,omitempty" jsonschema:"description=One-line summary shown in the catalog"`
}

// NewRememberTool builds the remember tool for explicit variable storage.
func NewRememberTool(vars storage.VariableStore) *Tool {
	return &Tool{
		Name:        "remember",
		Description: "Store a named value for later reference as $name in tool parameters.",
		Schema:      GenerateSchema(&rememberParams{}),
		Handler: func(ctx context.Context, req *Request) (any, error) {
			name, _ := req.Params["name"].(string)
			value, _ := req.Params["value"].(string)
			note, _ := req.Params["note"].(string)
			if !models.VariableNamePattern.MatchString(name) || len(name) > models.MaxVariableNameLen {
				return map[string]any{"status": "error", "message": "invalid variable name"}, nil
			}
			stored, err := storeVariable(ctx, vars, req.Agent.ID, "", name, value, false, note)
			if err != nil {
				return nil, err
			}
			return map[string]any{"status": "ok", "variable": "$" + stored}, nil
		},
	}
}
