package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/wardenhq/warden/internal/dupguard"
	"github.com/wardenhq/warden/internal/storage"
	"github.com/wardenhq/warden/pkg/models"
)

type fakeTransport struct {
	sent []*models.Message
	fail error
}

func (f *fakeTransport) Send(_ context.Context, msg *models.Message) error {
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, msg)
	return nil
}

func newTestOutbox(stores *storage.StoreSet, transport Transport) *Outbox {
	guard := dupguard.New(stores.Messages, nil, nil)
	transports := map[models.Channel]Transport{
		models.ChannelEmail: transport,
		models.ChannelSMS:   transport,
	}
	return NewOutbox(stores.Messages, stores.Conversations, stores.Allowlists, guard, transports, nil, nil)
}

func TestOutboxSendPersistsAndDelivers(t *testing.T) {
	stores := storage.NewMemoryStores()
	transport := &fakeTransport{}
	outbox := newTestOutbox(stores, transport)

	payload, cost, err := outbox.Send(context.Background(), testAgent(),
		models.ChannelEmail, "x@example.com", "Hi", "Invoice attached.")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if payload["status"] != "ok" {
		t.Fatalf("payload = %v", payload)
	}
	if cost != 0 {
		t.Errorf("cost = %d", cost)
	}
	if len(transport.sent) != 1 || transport.sent[0].Body != "Invoice attached." {
		t.Errorf("transport got %+v", transport.sent)
	}

	last, err := stores.Messages.LastOutbound(context.Background(), "a1", models.ChannelEmail, "")
	if err != nil {
		t.Fatalf("last outbound: %v", err)
	}
	if last.Subject != "Hi" || !last.IsOutbound {
		t.Errorf("persisted = %+v", last)
	}
}

func TestOutboxRejectsDuplicate(t *testing.T) {
	stores := storage.NewMemoryStores()
	transport := &fakeTransport{}
	outbox := newTestOutbox(stores, transport)
	ctx := context.Background()

	if _, _, err := outbox.Send(ctx, testAgent(), models.ChannelEmail, "x@example.com", "Hi", "Same body."); err != nil {
		t.Fatalf("first send: %v", err)
	}
	payload, _, err := outbox.Send(ctx, testAgent(), models.ChannelEmail, "x@example.com", "Hi again", "Same body.")
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	if payload["duplicate_detected"] != true || payload["duplicate_reason"] != "exact" {
		t.Errorf("payload = %v", payload)
	}
	if len(transport.sent) != 1 {
		t.Errorf("duplicate must not reach the transport, sent = %d", len(transport.sent))
	}
}

func TestOutboxManualAllowlist(t *testing.T) {
	stores := storage.NewMemoryStores()
	transport := &fakeTransport{}
	outbox := newTestOutbox(stores, transport)
	ctx := context.Background()

	agent := testAgent()
	agent.AllowlistPolicy = models.AllowlistManual

	payload, _, err := outbox.Send(ctx, agent, models.ChannelEmail, "x@example.com", "Hi", "Body.")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if payload["status"] != "error" {
		t.Error("unlisted recipient must be refused")
	}

	if err := stores.Allowlists.Add(ctx, &models.AllowlistEntry{
		AgentID: "a1", Channel: models.ChannelEmail, Address: "X@Example.com",
	}); err != nil {
		t.Fatalf("allowlist add: %v", err)
	}
	payload, _, err = outbox.Send(ctx, agent, models.ChannelEmail, "x@example.com", "Hi", "Body.")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if payload["status"] != "ok" {
		t.Errorf("case-insensitive allowlist match should pass, got %v", payload)
	}
}

func TestOutboxDeliveryFailureRecorded(t *testing.T) {
	stores := storage.NewMemoryStores()
	transport := &fakeTransport{fail: errors.New("smtp refused")}
	outbox := newTestOutbox(stores, transport)

	payload, _, err := outbox.Send(context.Background(), testAgent(),
		models.ChannelEmail, "x@example.com", "Hi", "Body.")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if payload["status"] != "error" {
		t.Errorf("payload = %v", payload)
	}
	last, err := stores.Messages.LastOutbound(context.Background(), "a1", models.ChannelEmail, "")
	if err != nil {
		t.Fatalf("last outbound: %v", err)
	}
	if last.DeliveryError == "" {
		t.Error("delivery error should be recorded on the message")
	}
}

func TestSendEmailToolThroughDispatcher(t *testing.T) {
	stores := storage.NewMemoryStores()
	transport := &fakeTransport{}
	outbox := newTestOutbox(stores, transport)
	d := newTestDispatcher(t, stores, NewSendEmailTool(outbox))

	out, err := d.Dispatch(context.Background(), testAgent(), "s1", "send_email",
		[]byte(`{"to":"x@example.com","subject":"Hi","body":"Invoice attached."}`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if out.Status != "ok" {
		t.Fatalf("outcome = %+v", out.Payload)
	}
	if len(transport.sent) != 1 {
		t.Errorf("sent = %d", len(transport.sent))
	}
}

func TestSendSMSGuardCapsLength(t *testing.T) {
	stores := storage.NewMemoryStores()
	outbox := newTestOutbox(stores, &fakeTransport{})
	d := newTestDispatcher(t, stores, NewSendSMSTool(outbox))

	long := make([]byte, 1601)
	for i := range long {
		long[i] = 'a'
	}
	out, err := d.Dispatch(context.Background(), testAgent(), "s1", "send_sms",
		[]byte(`{"to":"+15551234567","body":"`+string(long)+`"}`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if out.Status != "error" {
		t.Error("oversized sms must be blocked by the guard")
	}
}

func TestRememberTool(t *testing.T) {
	stores := storage.NewMemoryStores()
	d := newTestDispatcher(t, stores, NewRememberTool(stores.Variables))

	out, err := d.Dispatch(context.Background(), testAgent(), "s1", "remember",
		[]byte(`{"name":"api_base","value":"https://api.example.com","note":"service base url"}`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if out.Status != "ok" {
		t.Fatalf("outcome = %+v", out.Payload)
	}
	v, err := stores.Variables.GetByName(context.Background(), "a1", "api_base")
	if err != nil {
		t.Fatalf("variable: %v", err)
	}
	if v.Value != "https://api.example.com" || v.Summary != "service base url" {
		t.Errorf("variable = %+v", v)
	}

	out, err = d.Dispatch(context.Background(), testAgent(), "s1", "remember",
		[]byte(`{"name":"bad name!","value":"x"}`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if out.Payload.(map[string]any)["status"] != "error" {
		t.Error("invalid name must be refused")
	}
}
