package dupguard

import (
	"context"
	"errors"
	"testing"

	"github.com/wardenhq/warden/internal/storage"
	"github.com/wardenhq/warden/pkg/models"
)

func sendOutbound(t *testing.T, stores *storage.StoreSet, agentID, to, body string) {
	t.Helper()
	msg := &models.Message{
		AgentID:        agentID,
		ConversationID: "c1",
		Channel:        models.ChannelEmail,
		ToAddress:      to,
		Body:           body,
		IsOutbound:     true,
	}
	if err := stores.Messages.Create(context.Background(), msg); err != nil {
		t.Fatalf("create message: %v", err)
	}
}

func TestCheckNoHistory(t *testing.T) {
	stores := storage.NewMemoryStores()
	g := New(stores.Messages, nil, nil)

	v, _, err := g.Check(context.Background(), "a1", models.ChannelEmail, "", "hello", 0)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if v != nil {
		t.Errorf("no history should pass, got %+v", v)
	}
}

func TestCheckExactDuplicate(t *testing.T) {
	stores := storage.NewMemoryStores()
	g := New(stores.Messages, nil, nil)
	sendOutbound(t, stores, "a1", "x@example.com", "Your invoice is late.")

	v, _, err := g.Check(context.Background(), "a1", models.ChannelEmail, "", "Your invoice is late.", 0)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if v == nil || v.Reason != "exact" {
		t.Fatalf("v = %+v, want exact rejection", v)
	}
	payload := v.Payload()
	if payload["status"] != "error" || payload["duplicate_detected"] != true || payload["auto_sleep_ok"] != true {
		t.Errorf("payload = %v", payload)
	}
}

func TestCheckNearDuplicateLevenshtein(t *testing.T) {
	stores := storage.NewMemoryStores()
	g := New(stores.Messages, nil, nil)
	sendOutbound(t, stores, "a1", "x@example.com",
		"Your invoice number 41 is now overdue, please arrange payment today.")

	v, _, err := g.Check(context.Background(), "a1", models.ChannelEmail, "",
		"Your invoice number 41 is now overdue, please arrange payment today!", 0)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if v == nil || v.Reason != "similarity" {
		t.Fatalf("v = %+v, want similarity rejection", v)
	}
	if v.Similarity < 0.97 {
		t.Errorf("similarity = %v, want >= 0.97", v.Similarity)
	}
	if _, ok := v.Payload()["similarity"]; !ok {
		t.Error("similarity payload should include the score")
	}
}

func TestCheckDistinctBodyPasses(t *testing.T) {
	stores := storage.NewMemoryStores()
	g := New(stores.Messages, nil, nil)
	sendOutbound(t, stores, "a1", "x@example.com", "Your invoice is late.")

	v, _, err := g.Check(context.Background(), "a1", models.ChannelEmail, "",
		"Thanks for the payment, receipt attached.", 0)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if v != nil {
		t.Errorf("distinct body should pass, got %+v", v)
	}
}

func TestCheckEmbeddingPath(t *testing.T) {
	stores := storage.NewMemoryStores()
	embed := func(_ context.Context, input []string) ([][]float32, int64, error) {
		// Identical unit vectors: cosine 1.0 -> similarity 1.0.
		return [][]float32{{1, 0}, {1, 0}}, 7, nil
	}
	g := New(stores.Messages, embed, nil)
	sendOutbound(t, stores, "a1", "x@example.com", "first body")

	v, cost, err := g.Check(context.Background(), "a1", models.ChannelEmail, "", "second body", 0)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if v == nil || v.Reason != "similarity" || v.Similarity != 1.0 {
		t.Fatalf("v = %+v, want similarity 1.0 via embeddings", v)
	}
	if cost != 7 {
		t.Errorf("cost = %d, want embedding cost 7", cost)
	}
}

func TestCheckEmbeddingFailureFallsBack(t *testing.T) {
	stores := storage.NewMemoryStores()
	embed := func(_ context.Context, _ []string) ([][]float32, int64, error) {
		return nil, 0, errors.New("tier unreachable")
	}
	g := New(stores.Messages, embed, nil)
	sendOutbound(t, stores, "a1", "x@example.com", "completely different text here")

	v, cost, err := g.Check(context.Background(), "a1", models.ChannelEmail, "", "short reply", 0)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if v != nil {
		t.Errorf("dissimilar text should pass via fallback, got %+v", v)
	}
	if cost != 0 {
		t.Errorf("failed embedding should not bill, cost = %d", cost)
	}
}

func TestLevenshteinRatio(t *testing.T) {
	if r := LevenshteinRatio("abc", "abc"); r != 1.0 {
		t.Errorf("identical ratio = %v", r)
	}
	if r := LevenshteinRatio("", ""); r != 1.0 {
		t.Errorf("empty ratio = %v", r)
	}
	if r := LevenshteinRatio("abcd", "abce"); r != 0.875 {
		t.Errorf("one-edit ratio = %v, want 0.875", r)
	}
}
