package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wardenhq/warden/pkg/models"
)

func TestRecordStepAccumulatesCredits(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordStep(false, 1_500_000) // 1.5 credits
	m.RecordStep(false, 500_000)
	m.RecordStep(true, 0)

	if got := testutil.ToFloat64(m.StepCounter.WithLabelValues("ok")); got != 2 {
		t.Errorf("ok steps = %v", got)
	}
	if got := testutil.ToFloat64(m.StepCounter.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed steps = %v", got)
	}
	if got := testutil.ToFloat64(m.StepCredits); got != 2.0 {
		t.Errorf("credits = %v, want 2.0", got)
	}
}

func TestRecordToolCallAndMarker(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordToolCall("send_email", "ok")
	m.RecordToolCall("send_email", "rejected")
	m.RecordMarker(models.SystemProcessEvents)

	if got := testutil.ToFloat64(m.ToolCallCounter.WithLabelValues("send_email", "ok")); got != 1 {
		t.Errorf("ok calls = %v", got)
	}
	if got := testutil.ToFloat64(m.ToolCallCounter.WithLabelValues("send_email", "rejected")); got != 1 {
		t.Errorf("rejected calls = %v", got)
	}
	if got := testutil.ToFloat64(m.MarkerCounter.WithLabelValues("PROCESS_EVENTS")); got != 1 {
		t.Errorf("markers = %v", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordStep(false, 100)
	m.RecordToolCall("sleep", "ok")
	m.RecordCompletion("anthropic", "claude-sonnet-4-5", "success", 0.4)
	m.RecordMessage(models.ChannelEmail, true)
	m.RecordMarker(models.SystemCreditLimitHit)
	m.RecordProactiveTrigger()
	m.RecordExpirations(3)
}

func TestRegisterQueueDepth(t *testing.T) {
	reg := prometheus.NewRegistry()
	depth := 7
	RegisterQueueDepth(reg, func() int { return depth })

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() == "warden_queue_depth" {
			if got := fam.GetMetric()[0].GetGauge().GetValue(); got != 7 {
				t.Errorf("depth = %v", got)
			}
			return
		}
	}
	t.Fatal("warden_queue_depth not registered")
}
