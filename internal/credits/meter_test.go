package credits

import (
	"context"
	"testing"
	"time"

	"github.com/wardenhq/warden/internal/storage"
	"github.com/wardenhq/warden/pkg/models"
)

func testPlans(planKey string) models.DailyCreditConfig {
	return models.DailyCreditConfig{
		PlanKey:              planKey,
		SliderMin:            1 * models.CreditUnit,
		SliderMax:            100 * models.CreditUnit,
		HardLimitMultiplier:  2 * models.CreditUnit,
		PlanCreditMultiplier: models.CreditUnit,
	}
}

func seedSteps(t *testing.T, stores *storage.StoreSet, agentID string, at time.Time, costs ...int64) {
	t.Helper()
	for i, cost := range costs {
		step := &models.Step{
			AgentID:     agentID,
			CreditsCost: cost,
			CreatedAt:   at.Add(time.Duration(i) * time.Minute),
		}
		if err := stores.Steps.Create(context.Background(), step); err != nil {
			t.Fatalf("create step: %v", err)
		}
	}
}

func TestDailyStatusLimits(t *testing.T) {
	stores := storage.NewMemoryStores()
	m := NewMeter(stores.Steps, testPlans)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	target := int64(5 * models.CreditUnit)
	agent := &models.Agent{ID: "a1", PlanKey: "free", DailyCreditTarget: &target}

	seedSteps(t, stores, "a1", now.Add(-2*time.Hour),
		2*models.CreditUnit, 2*models.CreditUnit)
	// Yesterday's spend does not count.
	seedSteps(t, stores, "a1", now.Add(-30*time.Hour), 50*models.CreditUnit)

	st, err := m.DailyStatus(context.Background(), agent, now, time.UTC)
	if err != nil {
		t.Fatalf("daily status: %v", err)
	}
	if st.Usage != 4*models.CreditUnit {
		t.Errorf("usage = %d, want 4 credits", st.Usage)
	}
	if st.SoftExceeded() {
		t.Error("soft limit should not be exceeded at 4/5")
	}
	if *st.HardLimit != 10*models.CreditUnit {
		t.Errorf("hard limit = %d, want 10 credits", *st.HardLimit)
	}

	seedSteps(t, stores, "a1", now.Add(-time.Hour), 1*models.CreditUnit)
	st, err = m.DailyStatus(context.Background(), agent, now, time.UTC)
	if err != nil {
		t.Fatalf("daily status: %v", err)
	}
	if !st.SoftExceeded() {
		t.Error("soft limit should trip at 5/5")
	}
	if st.HardExceeded() {
		t.Error("hard limit should not trip at 5/10")
	}

	seedSteps(t, stores, "a1", now.Add(-30*time.Minute), 5*models.CreditUnit)
	st, err = m.DailyStatus(context.Background(), agent, now, time.UTC)
	if err != nil {
		t.Fatalf("daily status: %v", err)
	}
	if !st.HardExceeded() {
		t.Error("hard limit should trip at 10/10")
	}
}

func TestDailyStatusUnlimited(t *testing.T) {
	stores := storage.NewMemoryStores()
	m := NewMeter(stores.Steps, testPlans)
	agent := &models.Agent{ID: "a1", PlanKey: "free"}

	seedSteps(t, stores, "a1", time.Now().Add(-time.Hour), 1000*models.CreditUnit)
	st, err := m.DailyStatus(context.Background(), agent, time.Now(), nil)
	if err != nil {
		t.Fatalf("daily status: %v", err)
	}
	if st.SoftExceeded() || st.HardExceeded() {
		t.Error("nil target means unlimited")
	}
}

func TestLimitsClampToSlider(t *testing.T) {
	m := NewMeter(nil, testPlans)
	tiny := int64(1) // below slider_min of 1 credit
	soft, hard := m.limits(&models.Agent{PlanKey: "free", DailyCreditTarget: &tiny})
	if *soft != 1*models.CreditUnit {
		t.Errorf("soft = %d, want clamped to slider min", *soft)
	}
	if *hard != 2*models.CreditUnit {
		t.Errorf("hard = %d, want 2x soft", *hard)
	}
}

func TestDayWindowLocalMidnight(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	now := time.Date(2026, 8, 24, 20, 0, 0, 0, time.UTC) // Aug 25 06:00 local
	start, end := DayWindow(now, loc)
	if start.Day() != 25 || start.Hour() != 0 {
		t.Errorf("start = %v, want local midnight Aug 25", start)
	}
	if !end.Equal(start.AddDate(0, 0, 1)) {
		t.Errorf("end = %v", end)
	}
}

func TestRefresherProjections(t *testing.T) {
	stores := storage.NewMemoryStores()
	r := NewRefresher(stores.Agents, stores.Steps, stores.BurnRates, nil)
	now := time.Now().UTC()
	r.now = func() time.Time { return now }

	seedSteps(t, stores, "a1", now.Add(-10*time.Minute), 30*models.CreditUnit)

	snap, err := r.RefreshAgent(context.Background(), "a1", 30)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if snap.WindowTotal != 30*models.CreditUnit {
		t.Errorf("window total = %d", snap.WindowTotal)
	}
	if snap.PerHour != 60*models.CreditUnit {
		t.Errorf("per hour = %d, want 60 credits", snap.PerHour)
	}
	if snap.PerDay != 24*60*models.CreditUnit {
		t.Errorf("per day = %d", snap.PerDay)
	}

	got, err := stores.BurnRates.Get(context.Background(), models.ScopeAgent, "a1", 30)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if got.WindowTotal != snap.WindowTotal {
		t.Errorf("persisted snapshot mismatch")
	}
}
