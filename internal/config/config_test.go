package config

import (
	"strings"
	"testing"
	"time"

	"github.com/wardenhq/warden/pkg/models"
)

func TestParseBackfillsDefaults(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  http_port: 9999\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.HTTPPort != 9999 {
		t.Errorf("http_port = %d, want 9999", cfg.Server.HTTPPort)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("host default = %q", cfg.Server.Host)
	}
	if cfg.Engine.StepBudget != 30 {
		t.Errorf("step budget default = %d, want 30", cfg.Engine.StepBudget)
	}
	if cfg.Credits.HardLimitMultiplier != 2*models.CreditUnit {
		t.Errorf("hard limit multiplier default = %d", cfg.Credits.HardLimitMultiplier)
	}
	if cfg.Proactive.Cooldown != 72*time.Hour {
		t.Errorf("proactive cooldown default = %v", cfg.Proactive.Cooldown)
	}
}

func TestParseEmptyDocumentIsDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	def := DefaultConfig()
	if cfg.Database.Driver != def.Database.Driver {
		t.Errorf("driver = %q, want %q", cfg.Database.Driver, def.Database.Driver)
	}
}

func TestParseEnvExpansion(t *testing.T) {
	t.Setenv("WARDEN_TEST_DB_URL", "postgres://test")
	cfg, err := Parse([]byte("database:\n  driver: postgres\n  url: ${WARDEN_TEST_DB_URL}\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Database.URL != "postgres://test" {
		t.Errorf("url = %q", cfg.Database.URL)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	if _, err := Parse([]byte("serverx:\n  port: 1\n")); err == nil {
		t.Error("unknown top-level field should fail")
	}
}

func TestValidateRejectsBadDriver(t *testing.T) {
	_, err := Parse([]byte("database:\n  driver: mysql\n"))
	if err == nil || !strings.Contains(err.Error(), "database.driver") {
		t.Errorf("err = %v, want driver validation error", err)
	}
}

func TestValidateRejectsInvertedSlider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Credits.SliderMin = cfg.Credits.SliderMax + 1
	if err := cfg.Validate(); err == nil {
		t.Error("inverted slider bounds should fail validation")
	}
}

func TestDailyCreditConfigProjection(t *testing.T) {
	cfg := DefaultConfig()
	dc := cfg.DailyCreditConfig()
	if dc.PlanCreditMultiplier != models.CreditUnit {
		t.Errorf("plan multiplier = %d, want unit", dc.PlanCreditMultiplier)
	}
	if dc.DuplicateThreshold != 0.97 {
		t.Errorf("duplicate threshold = %v", dc.DuplicateThreshold)
	}
}
