package main

import (
	"errors"
	"testing"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/evals"
)

func TestRootCommandTree(t *testing.T) {
	root := buildRootCmd()
	want := map[string]bool{
		"serve":                    false,
		"prune-prompt-archives":    false,
		"run-evals":                false,
		"soft-expire-agents":       false,
		"sync-schedules":           false,
		"create-initial-superuser": false,
	}
	for _, cmd := range root.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestExitCodeMapping(t *testing.T) {
	if got := exitCode(errors.New("boom")); got != 1 {
		t.Errorf("plain error exit = %d", got)
	}
	if got := exitCode(&exitError{code: evals.ExitInvalidArg}); got != 2 {
		t.Errorf("invalid-arg exit = %d", got)
	}
	wrapped := &exitError{code: evals.ExitPartialFailure, err: errors.New("one scenario failed")}
	if got := exitCode(wrapped); got != 1 {
		t.Errorf("partial-failure exit = %d", got)
	}
	if wrapped.Error() != "one scenario failed" {
		t.Errorf("exitError message = %q", wrapped.Error())
	}
}

func TestBuildLoggerLevels(t *testing.T) {
	// Unknown levels fall back to info rather than failing startup.
	for _, level := range []string{"debug", "info", "warn", "error", "bogus", ""} {
		if logger := buildLogger(config.LoggingConfig{Level: level, Format: "text"}); logger == nil {
			t.Fatalf("nil logger for level %q", level)
		}
	}
	if logger := buildLogger(config.LoggingConfig{Format: "json"}); logger == nil {
		t.Fatal("nil logger for json format")
	}
}
