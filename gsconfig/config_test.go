package gsconfig

import (
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Stack != StackCurrent {
		t.Errorf("got stack %q, want %q", cfg.Stack, StackCurrent)
	}
	if cfg.PushRemote != "origin" || cfg.PullRemote != "origin" {
		t.Errorf("got push/pull remote %q/%q, want origin/origin", cfg.PushRemote, cfg.PullRemote)
	}
	if cfg.AutoFixup != FixupIgnore {
		t.Errorf("got auto-fixup %q, want %q", cfg.AutoFixup, FixupIgnore)
	}
	if cfg.AutoRepair {
		t.Error("expected auto-repair to default false")
	}
	if cfg.HasProtectCommitCount || cfg.HasProtectCommitAge || cfg.HasAutoBaseCommitCount {
		t.Error("expected count/age/horizon limits to default unset")
	}
}

func TestFromRawParsesAllKeys(t *testing.T) {
	raw := map[string]string{
		"stack.protected-branch":       "main, release/*",
		"stack.protect-commit-count":   "5",
		"stack.protect-commit-age":     "10days",
		"stack.auto-base-commit-count": "200",
		"stack.stack":                  "descendants",
		"stack.push-remote":            "upstream",
		"stack.pull-remote":            "fork",
		"stack.show-format":            "commits",
		"stack.show-stacked":           "true",
		"stack.auto-fixup":             "squash",
		"stack.auto-repair":            "true",
		"stack.gpgSign":                "true",
	}

	cfg, err := FromRaw(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.ProtectedBranch) != 2 || cfg.ProtectedBranch[0] != "main" || cfg.ProtectedBranch[1] != "release/*" {
		t.Errorf("got protected branches %v", cfg.ProtectedBranch)
	}
	if !cfg.HasProtectCommitCount || cfg.ProtectCommitCount != 5 {
		t.Errorf("got protect-commit-count %d/%v", cfg.ProtectCommitCount, cfg.HasProtectCommitCount)
	}
	if !cfg.HasProtectCommitAge || cfg.ProtectCommitAge != 10*24*time.Hour {
		t.Errorf("got protect-commit-age %v/%v", cfg.ProtectCommitAge, cfg.HasProtectCommitAge)
	}
	if !cfg.HasAutoBaseCommitCount || cfg.AutoBaseCommitCount != 200 {
		t.Errorf("got auto-base-commit-count %d/%v", cfg.AutoBaseCommitCount, cfg.HasAutoBaseCommitCount)
	}
	if cfg.Stack != StackDescendants {
		t.Errorf("got stack %q, want descendants", cfg.Stack)
	}
	if cfg.PushRemote != "upstream" || cfg.PullRemote != "fork" {
		t.Errorf("got push/pull remote %q/%q", cfg.PushRemote, cfg.PullRemote)
	}
	if cfg.ShowFormat != ShowCommits || !cfg.ShowStacked {
		t.Errorf("got show-format %q show-stacked %v", cfg.ShowFormat, cfg.ShowStacked)
	}
	if cfg.AutoFixup != FixupSquash || !cfg.AutoRepair {
		t.Errorf("got auto-fixup %q auto-repair %v", cfg.AutoFixup, cfg.AutoRepair)
	}
	if !cfg.HasGPGSign || !cfg.GPGSign {
		t.Errorf("got gpgSign %v/%v", cfg.GPGSign, cfg.HasGPGSign)
	}
}

func TestFromRawRejectsUnknownEnumValues(t *testing.T) {
	cases := map[string]string{
		"stack.stack":       "everything",
		"stack.show-format": "rainbow",
		"stack.auto-fixup":  "explode",
	}
	for key, val := range cases {
		if _, err := FromRaw(map[string]string{key: val}); err == nil {
			t.Errorf("expected error for %s=%s", key, val)
		}
	}
}

func TestFromRawRejectsNonIntegerCount(t *testing.T) {
	if _, err := FromRaw(map[string]string{"stack.protect-commit-count": "many"}); err == nil {
		t.Error("expected error for non-integer protect-commit-count")
	}
}

func TestParseDurationAcceptsDaysAndWeeks(t *testing.T) {
	d, err := parseDuration("2weeks")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != 14*24*time.Hour {
		t.Errorf("got %v, want 14 days", d)
	}
}

func TestParseDurationRejectsGarbage(t *testing.T) {
	if _, err := parseDuration("soon"); err == nil {
		t.Error("expected error for unparseable duration")
	}
}
