// Package gsconfig defines the typed configuration contract the stack
// engine consumes. Reading git-config scoped files with full
// system/global/local/worktree precedence is an external concern; this
// package only type-checks raw string values and exposes a thin reference
// loader for tests.
package gsconfig

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"

	"github.com/stackforge/gitstack/errs"
)

// FixupPolicy controls how fixup! commits are handled during a rebase.
type FixupPolicy string

const (
	FixupIgnore FixupPolicy = "ignore"
	FixupMove   FixupPolicy = "move"
	FixupSquash FixupPolicy = "squash"
)

// StackSelector controls which stacks an invocation acts on.
type StackSelector string

const (
	StackCurrent    StackSelector = "current"
	StackDependents StackSelector = "dependents"
	StackDescendants StackSelector = "descendants"
	StackAll        StackSelector = "all"
)

// ShowFormat is an external-renderer hint; the core never renders itself
// beyond Plan.Describe's plain-text fallback.
type ShowFormat string

const (
	ShowSilent        ShowFormat = "silent"
	ShowBranches      ShowFormat = "branches"
	ShowBranchCommits ShowFormat = "branch-commits"
	ShowCommits       ShowFormat = "commits"
	ShowDebug         ShowFormat = "debug"
	ShowList          ShowFormat = "list"
)

// Config is the enumerated record every stack-engine component reads from.
// All fields are present; an external loader is responsible for filling
// them from git-config sources.
type Config struct {
	ProtectedBranch       []string
	ProtectCommitCount    int
	HasProtectCommitCount bool
	ProtectCommitAge      time.Duration
	HasProtectCommitAge   bool
	AutoBaseCommitCount   int
	HasAutoBaseCommitCount bool
	Stack                 StackSelector
	PushRemote            string
	PullRemote            string
	ShowFormat            ShowFormat
	ShowStacked           bool
	AutoFixup             FixupPolicy
	AutoRepair            bool
	GPGSign               bool
	HasGPGSign            bool
}

// Default returns a Config populated with spec-mandated defaults:
// push-remote/pull-remote default to "origin", stack defaults to "current",
// auto-fixup defaults to "ignore", auto-repair defaults to false, and the
// count/age/horizon limits default to unset (no limit).
func Default() *Config {
	return &Config{
		Stack:      StackCurrent,
		PushRemote: "origin",
		PullRemote: "origin",
		ShowFormat: ShowBranches,
		AutoFixup:  FixupIgnore,
		AutoRepair: false,
	}
}

// FromRaw type-checks and parses raw string config values (as read from any
// git-config source) into a Config, starting from Default() for any key not
// present in raw.
func FromRaw(raw map[string]string) (*Config, error) {
	cfg := Default()

	if v, ok := raw["stack.protected-branch"]; ok && v != "" {
		cfg.ProtectedBranch = strings.Split(v, ",")
		for i := range cfg.ProtectedBranch {
			cfg.ProtectedBranch[i] = strings.TrimSpace(cfg.ProtectedBranch[i])
		}
	}

	if v, ok := raw["stack.protect-commit-count"]; ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, &errs.Config{Key: "stack.protect-commit-count", Reason: "not an integer"}
		}
		cfg.ProtectCommitCount = n
		cfg.HasProtectCommitCount = true
	}

	if v, ok := raw["stack.protect-commit-age"]; ok && v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return nil, &errs.Config{Key: "stack.protect-commit-age", Reason: err.Error()}
		}
		cfg.ProtectCommitAge = d
		cfg.HasProtectCommitAge = true
	}

	if v, ok := raw["stack.auto-base-commit-count"]; ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, &errs.Config{Key: "stack.auto-base-commit-count", Reason: "not an integer"}
		}
		cfg.AutoBaseCommitCount = n
		cfg.HasAutoBaseCommitCount = true
	}

	if v, ok := raw["stack.stack"]; ok && v != "" {
		sel := StackSelector(v)
		switch sel {
		case StackCurrent, StackDependents, StackDescendants, StackAll:
			cfg.Stack = sel
		default:
			return nil, &errs.Config{Key: "stack.stack", Reason: fmt.Sprintf("unknown selector %q", v)}
		}
	}

	if v, ok := raw["stack.push-remote"]; ok && v != "" {
		cfg.PushRemote = v
	}
	if v, ok := raw["stack.pull-remote"]; ok && v != "" {
		cfg.PullRemote = v
	}

	if v, ok := raw["stack.show-format"]; ok && v != "" {
		sf := ShowFormat(v)
		switch sf {
		case ShowSilent, ShowBranches, ShowBranchCommits, ShowCommits, ShowDebug, ShowList:
			cfg.ShowFormat = sf
		default:
			return nil, &errs.Config{Key: "stack.show-format", Reason: fmt.Sprintf("unknown format %q", v)}
		}
	}

	if v, ok := raw["stack.show-stacked"]; ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, &errs.Config{Key: "stack.show-stacked", Reason: "not a boolean"}
		}
		cfg.ShowStacked = b
	}

	if v, ok := raw["stack.auto-fixup"]; ok && v != "" {
		fp := FixupPolicy(v)
		switch fp {
		case FixupIgnore, FixupMove, FixupSquash:
			cfg.AutoFixup = fp
		default:
			return nil, &errs.Config{Key: "stack.auto-fixup", Reason: fmt.Sprintf("unknown policy %q", v)}
		}
	}

	if v, ok := raw["stack.auto-repair"]; ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, &errs.Config{Key: "stack.auto-repair", Reason: "not a boolean"}
		}
		cfg.AutoRepair = b
	}

	if v, ok := raw["stack.gpgSign"]; ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, &errs.Config{Key: "stack.gpgSign", Reason: "not a boolean"}
		}
		cfg.GPGSign = b
		cfg.HasGPGSign = true
	}

	return cfg, nil
}

// parseDuration parses durations like "10days" in addition to what
// time.ParseDuration accepts natively, since git-config authors commonly
// write "10days" / "2weeks" for protect-commit-age.
func parseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	units := []struct {
		suffix string
		unit   time.Duration
	}{
		{"days", 24 * time.Hour},
		{"day", 24 * time.Hour},
		{"weeks", 7 * 24 * time.Hour},
		{"week", 7 * 24 * time.Hour},
	}
	for _, u := range units {
		if strings.HasSuffix(s, u.suffix) {
			n, err := strconv.Atoi(strings.TrimSuffix(s, u.suffix))
			if err != nil {
				continue
			}
			return time.Duration(n) * u.unit, nil
		}
	}
	return 0, fmt.Errorf("invalid duration %q", s)
}

// LoadFromRepo reads stack.* values from the repository's go-git config and
// parses them via FromRaw. This is the reference implementation used by
// tests and is not the production configuration loader contract (that
// remains an external collaborator).
func LoadFromRepo(repo *git.Repository) (*Config, error) {
	gitCfg, err := repo.Config()
	if err != nil {
		return nil, fmt.Errorf("reading repository config: %w", err)
	}

	section := gitCfg.Raw.Section("stack")
	raw := make(map[string]string)
	for _, opt := range section.Options {
		raw["stack."+opt.Key] = opt.Value
	}
	// protect-commit-count and others with multi-value semantics come through
	// as options too; protected-branch may be repeated, so join with commas.
	if protected := section.OptionAll("protected-branch"); len(protected) > 0 {
		raw["stack.protected-branch"] = strings.Join(protected, ",")
	}

	return FromRaw(raw)
}
