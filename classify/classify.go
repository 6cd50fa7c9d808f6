// Package classify implements the Protection Classifier: the five rules
// that mark commits as protected, plus the branch-name glob matcher used
// by the "protected-branch tip" rule and by the Stack Discoverer's base
// selection.
package classify

import (
	"path"
	"strings"
	"time"

	"github.com/stackforge/gitstack/graph"
)

// BranchGlobs matches branch names against a set of gitignore-style
// patterns read from stack.protected-branch. Patterns are tried in order;
// a later pattern overrides an earlier match, and a "!"-prefixed pattern
// negates a previous match, mirroring the precedence rules a .gitignore
// file uses. This is a deliberately smaller matcher than gitignore's full
// semantics (no directory-only "/" trailing rule beyond simple prefix
// matching, no "**" double-star); stack.protected-branch patterns in
// practice are short branch-name globs like "main" or "release/*".
type BranchGlobs struct {
	patterns []globPattern
}

type globPattern struct {
	pattern string
	negate  bool
}

// NewBranchGlobs builds a matcher from raw glob patterns.
func NewBranchGlobs(patterns []string) *BranchGlobs {
	bg := &BranchGlobs{}
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.HasPrefix(p, "!") {
			bg.patterns = append(bg.patterns, globPattern{pattern: p[1:], negate: true})
		} else {
			bg.patterns = append(bg.patterns, globPattern{pattern: p})
		}
	}
	return bg
}

// Match reports whether name matches the configured protected-branch
// globs, honoring negation and directory-prefix patterns (a pattern ending
// in "/" matches name or matches as a path prefix of name).
func (bg *BranchGlobs) Match(name string) bool {
	matched := false
	for _, gp := range bg.patterns {
		if matchesPattern(gp.pattern, name) {
			matched = !gp.negate
		}
	}
	return matched
}

func matchesPattern(pattern, name string) bool {
	if strings.HasSuffix(pattern, "/") {
		prefix := strings.TrimSuffix(pattern, "/")
		return name == prefix || strings.HasPrefix(name, prefix+"/")
	}
	if ok, err := path.Match(pattern, name); err == nil && ok {
		return true
	}
	// Support glob segments within a path, e.g. "release/*" matching
	// "release/v1", the way path.Match alone would refuse ("/" isn't a
	// wildcard target but pattern segments still align one-to-one).
	patternParts := strings.Split(pattern, "/")
	nameParts := strings.Split(name, "/")
	if len(patternParts) != len(nameParts) {
		return false
	}
	for i := range patternParts {
		ok, err := path.Match(patternParts[i], nameParts[i])
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// Rules holds the tunable thresholds the Protection Classifier's rules 3-5
// read; all are optional (a zero value disables that rule).
type Rules struct {
	ProtectedBranches    *BranchGlobs
	ForeignCommitterCheck bool // default true; never applies to HEAD
	// CurrentUserEmail identifies the local committer identity (read once
	// per invocation from git config, per spec: no cache across
	// invocations).
	CurrentUserEmail string
	MaxCommitAge     time.Duration // zero means unlimited
	MaxCommitCount   int           // zero means unlimited
}

// Classify applies the five protection rules to every node in g, setting
// Annotations.Protected accordingly. selectedBranches names branches the
// user explicitly selected on the command line (e.g. via --base/--onto or
// a positional branch argument); rules 3-5 never apply to commits whose
// only branch annotation is a selected branch, and rule 3 (foreign
// committer) never applies to HEAD regardless of selection.
func Classify(g *graph.Graph, rules Rules, headID string, selectedBranches map[string]bool) {
	for i := 0; i < g.Len(); i++ {
		node := g.Node(graph.NodeIndex(i))
		if node.Annotations.Protected {
			propagateProtectionToAncestors(g, graph.NodeIndex(i))
			continue
		}

		isHead := string(node.ID) == headID
		isSelected := isAnySelected(node.Annotations.Branches, selectedBranches)

		if rules.ProtectedBranches != nil {
			for _, b := range node.Annotations.Branches {
				if rules.ProtectedBranches.Match(b) {
					node.Annotations.Protected = true
				}
			}
		}

		if isSelected {
			continue
		}

		if rules.ForeignCommitterCheck && !isHead && rules.CurrentUserEmail != "" {
			if node.Commit.AuthorEmail != rules.CurrentUserEmail {
				node.Annotations.Foreign = true
				node.Annotations.Protected = true
			}
		}

		if rules.MaxCommitAge > 0 {
			if time.Since(node.Commit.AuthorTime) > rules.MaxCommitAge {
				node.Annotations.Protected = true
			}
		}
	}

	if rules.MaxCommitCount > 0 {
		applyCommitCountRule(g, rules.MaxCommitCount, selectedBranches)
	}

	// Rule 2: reachable-from-protected-tip. Applied last, as a closure
	// pass, since it depends on the first pass's direct-match results.
	propagateProtectionFromTips(g)
}

func isAnySelected(branches []string, selected map[string]bool) bool {
	for _, b := range branches {
		if selected[b] {
			return true
		}
	}
	return false
}

// propagateProtectionToAncestors marks every ancestor of a protected node
// as protected too (rule 2: reachable from a protected tip).
func propagateProtectionToAncestors(g *graph.Graph, idx graph.NodeIndex) {
	stack := []graph.NodeIndex{idx}
	seen := map[graph.NodeIndex]bool{}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		node := g.Node(cur)
		node.Annotations.Protected = true
		stack = append(stack, node.Parents...)
	}
}

func propagateProtectionFromTips(g *graph.Graph) {
	for i := 0; i < g.Len(); i++ {
		node := g.Node(graph.NodeIndex(i))
		if node.Annotations.Protected {
			propagateProtectionToAncestors(g, graph.NodeIndex(i))
		}
	}
}

// applyCommitCountRule marks a development branch protected once the
// length of its unprotected commit run (from tip back to the nearest
// protected ancestor) reaches maxCount, skipping branches the user
// explicitly selected.
func applyCommitCountRule(g *graph.Graph, maxCount int, selected map[string]bool) {
	for i := 0; i < g.Len(); i++ {
		node := g.Node(graph.NodeIndex(i))
		if len(node.Annotations.Branches) == 0 {
			continue
		}
		if isAnySelected(node.Annotations.Branches, selected) {
			continue
		}
		if node.Annotations.Protected {
			continue
		}

		count := 0
		cur := graph.NodeIndex(i)
		for {
			n := g.Node(cur)
			if n.Annotations.Protected {
				break
			}
			count++
			if len(n.Parents) == 0 {
				break
			}
			cur = n.Parents[0]
		}
		if count >= maxCount {
			node.Annotations.Protected = true
		}
	}
}
