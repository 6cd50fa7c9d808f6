// Package validation provides input validation functions for gitstack.
// This package has no dependencies to avoid import cycles.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// pathSafeRegex matches alphanumeric characters, underscores, and hyphens only.
// Used to validate identifiers that will be used in file paths.
var pathSafeRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// snapshotLabelRegex additionally allows colons and dots, matching the
// "gitstack:<op>:<rfc3339>:<uuid>" label format.
var snapshotLabelRegex = regexp.MustCompile(`^[a-zA-Z0-9_:.-]+$`)

// ValidateOperation validates that an operation name is safe to embed in a
// log file name (e.g. "rebase-20260803T120000Z.log").
func ValidateOperation(op string) error {
	if op == "" {
		return errors.New("operation name cannot be empty")
	}
	if !pathSafeRegex.MatchString(op) {
		return fmt.Errorf("invalid operation name %q: must be alphanumeric with underscores/hyphens only", op)
	}
	return nil
}

// ValidateSnapshotLabel validates that a snapshot label contains only safe
// characters for use as a file name component in the reference snapshot
// store, preventing path traversal.
func ValidateSnapshotLabel(label string) error {
	if label == "" {
		return errors.New("snapshot label cannot be empty")
	}
	if strings.ContainsAny(label, "/\\") {
		return fmt.Errorf("invalid snapshot label %q: contains path separators", label)
	}
	if !snapshotLabelRegex.MatchString(label) {
		return fmt.Errorf("invalid snapshot label %q: must be alphanumeric with underscores/hyphens/colons/dots only", label)
	}
	return nil
}

// ValidateBranchName performs a conservative subset of git's
// check-ref-format rules, sufficient to reject branch names that would
// confuse the planner or the on-disk ref store before they ever reach
// go-git.
func ValidateBranchName(name string) error {
	if name == "" {
		return errors.New("branch name cannot be empty")
	}
	if strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") {
		return fmt.Errorf("invalid branch name %q: cannot start or end with a slash", name)
	}
	if strings.HasSuffix(name, ".lock") {
		return fmt.Errorf("invalid branch name %q: cannot end with .lock", name)
	}
	if strings.Contains(name, "..") || strings.Contains(name, "//") {
		return fmt.Errorf("invalid branch name %q: cannot contain .. or //", name)
	}
	if strings.HasSuffix(name, ".") {
		return fmt.Errorf("invalid branch name %q: cannot end with a dot", name)
	}
	if strings.ContainsAny(name, " ~^:?*[\\\t\n") {
		return fmt.Errorf("invalid branch name %q: contains a disallowed character", name)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == "" {
			return fmt.Errorf("invalid branch name %q: empty path segment", name)
		}
		if strings.HasPrefix(seg, ".") {
			return fmt.Errorf("invalid branch name %q: path segment %q cannot start with a dot", name, seg)
		}
	}
	return nil
}
