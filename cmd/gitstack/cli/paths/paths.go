// Package paths centralizes the on-disk locations gitstack writes under the
// repository's git directory.
package paths

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// GitStackDir is the directory (relative to the git common directory, not
// the worktree) where gitstack keeps its own state: logs, the lock file,
// and the reference snapshot store.
const GitStackDir = "gitstack"

// LogsSubdir is where per-invocation log files are written.
const LogsSubdir = "logs"

// SnapshotsSubdir is where the reference snapshot store keeps its entries.
const SnapshotsSubdir = "snapshots"

// LockFileName is the advisory lock file an invocation holds for its
// duration, mirroring git's own index.lock convention.
const LockFileName = "stack.lock"

var (
	gitDirMu       sync.RWMutex
	gitDirCache    string
	gitDirCacheDir string
)

// GitCommonDir returns the repository's common git directory (the one
// shared by all worktrees), resolved via `git rev-parse --git-common-dir`.
// The result is cached per working directory.
func GitCommonDir() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = ""
	}

	gitDirMu.RLock()
	if gitDirCache != "" && gitDirCacheDir == cwd {
		cached := gitDirCache
		gitDirMu.RUnlock()
		return cached, nil
	}
	gitDirMu.RUnlock()

	ctx := context.Background()
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--git-common-dir")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to resolve git common directory: %w", err)
	}
	dir := strings.TrimSpace(string(out))
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(cwd, dir)
	}
	dir, err = filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to make git common directory absolute: %w", err)
	}

	gitDirMu.Lock()
	gitDirCache = dir
	gitDirCacheDir = cwd
	gitDirMu.Unlock()

	return dir, nil
}

// ClearCache clears the cached git common directory. Useful in tests that
// change the working directory between repositories.
func ClearCache() {
	gitDirMu.Lock()
	gitDirCache = ""
	gitDirCacheDir = ""
	gitDirMu.Unlock()
}

// StateDir returns (and creates) the gitstack state directory under the
// git common directory.
func StateDir() (string, error) {
	gitDir, err := GitCommonDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(gitDir, GitStackDir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create gitstack state directory: %w", err)
	}
	return dir, nil
}

// LogsDir returns (and creates) the directory log files are written to.
func LogsDir() (string, error) {
	base, err := StateDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, LogsSubdir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create logs directory: %w", err)
	}
	return dir, nil
}

// SnapshotsDir returns (and creates) the directory the reference snapshot
// store persists entries in.
func SnapshotsDir() (string, error) {
	base, err := StateDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, SnapshotsSubdir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create snapshots directory: %w", err)
	}
	return dir, nil
}

// LockFilePath returns the path to the advisory lock file, without
// creating it.
func LockFilePath() (string, error) {
	gitDir, err := GitCommonDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(gitDir, GitStackDir, LockFileName), nil
}
