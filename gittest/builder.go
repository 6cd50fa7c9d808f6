// Package gittest builds small in-memory go-git repositories for unit
// tests, modeled on the teacher's on-disk testutil fixtures but backed by
// storage/memory so commit-graph and planner tests don't touch disk.
package gittest

import (
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
)

// Builder constructs a linear or branching commit history in an in-memory
// repository, one named commit at a time.
type Builder struct {
	repo    *git.Repository
	storer  *memory.Storage
	commits map[string]plumbing.Hash
	clock   time.Time
}

// NewBuilder creates an empty in-memory repository.
func NewBuilder() *Builder {
	storer := memory.NewStorage()
	repo, err := git.Init(storer, nil)
	if err != nil {
		panic(fmt.Sprintf("gittest: initializing in-memory repo: %v", err))
	}
	return &Builder{
		repo:    repo,
		storer:  storer,
		commits: map[string]plumbing.Hash{},
		clock:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Repo returns the underlying go-git repository.
func (b *Builder) Repo() *git.Repository { return b.repo }

// Commit creates a commit named name with the given message, parented on
// parents (by name; empty for a root commit), and records it under name
// for later reference by Branch/Hash. Each commit gets an empty tree and a
// monotonically increasing timestamp so commit ordering is deterministic.
func (b *Builder) Commit(name, message string, parents ...string) *Builder {
	parentHashes := make([]plumbing.Hash, 0, len(parents))
	for _, p := range parents {
		h, ok := b.commits[p]
		if !ok {
			panic(fmt.Sprintf("gittest: unknown parent commit %q", p))
		}
		parentHashes = append(parentHashes, h)
	}

	b.clock = b.clock.Add(time.Minute)
	sig := object.Signature{Name: "Test User", Email: "test@example.com", When: b.clock}

	emptyTree := &object.Tree{}
	treeObj := b.storer.NewEncodedObject()
	if err := emptyTree.Encode(treeObj); err != nil {
		panic(err)
	}
	treeHash, err := b.storer.SetEncodedObject(treeObj)
	if err != nil {
		panic(err)
	}

	commit := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      message,
		TreeHash:     treeHash,
		ParentHashes: parentHashes,
	}
	obj := b.storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		panic(err)
	}
	hash, err := b.storer.SetEncodedObject(obj)
	if err != nil {
		panic(err)
	}

	b.commits[name] = hash
	return b
}

// Branch points a local branch at the named commit.
func (b *Builder) Branch(branch, commit string) *Builder {
	hash, ok := b.commits[commit]
	if !ok {
		panic(fmt.Sprintf("gittest: unknown commit %q", commit))
	}
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(branch), hash)
	if err := b.storer.SetReference(ref); err != nil {
		panic(err)
	}
	return b
}

// RemoteBranch points a remote-tracking ref (e.g. "origin/main") at the
// named commit, simulating a previously fetched remote tip.
func (b *Builder) RemoteBranch(remote, branch, commit string) *Builder {
	hash, ok := b.commits[commit]
	if !ok {
		panic(fmt.Sprintf("gittest: unknown commit %q", commit))
	}
	name := plumbing.NewRemoteReferenceName(remote, branch)
	ref := plumbing.NewHashReference(name, hash)
	if err := b.storer.SetReference(ref); err != nil {
		panic(err)
	}
	return b
}

// HEAD attaches HEAD to the named branch.
func (b *Builder) HEAD(branch string) *Builder {
	ref := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(branch))
	if err := b.storer.SetReference(ref); err != nil {
		panic(err)
	}
	return b
}

// Hash returns the hash of a previously created commit.
func (b *Builder) Hash(name string) plumbing.Hash {
	h, ok := b.commits[name]
	if !ok {
		panic(fmt.Sprintf("gittest: unknown commit %q", name))
	}
	return h
}
