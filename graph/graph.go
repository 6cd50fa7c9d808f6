// Package graph builds the commit graph model the rest of the stack engine
// reasons over: an arena of CommitNode values addressed by integer index
// (rather than a recursive tree of owned children, which the planner would
// otherwise have to walk with pointer indirection at every step), annotated
// with the protection, WIP, and fixup-target facts the planner consumes.
package graph

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/stackforge/gitstack/gitrepo"
)

// NodeIndex addresses a CommitNode within a Graph's arena.
type NodeIndex int

// Annotations records the facts the Protection Classifier and Stack
// Discoverer attach to a commit node.
type Annotations struct {
	Protected      bool
	WIP            bool
	FixupTarget    bool
	Branches       []string
	RemoteBranches []string
	Foreign        bool

	// PatchID and PatchIDValid cache graph.PatchID's result for commits with
	// exactly one parent, computed once at Build time so the planner's
	// auto-delete pass never has to touch the repository itself. Merge and
	// root commits leave PatchIDValid false: their patch isn't a single
	// comparable diff.
	PatchID      [32]byte
	PatchIDValid bool
}

// CommitNode is one vertex of the commit graph, linked to its parents and
// children by arena index rather than by pointer.
type CommitNode struct {
	ID          gitrepo.CommitID
	Commit      *gitrepo.Commit
	Parents     []NodeIndex
	Children    []NodeIndex
	Annotations Annotations
}

// Graph is an arena of commit nodes reachable from one or more branch tips,
// truncated at protected ancestors or a configured horizon.
type Graph struct {
	nodes   []CommitNode
	byID    map[gitrepo.CommitID]NodeIndex
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{byID: map[gitrepo.CommitID]NodeIndex{}}
}

// Node returns the node at idx.
func (g *Graph) Node(idx NodeIndex) *CommitNode { return &g.nodes[idx] }

// Len returns the number of nodes in the arena.
func (g *Graph) Len() int { return len(g.nodes) }

// Lookup finds a node's index by commit id.
func (g *Graph) Lookup(id gitrepo.CommitID) (NodeIndex, bool) {
	idx, ok := g.byID[id]
	return idx, ok
}

// ensure returns the index for id, creating and fetching the commit from
// repo if this is the first time id is seen.
func (g *Graph) ensure(repo *gitrepo.Repo, id gitrepo.CommitID) (NodeIndex, error) {
	if idx, ok := g.byID[id]; ok {
		return idx, nil
	}
	c, err := repo.Commit(id)
	if err != nil {
		return 0, err
	}
	idx := NodeIndex(len(g.nodes))
	g.nodes = append(g.nodes, CommitNode{ID: id, Commit: c})
	g.byID[id] = idx
	return idx, nil
}

// BuildOptions parameterizes graph construction.
type BuildOptions struct {
	// Tips are the branch tips (and their remote-tracking counterparts) to
	// build the graph from.
	Tips []TipRef
	// ProtectedTips are commit ids known to be tips of protected branches;
	// traversal stops at (but includes) these commits.
	ProtectedTips map[gitrepo.CommitID]bool
	// HorizonCommits truncates traversal beyond this many commits per tip
	// when no protected ancestor is found first. Zero means no horizon.
	HorizonCommits int
}

// TipRef names a branch tip to seed graph construction from.
type TipRef struct {
	CommitID     gitrepo.CommitID
	LocalBranch  string // "" if this tip is a remote-tracking ref only
	RemoteBranch string // "remote/branch", "" if this is a local-only tip
}

// Build walks back from every tip in opts.Tips until a protected ancestor
// or the horizon is reached, assembling the arena and wiring parent/child
// edges. Branch and remote-branch name annotations are attached to the
// nodes at their respective tips.
func Build(ctx context.Context, repo *gitrepo.Repo, opts BuildOptions) (*Graph, error) {
	g := New()

	for _, tip := range opts.Tips {
		if err := g.walkFromTip(repo, tip, opts); err != nil {
			return nil, err
		}
	}

	for i := range g.nodes {
		node := &g.nodes[i]
		for _, pIdx := range node.Parents {
			g.nodes[pIdx].Children = append(g.nodes[pIdx].Children, NodeIndex(i))
		}
	}

	for i := range g.nodes {
		node := &g.nodes[i]
		if len(node.Parents) != 1 {
			continue // merge and root commits have no single comparable patch
		}
		id, err := PatchID(repo, node.ID)
		if err != nil {
			return nil, err
		}
		node.Annotations.PatchID = id
		node.Annotations.PatchIDValid = true
	}

	return g, nil
}

func (g *Graph) walkFromTip(repo *gitrepo.Repo, tip TipRef, opts BuildOptions) error {
	type frame struct {
		id    gitrepo.CommitID
		depth int
	}
	stack := []frame{{id: tip.CommitID}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		idx, err := g.ensure(repo, f.id)
		if err != nil {
			return err
		}
		node := &g.nodes[idx]

		if tip.LocalBranch != "" && f.depth == 0 {
			node.Annotations.Branches = appendUnique(node.Annotations.Branches, tip.LocalBranch)
		}
		if tip.RemoteBranch != "" && f.depth == 0 {
			node.Annotations.RemoteBranches = appendUnique(node.Annotations.RemoteBranches, tip.RemoteBranch)
		}

		if opts.ProtectedTips[f.id] {
			node.Annotations.Protected = true
			continue // stop traversal at protected ancestors
		}
		if opts.HorizonCommits > 0 && f.depth >= opts.HorizonCommits {
			continue
		}

		if len(node.Parents) == 0 && len(node.Commit.Parents) > 0 {
			for _, pid := range node.Commit.Parents {
				pIdx, err := g.ensure(repo, pid)
				if err != nil {
					return err
				}
				node.Parents = append(node.Parents, pIdx)
				stack = append(stack, frame{id: pid, depth: f.depth + 1})
			}
		}
	}
	return nil
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// IsFixup reports whether a commit's summary marks it as a fixup! commit,
// and returns the subject it targets.
func IsFixup(summary string) (target string, ok bool) {
	const prefix = "fixup! "
	if strings.HasPrefix(summary, prefix) {
		return strings.TrimPrefix(summary, prefix), true
	}
	return "", false
}

var wipPrefixes = []string{"WIP:", "draft:", "Draft:"}

// IsWIP reports whether a commit's summary marks it as a work-in-progress
// commit.
func IsWIP(summary string) bool {
	for _, prefix := range wipPrefixes {
		if strings.HasPrefix(summary, prefix) {
			return true
		}
	}
	return false
}

// PatchID computes a stable hash of a commit's diff against its first
// parent, ignoring author, committer, timestamps, and line numbers, so two
// commits that apply the same change carry the same id regardless of when
// or by whom they were made. It is used to detect that a pulled,
// squash-merged commit on a protected branch already contains the effect
// of a local development commit, so the local one can be auto-deleted.
//
// The diff is computed path-by-path as a unified diff over each changed
// file's blob content; the hash is taken over the sequence of
// (path, op, line-content) tuples, explicitly excluding hunk line numbers.
func PatchID(repo *gitrepo.Repo, commit gitrepo.CommitID) ([32]byte, error) {
	c, err := repo.Commit(commit)
	if err != nil {
		return [32]byte{}, err
	}
	if len(c.Parents) == 0 {
		return patchIDFromPaths(nil), nil
	}

	paths, err := changedPaths(repo, c.Parents[0], commit)
	if err != nil {
		return [32]byte{}, err
	}
	return patchIDFromPaths(paths), nil
}

type pathDiff struct {
	path string
	dmp  []diffmatchpatch.Diff
}

// changedPaths is a thin seam over the repository's tree-diff machinery;
// gitrepo exposes trees by id, so the actual blob diffing happens here
// using go-diff over each path's before/after text.
func changedPaths(repo *gitrepo.Repo, before, after gitrepo.CommitID) ([]pathDiff, error) {
	beforeFiles, err := treeFiles(repo, before)
	if err != nil {
		return nil, err
	}
	afterFiles, err := treeFiles(repo, after)
	if err != nil {
		return nil, err
	}

	paths := map[string]bool{}
	for p := range beforeFiles {
		paths[p] = true
	}
	for p := range afterFiles {
		paths[p] = true
	}

	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	dmp := diffmatchpatch.New()
	var out []pathDiff
	for _, p := range sorted {
		b, a := beforeFiles[p], afterFiles[p]
		if b == a {
			continue
		}
		diffs := dmp.DiffMain(b, a, false)
		out = append(out, pathDiff{path: p, dmp: diffs})
	}
	return out, nil
}

func patchIDFromPaths(paths []pathDiff) [32]byte {
	h := sha256.New()
	for _, pd := range paths {
		h.Write([]byte(pd.path))
		h.Write([]byte{0})
		for _, d := range pd.dmp {
			if d.Type == diffmatchpatch.DiffEqual {
				continue
			}
			fmt.Fprintf(h, "%d:%s\x00", d.Type, d.Text)
		}
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// treeFiles is implemented against gitrepo's commit/tree accessors; kept
// as a narrow seam so PatchID's hashing logic is independent of how blobs
// are actually fetched.
func treeFiles(repo *gitrepo.Repo, commit gitrepo.CommitID) (map[string]string, error) {
	return repo.TreeFiles(commit)
}
