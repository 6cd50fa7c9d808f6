// Package pushgate implements the Push Gate: the readiness predicate that
// decides whether a development branch is safe to push, and the lease
// metadata the executor needs to push it without clobbering someone else's
// work.
package pushgate

import (
	"github.com/stackforge/gitstack/gitrepo"
	"github.com/stackforge/gitstack/graph"
)

// Readiness explains why a branch is or isn't ready to push.
type Readiness struct {
	Branch string
	Ready  bool
	Reason string // populated when Ready is false
}

// PushIntent is the lease-bearing push request pushgate emits for each
// ready branch.
type PushIntent struct {
	Branch         string
	PushRemote     string
	ExpectedRemote gitrepo.CommitID
}

// Evaluate computes readiness for every development branch tip in g. A
// branch is ready iff: it is not protected, it has no development-branch
// child (nothing stacks on top of it that hasn't itself been evaluated),
// it carries no WIP commits above its base, and its tip differs from the
// push-remote's currently known tip. Fixup commits never disqualify a
// branch on their own.
func Evaluate(g *graph.Graph, pushRemote string) []Readiness {
	var out []Readiness
	for i := 0; i < g.Len(); i++ {
		node := g.Node(graph.NodeIndex(i))
		for _, branch := range node.Annotations.Branches {
			out = append(out, evaluateBranch(g, graph.NodeIndex(i), branch, pushRemote))
		}
	}
	return out
}

func evaluateBranch(g *graph.Graph, tip graph.NodeIndex, branch, pushRemote string) Readiness {
	node := g.Node(tip)

	if node.Annotations.Protected {
		return Readiness{Branch: branch, Ready: false, Reason: "branch is protected"}
	}

	if hasDevelopmentBranchChild(g, tip, branch) {
		return Readiness{Branch: branch, Ready: false, Reason: "branch has a dependent development branch"}
	}

	if hasWIPAboveBase(g, tip) {
		return Readiness{Branch: branch, Ready: false, Reason: "branch has unresolved WIP commits"}
	}

	remoteTip := findRemoteTip(g, pushRemote, branch)
	if remoteTip == node.ID {
		return Readiness{Branch: branch, Ready: false, Reason: "already up to date with push remote"}
	}

	return Readiness{Branch: branch, Ready: true}
}

func hasDevelopmentBranchChild(g *graph.Graph, tip graph.NodeIndex, ownName string) bool {
	for _, childIdx := range g.Node(tip).Children {
		child := g.Node(childIdx)
		if child.Annotations.Protected {
			continue
		}
		for _, b := range child.Annotations.Branches {
			if b != ownName {
				return true
			}
		}
		if hasDevelopmentBranchChild(g, childIdx, ownName) {
			return true
		}
	}
	return false
}

func hasWIPAboveBase(g *graph.Graph, tip graph.NodeIndex) bool {
	cur := tip
	for {
		node := g.Node(cur)
		if node.Annotations.Protected {
			return false
		}
		if node.Annotations.WIP {
			return true
		}
		if len(node.Parents) == 0 {
			return false
		}
		cur = node.Parents[0]
	}
}

func findRemoteTip(g *graph.Graph, remote, branch string) gitrepo.CommitID {
	name := remote + "/" + branch
	for i := 0; i < g.Len(); i++ {
		node := g.Node(graph.NodeIndex(i))
		for _, rb := range node.Annotations.RemoteBranches {
			if rb == name {
				return node.ID
			}
		}
	}
	return ""
}

// Intents converts the ready subset of an Evaluate result into push
// intents the planner compiles into Push actions.
func Intents(readiness []Readiness, g *graph.Graph, pushRemote string) []PushIntent {
	var out []PushIntent
	for _, r := range readiness {
		if !r.Ready {
			continue
		}
		out = append(out, PushIntent{
			Branch:         r.Branch,
			PushRemote:     pushRemote,
			ExpectedRemote: findRemoteTip(g, pushRemote, r.Branch),
		})
	}
	return out
}
