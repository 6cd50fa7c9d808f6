// Package plan implements the Planner: a pure function from a commit graph
// plus configuration and user intent to an ordered ActionPlan. The planner
// never touches the repository; execd is the sole mutator.
package plan

import (
	"fmt"

	"github.com/stackforge/gitstack/errs"
	"github.com/stackforge/gitstack/gitrepo"
	"github.com/stackforge/gitstack/graph"
	"github.com/stackforge/gitstack/gsconfig"
	"github.com/stackforge/gitstack/snapshot"
	"github.com/stackforge/gitstack/stackdiscover"
)

// ActionKind tags the variant of a PrimitiveAction.
type ActionKind string

const (
	ActionRebase            ActionKind = "rebase"
	ActionMoveBranch         ActionKind = "move_branch"
	ActionDeleteBranch       ActionKind = "delete_branch"
	ActionCreateBranch       ActionKind = "create_branch"
	ActionRewriteCommit      ActionKind = "rewrite_commit"
	ActionFetch              ActionKind = "fetch"
	ActionFastForwardBranch  ActionKind = "fast_forward_branch"
	ActionPush               ActionKind = "push"
	ActionRunHook            ActionKind = "run_hook"
	ActionSnapshot           ActionKind = "snapshot"
)

// PrimitiveAction is one step of an ActionPlan. Only the fields relevant to
// Kind are populated; this mirrors a tagged sum type using Go's nearest
// idiom (a flat struct with a discriminant) rather than an interface
// hierarchy, since every executor switch needs every field available
// without a type assertion per action.
type PrimitiveAction struct {
	Kind ActionKind

	// RewriteCommit / Rebase
	SourceCommit gitrepo.CommitID
	NewParent    gitrepo.CommitID
	NewTree      string // set when a cherry-pick or fixup-squash changes the tree
	Message      string // overrides the source commit's message when non-empty
	ResultVar    string // symbolic name this step's resulting commit id is bound to, for later steps to reference

	// MoveBranch / CreateBranch / DeleteBranch / FastForwardBranch
	Branch    string
	TargetVar string // symbolic name (ResultVar of a prior step) or a literal commit id

	// Fetch / FastForwardBranch
	Remote string
	Prune  bool

	// Push
	PushRemote     string
	ExpectedRemote gitrepo.CommitID

	// RunHook
	HookName string
	HookArgs []string

	// Snapshot
	SnapshotLabel string
}

// ActionPlan is the ordered sequence of primitive actions the executor
// applies. Plans honor five ordering invariants:
//  (i)   Fetch precedes any rebase that depends on a pull-remote tip, and
//        FastForwardBranch runs after Fetch but before any rebase onto that
//        branch's live tip.
//  (ii)  Snapshot precedes the first mutating action.
//  (iii) A branch's RewriteCommit/MoveBranch chain is emitted in
//        topological (base-to-tip) order.
//  (iv)  DeleteBranch for a branch only follows every action that reads
//        that branch's pre-deletion tip.
//  (v)   Push actions are emitted last, after every local mutation.
type ActionPlan struct {
	Actions []PrimitiveAction
	DryRun  bool
}

// Describe renders the plan as plain text, the minimum the core provides;
// richer visualization is an external concern.
func (p *ActionPlan) Describe() string {
	out := ""
	for i, a := range p.Actions {
		out += fmt.Sprintf("%d. %s\n", i+1, describeAction(a))
	}
	return out
}

func describeAction(a PrimitiveAction) string {
	switch a.Kind {
	case ActionRebase, ActionRewriteCommit:
		return fmt.Sprintf("rewrite %s onto %s", a.SourceCommit, a.NewParent)
	case ActionMoveBranch:
		return fmt.Sprintf("move %s to %s", a.Branch, a.TargetVar)
	case ActionCreateBranch:
		return fmt.Sprintf("create %s at %s", a.Branch, a.TargetVar)
	case ActionDeleteBranch:
		return fmt.Sprintf("delete %s", a.Branch)
	case ActionFetch:
		return fmt.Sprintf("fetch %s", a.Remote)
	case ActionFastForwardBranch:
		return fmt.Sprintf("fast-forward %s to %s/%s", a.Branch, a.Remote, a.Branch)
	case ActionPush:
		return fmt.Sprintf("push %s to %s", a.Branch, a.PushRemote)
	case ActionRunHook:
		return fmt.Sprintf("run hook %s", a.HookName)
	case ActionSnapshot:
		return fmt.Sprintf("snapshot %q", a.SnapshotLabel)
	}
	return string(a.Kind)
}

// Intent is the user-specified operation the planner compiles into an
// ActionPlan.
type Intent struct {
	Pull   bool
	Rebase bool
	Push   bool
	Repair bool
	DryRun bool
	Base   string
	Onto   string
}

// Input bundles everything the planner reads.
type Input struct {
	Graph  *graph.Graph
	Config *gsconfig.Config
	Stacks []stackdiscover.Stack
	Intent Intent

	// PriorSnapshot, when supplied, is the last recorded branch/HEAD state;
	// Repair consults it to detect a branch whose recorded parent branch has
	// since moved without this invocation's own history picking up the move.
	PriorSnapshot *snapshot.Snapshot
}

// Build compiles Input into an ActionPlan. It is a pure function: the same
// Input always yields the same ActionPlan.
func Build(in Input) (*ActionPlan, error) {
	p := &ActionPlan{DryRun: in.Intent.DryRun}

	if !in.Intent.DryRun {
		p.Actions = append(p.Actions, PrimitiveAction{Kind: ActionSnapshot, SnapshotLabel: "pre"})
	}

	var ffVar map[string]string
	if in.Intent.Pull {
		p.Actions = append(p.Actions, PrimitiveAction{Kind: ActionFetch, Remote: in.Config.PullRemote, Prune: false})
		p.Actions = append(p.Actions, PrimitiveAction{Kind: ActionFetch, Remote: in.Config.PushRemote, Prune: true})

		ffActions, vars := planProtectedFastForward(in.Graph, in.Config.PullRemote)
		p.Actions = append(p.Actions, ffActions...)
		ffVar = vars
	}

	repaired := map[string]bool{}
	if in.Intent.Repair {
		repairActions, repairedBranches := planRepair(in.Graph, in.PriorSnapshot)
		p.Actions = append(p.Actions, repairActions...)
		repaired = repairedBranches
	}

	var autoDelete []PrimitiveAction
	if in.Intent.Pull {
		autoDelete = planAutoDelete(in.Graph)
	}
	skipMove := map[string]bool{}
	for k := range repaired {
		skipMove[k] = true
	}
	for _, a := range autoDelete {
		skipMove[a.Branch] = true
	}

	for _, stack := range in.Stacks {
		actions, err := planStack(in.Graph, stack, in.Config, ffVar, skipMove)
		if err != nil {
			return nil, err
		}
		p.Actions = append(p.Actions, actions...)
	}

	p.Actions = append(p.Actions, autoDelete...)

	if in.Intent.Push {
		pushActions, err := planPush(in.Graph, in.Stacks, in.Config)
		if err != nil {
			return nil, err
		}
		p.Actions = append(p.Actions, pushActions...)
	}

	if !in.Intent.DryRun && len(p.Actions) > 1 {
		p.Actions = append(p.Actions, PrimitiveAction{Kind: ActionSnapshot, SnapshotLabel: "post"})
	}

	return p, nil
}

// planProtectedFastForward emits a fast-forward update for every protected
// local branch to its pull-remote tracking tip, binding each result under a
// symbolic "ff:<branch>" variable so the rebase plan can reference the
// post-fetch tip without the (pure) planner knowing its id in advance; the
// executor resolves the var from the live remote-tracking ref once the
// preceding Fetch actions have run.
func planProtectedFastForward(g *graph.Graph, pullRemote string) ([]PrimitiveAction, map[string]string) {
	var actions []PrimitiveAction
	vars := map[string]string{}
	seen := map[string]bool{}
	for i := 0; i < g.Len(); i++ {
		node := g.Node(graph.NodeIndex(i))
		if !node.Annotations.Protected {
			continue
		}
		for _, b := range node.Annotations.Branches {
			if seen[b] {
				continue
			}
			seen[b] = true
			v := ffVarName(b)
			vars[b] = v
			actions = append(actions, PrimitiveAction{
				Kind:      ActionFastForwardBranch,
				Branch:    b,
				Remote:    pullRemote,
				ResultVar: v,
			})
		}
	}
	return actions, vars
}

func ffVarName(branch string) string { return "ff:" + branch }

// planAutoDelete finds development branches whose single commit's patch-id
// already landed on a protected branch (a squash-merge landed upstream) and
// emits DeleteBranch for each. Only a branch whose tip has exactly one
// parent, itself protected, is eligible: non-linear history can't be
// reduced to one comparable patch-id.
func planAutoDelete(g *graph.Graph) []PrimitiveAction {
	landed := map[[32]byte]bool{}
	for i := 0; i < g.Len(); i++ {
		node := g.Node(graph.NodeIndex(i))
		if node.Annotations.Protected && node.Annotations.PatchIDValid {
			landed[node.Annotations.PatchID] = true
		}
	}

	var actions []PrimitiveAction
	for i := 0; i < g.Len(); i++ {
		node := g.Node(graph.NodeIndex(i))
		if node.Annotations.Protected || len(node.Annotations.Branches) == 0 {
			continue
		}
		if len(node.Parents) != 1 || !node.Annotations.PatchIDValid {
			continue
		}
		if !g.Node(node.Parents[0]).Annotations.Protected {
			continue
		}
		if !landed[node.Annotations.PatchID] {
			continue
		}
		for _, b := range node.Annotations.Branches {
			actions = append(actions, PrimitiveAction{Kind: ActionDeleteBranch, Branch: b})
		}
	}
	return actions
}

// planRepair detects branches whose recorded logical parent branch has
// moved since the prior snapshot in a way this branch's own history never
// picked up (the parent was rewritten externally), and re-parents just that
// branch's own commits onto the parent's current tip. It does not follow
// the repair through to branches stacked further on top of the repaired
// one in the same invocation: those fall out on the next --rebase/--repair
// pass once the repaired branch has a stable, recorded tip again.
func planRepair(g *graph.Graph, prior *snapshot.Snapshot) ([]PrimitiveAction, map[string]bool) {
	repaired := map[string]bool{}
	if prior == nil {
		return nil, repaired
	}
	branchByPriorTip := map[gitrepo.CommitID]string{}
	for _, e := range prior.Entries {
		branchByPriorTip[e.Commit] = e.Branch
	}

	var actions []PrimitiveAction
	for i := 0; i < g.Len(); i++ {
		tipNode := g.Node(graph.NodeIndex(i))
		for _, branch := range tipNode.Annotations.Branches {
			own, newBase, ok := findStaleParent(g, graph.NodeIndex(i), branch, branchByPriorTip)
			if !ok || len(own) == 0 {
				continue
			}
			repairActions, tipVar := replayOnto(own, newBase, "repair:"+branch)
			actions = append(actions, repairActions...)
			actions = append(actions, PrimitiveAction{Kind: ActionMoveBranch, Branch: branch, TargetVar: tipVar})
			repaired[branch] = true
		}
	}
	return actions, repaired
}

// findStaleParent walks branch's current first-parent ancestry from tip
// looking for a commit that used to be some OTHER branch's recorded tip;
// if that other branch's current tip has since moved away from that
// commit, the parent was rewritten externally and this branch needs
// re-parenting. own is the branch's own commits above the stale parent
// commit, returned in base-to-tip order.
func findStaleParent(g *graph.Graph, tip graph.NodeIndex, branch string, branchByPriorTip map[gitrepo.CommitID]string) (own []*gitrepo.Commit, newBase gitrepo.CommitID, ok bool) {
	var tipToBase []*gitrepo.Commit
	cur := tip
	for {
		n := g.Node(cur)
		if parentBranch, wasTip := branchByPriorTip[n.ID]; wasTip && parentBranch != branch {
			parentTipIdx, hasCurrentTip := findBranchTip(g, parentBranch)
			if hasCurrentTip && g.Node(parentTipIdx).ID != n.ID {
				own = make([]*gitrepo.Commit, len(tipToBase))
				for i, c := range tipToBase {
					own[len(tipToBase)-1-i] = c
				}
				return own, g.Node(parentTipIdx).ID, true
			}
			return nil, "", false
		}
		if len(n.Parents) == 0 {
			return nil, "", false
		}
		tipToBase = append(tipToBase, n.Commit)
		cur = n.Parents[0]
	}
}

// replayOnto rewrites commits (base-to-tip order) onto newBase, returning
// the RewriteCommit actions and the symbolic var bound to the final
// rewritten tip. varPrefix namespaces the symbolic vars so concurrent
// replay passes (ordinary rebase, repair, amend, reword) never collide.
func replayOnto(commits []*gitrepo.Commit, newBase gitrepo.CommitID, varPrefix string) ([]PrimitiveAction, string) {
	var actions []PrimitiveAction
	currentParent := newBase
	tipVar := string(newBase)
	for i, c := range commits {
		resultVar := fmt.Sprintf("%s:%d", varPrefix, i)
		actions = append(actions, PrimitiveAction{
			Kind:         ActionRewriteCommit,
			SourceCommit: c.ID,
			NewParent:    currentParent,
			ResultVar:    resultVar,
		})
		currentParent = gitrepo.CommitID(resultVar)
		tipVar = resultVar
	}
	return actions, tipVar
}

// planStack compiles one stack's rebase: each development branch in the
// stack is rewritten onto the stack's Onto commit, or onto the live
// fast-forward target bound in ffVar when a pull is in progress, preserving
// commit order. Fix-up commits are resolved per Config.AutoFixup before the
// rebase walk. Each branch in the stack moves to its own rewritten tip,
// tracked per-branch during the replay; skipMove names branches whose
// final position is decided elsewhere (auto-delete, repair) and so must not
// be moved again here.
func planStack(g *graph.Graph, stack stackdiscover.Stack, cfg *gsconfig.Config, ffVar map[string]string, skipMove map[string]bool) ([]PrimitiveAction, error) {
	var actions []PrimitiveAction

	ontoNode := g.Node(stack.Onto)
	baseNode := g.Node(stack.Base)

	ontoBranch, hasOntoBranch := firstBranchName(ontoNode)
	ffTarget, usesFF := "", false
	if hasOntoBranch && ffVar != nil {
		if v, ok := ffVar[ontoBranch]; ok {
			ffTarget, usesFF = v, true
		}
	}

	if !usesFF && ontoNode.ID == baseNode.ID {
		return nil, nil // already at onto: rebase is a no-op for this stack
	}

	commits, err := orderedCommits(g, stack)
	if err != nil {
		return nil, err
	}

	fixups, err := resolveFixups(commits, cfg.AutoFixup)
	if err != nil {
		return nil, err
	}
	if cfg.AutoFixup == gsconfig.FixupMove {
		commits = reorderForMove(commits, fixups.moveTarget)
	}

	branchTipOriginal := map[gitrepo.CommitID][]string{}
	for _, branch := range stack.Branches {
		if idx, ok := findBranchTip(g, branch); ok {
			id := g.Node(idx).ID
			branchTipOriginal[id] = append(branchTipOriginal[id], branch)
		}
	}

	currentParent := ontoNode.ID
	if usesFF {
		currentParent = gitrepo.CommitID(ffTarget)
	}
	resultVar := func(id gitrepo.CommitID) string { return "result:" + string(id) }

	branchNewTip := map[string]string{}
	lastVar := string(currentParent)
	for _, c := range commits {
		if fixups.dropped[c.ID] {
			// squashed into its target, or ignored/moved per policy; the
			// branch tip, if it was here, now points at whatever survives.
			for _, name := range branchTipOriginal[c.ID] {
				branchNewTip[name] = lastVar
			}
			continue
		}

		newTree := fixups.treeOverride[c.ID]
		message := ""
		if newTree != "" {
			message = c.Summary // squashed commit keeps the target's own message
		}

		actions = append(actions, PrimitiveAction{
			Kind:         ActionRewriteCommit,
			SourceCommit: c.ID,
			NewParent:    currentParent,
			NewTree:      newTree,
			Message:      message,
			ResultVar:    resultVar(c.ID),
		})
		currentParent = gitrepo.CommitID(resultVar(c.ID))
		lastVar = resultVar(c.ID)

		for _, name := range branchTipOriginal[c.ID] {
			branchNewTip[name] = lastVar
		}
	}

	for _, branch := range stack.Branches {
		if skipMove[branch] {
			continue
		}
		target, ok := branchNewTip[branch]
		if !ok {
			target = lastVar
		}
		actions = append(actions, PrimitiveAction{
			Kind:      ActionMoveBranch,
			Branch:    branch,
			TargetVar: target,
		})
	}

	return actions, nil
}

func firstBranchName(node *graph.CommitNode) (string, bool) {
	if len(node.Annotations.Branches) == 0 {
		return "", false
	}
	return node.Annotations.Branches[0], true
}

func findBranchTip(g *graph.Graph, branch string) (graph.NodeIndex, bool) {
	for i := 0; i < g.Len(); i++ {
		node := g.Node(graph.NodeIndex(i))
		for _, b := range node.Annotations.Branches {
			if b == branch {
				return graph.NodeIndex(i), true
			}
		}
	}
	return 0, false
}

func orderedCommits(g *graph.Graph, stack stackdiscover.Stack) ([]*gitrepo.Commit, error) {
	var commits []*gitrepo.Commit
	cur := tipOf(g, stack)
	for cur != stack.Base {
		node := g.Node(cur)
		commits = append([]*gitrepo.Commit{node.Commit}, commits...)
		if len(node.Parents) == 0 {
			break
		}
		cur = node.Parents[0]
	}
	return commits, nil
}

func tipOf(g *graph.Graph, stack stackdiscover.Stack) graph.NodeIndex {
	if idx, ok := findBranchTip(g, stack.Branches[len(stack.Branches)-1]); ok {
		return idx
	}
	return stack.RootCommit
}

// commitsBetween returns the commits strictly above base up to and
// including tip, ordered base-to-tip, by walking first-parent ancestry from
// tip back to base.
func commitsBetween(g *graph.Graph, base, tip graph.NodeIndex) []*gitrepo.Commit {
	var out []*gitrepo.Commit
	cur := tip
	for cur != base {
		node := g.Node(cur)
		out = append([]*gitrepo.Commit{node.Commit}, out...)
		if len(node.Parents) == 0 {
			break
		}
		cur = node.Parents[0]
	}
	return out
}

// isDescendant reports whether idx is reachable from ancestor by following
// parent edges.
func isDescendant(g *graph.Graph, ancestor, idx graph.NodeIndex) bool {
	visited := map[graph.NodeIndex]bool{}
	stack := []graph.NodeIndex{idx}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == ancestor {
			return true
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		stack = append(stack, g.Node(cur).Parents...)
	}
	return false
}

type fixupResolution struct {
	dropped      map[gitrepo.CommitID]bool
	treeOverride map[gitrepo.CommitID]string
	moveTarget   map[gitrepo.CommitID]gitrepo.CommitID
}

// resolveFixups locates each fixup! commit's target by subject match among
// nearer ancestors, per stack.auto-fixup:
//   - ignore: fixups are left in place as ordinary commits.
//   - move:   fixups are reordered (via reorderForMove) to immediately
//             follow their target; tree content is unchanged.
//   - squash: fixups are merged into their target's tree and dropped.
// A fixup! commit whose target cannot be found unambiguously among nearer
// ancestors in the branch's own parent chain fails with *errs.Ambiguous;
// this implementation does not walk across branch boundaries to resolve a
// fixup target, since a cross-branch target may not yet share a common
// rebase plan with this commit.
func resolveFixups(commits []*gitrepo.Commit, policy gsconfig.FixupPolicy) (*fixupResolution, error) {
	res := &fixupResolution{
		dropped:      map[gitrepo.CommitID]bool{},
		treeOverride: map[gitrepo.CommitID]string{},
		moveTarget:   map[gitrepo.CommitID]gitrepo.CommitID{},
	}
	if policy == gsconfig.FixupIgnore {
		return res, nil
	}

	bySubject := map[string][]gitrepo.CommitID{}
	for _, c := range commits {
		bySubject[c.Summary] = append(bySubject[c.Summary], c.ID)
	}

	for _, c := range commits {
		target, ok := graph.IsFixup(c.Summary)
		if !ok {
			continue
		}
		candidates := bySubject[target]
		if len(candidates) == 0 {
			return nil, &errs.Ambiguous{Ref: c.Summary, Candidates: nil}
		}
		if len(candidates) > 1 {
			strs := make([]string, len(candidates))
			for i, id := range candidates {
				strs[i] = string(id)
			}
			return nil, &errs.Ambiguous{Ref: c.Summary, Candidates: strs}
		}

		switch policy {
		case gsconfig.FixupSquash:
			res.dropped[c.ID] = true
			res.treeOverride[candidates[0]] = c.TreeID
		case gsconfig.FixupMove:
			res.moveTarget[c.ID] = candidates[0]
		}
	}

	return res, nil
}

// reorderForMove relocates each fixup commit to immediately follow its
// target, preserving the relative order of every other commit and of
// multiple fixups sharing the same target.
func reorderForMove(commits []*gitrepo.Commit, moveTarget map[gitrepo.CommitID]gitrepo.CommitID) []*gitrepo.Commit {
	if len(moveTarget) == 0 {
		return commits
	}

	var out []*gitrepo.Commit
	placed := map[gitrepo.CommitID]bool{}
	var emit func(c *gitrepo.Commit)
	emit = func(c *gitrepo.Commit) {
		if placed[c.ID] {
			return
		}
		placed[c.ID] = true
		out = append(out, c)
		for _, other := range commits {
			if placed[other.ID] {
				continue
			}
			if tgt, ok := moveTarget[other.ID]; ok && tgt == c.ID {
				emit(other)
			}
		}
	}

	for _, c := range commits {
		if _, isFixup := moveTarget[c.ID]; isFixup {
			continue // placed when its target is emitted
		}
		emit(c)
	}
	for _, c := range commits {
		if !placed[c.ID] {
			out = append(out, c) // defensive: a fixup whose target precedes it never appeared
		}
	}
	return out
}

// PlanReword rewrites target's message in place and replays every
// descendant commit up to each affected branch's tip, reusing the same
// RewriteCommit chaining machinery as the rebase planner.
func PlanReword(g *graph.Graph, target gitrepo.CommitID, newMessage string, branches []string) (*ActionPlan, error) {
	targetIdx, ok := g.Lookup(target)
	if !ok {
		return nil, &errs.UnknownRef{Ref: string(target)}
	}
	targetNode := g.Node(targetIdx)
	if targetNode.Annotations.Protected {
		return nil, &errs.ProtectedWrite{Commit: string(target)}
	}

	p := &ActionPlan{}
	p.Actions = append(p.Actions, PrimitiveAction{Kind: ActionSnapshot, SnapshotLabel: "pre"})

	var parent gitrepo.CommitID
	if len(targetNode.Parents) > 0 {
		parent = g.Node(targetNode.Parents[0]).ID
	}
	targetVar := "reword:target"
	p.Actions = append(p.Actions, PrimitiveAction{
		Kind:         ActionRewriteCommit,
		SourceCommit: target,
		NewParent:    parent,
		Message:      newMessage,
		ResultVar:    targetVar,
	})

	for _, branch := range branches {
		tipIdx, ok := findBranchTip(g, branch)
		if !ok || !isDescendant(g, targetIdx, tipIdx) {
			continue
		}
		chain := commitsBetween(g, targetIdx, tipIdx)
		repActions, tipVar := replayOnto(chain, gitrepo.CommitID(targetVar), "reword:"+branch)
		p.Actions = append(p.Actions, repActions...)
		p.Actions = append(p.Actions, PrimitiveAction{Kind: ActionMoveBranch, Branch: branch, TargetVar: tipVar})
	}

	p.Actions = append(p.Actions, PrimitiveAction{Kind: ActionSnapshot, SnapshotLabel: "post"})
	return p, nil
}

// PlanAmend folds newTree (the tree produced by replaying source's pending
// diff onto target, e.g. via Repo.CherryPickTree) into an ancestor commit
// chosen by the caller, dropping source and replaying every other
// descendant commit reachable from the given branch tips back up through
// target.
func PlanAmend(g *graph.Graph, target, source gitrepo.CommitID, newTree string, branches []string) (*ActionPlan, error) {
	targetIdx, ok := g.Lookup(target)
	if !ok {
		return nil, &errs.UnknownRef{Ref: string(target)}
	}
	targetNode := g.Node(targetIdx)
	if targetNode.Annotations.Protected {
		return nil, &errs.ProtectedWrite{Commit: string(target)}
	}

	p := &ActionPlan{}
	p.Actions = append(p.Actions, PrimitiveAction{Kind: ActionSnapshot, SnapshotLabel: "pre"})

	var parent gitrepo.CommitID
	if len(targetNode.Parents) > 0 {
		parent = g.Node(targetNode.Parents[0]).ID
	}
	targetVar := "amend:target"
	p.Actions = append(p.Actions, PrimitiveAction{
		Kind:         ActionRewriteCommit,
		SourceCommit: target,
		NewParent:    parent,
		NewTree:      newTree,
		ResultVar:    targetVar,
	})

	for _, branch := range branches {
		tipIdx, ok := findBranchTip(g, branch)
		if !ok || !isDescendant(g, targetIdx, tipIdx) {
			continue
		}
		chain := commitsBetween(g, targetIdx, tipIdx)
		chain = dropCommit(chain, source)
		repActions, tipVar := replayOnto(chain, gitrepo.CommitID(targetVar), "amend:"+branch)
		p.Actions = append(p.Actions, repActions...)
		p.Actions = append(p.Actions, PrimitiveAction{Kind: ActionMoveBranch, Branch: branch, TargetVar: tipVar})
	}

	p.Actions = append(p.Actions, PrimitiveAction{Kind: ActionSnapshot, SnapshotLabel: "post"})
	return p, nil
}

func dropCommit(commits []*gitrepo.Commit, id gitrepo.CommitID) []*gitrepo.Commit {
	out := commits[:0:0]
	for _, c := range commits {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}

// planPush compiles Push actions for every branch whose stack is push-ready
// per pushgate's readiness predicate. Calling code (the CLI layer) invokes
// pushgate directly and passes only ready branches through Intent.Push;
// planPush assumes all branches named in stacks[*].Branches have already
// been screened for readiness, and only fills in the lease's ExpectedRemote
// from the graph's remote-tracking annotations.
func planPush(g *graph.Graph, stacks []stackdiscover.Stack, cfg *gsconfig.Config) ([]PrimitiveAction, error) {
	var actions []PrimitiveAction
	for _, stack := range stacks {
		for _, branch := range stack.Branches {
			expected := remoteTipFor(g, branch, cfg.PushRemote)
			actions = append(actions, PrimitiveAction{
				Kind:           ActionPush,
				Branch:         branch,
				PushRemote:     cfg.PushRemote,
				ExpectedRemote: expected,
			})
		}
	}
	return actions, nil
}

func remoteTipFor(g *graph.Graph, branch, remote string) gitrepo.CommitID {
	for i := 0; i < g.Len(); i++ {
		node := g.Node(graph.NodeIndex(i))
		for _, rb := range node.Annotations.RemoteBranches {
			if rb == remote+"/"+branch {
				return node.ID
			}
		}
	}
	return ""
}
