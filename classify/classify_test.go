package classify

import "testing"

func TestBranchGlobsEmptyAllowsAll(t *testing.T) {
	bg := NewBranchGlobs(nil)
	if bg.Match("main") {
		t.Error("expected empty glob set to protect nothing")
	}
}

func TestBranchGlobsExactMatch(t *testing.T) {
	bg := NewBranchGlobs([]string{"main"})
	if !bg.Match("main") {
		t.Error("expected main to match")
	}
	if bg.Match("feature") {
		t.Error("expected feature to not match")
	}
}

func TestBranchGlobsNegation(t *testing.T) {
	bg := NewBranchGlobs([]string{"v*", "!very"})
	if !bg.Match("v1.0.0") {
		t.Error("expected v1.0.0 to match v*")
	}
	if bg.Match("very") {
		t.Error("expected very to be excluded by negation")
	}
	if bg.Match("feature") {
		t.Error("expected feature to not match")
	}
}

func TestBranchGlobsFolderPrefix(t *testing.T) {
	bg := NewBranchGlobs([]string{"release/"})
	if bg.Match("release") {
		t.Error("expected bare release to not match a folder pattern")
	}
	if !bg.Match("release/v1.0.0") {
		t.Error("expected release/v1.0.0 to match release/")
	}
	if bg.Match("feature") {
		t.Error("expected feature to not match")
	}
}

func TestBranchGlobsSegmentWildcard(t *testing.T) {
	bg := NewBranchGlobs([]string{"release/*"})
	if !bg.Match("release/v1") {
		t.Error("expected release/v1 to match release/*")
	}
	if bg.Match("release/v1/extra") {
		t.Error("expected release/v1/extra to not match single-segment wildcard")
	}
}
