package ignore

import "testing"

func TestMatchSimpleGlob(t *testing.T) {
	m := New([]string{"*.log"})
	if !m.Match("debug.log", false) {
		t.Error("expected debug.log to be ignored")
	}
	if m.Match("debug.txt", false) {
		t.Error("expected debug.txt to not be ignored")
	}
}

func TestMatchUnanchoredMatchesAnyDepth(t *testing.T) {
	m := New([]string{"*.log"})
	if !m.Match("nested/dir/debug.log", false) {
		t.Error("expected nested debug.log to be ignored by unanchored pattern")
	}
}

func TestMatchAnchoredPattern(t *testing.T) {
	m := New([]string{"/build"})
	if !m.Match("build", true) {
		t.Error("expected root build to be ignored")
	}
	if m.Match("nested/build", true) {
		t.Error("expected nested build to not be ignored by anchored pattern")
	}
}

func TestMatchDirOnlyPattern(t *testing.T) {
	m := New([]string{"cache/"})
	if !m.Match("cache", true) {
		t.Error("expected cache directory to be ignored")
	}
	if m.Match("cache", false) {
		t.Error("expected cache file (not dir) to not match dir-only pattern")
	}
}

func TestMatchDoubleStarGlob(t *testing.T) {
	m := New([]string{"**/testdata/**"})
	if !m.Match("a/b/testdata/fixture.txt", false) {
		t.Error("expected nested testdata file to be ignored")
	}
}

func TestMatchNegationOverridesLaterPrecedence(t *testing.T) {
	m := New([]string{"*.log", "!important.log"})
	if m.Match("important.log", false) {
		t.Error("expected important.log to be un-ignored by negation")
	}
	if !m.Match("debug.log", false) {
		t.Error("expected debug.log to remain ignored")
	}
}

func TestMatchLaterPatternOverridesEarlier(t *testing.T) {
	m := New([]string{"!keep.log", "*.log"})
	if !m.Match("keep.log", false) {
		t.Error("expected later pattern to override earlier negation")
	}
}

func TestMatchBlankAndCommentLinesIgnored(t *testing.T) {
	m := New([]string{"", "  ", "# comment", "*.log"})
	if len(m.patterns) != 1 {
		t.Errorf("expected blank and comment lines to be skipped, got %d patterns", len(m.patterns))
	}
}

func TestMatchNoPatternsMatchesNothing(t *testing.T) {
	m := New(nil)
	if m.Match("anything.txt", false) {
		t.Error("expected no patterns to match nothing")
	}
}

func TestMatchBaseNameForUnanchoredDirPattern(t *testing.T) {
	m := New([]string{"node_modules/"})
	if !m.Match("src/node_modules", true) {
		t.Error("expected nested node_modules directory to be ignored")
	}
}
