package dfa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, d *DFA, input string) (accepted int, ok bool) {
	t.Helper()
	s := d.Start()
	for _, c := range input {
		next, stepped := d.Step(s, c)
		if !stepped {
			return -1, false
		}
		s = next
	}
	if d.IsAccepting(s) {
		return d.AcceptedPattern(s), true
	}
	return -1, false
}

func TestCompileLiteralConcatenation(t *testing.T) {
	d, err := Compile([]string{"ab"})
	require.NoError(t, err)

	idx, ok := run(t, d, "ab")
	require.True(t, ok)
	assert.Equal(t, 0, idx)

	_, ok = run(t, d, "a")
	assert.False(t, ok)
	_, ok = run(t, d, "abc")
	assert.False(t, ok)
}

func TestCompileAlternation(t *testing.T) {
	d, err := Compile([]string{"a|b"})
	require.NoError(t, err)

	for _, in := range []string{"a", "b"} {
		idx, ok := run(t, d, in)
		require.True(t, ok, in)
		assert.Equal(t, 0, idx)
	}
	_, ok := run(t, d, "c")
	assert.False(t, ok)
}

func TestCompileStarAcceptsZeroOrMore(t *testing.T) {
	d, err := Compile([]string{"a*"})
	require.NoError(t, err)

	for _, in := range []string{"", "a", "aaaa"} {
		idx, ok := run(t, d, in)
		require.True(t, ok, in)
		assert.Equal(t, 0, idx)
	}
	_, ok := run(t, d, "aab")
	assert.False(t, ok)
}

func TestCompileOptional(t *testing.T) {
	d, err := Compile([]string{"a(b?)c"})
	require.NoError(t, err)

	idx, ok := run(t, d, "ac")
	require.True(t, ok)
	assert.Equal(t, 0, idx)

	idx, ok = run(t, d, "abc")
	require.True(t, ok)
	assert.Equal(t, 0, idx)
}

func TestCompileEarlierPatternWinsOnOverlap(t *testing.T) {
	d, err := Compile([]string{"a*", "a"})
	require.NoError(t, err)

	idx, ok := run(t, d, "a")
	require.True(t, ok)
	assert.Equal(t, 0, idx, "pattern 0 (a*) should win priority over pattern 1 (a) on an exact-match tie")
}

func TestCompileRejectsUnbalancedParens(t *testing.T) {
	_, err := Compile([]string{"(a"})
	assert.Error(t, err)
}

func TestEdgesEnumerateTransitions(t *testing.T) {
	d, err := Compile([]string{"ab"})
	require.NoError(t, err)

	edges := d.Edges()
	require.NotEmpty(t, edges)
	for _, e := range edges {
		assert.False(t, e.Negated)
		assert.Len(t, e.Label, 1)
	}
}

func compileOne(t *testing.T, pattern string) *DFA {
	t.Helper()
	d, err := Compile([]string{pattern})
	require.NoError(t, err)
	return d
}

func TestIntersectAcceptsOnlyCommonStrings(t *testing.T) {
	a := compileOne(t, "a*b")
	b := compileOne(t, "ab*")

	inter := Intersect(a, b)
	_, ok := run(t, inter, "ab")
	assert.True(t, ok, "ab is accepted by both")
	_, ok = run(t, inter, "aab")
	assert.False(t, ok, "aab is rejected by ab*")
	_, ok = run(t, inter, "abb")
	assert.False(t, ok, "abb is rejected by a*b")
}

func TestComplementAcceptsEverythingElse(t *testing.T) {
	a := compileOne(t, "ab")
	comp := Complement(a, []rune{'a', 'b'})

	_, ok := run(t, comp, "ab")
	assert.False(t, ok)
	for _, in := range []string{"", "a", "b", "aa", "bb", "aba"} {
		_, ok := run(t, comp, in)
		assert.True(t, ok, in)
	}
}

func TestIsEmptyDetectsUnsatisfiableIntersection(t *testing.T) {
	a := compileOne(t, "a")
	b := compileOne(t, "b")
	assert.True(t, IsEmpty(Intersect(a, b)))
	assert.False(t, IsEmpty(a))
}

func TestBelongsToSubsetRelation(t *testing.T) {
	wide := compileOne(t, "a|b")
	narrow := compileOne(t, "a")

	assert.True(t, BelongsTo(narrow, wide))
	assert.False(t, BelongsTo(wide, narrow))
}

func TestHasNonemptyIntersectionOverlappingPatterns(t *testing.T) {
	a := compileOne(t, "a(b?)c")
	b := compileOne(t, "abc")
	assert.True(t, HasNonemptyIntersection(a, b))

	c := compileOne(t, "d")
	assert.False(t, HasNonemptyIntersection(a, c))
}

func TestUnionNumbersPatternsAndPrefersEarliestOnOverlap(t *testing.T) {
	a := compileOne(t, "a*")
	b := compileOne(t, "a")

	u := Union([]*DFA{a, b})
	idx, ok := run(t, u, "a")
	require.True(t, ok)
	assert.Equal(t, 0, idx)

	idx, ok = run(t, u, "aaa")
	require.True(t, ok)
	assert.Equal(t, 0, idx)
}
