package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelsAreFilterSafe(t *testing.T) {
	assert.True(t, Identity.IsFilterSafe())
	assert.True(t, Drop.IsFilterSafe())
	assert.False(t, Controller.IsFilterSafe())
	assert.False(t, Modify(map[string]any{"outport": "1"}).IsFilterSafe())
	assert.False(t, Bucket("b1").IsFilterSafe())
}

func TestTerminalActions(t *testing.T) {
	assert.True(t, Controller.IsTerminal())
	assert.True(t, Bucket("b1").IsTerminal())
	assert.False(t, Identity.IsTerminal())
	assert.False(t, Modify(map[string]any{"outport": "1"}).IsTerminal())
}

func TestDedupActionsPreservesFirstOccurrence(t *testing.T) {
	a := []Action{Identity, Controller, Identity, Bucket("b1"), Bucket("b1")}
	deduped := DedupActions(a)
	assert.Equal(t, []Action{Identity, Controller, Bucket("b1")}, deduped)
}

func TestComposeModifyLaterWins(t *testing.T) {
	first := Modify(map[string]any{"outport": "1", "tos": 0})
	second := Modify(map[string]any{"outport": "2"})

	composed := Compose(first, second)
	assert.Equal(t, "2", composed.Mod["outport"])
	assert.Equal(t, 0, composed.Mod["tos"])
}

func TestEqualByKey(t *testing.T) {
	a := Modify(map[string]any{"outport": "1"})
	b := Modify(map[string]any{"outport": "1"})
	c := Modify(map[string]any{"outport": "2"})

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}
