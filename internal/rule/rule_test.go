package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/marcelodevops/pyretic/internal/action"
	"github.com/marcelodevops/pyretic/internal/match"
)

func TestNewDedupsActions(t *testing.T) {
	r := New(match.Identity, action.Identity, action.Identity, action.Controller)
	assert.Len(t, r.Actions, 2)
}

func TestIsFilterSafe(t *testing.T) {
	filterRule := New(match.Identity, action.Identity, action.Drop)
	assert.True(t, filterRule.IsFilterSafe())

	modifyRule := New(match.Identity, action.Modify(map[string]any{"outport": "1"}))
	assert.False(t, modifyRule.IsFilterSafe())
}

func TestActionKeysOrderSensitive(t *testing.T) {
	a := []action.Action{action.Identity, action.Controller}
	b := []action.Action{action.Controller, action.Identity}
	assert.NotEqual(t, ActionKeys(a), ActionKeys(b))
	assert.Equal(t, ActionKeys(a), ActionKeys(a))
}
