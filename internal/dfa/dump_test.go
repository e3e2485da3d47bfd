package dfa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDumpYAMLRendersEdgesAndAcceptingStates(t *testing.T) {
	d, err := Compile([]string{"ab"})
	require.NoError(t, err)

	out, err := d.DumpYAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "edges:")
	assert.Contains(t, string(out), "accept:")
}
