package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitesearch/internal/app"
)

func TestClearRequiresTarget(t *testing.T) {
	cmd, _, err := rootCmd.Find([]string{"clear"})
	require.NoError(t, err)
	require.Equal(t, "clear", cmd.Name())

	assert.Error(t, cmd.Args(cmd, nil))
	assert.Error(t, cmd.Args(cmd, []string{"group", "organization"}))
	assert.NoError(t, cmd.Args(cmd, []string{"group"}))
}

func TestClearTarget(t *testing.T) {
	target, err := clearTarget("group", false)
	require.NoError(t, err)
	assert.Equal(t, "group", target)

	_, err = clearTarget(app.ClearAll, false)
	assert.ErrorContains(t, err, "--yes")

	_, err = clearTarget("ALL", false)
	assert.Error(t, err)

	target, err = clearTarget(app.ClearAll, true)
	require.NoError(t, err)
	assert.Equal(t, app.ClearAll, target)
}
