package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "meetbot", cmd.Use)
	assert.Contains(t, cmd.Long, "heads-up")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	paths := [][]string{
		{"run"}, {"tick"}, {"upcoming"},
		{"meeting", "add"}, {"meeting", "list"}, {"meeting", "rm"},
		{"division", "add"}, {"division", "list"}, {"division", "rm"},
		{"export", "ics"},
	}
	for _, p := range paths {
		t.Run(p[len(p)-1], func(t *testing.T) {
			sub, _, err := cmd.Find(p)
			require.NoError(t, err, "command %v should exist", p)
			assert.Equal(t, p[len(p)-1], sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	cfg := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, cfg)
	assert.Equal(t, "c", cfg.Shorthand)
	assert.Equal(t, "./config.yaml", cfg.DefValue)

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
	assert.Equal(t, "false", verbose.DefValue)

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)
}

func TestMeetingAddFlags(t *testing.T) {
	cmd := NewRootCommand()
	add, _, err := cmd.Find([]string{"meeting", "add"})
	require.NoError(t, err)

	assert.Equal(t, "today", add.Flags().Lookup("date").DefValue)
	assert.Equal(t, "true", add.Flags().Lookup("heads-up").DefValue)
	assert.Equal(t, "false", add.Flags().Lookup("recurring").DefValue)
}

func TestInvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "xml", "--env-file", "", "meeting", "list"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestLoadEnv(t *testing.T) {
	assert.NoError(t, loadEnv(""))
	assert.NoError(t, loadEnv(t.TempDir()+"/missing.env"))
}
