package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/savepipe/internal/config"
	"github.com/roach88/savepipe/internal/engine"
)

var (
	metadataDir  = filepath.Join("..", "..", "testdata", "metadata")
	scenariosDir = filepath.Join("..", "..", "testdata", "scenarios")
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "savepipe", cmd.Use)
	assert.Contains(t, cmd.Long, "CUE")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"validate", "schema", "run", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestConfigFlagsOnScenarioCommands(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"run", "test"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		for flag := range flagKeys {
			assert.NotNil(t, sub.Flags().Lookup(flag), "%s --%s", name, flag)
		}
	}
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "validate", metadataDir, "--format", "xml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}

func TestResolve_FlagOverridesConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "savepipe.yaml", "replacement_policy: update_in_place\nlog_level: debug\n")

	cmd := NewRootCommand()
	runCmd, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)
	require.NoError(t, runCmd.Flags().Set("policy", "delete_insert"))

	opts := &RootOptions{ConfigFile: cfgPath}
	require.NoError(t, opts.resolve(runCmd))
	require.NotNil(t, opts.Logger)
	assert.Equal(t, engine.ReplaceDeleteInsert, opts.Config.ReplacementPolicy)
	assert.Equal(t, cfgPath, opts.Config.File)
	assert.Equal(t, config.BackendSQLite, opts.Config.Backend)
}

func TestResolve_BadConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "savepipe.yaml", "backend: postgres\n")

	_, err := execute(t, "--config", cfgPath, "schema", metadataDir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "unknown backend")
}

func TestNewLogger_Format(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := newLogger(buf, &config.Config{LogFormat: "json"}, true)
	logger.Debug("hello", "k", 1)
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	logger = newLogger(buf, &config.Config{LogFormat: "text"}, false)
	logger.Debug("hidden")
	logger.Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
}
