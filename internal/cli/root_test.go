package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prinzana/sellyticsOffline-sub004/internal/config"
	"github.com/prinzana/sellyticsOffline-sub004/internal/domain"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "kasirsync", cmd.Use)
	assert.Contains(t, cmd.Long, "system of record")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"serve"},
		{"sync"},
		{"warmup"},
		{"queue", "list"},
		{"queue", "clear"},
		{"queue", "retry"},
		{"queue", "delete"},
		{"session", "set"},
		{"session", "show"},
		{"session", "clear"},
		{"session", "sign"},
	}

	for _, path := range commands {
		t.Run(strings.Join(path, " "), func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err)
			require.NotNil(t, subCmd)
			assert.Equal(t, path[len(path)-1], subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestQueueClearHasPINFlag(t *testing.T) {
	cmd := NewRootCommand()
	clearCmd, _, err := cmd.Find([]string{"queue", "clear"})
	require.NoError(t, err)
	assert.NotNil(t, clearCmd.Flags().Lookup("pin"))
}

func TestInvalidFormatIsRejected(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "yaml", "queue", "list"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))
	assert.Equal(t, ExitOffline, GetExitCode(NewExitError(ExitOffline, "offline")))

	wrapped := WrapExitError(ExitFailure, "outer", NewExitError(ExitCommandError, "inner"))
	assert.Equal(t, ExitCommandError, wrapped.Code)

	assert.Equal(t, ExitOffline, exitCodeFor(domain.NetworkError("ping", context.DeadlineExceeded)))
	assert.Equal(t, ExitCommandError, exitCodeFor(domain.ConfigurationError("identity.resolve", "no active session")))
	assert.Equal(t, ExitCommandError, exitCodeFor(domain.PermissionError("queue.clear", "owner only")))
	assert.Equal(t, ExitFailure, exitCodeFor(errors.New("disk full")))
}

func TestOutputFormatterJSON(t *testing.T) {
	var buf bytes.Buffer
	out := &OutputFormatter{Format: "json", Writer: &buf}
	require.NoError(t, out.Success(map[string]int{"removed": 2}, nil))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	buf.Reset()
	out.Error(domain.PermissionError("queue.clear", "owner only"))
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "permission", resp.Error.Kind)
}

func TestSessionSignSaveAndShow(t *testing.T) {
	t.Setenv("LOCAL_DB_PATH", filepath.Join(t.TempDir(), "terminal.db"))
	t.Setenv("SESSION_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("DEFAULT_STORE_ID", "main-store")
	t.Setenv("REMOTE_BASE_URL", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_ADDR", "")

	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"session", "sign", "--user", "owner-1", "--owner", "--save"})
	require.NoError(t, cmd.Execute())
	assert.NotEmpty(t, strings.TrimSpace(out.String()))

	out.Reset()
	cmd = NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"session", "show"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "user owner-1 (owner) in store main-store")

	out.Reset()
	cmd = NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"warmup"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "cached 3 products")

	out.Reset()
	cmd = NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"queue", "list"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "queue is empty")
}

func TestShowWithoutSessionIsCommandError(t *testing.T) {
	t.Setenv("LOCAL_DB_PATH", filepath.Join(t.TempDir(), "terminal.db"))
	t.Setenv("SESSION_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("REMOTE_BASE_URL", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_ADDR", "")

	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"session", "show"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidateSecurityConfig(t *testing.T) {
	valid := config.Config{SessionSecret: strings.Repeat("s", 32), ManagerPIN: "739154"}
	assert.NoError(t, validateSecurityConfig(valid))

	short := valid
	short.SessionSecret = "short"
	assert.Error(t, validateSecurityConfig(short))

	noPIN := valid
	noPIN.ManagerPIN = ""
	assert.Error(t, validateSecurityConfig(noPIN))

	letters := valid
	letters.ManagerPIN = "73915a"
	assert.Error(t, validateSecurityConfig(letters))
}

func TestValidatePINStrength(t *testing.T) {
	weak := []string{"123456", "654321", "000000", "777777", "234567", "987654", "121212"}
	for _, pin := range weak {
		assert.Error(t, validatePINStrength(pin), pin)
	}
	strong := []string{"739154", "480261", "918273"}
	for _, pin := range strong {
		assert.NoError(t, validatePINStrength(pin), pin)
	}
}
