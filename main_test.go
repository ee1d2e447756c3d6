package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexandrGonin/QuantumTTT3D/internal/config"
	"github.com/AlexandrGonin/QuantumTTT3D/internal/pkg"
	"github.com/AlexandrGonin/QuantumTTT3D/internal/service"
)

func TestSignInitDataCmd(t *testing.T) {
	// Given: the command is run for a test user
	out := &bytes.Buffer{}

	cmd := newRootCmd()
	cmd.SetOut(out)
	cmd.SetArgs([]string{"sign-init-data", "--bot-token", "123:abc", "--user-id", "77", "--first-name", "Ann"})

	require.NoError(t, cmd.Execute())

	// When: the printed credential is verified with the same token
	verifier := service.NewTelegramVerifier("123:abc", time.Hour, pkg.NewSystemClock())
	user, err := verifier.Verify(context.Background(), strings.TrimSpace(out.String()))

	// Then: it is accepted
	require.NoError(t, err)
	assert.Equal(t, "77", user.ID)
	assert.Equal(t, "Ann", user.DisplayName)
}

func TestInitLogger(t *testing.T) {
	logger := initLogger(&config.Config{LogLevel: "warn"})

	assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))
}
