package matchers_test

import (
	"log/slog"
	"os"
	"testing"

	"github.com/relayd/relay/pkg/matchers"
	"github.com/relayd/relay/pkg/matchers/github"
	"github.com/relayd/relay/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry() *matchers.Registry {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	return matchers.NewRegistry(github.NewMatcher(logger))
}

func TestRegistry_ForKind(t *testing.T) {
	registry := newRegistry()

	matcher, ok := registry.ForKind(matchers.KindGitHub)
	require.True(t, ok)
	assert.Equal(t, matchers.KindGitHub, matcher.Kind())

	_, ok = registry.ForKind(matchers.KindSlack)
	assert.False(t, ok)
}

func TestRegistry_ValidateInput(t *testing.T) {
	registry := newRegistry()

	err := registry.ValidateInput(matchers.KindGitHub, models.TriggerTypePush,
		map[string]any{"branch": "main", "actions": []any{"opened"}})
	require.NoError(t, err)

	err = registry.ValidateInput(matchers.KindGitHub, models.TriggerTypePush,
		map[string]any{"branch": 42})
	require.Error(t, err)

	// unknown kinds and types without a schema pass
	require.NoError(t, registry.ValidateInput("unknown", models.TriggerTypePush, nil))
	require.NoError(t, registry.ValidateInput(matchers.KindGitHub, models.TriggerTypeCron, nil))
}
