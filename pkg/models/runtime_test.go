package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuntimeConfigHash_StableForEqualConfigs(t *testing.T) {
	a := RuntimeConfigHash("node:22", map[string]any{"memory": "256mb", "cpu": 2})
	b := RuntimeConfigHash("node:22", map[string]any{"cpu": 2, "memory": "256mb"})

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestRuntimeConfigHash_DistinguishesImageAndConfig(t *testing.T) {
	base := RuntimeConfigHash("node:22", map[string]any{"memory": "256mb"})

	assert.NotEqual(t, base, RuntimeConfigHash("node:20", map[string]any{"memory": "256mb"}))
	assert.NotEqual(t, base, RuntimeConfigHash("node:22", map[string]any{"memory": "512mb"}))
	assert.NotEqual(t, base, RuntimeConfigHash("node:22", nil))
}
