package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Runtime is an execution environment identity, content-addressed by a hash
// of its configuration so identical configurations are reused rather than
// recreated.
type Runtime struct {
	ID         string         `json:"id"          validate:"required"`
	Image      string         `json:"image"       validate:"required"`
	Config     map[string]any `json:"config"`
	ConfigHash string         `json:"config_hash" validate:"required"`
	CreatedAt  time.Time      `json:"created_at"`
}

// RuntimeConfigHash computes the content address for a runtime
// configuration. encoding/json marshals map keys in sorted order, so the
// hash is stable for equal configurations.
func RuntimeConfigHash(image string, config map[string]any) string {
	payload, _ := json.Marshal(map[string]any{
		"image":  image,
		"config": config,
	})

	sum := sha256.Sum256(payload)

	return hex.EncodeToString(sum[:])
}
