package github_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/relayd/relay/pkg/matchers"
	"github.com/relayd/relay/pkg/matchers/github"
	"github.com/relayd/relay/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMatcher() *github.Matcher {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	return github.NewMatcher(logger)
}

func pushRequest(t *testing.T, ref string) *matchers.WebhookRequest {
	t.Helper()

	body := map[string]any{
		"ref": ref,
		"repository": map[string]any{
			"full_name": "acme/api",
			"owner":     map[string]any{"login": "acme"},
		},
	}

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	return &matchers.WebhookRequest{
		Method:  "POST",
		Path:    "/github",
		Headers: map[string]string{"X-Github-Event": "push"},
		Body:    body,
		RawBody: raw,
	}
}

func TestProcessWebhook_PushMatchesBranchFilter(t *testing.T) {
	triggers := []*models.Trigger{
		{ID: "t-main", TriggerType: models.TriggerTypePush, Input: map[string]any{"branch": "main"}},
		{ID: "t-dev", TriggerType: models.TriggerTypePush, Input: map[string]any{"branch": "dev"}},
		{ID: "t-any", TriggerType: models.TriggerTypePush},
	}

	found, err := newMatcher().ProcessWebhook(pushRequest(t, "refs/heads/main"), triggers, nil)
	require.NoError(t, err)

	ids := make([]string, 0, len(found))
	for _, match := range found {
		ids = append(ids, match.TriggerID)
	}

	assert.ElementsMatch(t, []string{"t-main", "t-any"}, ids)
	assert.Equal(t, "main", found[0].Data["branch"])
	assert.Equal(t, "acme", found[0].Data["owner"])
	assert.Equal(t, "acme/api", found[0].Data["repository"])
}

func TestProcessWebhook_BranchSuffixMatch(t *testing.T) {
	triggers := []*models.Trigger{
		{ID: "t-release", TriggerType: models.TriggerTypePush, Input: map[string]any{"branch": "v2"}},
	}

	found, err := newMatcher().ProcessWebhook(pushRequest(t, "refs/heads/release/v2"), triggers, nil)
	require.NoError(t, err)
	require.Len(t, found, 1)

	// "av2" must not suffix-match "v2"
	found, err = newMatcher().ProcessWebhook(pushRequest(t, "refs/heads/av2"), triggers, nil)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestProcessWebhook_OwnerAndRepositoryFilters(t *testing.T) {
	triggers := []*models.Trigger{
		{ID: "t-other-owner", TriggerType: models.TriggerTypePush, Input: map[string]any{"owner": "someone"}},
		{ID: "t-other-repo", TriggerType: models.TriggerTypePush, Input: map[string]any{"repository": "acme/web"}},
		{ID: "t-exact", TriggerType: models.TriggerTypePush, Input: map[string]any{"owner": "acme", "repository": "acme/api"}},
	}

	found, err := newMatcher().ProcessWebhook(pushRequest(t, "refs/heads/main"), triggers, nil)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "t-exact", found[0].TriggerID)
}

func TestProcessWebhook_PullRequestActionsFilter(t *testing.T) {
	body := map[string]any{
		"action": "opened",
		"repository": map[string]any{
			"full_name": "acme/api",
		},
		"pull_request": map[string]any{
			"head": map[string]any{"ref": "feature/login"},
		},
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := &matchers.WebhookRequest{
		Method:  "POST",
		Path:    "/github",
		Headers: map[string]string{"x-github-event": "pull_request"},
		Body:    body,
		RawBody: raw,
	}

	triggers := []*models.Trigger{
		{ID: "t-opened", TriggerType: models.TriggerTypePullRequest, Input: map[string]any{"actions": []any{"opened", "reopened"}}},
		{ID: "t-closed", TriggerType: models.TriggerTypePullRequest, Input: map[string]any{"actions": []any{"closed"}}},
		{ID: "t-push", TriggerType: models.TriggerTypePush},
	}

	found, err := newMatcher().ProcessWebhook(req, triggers, nil)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "t-opened", found[0].TriggerID)
	assert.Equal(t, "feature/login", found[0].Data["branch"])
}

func TestProcessWebhook_CatchAllWebhookTrigger(t *testing.T) {
	triggers := []*models.Trigger{
		{ID: "t-catchall", TriggerType: models.TriggerTypeWebhook},
		{ID: "t-issue", TriggerType: models.TriggerTypeIssue},
	}

	found, err := newMatcher().ProcessWebhook(pushRequest(t, "refs/heads/main"), triggers, nil)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "t-catchall", found[0].TriggerID)
}

func TestProcessWebhook_SignatureVerification(t *testing.T) {
	secret := "hook-secret"
	req := pushRequest(t, "refs/heads/main")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(req.RawBody)
	req.Headers["X-Hub-Signature-256"] = "sha256=" + hex.EncodeToString(mac.Sum(nil))

	triggers := []*models.Trigger{
		{ID: "t-main", TriggerType: models.TriggerTypePush, Input: map[string]any{"branch": "main"}},
	}

	found, err := newMatcher().ProcessWebhook(req, triggers, map[string]string{"webhook_secret": secret})
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestProcessWebhook_BadSignatureMatchesNothing(t *testing.T) {
	req := pushRequest(t, "refs/heads/main")
	req.Headers["X-Hub-Signature-256"] = "sha256=deadbeef"

	triggers := []*models.Trigger{
		{ID: "t-main", TriggerType: models.TriggerTypePush},
	}

	found, err := newMatcher().ProcessWebhook(req, triggers, map[string]string{"webhook_secret": "hook-secret"})
	require.NoError(t, err, "a rejected delivery must not look like a matcher failure")
	assert.Empty(t, found)
}

func TestValidateWebhook_NoHandshake(t *testing.T) {
	handshake, ok := newMatcher().ValidateWebhook(pushRequest(t, "refs/heads/main"), nil)
	assert.False(t, ok)
	assert.Nil(t, handshake)
}
