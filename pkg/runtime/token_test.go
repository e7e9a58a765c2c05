package runtime_test

import (
	"context"
	"testing"
	"time"

	"github.com/relayd/relay/pkg/persistence/file"
	"github.com/relayd/relay/pkg/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIssuer(t *testing.T, ttl time.Duration) *runtime.TokenIssuer {
	t.Helper()

	p := file.NewPersistence(t.TempDir())

	return runtime.NewTokenIssuer([]byte("test-secret"), ttl, p.Revocations())
}

func TestTokenIssuer_IssueAndVerify(t *testing.T) {
	ctx := context.Background()
	issuer := newIssuer(t, time.Minute)

	token, err := issuer.Issue("wf-1", "ns-1", "exec-1")
	require.NoError(t, err)

	claims, err := issuer.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "wf-1", claims.WorkflowID)
	assert.Equal(t, "ns-1", claims.NamespaceID)
	assert.Equal(t, "exec-1", claims.ExecutionID)
	assert.NotEmpty(t, claims.TokenID)
}

func TestTokenIssuer_RejectsTamperedToken(t *testing.T) {
	ctx := context.Background()
	issuer := newIssuer(t, time.Minute)

	token, err := issuer.Issue("wf-1", "ns-1", "exec-1")
	require.NoError(t, err)

	_, err = issuer.Verify(ctx, "x"+token)
	assert.ErrorIs(t, err, runtime.ErrBadSignature)

	_, err = issuer.Verify(ctx, "no-separator")
	assert.ErrorIs(t, err, runtime.ErrTokenMalformed)
}

func TestTokenIssuer_RejectsForeignSecret(t *testing.T) {
	ctx := context.Background()
	issuer := newIssuer(t, time.Minute)

	token, err := issuer.Issue("wf-1", "ns-1", "exec-1")
	require.NoError(t, err)

	p := file.NewPersistence(t.TempDir())
	foreign := runtime.NewTokenIssuer([]byte("other-secret"), time.Minute, p.Revocations())

	_, err = foreign.Verify(ctx, token)
	assert.ErrorIs(t, err, runtime.ErrBadSignature)
}

func TestTokenIssuer_Expiry(t *testing.T) {
	ctx := context.Background()
	issuer := newIssuer(t, time.Millisecond)

	token, err := issuer.Issue("wf-1", "ns-1", "exec-1")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = issuer.Verify(ctx, token)
	assert.ErrorIs(t, err, runtime.ErrTokenExpired)
}

func TestTokenIssuer_Revocation(t *testing.T) {
	ctx := context.Background()
	issuer := newIssuer(t, time.Minute)

	token, err := issuer.Issue("wf-1", "ns-1", "exec-1")
	require.NoError(t, err)

	claims, err := issuer.Verify(ctx, token)
	require.NoError(t, err)

	require.NoError(t, issuer.Revoke(ctx, claims))

	_, err = issuer.Verify(ctx, token)
	assert.ErrorIs(t, err, runtime.ErrTokenRevoked)
}
