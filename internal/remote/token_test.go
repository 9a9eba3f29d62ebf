package remote

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/huangsam/feedmirror/internal/contract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// steppedClock is a manually advanced clock for the guards.
type steppedClock struct{ now time.Time }

func (c *steppedClock) Now() time.Time { return c.now }

func TestStaticTokenGuard(t *testing.T) {
	ctx := context.Background()
	clock := &steppedClock{now: time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)}
	g := NewStaticTokenGuard("  abc  ")
	g.now = clock.Now

	token, err := g.GetValidToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	g.InvalidateToken()
	_, err = g.GetValidToken(ctx)
	assert.ErrorIs(t, err, contract.ErrUnauthorized)

	_, err = NewStaticTokenGuard("").GetValidToken(ctx)
	assert.ErrorIs(t, err, contract.ErrUnauthorized)
}

func TestStaticTokenGuard_RejectionExpires(t *testing.T) {
	ctx := context.Background()
	clock := &steppedClock{now: time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)}
	g := NewStaticTokenGuard("abc")
	g.now = clock.Now

	// One rejected call must not disable the guard for good
	g.InvalidateToken()
	clock.now = clock.now.Add(RejectionCooldown - time.Second)
	_, err := g.GetValidToken(ctx)
	assert.ErrorIs(t, err, contract.ErrUnauthorized)

	clock.now = clock.now.Add(24 * time.Hour)
	token, err := g.GetValidToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	// Trusted again until the next rejection
	token, err = g.GetValidToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", token)
}

func TestFileTokenGuard(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("first\n"), 0o600))

	clock := &steppedClock{now: time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)}
	g := NewFileTokenGuard(path)
	g.now = clock.Now
	token, err := g.GetValidToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", token)

	// Cached until invalidated
	require.NoError(t, os.WriteFile(path, []byte("second"), 0o600))
	token, err = g.GetValidToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", token)

	g.InvalidateToken()
	token, err = g.GetValidToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", token)

	// The file was not rotated after a rejection
	g.InvalidateToken()
	_, err = g.GetValidToken(ctx)
	assert.ErrorIs(t, err, contract.ErrUnauthorized)

	// After the cooldown the unrotated token is tried again
	clock.now = clock.now.Add(RejectionCooldown)
	token, err = g.GetValidToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", token)

	g.InvalidateToken()
	require.NoError(t, os.WriteFile(path, []byte("third"), 0o600))
	token, err = g.GetValidToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "third", token)
}

func TestFileTokenGuard_Errors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	_, err := NewFileTokenGuard(filepath.Join(dir, "missing")).GetValidToken(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read token file")

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o600))
	_, err = NewFileTokenGuard(empty).GetValidToken(ctx)
	assert.ErrorIs(t, err, contract.ErrUnauthorized)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = NewFileTokenGuard(empty).GetValidToken(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewTokenGuard(t *testing.T) {
	g, err := NewTokenGuard(&contract.Config{Token: "abc", TokenFile: "/tmp/token"})
	require.NoError(t, err)
	assert.IsType(t, &FileTokenGuard{}, g)

	g, err = NewTokenGuard(&contract.Config{Token: "abc"})
	require.NoError(t, err)
	assert.IsType(t, &StaticTokenGuard{}, g)

	_, err = NewTokenGuard(&contract.Config{})
	require.Error(t, err)
}
