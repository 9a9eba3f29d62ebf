package remote

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/huangsam/feedmirror/internal/contract"
)

// RejectionCooldown is how long a rejected token is refused before it is
// offered again. A single 401 must not disable a long-running process.
const RejectionCooldown = 15 * time.Minute

// StaticTokenGuard serves a fixed token. After a rejection the token is
// refused for RejectionCooldown, then offered again.
type StaticTokenGuard struct {
	mu         sync.Mutex
	token      string
	rejectedAt time.Time
	now        func() time.Time
}

var _ contract.TokenGuard = &StaticTokenGuard{} // Compile-time check

// NewStaticTokenGuard wraps a plaintext token.
func NewStaticTokenGuard(token string) *StaticTokenGuard {
	return &StaticTokenGuard{token: strings.TrimSpace(token), now: time.Now}
}

// GetValidToken returns the token unless it was rejected recently.
func (g *StaticTokenGuard) GetValidToken(_ context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.token == "" {
		return "", fmt.Errorf("no access token configured: %w", contract.ErrUnauthorized)
	}
	if !g.rejectedAt.IsZero() {
		if wait := RejectionCooldown - g.now().Sub(g.rejectedAt); wait > 0 {
			return "", fmt.Errorf("static access token was rejected, retrying in %v: %w",
				wait.Round(time.Second), contract.ErrUnauthorized)
		}
		g.rejectedAt = time.Time{}
	}
	return g.token, nil
}

// InvalidateToken marks the token as rejected.
func (g *StaticTokenGuard) InvalidateToken() {
	g.mu.Lock()
	g.rejectedAt = g.now()
	g.mu.Unlock()
}

// FileTokenGuard reads the token from a file that an external process keeps
// fresh. The file is read lazily and re-read after each invalidation.
type FileTokenGuard struct {
	mu         sync.Mutex
	path       string
	token      string
	rejected   string
	rejectedAt time.Time
	now        func() time.Time
}

var _ contract.TokenGuard = &FileTokenGuard{} // Compile-time check

// NewFileTokenGuard creates a guard for the token at path.
func NewFileTokenGuard(path string) *FileTokenGuard {
	return &FileTokenGuard{path: path, now: time.Now}
}

// GetValidToken returns the cached token or loads it from disk. A file that
// still holds the rejected token is refused until RejectionCooldown passes.
func (g *FileTokenGuard) GetValidToken(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.token != "" {
		return g.token, nil
	}

	data, err := os.ReadFile(g.path)
	if err != nil {
		return "", fmt.Errorf("failed to read token file %s: %w", g.path, err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty: %w", g.path, contract.ErrUnauthorized)
	}
	if token == g.rejected {
		if g.now().Sub(g.rejectedAt) < RejectionCooldown {
			return "", fmt.Errorf("token file %s still holds a rejected token: %w", g.path, contract.ErrUnauthorized)
		}
		g.rejected = ""
	}
	g.token = token
	return token, nil
}

// InvalidateToken forgets the cached token so the next call re-reads the file.
func (g *FileTokenGuard) InvalidateToken() {
	g.mu.Lock()
	if g.token != "" {
		g.rejected = g.token
		g.rejectedAt = g.now()
	}
	g.token = ""
	g.mu.Unlock()
}

// NewTokenGuard picks the guard for the configuration. A token file wins
// over a plaintext token.
func NewTokenGuard(cfg *contract.Config) (contract.TokenGuard, error) {
	switch {
	case cfg.TokenFile != "":
		return NewFileTokenGuard(cfg.TokenFile), nil
	case cfg.Token != "":
		return NewStaticTokenGuard(cfg.Token), nil
	default:
		return nil, fmt.Errorf("either --token or --token-file must be set")
	}
}
