package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/huangsam/feedmirror/internal/contract"
	"github.com/huangsam/feedmirror/schema"
)

// maxListPages stops a runaway listing when the remote never returns a short page.
const maxListPages = 500

// remoteSession holds the token for one run and spends at most one
// re-authentication on it.
type remoteSession struct {
	remote      contract.RemoteSource
	tokens      contract.TokenGuard
	token       string
	reauthed    bool
	callsMade   int
	listedPages int
}

func newRemoteSession(ctx context.Context, remote contract.RemoteSource, tokens contract.TokenGuard) (*remoteSession, error) {
	token, err := tokens.GetValidToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire token: %w", err)
	}
	return &remoteSession{remote: remote, tokens: tokens, token: token}, nil
}

// reauth swaps in a fresh token once per session.
func (s *remoteSession) reauth(ctx context.Context) bool {
	if s.reauthed {
		return false
	}
	s.reauthed = true
	s.tokens.InvalidateToken()
	token, err := s.tokens.GetValidToken(ctx)
	if err != nil {
		return false
	}
	s.token = token
	return true
}

// listAll pages through the basic listing until a short page.
func (s *remoteSession) listAll(ctx context.Context, pageSize int) ([]schema.Item, error) {
	var all []schema.Item
	for page := 1; page <= maxListPages; page++ {
		items, err := s.remote.ListBasic(ctx, s.token, page, pageSize)
		s.callsMade++
		if errors.Is(err, contract.ErrUnauthorized) && s.reauth(ctx) {
			items, err = s.remote.ListBasic(ctx, s.token, page, pageSize)
			s.callsMade++
		}
		if err != nil {
			return nil, fmt.Errorf("list page %d: %w", page, err)
		}
		s.listedPages = page
		all = append(all, items...)
		if len(items) < pageSize {
			return all, nil
		}
	}
	return all, nil
}

// fetch retrieves one enrichment, re-authenticating once per session.
func (s *remoteSession) fetch(ctx context.Context, id int64, kind schema.EnrichmentKind) (schema.Enrichment, error) {
	e, err := s.remote.FetchEnrichment(ctx, id, kind, s.token)
	s.callsMade++
	if errors.Is(err, contract.ErrUnauthorized) && s.reauth(ctx) {
		e, err = s.remote.FetchEnrichment(ctx, id, kind, s.token)
		s.callsMade++
	}
	if err != nil {
		return schema.Enrichment{}, err
	}
	e.Kind = kind
	return e, nil
}
