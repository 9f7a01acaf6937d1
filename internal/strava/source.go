package strava

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lildude/strautocoach/internal/model"
	"golang.org/x/oauth2"
)

// ErrNoToken is returned when a user has never authorised the app.
var ErrNoToken = errors.New("user has no Strava token")

// TokenSaver persists refreshed tokens.
type TokenSaver interface {
	UpdateUserToken(ctx context.Context, userID uint, tok *oauth2.Token) error
}

// ClientSource builds per-user API clients from stored OAuth tokens.
type ClientSource struct {
	OAuth   *oauth2.Config
	Limiter Limiter
	Tokens  TokenSaver
	OnUsage func(RateUsage)
}

// ClientFor returns a client authorised as u. Tokens refreshed while the
// client is in use are written back through Tokens.
func (s *ClientSource) ClientFor(ctx context.Context, u *model.User) (*Client, error) {
	tok, err := u.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("user %d: %w", u.ID, ErrNoToken)
	}

	ts := &savingTokenSource{
		ctx:    ctx,
		base:   s.OAuth.TokenSource(ctx, tok),
		last:   tok.AccessToken,
		userID: u.ID,
		saver:  s.Tokens,
	}
	c, err := NewClientFor(oauth2.NewClient(ctx, ts), s.Limiter, s.budgetKey())
	if err != nil {
		return nil, err
	}
	c.OnUsage = s.OnUsage
	return c, nil
}

// budgetKey names the rate limit budget. Strava counts requests per
// application, so every athlete's client shares one key.
func (s *ClientSource) budgetKey() string {
	return "app:" + s.OAuth.ClientID
}

// savingTokenSource calls the saver whenever the underlying source hands
// out a new access token.
type savingTokenSource struct {
	ctx    context.Context
	base   oauth2.TokenSource
	userID uint
	saver  TokenSaver

	mu   sync.Mutex
	last string
}

func (ts *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := ts.base.Token()
	if err != nil {
		return nil, err
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if tok.AccessToken != ts.last && ts.saver != nil {
		if err := ts.saver.UpdateUserToken(ts.ctx, ts.userID, tok); err != nil {
			return nil, fmt.Errorf("saving refreshed token: %w", err)
		}
	}
	ts.last = tok.AccessToken
	return tok, nil
}
