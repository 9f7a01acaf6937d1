package model

import (
	"fmt"

	"github.com/jackc/pgtype"
	"golang.org/x/oauth2"
)

// Token decodes the stored OAuth token. A user without a stored token
// yields an empty token.
func (u *User) Token() (*oauth2.Token, error) {
	tok := &oauth2.Token{}
	if u.StravaAuthToken.Status != pgtype.Present {
		return tok, nil
	}
	if err := u.StravaAuthToken.AssignTo(tok); err != nil {
		return nil, fmt.Errorf("decoding auth token for user %d: %w", u.ID, err)
	}
	return tok, nil
}

// SetToken replaces the stored OAuth token.
func (u *User) SetToken(tok *oauth2.Token) error {
	if err := u.StravaAuthToken.Set(tok); err != nil {
		return fmt.Errorf("encoding auth token for user %d: %w", u.ID, err)
	}
	return nil
}
