package strava

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/lildude/strautocoach/internal/client"
)

// Subscription is a webhook push subscription.
type Subscription struct {
	ID          int64  `json:"id"`
	CallbackURL string `json:"callback_url"`
}

// SubscriptionConfig holds the app credentials and callback used to subscribe.
type SubscriptionConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	VerifyToken  string
}

type subscriptionRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	CallbackURL  string `json:"callback_url"`
	VerifyToken  string `json:"verify_token"`
}

// EnsureSubscription creates the push subscription for cfg.CallbackURL
// unless it already exists. It reports whether one was created.
func EnsureSubscription(ctx context.Context, rc *client.Client, cfg SubscriptionConfig) (bool, error) {
	q := url.Values{"client_id": {cfg.ClientID}, "client_secret": {cfg.ClientSecret}}
	req, err := rc.NewRequest(ctx, http.MethodGet, "push_subscriptions?"+q.Encode(), nil)
	if err != nil {
		return false, fmt.Errorf("creating list subscriptions request: %w", err)
	}
	var subs []Subscription
	if _, err := rc.Do(req, &subs); err != nil { //nolint:bodyclose
		return false, fmt.Errorf("listing subscriptions: %w", err)
	}
	for _, s := range subs {
		if s.CallbackURL == cfg.CallbackURL {
			return false, nil
		}
	}

	req, err = rc.NewRequest(ctx, http.MethodPost, "push_subscriptions", subscriptionRequest(cfg))
	if err != nil {
		return false, fmt.Errorf("creating subscribe request: %w", err)
	}
	var created Subscription
	if _, err := rc.Do(req, &created); err != nil { //nolint:bodyclose
		return false, fmt.Errorf("subscribing %s: %w", cfg.CallbackURL, err)
	}
	return true, nil
}
