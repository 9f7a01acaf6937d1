// Package notify tells users about their stored activities over Telegram.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"

	"github.com/lildude/strautocoach/internal/client"
	"github.com/lildude/strautocoach/internal/model"
)

// APIURL is the Telegram Bot API root.
var APIURL = "https://api.telegram.org/"

var ErrActivityNotFound = errors.New("activity not found")

type Store interface {
	FindUserByID(ctx context.Context, id uint) (*model.User, error)
	FindActivity(ctx context.Context, userID, id uint) (*model.Activity, error)
	FindFeedbackForActivity(ctx context.Context, activityID uint) (*model.Feedback, error)
}

type sendMessage struct {
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Telegram sends activity messages through a bot.
type Telegram struct {
	rc    *client.Client
	store Store
	log   logrus.FieldLogger
	// Language controls number formatting in messages.
	Language language.Tag
}

// NewTelegram returns a notifier for the bot token. A nil hc uses
// http.DefaultClient.
func NewTelegram(token string, st Store, hc *http.Client, log logrus.FieldLogger) (*Telegram, error) {
	u, err := url.Parse(fmt.Sprintf("%sbot%s/", APIURL, token))
	if err != nil {
		return nil, fmt.Errorf("parsing Telegram URL: %w", err)
	}
	return &Telegram{rc: client.NewClient(u, hc), store: st, log: log, Language: language.English}, nil
}

// Notify sends the activity, with its feedback when there is some, to the
// user's chat. Users without a chat are skipped.
func (t *Telegram) Notify(ctx context.Context, activityID, userID uint) error {
	log := t.log.WithFields(logrus.Fields{"activity_id": activityID, "user_id": userID})

	u, err := t.store.FindUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if u == nil || u.TelegramChatID == 0 {
		log.Debug("no Telegram chat configured, skipping notification")
		return nil
	}

	a, err := t.store.FindActivity(ctx, userID, activityID)
	if err != nil {
		return err
	}
	if a == nil {
		return backoff.Permanent(fmt.Errorf("activity %d for user %d: %w", activityID, userID, ErrActivityNotFound))
	}
	fb, err := t.store.FindFeedbackForActivity(ctx, activityID)
	if err != nil {
		return err
	}

	if err := t.send(ctx, u.TelegramChatID, BuildMessage(a, fb, t.Language)); err != nil {
		return err
	}
	log.WithField("chat_id", u.TelegramChatID).Info("Telegram notification sent")
	return nil
}

func (t *Telegram) send(ctx context.Context, chatID int64, text string) error {
	req, err := t.rc.NewRequest(ctx, http.MethodPost, "sendMessage", sendMessage{ChatID: chatID, Text: text, ParseMode: "HTML"})
	if err != nil {
		return fmt.Errorf("creating Telegram request: %w", err)
	}

	var res apiResponse
	if _, err := t.rc.Do(req, &res); err != nil {
		var er *client.ErrorResponse
		if errors.As(err, &er) && er.StatusCode() == http.StatusBadRequest {
			// A malformed message or unknown chat will not fix itself.
			return backoff.Permanent(fmt.Errorf("sending Telegram message: %w", err))
		}
		return fmt.Errorf("sending Telegram message: %w", err)
	}
	if !res.OK {
		return fmt.Errorf("sending Telegram message: %s", res.Description)
	}
	return nil
}
