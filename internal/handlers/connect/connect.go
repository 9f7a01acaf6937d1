// Package connect links a Strava athlete to a user through the OAuth
// authorisation code flow.
package connect

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/lildude/strautocoach/internal/cache"
	"github.com/lildude/strautocoach/internal/calendar"
	"github.com/lildude/strautocoach/internal/model"
)

const stateTTL = 10 * time.Minute

type Users interface {
	FindUserByStravaID(ctx context.Context, stravaID int64) (*model.User, error)
	UpsertUser(ctx context.Context, u *model.User) error
}

type Importer interface {
	StartIfNeeded(ctx context.Context, userID uint) (bool, error)
}

// pending is what the athlete asked for before being sent to Strava.
type pending struct {
	ChatID      int64  `json:"chat_id"`
	CalendarURL string `json:"calendar_url,omitempty"`
}

type Handler struct {
	oauth    *oauth2.Config
	cache    cache.Cache
	users    Users
	importer Importer
	log      logrus.FieldLogger
}

func NewHandler(oc *oauth2.Config, c cache.Cache, u Users, im Importer, log logrus.FieldLogger) *Handler {
	return &Handler{oauth: oc, cache: c, users: u, importer: im, log: log}
}

func (h *Handler) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/connect", h.handleStart).Methods(http.MethodGet).Name("connect")
	router.HandleFunc("/connect/callback", h.handleCallback).Methods(http.MethodGet).Name("connect-callback")
}

func stateKey(state string) string {
	return "connect:state:" + state
}

// handleStart redirects to Strava's consent page. The optional chat_id
// and calendar_url are remembered until the athlete comes back.
func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var p pending
	q := r.URL.Query()
	if c := q.Get("chat_id"); c != "" {
		id, err := strconv.ParseInt(c, 10, 64)
		if err != nil {
			http.Error(w, "invalid chat_id", http.StatusBadRequest)
			return
		}
		p.ChatID = id
	}
	if c := q.Get("calendar_url"); c != "" {
		u, err := calendar.NormalizeURL(c)
		if err != nil {
			http.Error(w, "invalid calendar_url", http.StatusBadRequest)
			return
		}
		p.CalendarURL = u
	}

	state := uuid.NewString()
	if err := h.cache.SetJSON(r.Context(), stateKey(state), p, stateTTL); err != nil {
		h.log.WithError(err).Error("unable to store oauth state")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, h.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("approval_prompt", "auto")), http.StatusFound)
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		http.Error(w, "authorization failed: "+e, http.StatusBadRequest)
		return
	}
	if !strings.Contains(q.Get("scope"), "activity:read") {
		http.Error(w, "activity access was not granted", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	state := q.Get("state")
	var p pending
	err := h.cache.GetJSON(ctx, stateKey(state), &p)
	switch {
	case state == "" || errors.Is(err, cache.ErrMiss):
		http.Error(w, "state invalid", http.StatusBadRequest)
		return
	case err != nil:
		h.log.WithError(err).Error("unable to read oauth state")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if err := h.cache.Del(ctx, stateKey(state)); err != nil {
		h.log.WithError(err).Warn("unable to drop oauth state")
	}

	code := q.Get("code")
	if code == "" {
		http.Error(w, "code not found", http.StatusBadRequest)
		return
	}
	token, err := h.oauth.Exchange(ctx, code)
	if err != nil {
		h.log.WithError(err).Error("token exchange failed")
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	u, err := h.link(ctx, token, p)
	if err != nil {
		h.log.WithError(err).Error("unable to link athlete")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	log := h.log.WithFields(logrus.Fields{"user_id": u.ID, "strava_id": u.StravaID})
	log.Info("athlete connected")

	if started, err := h.importer.StartIfNeeded(ctx, u.ID); err != nil {
		log.WithError(err).Warn("could not start historical import")
	} else if started {
		log.Info("started historical import")
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Connected %s. Your recent activities are being imported.\n", u.Name)
}

// link stores the token against the athlete it was issued for, creating
// the user on first connection.
func (h *Handler) link(ctx context.Context, token *oauth2.Token, p pending) (*model.User, error) {
	athlete, ok := token.Extra("athlete").(map[string]any)
	if !ok {
		return nil, errors.New("token response has no athlete")
	}
	id, ok := athlete["id"].(float64)
	if !ok || id <= 0 {
		return nil, errors.New("token response has no athlete id")
	}

	u, err := h.users.FindUserByStravaID(ctx, int64(id))
	if err != nil {
		return nil, err
	}
	if u == nil {
		u = &model.User{StravaID: int64(id)}
	}
	first, _ := athlete["firstname"].(string)
	last, _ := athlete["lastname"].(string)
	if name := strings.TrimSpace(first + " " + last); name != "" {
		u.Name = name
	}
	if p.ChatID != 0 {
		u.TelegramChatID = p.ChatID
	}
	if p.CalendarURL != "" {
		u.CalendarURL = p.CalendarURL
	}
	if err := u.SetToken(token); err != nil {
		return nil, err
	}

	if err := h.users.UpsertUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}
