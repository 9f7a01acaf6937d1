// Package imports exposes historical imports and backfills over HTTP.
package imports

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/lildude/strautocoach/internal/importer"
	"github.com/lildude/strautocoach/internal/jobs"
	"github.com/lildude/strautocoach/internal/model"
	"github.com/lildude/strautocoach/internal/progress"
)

const maxBackfillDays = 90

type Users interface {
	FindUserByID(ctx context.Context, id uint) (*model.User, error)
}

type Importer interface {
	Start(ctx context.Context, userID uint) error
	Progress(ctx context.Context, userID uint) (*progress.Progress, error)
	Backfill(ctx context.Context, userID uint, after time.Time) (importer.Summary, error)
}

type Submitter interface {
	Submit(j jobs.Job) (uuid.UUID, error)
}

type Handler struct {
	users    Users
	importer Importer
	jobs     Submitter
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewHandler(u Users, im Importer, j Submitter, log logrus.FieldLogger) *Handler {
	return &Handler{users: u, importer: im, jobs: j, log: log, now: time.Now}
}

// SetupRoutes mounts the routes under /users, wrapped in mw.
func (h *Handler) SetupRoutes(router *mux.Router, mw ...mux.MiddlewareFunc) {
	users := router.PathPrefix("/users").Subrouter()
	users.HandleFunc("/{id:[0-9]+}/import", h.handleStart).Methods(http.MethodPost).Name("import-start")
	users.HandleFunc("/{id:[0-9]+}/import", h.handleProgress).Methods(http.MethodGet).Name("import-progress")
	users.HandleFunc("/{id:[0-9]+}/backfill", h.handleBackfill).Methods(http.MethodPost).Name("backfill")
	users.Use(mw...)
}

// user resolves the {id} route variable, writing the error response when
// it does not name a known user.
func (h *Handler) user(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 32)
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return 0, false
	}

	u, err := h.users.FindUserByID(r.Context(), uint(id))
	if err != nil {
		h.log.WithError(err).WithField("user_id", id).Error("unable to look up user")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return 0, false
	}
	if u == nil {
		http.Error(w, "user not found", http.StatusNotFound)
		return 0, false
	}
	return u.ID, true
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	err := h.importer.Start(r.Context(), userID)
	switch {
	case errors.Is(err, importer.ErrImportInProgress):
		http.Error(w, "import already in progress", http.StatusConflict)
		return
	case err != nil:
		h.log.WithError(err).WithField("user_id", userID).Error("unable to start import")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]any{"status": progress.StatusInProgress})
}

func (h *Handler) handleProgress(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	p, err := h.importer.Progress(r.Context(), userID)
	if err != nil {
		h.log.WithError(err).WithField("user_id", userID).Error("unable to read import progress")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if p == nil {
		http.Error(w, "no import found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// handleBackfill queues a backfill over the last ?days=N days, or the
// importer's default window when absent.
func (h *Handler) handleBackfill(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	var after time.Time
	if d := r.URL.Query().Get("days"); d != "" {
		days, err := strconv.Atoi(d)
		if err != nil || days < 1 || days > maxBackfillDays {
			http.Error(w, "days must be between 1 and "+strconv.Itoa(maxBackfillDays), http.StatusBadRequest)
			return
		}
		after = h.now().AddDate(0, 0, -days)
	}

	log := h.log.WithField("user_id", userID)
	id, err := h.jobs.Submit(jobs.Job{
		Name:   "backfill",
		Policy: jobs.RetryPolicy{MaxAttempts: 1},
		Run: func(ctx context.Context) error {
			sum, err := h.importer.Backfill(ctx, userID, after)
			if err != nil {
				return err
			}
			log.WithFields(logrus.Fields{"processed": sum.Processed, "skipped": sum.Skipped}).Info("backfill job done")
			return nil
		},
	})
	if err != nil {
		log.WithError(err).Warn("unable to queue backfill")
		http.Error(w, "job queue unavailable", http.StatusServiceUnavailable)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id.String()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.WithError(err).Error("encoding response")
	}
}
