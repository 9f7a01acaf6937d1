// Package webhook serves the Strava push subscription endpoint.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/lildude/strautocoach/internal/ingest"
	"github.com/lildude/strautocoach/internal/jobs"
	"github.com/lildude/strautocoach/internal/model"
	"github.com/lildude/strautocoach/internal/strava"
)

// Users resolves the owner of an event.
type Users interface {
	FindUserByStravaID(ctx context.Context, stravaID int64) (*model.User, error)
}

// Importer kicks off the first historical import for a user.
type Importer interface {
	StartIfNeeded(ctx context.Context, userID uint) (bool, error)
}

// Ingester runs the ingestion critical path.
type Ingester interface {
	Process(ctx context.Context, userID uint, stravaID int64, opts ingest.Options) (*ingest.Result, error)
	RetryJob(userID uint, stravaID int64, opts ingest.Options) jobs.Job
}

// Submitter queues background jobs.
type Submitter interface {
	Submit(j jobs.Job) (uuid.UUID, error)
}

type Handler struct {
	users       Users
	importer    Importer
	ingester    Ingester
	jobs        Submitter
	verifyToken string
	deadline    time.Duration
	log         logrus.FieldLogger
}

func NewHandler(u Users, im Importer, in Ingester, j Submitter, verifyToken string, deadline time.Duration, log logrus.FieldLogger) *Handler {
	return &Handler{
		users:       u,
		importer:    im,
		ingester:    in,
		jobs:        j,
		verifyToken: verifyToken,
		deadline:    deadline,
		log:         log,
	}
}

func (h *Handler) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/webhook", h.Verify).Methods(http.MethodGet).Name("webhook-verify")
	router.HandleFunc("/webhook", h.Event).Methods(http.MethodPost).Name("webhook-event")
}

// Verify answers the subscription validation request by echoing the
// challenge.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	for _, p := range []string{"hub.mode", "hub.challenge", "hub.verify_token"} {
		if !q.Has(p) {
			http.Error(w, "missing query param: "+p, http.StatusBadRequest)
			return
		}
	}

	token := q.Get("hub.verify_token")
	if q.Get("hub.mode") != "subscribe" || h.verifyToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) != 1 {
		h.log.Warn("rejected webhook verification")
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"hub.challenge": q.Get("hub.challenge")}); err != nil {
		h.log.WithError(err).Error("encoding verification response")
	}
}

// Event accepts a push event. Strava only needs a prompt 200, so every
// outcome is logged rather than reported back.
func (h *Handler) Event(w http.ResponseWriter, r *http.Request) {
	defer w.WriteHeader(http.StatusOK)

	var ev strava.WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		h.log.WithError(err).Warn("unable to decode webhook payload")
		return
	}

	log := h.log.WithFields(logrus.Fields{
		"strava_id":   ev.ObjectID,
		"owner_id":    ev.OwnerID,
		"object_type": ev.ObjectType,
		"aspect_type": ev.AspectType,
	})
	if ev.ObjectType != "activity" || (ev.AspectType != "create" && ev.AspectType != "update") {
		log.Debug("ignoring webhook event")
		return
	}

	// The upstream hanging up must not abort a write already under way.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.deadline)
	defer cancel()

	u, err := h.users.FindUserByStravaID(ctx, ev.OwnerID)
	if err != nil {
		log.WithError(err).Error("unable to look up event owner")
		return
	}
	if u == nil {
		log.Info("ignoring event for unknown athlete")
		return
	}
	log = log.WithField("user_id", u.ID)

	if started, err := h.importer.StartIfNeeded(ctx, u.ID); err != nil {
		log.WithError(err).Warn("could not start historical import")
	} else if started {
		log.Info("started historical import")
	}

	opts := ingest.Options{Feedback: true, Notify: true}
	res, err := h.ingester.Process(ctx, u.ID, ev.ObjectID, opts)
	if err == nil {
		log.WithField("activity_id", res.ActivityID).Info("activity ingested")
		return
	}
	if !ingest.Retryable(err) {
		log.WithError(err).Error("activity ingestion failed")
		return
	}

	id, serr := h.jobs.Submit(h.ingester.RetryJob(u.ID, ev.ObjectID, opts))
	if serr != nil {
		log.WithError(err).WithField("submit_error", serr.Error()).Error("activity ingestion failed and could not be retried")
		return
	}
	log.WithError(err).WithField("job_id", id).Warn("activity ingestion failed, retrying in the background")
}
