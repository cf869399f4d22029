package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	redislib "github.com/redis/go-redis/v9"

	"github.com/kanghyki/badang-post-office/api/responses"
	"github.com/kanghyki/badang-post-office/internal/postcard"
	"github.com/kanghyki/badang-post-office/internal/progress"
	"github.com/kanghyki/badang-post-office/pkg/enums"
	pkgerrors "github.com/kanghyki/badang-post-office/pkg/errors"
	"github.com/kanghyki/badang-post-office/pkg/logger"
)

const userIDHeader = "X-User-Id"

// Subscriber opens a live pub/sub stream for one channel.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (*redislib.PubSub, error)
}

// PostcardController exposes the delivery operations over HTTP.
type PostcardController struct {
	service    *postcard.Service
	progress   *progress.Publisher
	subscriber Subscriber
	logg       *logger.Logger
}

func NewPostcardController(service *postcard.Service, prog *progress.Publisher, subscriber Subscriber, logg *logger.Logger) *PostcardController {
	return &PostcardController{
		service:    service,
		progress:   prog,
		subscriber: subscriber,
		logg:       logg,
	}
}

type rescheduleRequest struct {
	ScheduledAt time.Time `json:"scheduled_at"`
}

func (c *PostcardController) Send(w http.ResponseWriter, r *http.Request) {
	postcardID, userID, err := c.identifiers(r)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	if err := c.service.Send(r.Context(), postcardID, userID); err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (c *PostcardController) Cancel(w http.ResponseWriter, r *http.Request) {
	postcardID, userID, err := c.identifiers(r)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	if err := c.service.Cancel(r.Context(), postcardID, userID); err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	responses.WriteSuccess(w, map[string]string{"status": string(enums.PostcardStatusWriting)})
}

func (c *PostcardController) Reschedule(w http.ResponseWriter, r *http.Request) {
	postcardID, userID, err := c.identifiers(r)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ScheduledAt.IsZero() {
		responses.WriteError(r.Context(), c.logg, w,
			pkgerrors.New(pkgerrors.CodeValidation, "scheduled_at is required"))
		return
	}
	if err := c.service.Reschedule(r.Context(), postcardID, userID, req.ScheduledAt); err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	responses.WriteSuccess(w, map[string]any{"scheduled_at": req.ScheduledAt})
}

func (c *PostcardController) Resend(w http.ResponseWriter, r *http.Request) {
	postcardID, userID, err := c.identifiers(r)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	if err := c.service.Resend(r.Context(), postcardID, userID); err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// Events streams a postcard's progress as server-sent events: the persisted
// history first, then live messages until a terminal event or disconnect.
func (c *PostcardController) Events(w http.ResponseWriter, r *http.Request) {
	postcardID, err := parsePostcardID(r)
	if err != nil {
		responses.WriteError(r.Context(), c.logg, w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		responses.WriteError(r.Context(), c.logg, w,
			pkgerrors.New(pkgerrors.CodeInternal, "streaming unsupported"))
		return
	}

	ctx := r.Context()

	// Subscribe before replaying so no event falls between history and live.
	var live <-chan *redislib.Message
	if c.subscriber != nil {
		pubsub, err := c.subscriber.Subscribe(ctx, c.progress.Channel(postcardID))
		if err != nil {
			responses.WriteError(ctx, c.logg, w, err)
			return
		}
		defer pubsub.Close()
		live = pubsub.Channel()
	}

	history, err := c.progress.History(ctx, postcardID)
	if err != nil {
		responses.WriteError(ctx, c.logg, w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	terminal := false
	for _, msg := range history {
		writeSSE(w, msg)
		if msg.Status.IsTerminal() {
			terminal = true
		}
	}
	flusher.Flush()
	if terminal || live == nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-live:
			if !ok {
				return
			}
			var msg progress.Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				c.logg.Warn(c.logg.WithField(ctx, "payload", raw.Payload), "dropping malformed progress message")
				continue
			}
			writeSSE(w, msg)
			flusher.Flush()
			if msg.Status.IsTerminal() {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, msg progress.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

func (c *PostcardController) identifiers(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	postcardID, err := parsePostcardID(r)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	userID, err := uuid.Parse(r.Header.Get(userIDHeader))
	if err != nil {
		return uuid.Nil, uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "valid X-User-Id header is required")
	}
	return postcardID, userID, nil
}

func parsePostcardID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "postcardID"))
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid postcard id")
	}
	return id, nil
}
