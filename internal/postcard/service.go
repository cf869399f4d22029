package postcard

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kanghyki/badang-post-office/pkg/db/models"
	"github.com/kanghyki/badang-post-office/pkg/enums"
	pkgerrors "github.com/kanghyki/badang-post-office/pkg/errors"
	"github.com/kanghyki/badang-post-office/pkg/logger"
)

// JobScheduler is the timer surface the service drives for deferred sends.
type JobScheduler interface {
	Schedule(postcardID uuid.UUID, fireAt time.Time) bool
	Cancel(postcardID uuid.UUID) bool
	Reschedule(postcardID uuid.UUID, fireAt time.Time) bool
}

// SendRunner executes the delivery pipeline for one postcard.
type SendRunner interface {
	RunSend(ctx context.Context, postcardID, userID uuid.UUID, from ...enums.PostcardStatus) error
}

// QuotaChecker guards the per-user send quota.
type QuotaChecker interface {
	Check(ctx context.Context, userID uuid.UUID, resendOfFailed bool) error
}

// Service is the boundary callers use to move postcards through delivery.
type Service struct {
	repo      Repository
	scheduler JobScheduler
	runner    SendRunner
	quota     QuotaChecker
	logg      *logger.Logger
	// dispatch runs an immediate send off the caller's request path.
	dispatch func(fn func())
}

type ServiceParams struct {
	Repo      Repository
	Scheduler JobScheduler
	Runner    SendRunner
	Quota     QuotaChecker
	Logger    *logger.Logger
}

func NewService(params ServiceParams) *Service {
	return &Service{
		repo:      params.Repo,
		scheduler: params.Scheduler,
		runner:    params.Runner,
		quota:     params.Quota,
		logg:      params.Logger,
		dispatch:  func(fn func()) { go fn() },
	}
}

// Send submits a writing postcard for delivery. With a scheduled time the
// postcard parks in pending and a timer is registered; without one the
// pipeline starts immediately in the background.
func (s *Service) Send(ctx context.Context, postcardID, userID uuid.UUID) error {
	pc, err := s.owned(ctx, postcardID, userID)
	if err != nil {
		return err
	}
	// Submitting takes the writing -> pending edge; an immediate send claims
	// writing -> processing from the same source status.
	if err := Transition(pc.Status, enums.PostcardStatusPending); err != nil {
		return err
	}
	if err := s.quota.Check(ctx, userID, false); err != nil {
		return err
	}

	if pc.ScheduledAt == nil {
		s.dispatchRun(ctx, postcardID, userID, enums.PostcardStatusWriting)
		return nil
	}

	claimed, err := s.repo.Claim(ctx, postcardID, enums.PostcardStatusPending, enums.PostcardStatusWriting)
	if err != nil {
		return err
	}
	if !claimed {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "postcard changed state while submitting")
	}
	if !s.scheduler.Schedule(postcardID, *pc.ScheduledAt) {
		// Roll back so the postcard is not stranded in pending with no timer.
		if _, revertErr := s.repo.Claim(ctx, postcardID, enums.PostcardStatusWriting, enums.PostcardStatusPending); revertErr != nil {
			s.logg.Error(s.logg.WithPostcardID(ctx, postcardID.String()),
				"failed to revert postcard after scheduler rejection", revertErr)
		}
		return pkgerrors.New(pkgerrors.CodeDependency, "scheduler rejected the deferred send")
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"postcard_id":  postcardID.String(),
		"scheduled_at": pc.ScheduledAt,
	}), "postcard scheduled")
	return nil
}

// Cancel reverts a pending postcard to writing. The timer cancellation result
// is informational: after a restart the timer may live only in the store.
func (s *Service) Cancel(ctx context.Context, postcardID, userID uuid.UUID) error {
	pc, err := s.owned(ctx, postcardID, userID)
	if err != nil {
		return err
	}
	if err := Transition(pc.Status, enums.PostcardStatusWriting); err != nil {
		return err
	}

	if !s.scheduler.Cancel(postcardID) {
		s.logg.Debug(s.logg.WithPostcardID(ctx, postcardID.String()), "no registered timer to cancel")
	}

	claimed, err := s.repo.Claim(ctx, postcardID, enums.PostcardStatusWriting, enums.PostcardStatusPending)
	if err != nil {
		return err
	}
	if !claimed {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "only a pending postcard can be cancelled")
	}
	s.logg.Info(s.logg.WithPostcardID(ctx, postcardID.String()), "scheduled send cancelled")
	return nil
}

// Reschedule moves a pending postcard's fire time.
func (s *Service) Reschedule(ctx context.Context, postcardID, userID uuid.UUID, fireAt time.Time) error {
	pc, err := s.owned(ctx, postcardID, userID)
	if err != nil {
		return err
	}
	if pc.Status != enums.PostcardStatusPending {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "only a pending postcard can be rescheduled").
			WithDetails(map[string]any{"status": string(pc.Status)})
	}
	if err := s.repo.Update(ctx, postcardID, map[string]any{"scheduled_at": fireAt}); err != nil {
		return err
	}
	if !s.scheduler.Reschedule(postcardID, fireAt) {
		return pkgerrors.New(pkgerrors.CodeDependency, "scheduler rejected the reschedule")
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"postcard_id":  postcardID.String(),
		"scheduled_at": fireAt,
	}), "postcard rescheduled")
	return nil
}

// Resend retries a failed postcard. The quota was consumed by the original
// attempt, so no quota check applies here.
func (s *Service) Resend(ctx context.Context, postcardID, userID uuid.UUID) error {
	pc, err := s.owned(ctx, postcardID, userID)
	if err != nil {
		return err
	}
	if pc.Status != enums.PostcardStatusFailed {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "only a failed postcard can be resent").
			WithDetails(map[string]any{"status": string(pc.Status)})
	}
	if err := s.quota.Check(ctx, userID, true); err != nil {
		return err
	}
	s.dispatchRun(ctx, postcardID, userID, enums.PostcardStatusFailed)
	return nil
}

// owned loads the postcard and hides other users' postcards behind not-found.
func (s *Service) owned(ctx context.Context, postcardID, userID uuid.UUID) (*models.Postcard, error) {
	pc, err := s.repo.Get(ctx, postcardID)
	if err != nil {
		return nil, err
	}
	if pc.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "postcard not found").
			WithDetails(map[string]any{"postcard_id": postcardID.String()})
	}
	return pc, nil
}

func (s *Service) dispatchRun(ctx context.Context, postcardID, userID uuid.UUID, from enums.PostcardStatus) {
	// The run must outlive the request that triggered it.
	runCtx := context.WithoutCancel(ctx)
	s.dispatch(func() {
		if err := s.runner.RunSend(runCtx, postcardID, userID, from); err != nil {
			s.logg.Error(s.logg.WithPostcardID(runCtx, postcardID.String()), "background send failed", err)
		}
	})
}
