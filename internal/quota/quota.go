package quota

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kanghyki/badang-post-office/pkg/enums"
	pkgerrors "github.com/kanghyki/badang-post-office/pkg/errors"
)

// countedStatuses are the statuses that consume quota. Anything in flight or
// already delivered counts; failed attempts count too, so resending a failed
// postcard never burns an extra slot.
var countedStatuses = []enums.PostcardStatus{
	enums.PostcardStatusSent,
	enums.PostcardStatusPending,
	enums.PostcardStatusFailed,
}

type Counter interface {
	CountInStatuses(ctx context.Context, userID uuid.UUID, statuses ...enums.PostcardStatus) (int64, error)
}

// Limiter enforces the per-user send quota.
type Limiter struct {
	counter Counter
	limit   int
}

func NewLimiter(counter Counter, limit int) *Limiter {
	return &Limiter{counter: counter, limit: limit}
}

// Check returns a quota-exceeded error when the user already has limit or
// more postcards counting against quota. A resend of a failed postcard is
// exempt: its slot was consumed by the original attempt.
func (l *Limiter) Check(ctx context.Context, userID uuid.UUID, resendOfFailed bool) error {
	if resendOfFailed {
		return nil
	}
	used, err := l.counter.CountInStatuses(ctx, userID, countedStatuses...)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to count quota usage")
	}
	if used >= int64(l.limit) {
		return pkgerrors.New(pkgerrors.CodeQuotaExceeded,
			fmt.Sprintf("send quota of %d postcards reached", l.limit)).
			WithDetails(map[string]any{
				"user_id": userID.String(),
				"used":    used,
				"limit":   l.limit,
			})
	}
	return nil
}
