package quota

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/kanghyki/badang-post-office/pkg/enums"
	pkgerrors "github.com/kanghyki/badang-post-office/pkg/errors"
)

type stubCounter struct {
	count    int64
	err      error
	statuses []enums.PostcardStatus
}

func (s *stubCounter) CountInStatuses(_ context.Context, _ uuid.UUID, statuses ...enums.PostcardStatus) (int64, error) {
	s.statuses = statuses
	return s.count, s.err
}

func TestCheckAllowsBelowLimit(t *testing.T) {
	counter := &stubCounter{count: 9}
	limiter := NewLimiter(counter, 10)

	err := limiter.Check(context.Background(), uuid.New(), false)
	assert.NoError(t, err)
	assert.ElementsMatch(t, []enums.PostcardStatus{
		enums.PostcardStatusSent,
		enums.PostcardStatusPending,
		enums.PostcardStatusFailed,
	}, counter.statuses)
}

func TestCheckRejectsAtLimit(t *testing.T) {
	limiter := NewLimiter(&stubCounter{count: 10}, 10)
	err := limiter.Check(context.Background(), uuid.New(), false)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeQuotaExceeded))
}

func TestCheckSkipsResendOfFailed(t *testing.T) {
	counter := &stubCounter{count: 99}
	limiter := NewLimiter(counter, 10)

	err := limiter.Check(context.Background(), uuid.New(), true)
	assert.NoError(t, err)
	assert.Nil(t, counter.statuses, "resend must not hit the store")
}

func TestCheckWrapsCounterError(t *testing.T) {
	limiter := NewLimiter(&stubCounter{err: errors.New("db down")}, 10)
	err := limiter.Check(context.Background(), uuid.New(), false)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInternal))
}
