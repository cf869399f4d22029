package postcard

import (
	"fmt"

	"github.com/kanghyki/badang-post-office/pkg/enums"
	pkgerrors "github.com/kanghyki/badang-post-office/pkg/errors"
)

// transitions is the full lifecycle of a postcard. Entering "processing" is
// the single-flight mutex for delivery: only an atomic claim along one of
// these edges may start a pipeline run. Cancelling a deferred send reverts to
// "writing" rather than a dead-end status, so the postcard stays editable.
var transitions = map[enums.PostcardStatus][]enums.PostcardStatus{
	enums.PostcardStatusWriting:    {enums.PostcardStatusProcessing, enums.PostcardStatusPending},
	enums.PostcardStatusPending:    {enums.PostcardStatusWriting, enums.PostcardStatusProcessing},
	enums.PostcardStatusProcessing: {enums.PostcardStatusSent, enums.PostcardStatusFailed},
	enums.PostcardStatusFailed:     {enums.PostcardStatusProcessing},
	enums.PostcardStatusSent:       {},
}

// CanTransition reports whether the edge from -> to is part of the lifecycle.
func CanTransition(from, to enums.PostcardStatus) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// Transition validates the edge from -> to and returns a typed state-conflict
// error for anything outside the lifecycle. It performs no I/O.
func Transition(from, to enums.PostcardStatus) error {
	if !from.IsValid() {
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("unknown status %q", from))
	}
	if !CanTransition(from, to) {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("transition %s -> %s is not allowed", from, to))
	}
	return nil
}
