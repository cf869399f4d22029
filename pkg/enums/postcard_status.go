package enums

import "fmt"

// PostcardStatus maps to the postcard_status enum in Postgres.
type PostcardStatus string

const (
	PostcardStatusWriting    PostcardStatus = "writing"
	PostcardStatusPending    PostcardStatus = "pending"
	PostcardStatusProcessing PostcardStatus = "processing"
	PostcardStatusSent       PostcardStatus = "sent"
	PostcardStatusFailed     PostcardStatus = "failed"
)

var validPostcardStatuses = []PostcardStatus{
	PostcardStatusWriting,
	PostcardStatusPending,
	PostcardStatusProcessing,
	PostcardStatusSent,
	PostcardStatusFailed,
}

// IsValid checks whether the given status matches the canonical enum.
func (s PostcardStatus) IsValid() bool {
	for _, candidate := range validPostcardStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParsePostcardStatus converts raw strings into PostcardStatus.
func ParsePostcardStatus(value string) (PostcardStatus, error) {
	for _, candidate := range validPostcardStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid postcard status %q", value)
}
