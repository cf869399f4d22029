package enums

// PostcardEventType names a pipeline stage start or a terminal outcome on the
// progress channel and in the replayable event log.
type PostcardEventType string

const (
	PostcardEventTranslating PostcardEventType = "translating"
	PostcardEventConverting  PostcardEventType = "converting"
	PostcardEventGenerating  PostcardEventType = "generating"
	PostcardEventSending     PostcardEventType = "sending"
	PostcardEventCompleted   PostcardEventType = "completed"
	PostcardEventFailed      PostcardEventType = "failed"
)

// IsTerminal reports whether the event closes the postcard's progress stream.
func (e PostcardEventType) IsTerminal() bool {
	return e == PostcardEventCompleted || e == PostcardEventFailed
}
