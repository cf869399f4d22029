package progress

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kanghyki/badang-post-office/pkg/db/models"
	"github.com/kanghyki/badang-post-office/pkg/enums"
	pkgerrors "github.com/kanghyki/badang-post-office/pkg/errors"
	"github.com/kanghyki/badang-post-office/pkg/logger"
)

// Message is the wire format published on a postcard's progress channel.
type Message struct {
	Status enums.PostcardEventType `json:"status"`
	Error  string                  `json:"error,omitempty"`
}

// Broker is the pub/sub side of the channel.
type Broker interface {
	Publish(ctx context.Context, channel string, message any) error
	PostcardChannel(postcardID string) string
}

// EventRepository persists progress events so subscribers that attach late can
// replay what they missed.
type EventRepository interface {
	Append(ctx context.Context, event *models.PostcardEvent) error
	ListByPostcard(ctx context.Context, postcardID uuid.UUID) ([]models.PostcardEvent, error)
}

type eventRepositoryImpl struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepositoryImpl{db: db}
}

func (r *eventRepositoryImpl) Append(ctx context.Context, event *models.PostcardEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to append postcard event")
	}
	return nil
}

func (r *eventRepositoryImpl) ListByPostcard(ctx context.Context, postcardID uuid.UUID) ([]models.PostcardEvent, error) {
	var rows []models.PostcardEvent
	err := r.db.WithContext(ctx).
		Where("postcard_id = ?", postcardID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to list postcard events")
	}
	return rows, nil
}

// Publisher fans a postcard's progress out to live subscribers via Redis and
// to the event log for replay.
type Publisher struct {
	broker Broker
	events EventRepository
	logg   *logger.Logger
}

func NewPublisher(broker Broker, events EventRepository, logg *logger.Logger) *Publisher {
	return &Publisher{broker: broker, events: events, logg: logg}
}

// Publish emits the event to the live channel first, then appends it to the
// event log. A broken broker never blocks the pipeline: publish failures are
// logged and swallowed, only the durable append is surfaced.
func (p *Publisher) Publish(ctx context.Context, postcardID uuid.UUID, event enums.PostcardEventType, errText *string) error {
	msg := Message{Status: event}
	if errText != nil {
		msg.Error = *errText
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to encode progress message")
	}

	channel := p.broker.PostcardChannel(postcardID.String())
	if err := p.broker.Publish(ctx, channel, payload); err != nil {
		p.logg.Warn(p.logg.WithFields(ctx, map[string]any{
			"postcard_id": postcardID.String(),
			"event":       string(event),
			"error":       err.Error(),
		}), "progress publish dropped")
	}

	return p.events.Append(ctx, &models.PostcardEvent{
		PostcardID: postcardID,
		EventType:  event,
		ErrorText:  errText,
	})
}

// History replays the persisted events for one postcard in emission order.
func (p *Publisher) History(ctx context.Context, postcardID uuid.UUID) ([]Message, error) {
	rows, err := p.events.ListByPostcard(ctx, postcardID)
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(rows))
	for _, row := range rows {
		msg := Message{Status: row.EventType}
		if row.ErrorText != nil {
			msg.Error = *row.ErrorText
		}
		out = append(out, msg)
	}
	return out, nil
}

// Channel returns the pub/sub channel name for one postcard.
func (p *Publisher) Channel(postcardID uuid.UUID) string {
	return p.broker.PostcardChannel(postcardID.String())
}
