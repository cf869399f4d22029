package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kanghyki/badang-post-office/pkg/db/models"
	"github.com/kanghyki/badang-post-office/pkg/enums"
	pkgerrors "github.com/kanghyki/badang-post-office/pkg/errors"
	"github.com/kanghyki/badang-post-office/pkg/logger"
	"github.com/kanghyki/badang-post-office/pkg/metrics"
)

// Translator rewrites the postcard text into the recipient's language.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// Stylizer applies the artistic style transfer to the sender's photo.
type Stylizer interface {
	Stylize(ctx context.Context, photo []byte, sizeHint string) ([]byte, error)
}

// Renderer composes texts and photos onto the template, producing the final
// postcard image.
type Renderer interface {
	Render(ctx context.Context, templateID string, texts map[string]string, photos map[string][]byte) ([]byte, error)
}

// Mailer delivers the rendered postcard to the recipient.
type Mailer interface {
	Send(ctx context.Context, toEmail, imagePath string, meta MailMeta) error
}

// MailMeta carries the display names for the outgoing message.
type MailMeta struct {
	RecipientName string
	SenderName    string
}

// Storage is the blob side of the pipeline: source photos in, stage artifacts
// out. Save methods return the path as stored in the postcard row; Path turns
// a stored path back into one other processes can open.
type Storage interface {
	Read(ctx context.Context, path string) ([]byte, error)
	SaveStylized(ctx context.Context, data []byte, ext string) (string, error)
	SaveRendered(ctx context.Context, data []byte) (string, error)
	Path(path string) (string, error)
}

// Store is the slice of the postcard repository the runner needs.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Postcard, error)
	Update(ctx context.Context, id uuid.UUID, fields map[string]any) error
	Claim(ctx context.Context, id uuid.UUID, to enums.PostcardStatus, from ...enums.PostcardStatus) (bool, error)
}

// Progress publishes stage events to the postcard's live channel and log.
type Progress interface {
	Publish(ctx context.Context, postcardID uuid.UUID, event enums.PostcardEventType, errText *string) error
}

const stylizeSizeHint = "1024x1024"

// Runner drives one postcard through translate, stylize, render and send.
type Runner struct {
	store      Store
	progress   Progress
	translator Translator
	stylizer   Stylizer
	renderer   Renderer
	mailer     Mailer
	storage    Storage
	met        *metrics.PipelineMetrics
	logg       *logger.Logger
	now        func() time.Time
}

type RunnerParams struct {
	Store      Store
	Progress   Progress
	Translator Translator
	Stylizer   Stylizer
	Renderer   Renderer
	Mailer     Mailer
	Storage    Storage
	Metrics    *metrics.PipelineMetrics
	Logger     *logger.Logger
}

func NewRunner(params RunnerParams) *Runner {
	return &Runner{
		store:      params.Store,
		progress:   params.Progress,
		translator: params.Translator,
		stylizer:   params.Stylizer,
		renderer:   params.Renderer,
		mailer:     params.Mailer,
		storage:    params.Storage,
		met:        params.Metrics,
		logg:       params.Logger,
		now:        time.Now,
	}
}

// RunSend claims the postcard from one of the given statuses and drives it to
// a terminal state. Losing the claim is not an error: someone else owns the
// run. Translate and stylize degrade to the original content on failure;
// render and send failures are terminal. There are no automatic retries, a
// failed postcard waits for an explicit resend.
func (r *Runner) RunSend(ctx context.Context, postcardID, userID uuid.UUID, from ...enums.PostcardStatus) error {
	ctx = r.logg.WithPostcardID(ctx, postcardID.String())
	ctx = r.logg.WithUserID(ctx, userID.String())

	claimed, err := r.store.Claim(ctx, postcardID, enums.PostcardStatusProcessing, from...)
	if err != nil {
		return err
	}
	if !claimed {
		r.logg.Debug(ctx, "postcard claim lost, another run owns it")
		return nil
	}

	pc, err := r.store.Get(ctx, postcardID)
	if err != nil {
		return err
	}

	// Resends resume after the last completed stage: a surviving rendered
	// image means translate/stylize/render already succeeded once.
	if pc.RenderedImagePath == nil || *pc.RenderedImagePath == "" {
		r.runTranslate(ctx, pc)
		r.runStylize(ctx, pc)
		if err := r.runRender(ctx, pc); err != nil {
			return r.fail(ctx, pc, "generating", err)
		}
	} else {
		r.logg.Info(ctx, "rendered image already present, resuming at send")
	}

	if err := r.runSend(ctx, pc); err != nil {
		return r.fail(ctx, pc, "sending", err)
	}

	sentAt := r.now().UTC()
	if err := r.store.Update(ctx, pc.ID, map[string]any{
		"status":        enums.PostcardStatusSent,
		"sent_at":       sentAt,
		"error_message": nil,
	}); err != nil {
		return err
	}
	if err := r.progress.Publish(ctx, pc.ID, enums.PostcardEventCompleted, nil); err != nil {
		r.logg.Error(ctx, "failed to record completion event", err)
	}
	r.met.IncOutcome("sent")
	r.logg.Info(ctx, "postcard delivered")
	return nil
}

func (r *Runner) runTranslate(ctx context.Context, pc *models.Postcard) {
	ctx = r.logg.WithStage(ctx, "translating")
	started := r.now()
	r.publish(ctx, pc.ID, enums.PostcardEventTranslating, nil)

	text := pc.OriginalText
	translated, err := r.translator.Translate(ctx, pc.OriginalText)
	if err != nil {
		r.met.IncFallback("translating")
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "translation failed, sending original text")
	} else {
		text = translated
	}
	pc.TranslatedText = &text

	if err := r.store.Update(ctx, pc.ID, map[string]any{"translated_text": text}); err != nil {
		r.logg.Error(ctx, "failed to persist translated text", err)
	}
	r.met.ObserveStage("translating", r.now().Sub(started))
}

func (r *Runner) runStylize(ctx context.Context, pc *models.Postcard) {
	if pc.UserPhotoPath == nil || *pc.UserPhotoPath == "" {
		return
	}
	if pc.StylizedPhotoPath != nil && *pc.StylizedPhotoPath != "" {
		return
	}

	ctx = r.logg.WithStage(ctx, "converting")
	started := r.now()
	r.publish(ctx, pc.ID, enums.PostcardEventConverting, nil)

	photo, err := r.storage.Read(ctx, *pc.UserPhotoPath)
	if err != nil {
		r.met.IncFallback("converting")
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "photo read failed, using original photo")
		return
	}
	styled, err := r.stylizer.Stylize(ctx, photo, stylizeSizeHint)
	if err != nil {
		r.met.IncFallback("converting")
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "stylize failed, using original photo")
		return
	}
	path, err := r.storage.SaveStylized(ctx, styled, "png")
	if err != nil {
		r.met.IncFallback("converting")
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "stylized photo save failed, using original photo")
		return
	}
	pc.StylizedPhotoPath = &path

	if err := r.store.Update(ctx, pc.ID, map[string]any{"stylized_photo_path": path}); err != nil {
		r.logg.Error(ctx, "failed to persist stylized photo path", err)
	}
	r.met.ObserveStage("converting", r.now().Sub(started))
}

func (r *Runner) runRender(ctx context.Context, pc *models.Postcard) error {
	ctx = r.logg.WithStage(ctx, "generating")
	started := r.now()
	r.publish(ctx, pc.ID, enums.PostcardEventGenerating, nil)

	text := pc.OriginalText
	if pc.TranslatedText != nil && *pc.TranslatedText != "" {
		text = *pc.TranslatedText
	}
	texts := map[string]string{"main_text": text}

	photos := map[string][]byte{}
	if photoPath := photoForRender(pc); photoPath != "" {
		photo, err := r.storage.Read(ctx, photoPath)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to read photo for rendering")
		}
		photos["user_photo"] = photo
	}

	image, err := r.renderer.Render(ctx, pc.TemplateID, texts, photos)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "postcard rendering failed")
	}
	path, err := r.storage.SaveRendered(ctx, image)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to save rendered postcard")
	}
	pc.RenderedImagePath = &path

	if err := r.store.Update(ctx, pc.ID, map[string]any{"rendered_image_path": path}); err != nil {
		return err
	}
	r.met.ObserveStage("generating", r.now().Sub(started))
	return nil
}

func (r *Runner) runSend(ctx context.Context, pc *models.Postcard) error {
	ctx = r.logg.WithStage(ctx, "sending")
	started := r.now()
	r.publish(ctx, pc.ID, enums.PostcardEventSending, nil)

	if pc.RenderedImagePath == nil || *pc.RenderedImagePath == "" {
		return pkgerrors.New(pkgerrors.CodeInternal, "no rendered image to send")
	}
	// The row holds a storage-relative path; the mail transport opens files
	// itself and needs the resolved location.
	imagePath, err := r.storage.Path(*pc.RenderedImagePath)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to resolve rendered image path")
	}
	meta := MailMeta{}
	if pc.RecipientName != nil {
		meta.RecipientName = *pc.RecipientName
	}
	if pc.SenderName != nil {
		meta.SenderName = *pc.SenderName
	}
	if err := r.mailer.Send(ctx, pc.RecipientEmail, imagePath, meta); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "postcard email delivery failed")
	}
	r.met.ObserveStage("sending", r.now().Sub(started))
	return nil
}

// fail persists the terminal state before announcing it, so a subscriber who
// reacts to the failed event always observes the failed row.
func (r *Runner) fail(ctx context.Context, pc *models.Postcard, stage string, cause error) error {
	message := fmt.Sprintf("%s: %v", stage, cause)
	if err := r.store.Update(ctx, pc.ID, map[string]any{
		"status":        enums.PostcardStatusFailed,
		"error_message": message,
	}); err != nil {
		r.logg.Error(ctx, "failed to persist failure state", err)
	}
	r.publish(ctx, pc.ID, enums.PostcardEventFailed, &message)
	r.met.IncOutcome("failed")
	r.logg.Error(ctx, "postcard delivery failed", cause)
	return cause
}

func (r *Runner) publish(ctx context.Context, id uuid.UUID, event enums.PostcardEventType, errText *string) {
	if err := r.progress.Publish(ctx, id, event, errText); err != nil {
		r.logg.Error(ctx, "failed to record progress event", err)
	}
}

// photoForRender prefers the stylized photo and falls back to the original
// upload when style transfer was skipped or degraded.
func photoForRender(pc *models.Postcard) string {
	if pc.StylizedPhotoPath != nil && *pc.StylizedPhotoPath != "" {
		return *pc.StylizedPhotoPath
	}
	if pc.UserPhotoPath != nil && *pc.UserPhotoPath != "" {
		return *pc.UserPhotoPath
	}
	return ""
}
