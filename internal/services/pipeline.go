package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vincent-petithory/dataurl"
	"listing-studio-backend/internal/imagen"
	"listing-studio-backend/internal/models"
	"listing-studio-backend/internal/storagekey"
)

const (
	maxErrorMessageLength = 1000
	recordTimeout         = 15 * time.Second
)

// Deps are the collaborators of the pipeline, built once at process start.
type Deps struct {
	Ledger   Ledger
	Store    ObjectStore
	Provider Provider
	Fetcher  BlobFetcher
	Events   EventPublisher
	Logger   zerolog.Logger

	// IsFinalAttempt reports whether the job runtime will not redeliver after
	// this attempt. Failures of non-final attempts keep the image in flight.
	// Nil means every attempt is final.
	IsFinalAttempt func(ctx context.Context) bool

	Now func() time.Time
}

// Pipeline runs the Generate and Edit job bodies.
type Pipeline struct {
	ledger         Ledger
	store          ObjectStore
	provider       Provider
	fetcher        BlobFetcher
	events         EventPublisher
	log            zerolog.Logger
	isFinalAttempt func(ctx context.Context) bool
	now            func() time.Time
}

func NewPipeline(deps Deps) *Pipeline {
	p := &Pipeline{
		ledger:         deps.Ledger,
		store:          deps.Store,
		provider:       deps.Provider,
		fetcher:        deps.Fetcher,
		events:         deps.Events,
		log:            deps.Logger.With().Str("component", "pipeline").Logger(),
		isFinalAttempt: deps.IsFinalAttempt,
		now:            deps.Now,
	}
	if p.isFinalAttempt == nil {
		p.isFinalAttempt = func(context.Context) bool { return true }
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// outcome is what a successful job body hands to the completion step.
type outcome struct {
	resultURL string
	metadata  models.Metadata
}

// RunGenerate drives one uploaded image through the provider and stores the
// first result. Re-running it for a completed image makes no provider calls.
func (p *Pipeline) RunGenerate(ctx context.Context, payload models.GeneratePayload) error {
	log := p.log.With().Str("task_type", "generate").Str("image_id", payload.ImageID.String()).Logger()

	img, proceed, err := p.begin(ctx, log, payload.ImageID, nil)
	if !proceed {
		return err
	}
	log = log.With().Str("project_id", img.ProjectID.String()).Logger()

	out, err := p.generate(ctx, img)
	return p.finish(ctx, log, img, out, err)
}

// RunEdit derives a new version into the pre-created target row. The source
// row is only read.
func (p *Pipeline) RunEdit(ctx context.Context, payload models.EditPayload) error {
	log := p.log.With().
		Str("task_type", "edit").
		Str("image_id", payload.TargetImageID.String()).
		Str("source_image_id", payload.SourceImageID.String()).
		Str("mode", string(payload.Mode)).
		Logger()

	var mask *dataurl.DataURL
	img, proceed, err := p.begin(ctx, log, payload.TargetImageID, func() error {
		var err error
		mask, err = decodeMask(payload)
		return err
	})
	if !proceed {
		return err
	}
	log = log.With().Str("project_id", img.ProjectID.String()).Logger()

	out, err := p.edit(ctx, img, payload, mask)
	return p.finish(ctx, log, img, out, err)
}

// Reject fails an image whose job body can never run, such as a payload that
// does not validate. Missing and terminal rows are left alone.
func (p *Pipeline) Reject(ctx context.Context, imageID uuid.UUID, cause error) error {
	log := p.log.With().Str("image_id", imageID.String()).Logger()

	img, err := p.ledger.GetImage(ctx, imageID)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load image: %w", err)
	}
	if img.Status.IsTerminal() {
		return nil
	}

	_ = p.fail(ctx, log, img, fmt.Errorf("%w: %v", ErrInvalidPayload, cause))
	return nil
}

// begin loads the target row and moves it to PROCESSING. It returns
// proceed=false when the job must stop; err is then what the job returns.
// validate runs before the row is touched and before any external call.
func (p *Pipeline) begin(ctx context.Context, log zerolog.Logger, imageID uuid.UUID, validate func() error) (*models.Image, bool, error) {
	img, err := p.ledger.GetImage(ctx, imageID)
	if errors.Is(err, models.ErrNotFound) {
		log.Info().Msg("image no longer exists, skipping job")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load image: %w", err)
	}

	switch img.Status {
	case models.ImageStatusCompleted:
		log.Info().Msg("image already completed, skipping provider")
		return nil, false, p.recompute(ctx, log, img.ProjectID)
	case models.ImageStatusFailed:
		return nil, false, fmt.Errorf("%w: image %s", models.ErrImageTerminal, img.ID)
	}

	if validate != nil {
		if err := validate(); err != nil {
			return nil, false, p.fail(ctx, log, img, err)
		}
	}

	ok, err := p.ledger.MarkImageProcessing(ctx, img.ID)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		log.Info().Msg("image deleted or finished concurrently, skipping job")
		return nil, false, nil
	}
	img.Status = models.ImageStatusProcessing
	p.publish(ctx, log, models.NewProcessingEvent(img))

	return img, true, nil
}

func (p *Pipeline) generate(ctx context.Context, img *models.Image) (*outcome, error) {
	project, err := p.ledger.GetProjectByID(ctx, img.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load project: %w", err)
	}

	source, err := p.fetch(ctx, img.OriginalImageURL, "", "source image")
	if err != nil {
		return nil, err
	}

	ref, err := p.provider.Stage(ctx, source.Data, source.ContentType, stagedName(img.ID, "source", source.ContentType))
	if err != nil {
		return nil, fmt.Errorf("failed to stage source image with provider: %w", err)
	}

	result, err := p.provider.Generate(ctx, imagen.GenerateRequest{
		ImageURL:  ref,
		Prompt:    img.Prompt,
		NumImages: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate image: %w", err)
	}

	return p.persist(ctx, project, img, result)
}

func (p *Pipeline) edit(ctx context.Context, img *models.Image, payload models.EditPayload, mask *dataurl.DataURL) (*outcome, error) {
	source, err := p.ledger.GetImage(ctx, payload.SourceImageID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, payload.SourceImageID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load source image: %w", err)
	}
	if source.ProjectID != img.ProjectID {
		return nil, fmt.Errorf("%w: %s is not part of project %s", ErrSourceNotFound, source.ID, img.ProjectID)
	}

	project, err := p.ledger.GetProjectByID(ctx, img.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load project: %w", err)
	}

	// The target row pins the source URL that was current when the edit was requested.
	sourceURL := img.OriginalImageURL
	if sourceURL == "" {
		sourceURL = source.SourceURL()
	}

	blob, err := p.fetch(ctx, sourceURL, "", "source image")
	if err != nil {
		return nil, err
	}

	ref, err := p.provider.Stage(ctx, blob.Data, blob.ContentType, stagedName(img.ID, "source", blob.ContentType))
	if err != nil {
		return nil, fmt.Errorf("failed to stage source image with provider: %w", err)
	}

	var result *imagen.Result
	switch payload.Mode {
	case models.EditModeRemove:
		maskType := mask.MediaType.ContentType()
		maskRef, err := p.provider.Stage(ctx, mask.Data, maskType, stagedName(img.ID, "mask", maskType))
		if err != nil {
			return nil, fmt.Errorf("failed to stage mask with provider: %w", err)
		}
		result, err = p.provider.RemoveWithMask(ctx, imagen.MaskEditRequest{
			ImageURL: ref,
			MaskURL:  maskRef,
			Prompt:   payload.Prompt,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to edit image: %w", err)
		}
	default:
		result, err = p.provider.EditWithInstruction(ctx, imagen.InstructEditRequest{
			ImageURL: ref,
			Prompt:   payload.Prompt,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to edit image: %w", err)
		}
	}

	out, err := p.persist(ctx, project, img, result)
	if err != nil {
		return nil, err
	}
	out.metadata = out.metadata.Merge(models.Metadata{
		"sourceImageId": source.ID.String(),
		"editMode":      string(payload.Mode),
	})
	return out, nil
}

// persist copies the first provider result into durable storage.
func (p *Pipeline) persist(ctx context.Context, project *models.Project, img *models.Image, result *imagen.Result) (*outcome, error) {
	if result == nil || len(result.Images) == 0 {
		return nil, ErrEmptyResult
	}
	first := result.Images[0]

	blob, err := p.fetch(ctx, first.URL, first.ContentType, "result image")
	if err != nil {
		return nil, err
	}

	key := storagekey.Key(project.WorkspaceID, project.ID, storagekey.KindResult, img.ID, blob.ContentType)
	resultURL, err := p.store.Put(ctx, key, blob.Data, blob.ContentType)
	if err != nil {
		return nil, fmt.Errorf("failed to persist result image: %w", err)
	}

	return &outcome{
		resultURL: resultURL,
		metadata: models.Metadata{
			"processedAt":      p.now().UTC().Format(time.RFC3339),
			"model":            result.Model,
			"providerRequest":  result.RequestID,
			"resultStorageKey": key,
		},
	}, nil
}

// fetch downloads a blob and settles its content type from the declared
// type, the response header and finally the bytes themselves.
func (p *Pipeline) fetch(ctx context.Context, url, declaredType, what string) (*imagen.Blob, error) {
	blob, err := p.fetcher.DownloadFile(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", what, err)
	}
	if len(blob.Data) == 0 {
		return nil, fmt.Errorf("failed to fetch %s: empty body", what)
	}

	contentType := declaredType
	if !strings.HasPrefix(contentType, "image/") {
		contentType = blob.ContentType
	}
	blob.ContentType = storagekey.DetectContentType(contentType, blob.Data)
	return blob, nil
}

// finish is the job boundary: it records the outcome once and returns the
// error the job runtime should see.
func (p *Pipeline) finish(ctx context.Context, log zerolog.Logger, img *models.Image, out *outcome, jobErr error) error {
	if jobErr != nil {
		return p.fail(ctx, log, img, jobErr)
	}

	ok, err := p.ledger.CompleteImage(ctx, img.ID, out.resultURL, out.metadata)
	if err != nil {
		return p.fail(ctx, log, img, fmt.Errorf("failed to record result: %w", err))
	}
	if !ok {
		log.Info().Msg("image deleted while processing, dropping result")
		return nil
	}

	log.Info().Str("result_url", out.resultURL).Msg("image completed")
	p.publish(ctx, log, models.NewCompletedEvent(img, out.resultURL))

	return p.recompute(ctx, log, img.ProjectID)
}

// fail records cause against the image. Only the final attempt, or a cause
// that cannot succeed on retry, moves the row to FAILED. cause is always
// returned so the runtime sees it.
func (p *Pipeline) fail(ctx context.Context, log zerolog.Logger, img *models.Image, cause error) error {
	// The job context may already be past its deadline.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	msg := errorMessage(cause)
	now := p.now().UTC().Format(time.RFC3339)

	if !IsPermanent(cause) && !p.isFinalAttempt(ctx) {
		log.Warn().Err(cause).Msg("attempt failed, leaving image for retry")
		_, err := p.ledger.RecordAttemptError(recordCtx, img.ID, models.Metadata{
			"lastAttemptError": msg,
			"lastAttemptAt":    now,
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to record attempt error")
		}
		return cause
	}

	ok, err := p.ledger.FailImage(recordCtx, img.ID, msg, models.Metadata{"failedAt": now})
	if err != nil {
		log.Error().Err(err).AnErr("cause", cause).Msg("failed to mark image failed")
		return cause
	}
	if !ok {
		log.Info().Err(cause).Msg("image deleted or finished concurrently, not marking failed")
		return cause
	}

	log.Error().Err(cause).Msg("image failed")
	p.publish(recordCtx, log, models.NewFailedEvent(img, msg))
	if err := p.recompute(recordCtx, log, img.ProjectID); err != nil {
		log.Error().Err(err).Msg("failed to recompute counters after failure")
	}

	return cause
}

func (p *Pipeline) recompute(ctx context.Context, log zerolog.Logger, projectID uuid.UUID) error {
	project, err := p.ledger.RecomputeProjectCounters(ctx, projectID)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to recompute project counters: %w", err)
	}

	log.Debug().
		Int("image_count", project.ImageCount).
		Int("completed_count", project.CompletedCount).
		Str("project_status", string(project.Status)).
		Msg("project counters recomputed")
	return nil
}

// publish is best-effort; subscribers can always fall back to polling.
func (p *Pipeline) publish(ctx context.Context, log zerolog.Logger, event models.ImageEvent) {
	if p.events == nil {
		return
	}
	if err := p.events.PublishImageEvent(ctx, event); err != nil {
		log.Warn().Err(err).Str("event", event.Event).Msg("failed to publish image event")
	}
}

func decodeMask(payload models.EditPayload) (*dataurl.DataURL, error) {
	if payload.Mode != models.EditModeRemove {
		return nil, nil
	}
	if strings.TrimSpace(payload.MaskDataURL) == "" {
		return nil, ErrMissingMask
	}

	mask, err := dataurl.DecodeString(payload.MaskDataURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMask, err)
	}
	if mask.MediaType.Type != "image" || len(mask.Data) == 0 {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidMask, mask.MediaType.ContentType())
	}
	return mask, nil
}

func stagedName(imageID uuid.UUID, role, contentType string) string {
	return fmt.Sprintf("%s-%s.%s", imageID, role, storagekey.Extension(contentType))
}

// errorMessage renders err for the error_message text column: valid UTF-8
// without NUL bytes, at most maxErrorMessageLength bytes, cut on a rune boundary.
func errorMessage(err error) string {
	msg := strings.ToValidUTF8(err.Error(), "\uFFFD")
	msg = strings.ReplaceAll(msg, "\x00", "")
	if len(msg) > maxErrorMessageLength {
		n := maxErrorMessageLength
		for n > 0 && !utf8.RuneStart(msg[n]) {
			n--
		}
		msg = msg[:n]
	}
	return msg
}
