package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/veoflow/api/internal/client"
	"github.com/veoflow/api/internal/config"
	"github.com/veoflow/api/internal/model"
	"github.com/veoflow/api/internal/pkg/logger"
	"github.com/veoflow/api/internal/retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const promptSuffix = ". cinematic masterpiece, photorealistic, 8k, highly detailed."

// VideoAPI is the long-running video generation surface
type VideoAPI interface {
	SubmitVideo(ctx context.Context, req *client.VideoRequest) (*client.Operation, error)
	GetOperation(ctx context.Context, name string) (*client.Operation, error)
	Download(ctx context.Context, uri string) ([]byte, error)
}

// SceneRequest is everything needed to render one scene
type SceneRequest struct {
	ProjectID      string
	Scene          model.Scene
	Previous       *model.Scene
	Mode           model.GenerationMode
	AspectRatio    model.AspectRatio
	ReferenceImage string
	Sequenced      bool
}

// SceneOutput is a rendered and stored clip
type SceneOutput struct {
	Result           model.GenerationResult
	LocalMediaHandle string
	MediaURL         string
}

// SceneGeneratorConfig holds model selection and polling settings
type SceneGeneratorConfig struct {
	Veo          config.VeoConfig
	PollInterval time.Duration
	PollTimeout  time.Duration
	SignedURLTTL time.Duration
	Retry        retry.Policy
}

// SceneGenerator renders a single scene: submit, poll, download, store
type SceneGenerator struct {
	api     VideoAPI
	storage client.StorageClient
	cfg     SceneGeneratorConfig
	log     *logger.Logger
}

func NewSceneGenerator(api VideoAPI, storage client.StorageClient, cfg SceneGeneratorConfig, log *logger.Logger) *SceneGenerator {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = 24 * time.Hour
	}
	cfg.Retry.Log = log
	return &SceneGenerator{
		api:     api,
		storage: storage,
		cfg:     cfg,
		log:     log,
	}
}

// Generate renders req.Scene. Errors are always classified: ErrAuth,
// ErrQuota, *DownloadUnavailableError or *GenerationError.
func (g *SceneGenerator) Generate(ctx context.Context, req SceneRequest) (out *SceneOutput, err error) {
	ctx, span := tracer.Start(ctx, "generator.generate", trace.WithAttributes(
		attribute.String("project.id", req.ProjectID),
		attribute.String("scene.id", req.Scene.ID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	videoReq, err := g.buildRequest(req)
	if err != nil {
		return nil, &model.GenerationError{Message: err.Error(), Err: err}
	}
	span.SetAttributes(
		attribute.String("veo.model", videoReq.Model),
		attribute.String("veo.resolution", videoReq.Resolution),
		attribute.Bool("veo.continuation", videoReq.Video != nil),
	)

	g.log.Info("submitting scene",
		"project", req.ProjectID,
		"scene", req.Scene.ID,
		"model", videoReq.Model,
		"resolution", videoReq.Resolution,
		"continuation", videoReq.Video != nil,
	)

	op, err := retry.Do(ctx, g.cfg.Retry.Named("video.submit"), func(ctx context.Context) (*client.Operation, error) {
		return g.api.SubmitVideo(ctx, videoReq)
	})
	if err != nil {
		return nil, classify(ctx, err)
	}

	op, err = g.poll(ctx, op)
	if err != nil {
		return nil, classify(ctx, err)
	}
	if op.Error != nil {
		return nil, classifyOperationError(op.Error)
	}

	uri := op.VideoURI()
	if uri == "" {
		return nil, &model.DownloadUnavailableError{Operation: op.Name}
	}

	data, err := retry.Do(ctx, g.cfg.Retry.Named("video.download"), func(ctx context.Context) ([]byte, error) {
		return g.api.Download(ctx, uri)
	})
	if err != nil {
		return nil, classify(ctx, err)
	}

	key := fmt.Sprintf("projects/%s/scenes/%s.mp4", req.ProjectID, req.Scene.ID)
	if _, err := g.storage.Upload(ctx, key, bytes.NewReader(data), client.SniffVideoMime(data)); err != nil {
		return nil, &model.GenerationError{Message: "failed to store clip", Err: err}
	}
	mediaURL, err := g.storage.GetSignedURL(ctx, key, g.cfg.SignedURLTTL)
	if err != nil {
		g.log.Warn("failed to sign clip url, using public url", "key", key, "error", err)
		mediaURL = g.storage.GetPublicURL(key)
	}

	g.log.Info("scene stored", "project", req.ProjectID, "scene", req.Scene.ID, "key", key, "bytes", len(data))

	// The operation response carries no aspect ratio; the clip has the one
	// that was requested, which for a continuation is the previous clip's.
	return &SceneOutput{
		Result: model.GenerationResult{
			RemoteURI:          uri,
			ContinuationHandle: uri,
			AspectRatio:        model.AspectRatio(videoReq.AspectRatio),
		},
		LocalMediaHandle: key,
		MediaURL:         mediaURL,
	}, nil
}

// buildRequest picks continuation or fresh generation. A scene extends the
// previous clip only when that scene completed with a continuation handle.
func (g *SceneGenerator) buildRequest(req SceneRequest) (*client.VideoRequest, error) {
	prompt := req.Scene.Prompt + promptSuffix

	if handle := req.Previous.ContinuationHandle(); handle != "" {
		aspect := req.AspectRatio
		if req.Previous.Generation.AspectRatio != "" {
			aspect = req.Previous.Generation.AspectRatio
		}
		return &client.VideoRequest{
			Model:       g.cfg.Veo.ContinuationModel,
			Prompt:      prompt,
			Video:       &client.VideoInput{URI: handle},
			AspectRatio: string(aspect),
			Resolution:  g.cfg.Veo.ContinuationResolution,
		}, nil
	}

	modelName, resolution := g.cfg.Veo.QualityModel, g.cfg.Veo.QualityResolution
	if req.Mode == model.ModeFast {
		modelName, resolution = g.cfg.Veo.FastModel, g.cfg.Veo.FastResolution
	}
	if req.Sequenced {
		resolution = g.cfg.Veo.SequencedResolution
	}

	videoReq := &client.VideoRequest{
		Model:       modelName,
		Prompt:      prompt,
		AspectRatio: string(req.AspectRatio),
		Resolution:  resolution,
	}
	if req.ReferenceImage != "" {
		img, err := parseDataURL(req.ReferenceImage)
		if err != nil {
			return nil, err
		}
		videoReq.Image = img
	}
	return videoReq, nil
}

// poll waits until the operation is done, checking every PollInterval.
func (g *SceneGenerator) poll(ctx context.Context, op *client.Operation) (*client.Operation, error) {
	parent := ctx
	if g.cfg.PollTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.PollTimeout)
		defer cancel()
	}

	name := op.Name
	polls := 0
	for !op.Done {
		timer := time.NewTimer(g.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			if parent.Err() == nil {
				return nil, fmt.Errorf("video generation did not finish within %s", g.cfg.PollTimeout)
			}
			return nil, parent.Err()
		case <-timer.C:
		}

		next, err := retry.Do(ctx, g.cfg.Retry.Named("video.poll"), func(ctx context.Context) (*client.Operation, error) {
			return g.api.GetOperation(ctx, name)
		})
		if err != nil {
			if parent.Err() == nil && ctx.Err() != nil {
				return nil, fmt.Errorf("video generation did not finish within %s", g.cfg.PollTimeout)
			}
			return nil, err
		}
		if next.Name == "" {
			next.Name = name
		}
		op = next
		polls++
		g.log.Debug("polled video operation", "operation", name, "done", op.Done, "polls", polls)
	}
	return op, nil
}

// classify maps transport errors onto the taxonomy, leaving cancellation
// of the caller's context untouched.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return err
	}
	return model.Classify(err)
}

// classifyOperationError maps the error embedded in a finished operation.
func classifyOperationError(opErr *client.OperationError) error {
	msg := opErr.Message
	switch {
	case strings.Contains(msg, "Requested entity was not found") || model.IsAuthMessage(msg):
		return fmt.Errorf("%w: %s", model.ErrAuth, msg)
	case opErr.Code == 429 || retry.IsQuotaMessage(msg):
		return fmt.Errorf("%w: %s", model.ErrQuota, msg)
	}
	return &model.GenerationError{Message: msg}
}

// parseDataURL splits "data:<mime>;base64,<payload>". Without a header the
// whole value is taken as the payload.
func parseDataURL(dataURL string) (*client.ImageInput, error) {
	header, payload, found := strings.Cut(dataURL, ",")
	if !found {
		payload, header = dataURL, ""
	}
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, fmt.Errorf("reference image has no data")
	}

	mimeType := "image/png"
	if strings.HasPrefix(header, "data:") {
		declared := strings.TrimPrefix(header, "data:")
		if i := strings.Index(declared, ";"); i >= 0 {
			declared = declared[:i]
		}
		if declared != "" {
			mimeType = declared
		}
	}
	return &client.ImageInput{BytesBase64Encoded: payload, MimeType: mimeType}, nil
}
