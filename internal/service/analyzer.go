package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/veoflow/api/internal/client"
	"github.com/veoflow/api/internal/model"
	"github.com/veoflow/api/internal/pkg/logger"
	"github.com/veoflow/api/internal/retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/veoflow/api/internal/service")

// ContentAPI is the structured text generation used for script analysis
type ContentAPI interface {
	GenerateContent(ctx context.Context, model string, req *client.GenerateContentRequest) (string, error)
}

// Analyzer breaks a narration script into 8-second scenes
type Analyzer struct {
	api   ContentAPI
	model string
	retry retry.Policy
	log   *logger.Logger
}

func NewAnalyzer(api ContentAPI, modelName string, policy retry.Policy, log *logger.Logger) *Analyzer {
	if log == nil {
		log = logger.Nop()
	}
	policy.Log = log
	return &Analyzer{
		api:   api,
		model: modelName,
		retry: policy,
		log:   log,
	}
}

var sceneSchema = map[string]interface{}{
	"type": "OBJECT",
	"properties": map[string]interface{}{
		"scenes": map[string]interface{}{
			"type": "ARRAY",
			"items": map[string]interface{}{
				"type": "OBJECT",
				"properties": map[string]interface{}{
					"title":       map[string]interface{}{"type": "STRING"},
					"description": map[string]interface{}{"type": "STRING"},
					"prompt":      map[string]interface{}{"type": "STRING"},
				},
				"required": []string{"title", "description", "prompt"},
			},
		},
	},
	"required": []string{"scenes"},
}

type analyzedScene struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Prompt      string `json:"prompt"`
}

func analysisPrompt(script string, sceneCount int) string {
	return fmt.Sprintf(`You are a professional Director of Photography. Break this script into EXACTLY %d scenes of 8 seconds each for one continuous narrative.

REQUIREMENTS:
1. Assign ONE camera movement from the library to each scene.
2. Each prompt must begin with the name of its movement.
3. Keep absolute visual continuity between consecutive scenes unless the script clearly implies a cut.

LIBRARY:
%s
SCRIPT: %s`, sceneCount, cameraLibrary(), script)
}

// Analyze asks the model for sceneCount scenes and returns them pending, with
// ids scene-0..scene-n-1 in narrative order.
func (a *Analyzer) Analyze(ctx context.Context, script string, sceneCount int) (scenes []model.Scene, err error) {
	ctx, span := tracer.Start(ctx, "analyzer.analyze", trace.WithAttributes(
		attribute.Int("scenes.target", sceneCount),
		attribute.String("model", a.model),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	req := &client.GenerateContentRequest{
		Contents: []client.Content{{
			Role:  "user",
			Parts: []client.Part{{Text: analysisPrompt(script, sceneCount)}},
		}},
		GenerationConfig: &client.GenerationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   sceneSchema,
		},
	}

	text, err := retry.Do(ctx, a.retry.Named("analyzer.generate"), func(ctx context.Context) (string, error) {
		return a.api.GenerateContent(ctx, a.model, req)
	})
	if err != nil {
		return nil, classifyAnalysisError(err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &model.CreativeAnalysisError{Reason: "empty response"}
	}

	var out struct {
		Scenes []analyzedScene `json:"scenes"`
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, &model.CreativeAnalysisError{Reason: "unparsable response", Err: err}
	}
	if len(out.Scenes) == 0 {
		return nil, &model.CreativeAnalysisError{Reason: "no scenes returned"}
	}
	if len(out.Scenes) != sceneCount {
		a.log.Warn("analyzer returned a different scene count", "want", sceneCount, "got", len(out.Scenes))
	}

	scenes = make([]model.Scene, len(out.Scenes))
	for i, s := range out.Scenes {
		if field := missingField(s); field != "" {
			return nil, &model.CreativeAnalysisError{Reason: fmt.Sprintf("scene %d missing %s", i, field)}
		}
		scenes[i] = model.Scene{
			ID:          fmt.Sprintf("scene-%d", i),
			Title:       s.Title,
			Description: s.Description,
			Prompt:      s.Prompt,
			Status:      model.SceneStatusPending,
		}
	}
	span.SetAttributes(attribute.Int("scenes.count", len(scenes)))
	return scenes, nil
}

// missingField names the first required field left blank
func missingField(s analyzedScene) string {
	switch {
	case strings.TrimSpace(s.Title) == "":
		return "title"
	case strings.TrimSpace(s.Description) == "":
		return "description"
	case strings.TrimSpace(s.Prompt) == "":
		return "prompt"
	}
	return ""
}

// classifyAnalysisError keeps auth and quota failures distinct; anything
// else means the breakdown could not be produced.
func classifyAnalysisError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	classified := model.Classify(err)
	if errors.Is(classified, model.ErrAuth) || errors.Is(classified, model.ErrQuota) {
		return classified
	}
	return &model.CreativeAnalysisError{Reason: "request failed", Err: err}
}
