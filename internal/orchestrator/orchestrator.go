// Package orchestrator drives the content workflow end to end: source
// selection, angle generation, ingredient refinement, outline generation
// and full-content writing, with checkpointing after every
// checkpoint-worthy transition.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/quillforge/quillforge/internal/api"
	"github.com/quillforge/quillforge/internal/checkpoint"
	"github.com/quillforge/quillforge/internal/config"
	"github.com/quillforge/quillforge/internal/pipeline"
	"github.com/quillforge/quillforge/internal/stream"
	"github.com/quillforge/quillforge/internal/util"
	"github.com/quillforge/quillforge/pkg/models"
)

// progressPollInterval is how often a waiting generation call samples
// stream progress for the observer.
const progressPollInterval = 200 * time.Millisecond

// Orchestrator wires the pipeline state machine, the stream client and
// the checkpoint coordinator into the full workflow.
type Orchestrator struct {
	cfg     *config.Config
	streams *stream.Client
	coord   *checkpoint.Coordinator
	state   *pipeline.State
	logger  *slog.Logger

	// onProgress, when set, receives sampled progress updates while a
	// streaming call is in flight.
	onProgress func(*api.ProgressPayload)
}

// New creates an orchestrator with a fresh pipeline state.
func New(cfg *config.Config, streams *stream.Client, coord *checkpoint.Coordinator, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		streams: streams,
		coord:   coord,
		state:   pipeline.NewState(),
		logger:  logger,
	}
}

// NewFromSession creates an orchestrator over a restored pipeline state.
func NewFromSession(cfg *config.Config, streams *stream.Client, coord *checkpoint.Coordinator, st *pipeline.State, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		streams: streams,
		coord:   coord,
		state:   st,
		logger:  logger,
	}
}

// State exposes the pipeline state for stage gating and rendering.
func (o *Orchestrator) State() *pipeline.State {
	return o.state
}

// SetProgressObserver registers a callback for stream progress samples.
func (o *Orchestrator) SetProgressObserver(fn func(*api.ProgressPayload)) {
	o.onProgress = fn
}

// SetSource records the chosen generation strategy and output type.
func (o *Orchestrator) SetSource(strategy models.SourceStrategy, contentType models.ContentType, rawInput string) {
	o.state.SetSource(strategy, contentType, rawInput)
}

// anglesResult is the normalized angle-generation result shape.
type anglesResult struct {
	Angles     []models.Angle    `json:"angles"`
	Context    models.RawContext `json:"context,omitempty"`
	TrackingID string            `json:"tracking_id,omitempty"`
}

// GenerateAngles runs the angle-generation stage and records the result.
func (o *Orchestrator) GenerateAngles(ctx context.Context) ([]models.Angle, error) {
	snap := o.state.Snapshot()
	if snap.Source == nil {
		return nil, fmt.Errorf("no source set")
	}

	o.logger.Debug("Generating angles",
		"strategy", snap.Source.Strategy,
		"content_type", snap.Source.ContentType,
		"input", util.TruncateString(snap.Source.RawInput, 120))

	prompt, err := util.RenderTemplate(o.cfg.Prompts.AngleGeneration, map[string]interface{}{
		"AngleCount":  o.cfg.Pipeline.AngleCount,
		"ContentType": string(snap.Source.ContentType),
		"Strategy":    string(snap.Source.Strategy),
		"RawInput":    snap.Source.RawInput,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render angle template: %w", err)
	}

	result, err := o.generate(ctx, api.ActionGenerateAngles, map[string]any{
		"prompt": prompt,
		"count":  o.cfg.Pipeline.AngleCount,
	})
	if err != nil {
		return nil, err
	}

	var parsed anglesResult
	if err := decodeResult(result, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse angles result: %w", err)
	}
	if len(parsed.Angles) == 0 {
		return nil, fmt.Errorf("service returned no angles")
	}

	if err := o.state.RecordAngles(parsed.Angles, parsed.Context, o.state.SessionID(), parsed.TrackingID); err != nil {
		return nil, err
	}
	o.checkpoint(ctx)
	return parsed.Angles, nil
}

// SelectAngle picks one of the recorded angles by index, invalidating
// all downstream slots.
func (o *Orchestrator) SelectAngle(ctx context.Context, index int) error {
	snap := o.state.Snapshot()
	if index < 0 || index >= len(snap.Angles) {
		return fmt.Errorf("angle index %d out of range (have %d)", index, len(snap.Angles))
	}
	if err := o.state.SelectAngle(snap.Angles[index]); err != nil {
		return err
	}
	o.checkpoint(ctx)
	return nil
}

// RefineIngredients asks the service to refine the selected angle's
// context and approves the result. Uses the synchronous surface: the
// refinement result is small and not worth a stream.
func (o *Orchestrator) RefineIngredients(ctx context.Context) error {
	snap := o.state.Snapshot()
	if snap.SelectedAngle == nil {
		return fmt.Errorf("no angle selected")
	}

	payload, err := json.Marshal(map[string]any{
		"angle":   snap.SelectedAngle,
		"context": snap.AnglesContext,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal refine payload: %w", err)
	}

	result, err := o.streams.Generate(ctx, api.GenerateRequest{
		Action:  api.ActionRefineIngredients,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("refinement failed: %w", err)
	}

	return o.state.ApproveContext(models.RawContext(result))
}

// ApproveContext records a caller-edited context directly.
func (o *Orchestrator) ApproveContext(ctx context.Context, approved models.RawContext) error {
	if err := o.state.ApproveContext(approved); err != nil {
		return err
	}
	o.checkpoint(ctx)
	return nil
}

// GenerateOutline runs the outline stage and records the result.
func (o *Orchestrator) GenerateOutline(ctx context.Context) (*models.Outline, error) {
	snap := o.state.Snapshot()
	if snap.SelectedAngle == nil {
		return nil, fmt.Errorf("no angle selected")
	}
	if snap.ApprovedContext == nil && snap.Outline == nil {
		return nil, fmt.Errorf("no approved context")
	}

	prompt, err := util.RenderTemplate(o.cfg.Prompts.OutlineGeneration, map[string]interface{}{
		"ContentType": string(snap.Source.ContentType),
		"AngleTitle":  snap.SelectedAngle.Title,
		"Context":     string(snap.ApprovedContext),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render outline template: %w", err)
	}

	result, err := o.generate(ctx, api.ActionGenerateOutline, map[string]any{
		"prompt":  prompt,
		"angle":   snap.SelectedAngle,
		"context": snap.ApprovedContext,
	})
	if err != nil {
		return nil, err
	}

	var outline models.Outline
	if err := decodeResult(result, &outline); err != nil {
		return nil, fmt.Errorf("failed to parse outline result: %w", err)
	}

	if err := o.state.RecordOutline(outline); err != nil {
		return nil, err
	}
	o.checkpoint(ctx)
	return &outline, nil
}

// SelectHook records the hook choice for the written content.
func (o *Orchestrator) SelectHook(hook models.HookOption) error {
	return o.state.SelectHook(hook)
}

// SelectTemplate records the structural template choice.
func (o *Orchestrator) SelectTemplate(tpl models.TemplateOption) error {
	return o.state.SelectTemplate(tpl)
}

// WriteContent runs the final writing stage and records the result.
func (o *Orchestrator) WriteContent(ctx context.Context) (*models.WrittenContent, error) {
	snap := o.state.Snapshot()
	if snap.Outline == nil {
		return nil, fmt.Errorf("no outline recorded")
	}

	outlineJSON, err := json.Marshal(snap.Outline)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outline: %w", err)
	}

	prompt, err := util.RenderTemplate(o.cfg.Prompts.ContentWriting, map[string]interface{}{
		"ContentType": string(snap.Source.ContentType),
		"Outline":     string(outlineJSON),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render writing template: %w", err)
	}

	payload := map[string]any{
		"prompt":  prompt,
		"outline": snap.Outline,
	}
	if snap.SelectedHook != nil {
		payload["hook"] = snap.SelectedHook
	}
	if snap.SelectedTemplate != nil {
		payload["template"] = snap.SelectedTemplate
	}

	result, err := o.generate(ctx, api.ActionWriteContent, payload)
	if err != nil {
		return nil, err
	}

	var content models.WrittenContent
	if err := decodeResult(result, &content); err != nil {
		return nil, fmt.Errorf("failed to parse written content: %w", err)
	}

	if err := o.state.RecordWrittenContent(content); err != nil {
		return nil, err
	}
	o.checkpoint(ctx)
	return &content, nil
}

// Complete marks the durable session record as completed.
func (o *Orchestrator) Complete(ctx context.Context) error {
	return o.coord.Finalize(ctx, o.state.Snapshot(), models.SessionCompleted)
}

// Abandon marks the durable session record as abandoned.
func (o *Orchestrator) Abandon(ctx context.Context) error {
	return o.coord.Finalize(ctx, o.state.Snapshot(), models.SessionAbandoned)
}

// Reset aborts any in-flight generation and clears all workflow state.
func (o *Orchestrator) Reset() {
	o.streams.Reset()
	o.state.Reset()
	o.coord.BindSession(nil)
}

// generate runs one streaming generation call to completion, sampling
// progress for the observer, and returns the normalized final result.
func (o *Orchestrator) generate(ctx context.Context, action api.Action, payload map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	s := o.streams.Start(ctx, api.GenerateRequest{Action: action, Payload: body})

	if o.onProgress != nil {
		ticker := time.NewTicker(progressPollInterval)
		defer ticker.Stop()
	poll:
		for {
			select {
			case <-s.Done():
				break poll
			case <-ctx.Done():
				break poll
			case <-ticker.C:
				if p := s.Progress(); p != nil {
					o.onProgress(p)
				}
			}
		}
	}

	if err := s.Wait(ctx); err != nil {
		return nil, err
	}

	result := s.FinalResult()
	if result == nil {
		msg := s.ErrMessage()
		if msg == "" {
			msg = "generation did not complete"
		}
		return nil, fmt.Errorf("%s generation failed: %s", action, msg)
	}
	return result, nil
}

// checkpoint persists the current state best-effort and captures the
// session id from the first successful write.
func (o *Orchestrator) checkpoint(ctx context.Context) {
	id, err := o.coord.Sync(ctx, o.state.Snapshot())
	if err != nil {
		// Persistence never blocks the workflow
		o.logger.Warn("Checkpoint failed", "error", err)
		return
	}
	if id != "" {
		o.state.SetSessionID(id)
	}
}

// decodeResult parses a normalized result, retrying once through the
// JSON extraction/sanitization helpers when the service hands back
// prose-wrapped or mildly malformed JSON.
func decodeResult(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err == nil {
		return nil
	}
	var asString string
	s := string(raw)
	if err := json.Unmarshal(raw, &asString); err == nil {
		s = asString
	}
	repaired := util.SanitizeJSON(util.ExtractJSON(s))
	return json.Unmarshal([]byte(repaired), v)
}
