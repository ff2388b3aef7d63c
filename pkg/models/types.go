package models

import "encoding/json"

// SourceStrategy represents how the raw input should be turned into content
type SourceStrategy string

const (
	// StrategyRawIdea generates from a short free-form idea
	StrategyRawIdea SourceStrategy = "raw_idea"
	// StrategyArticle repurposes an existing article by URL
	StrategyArticle SourceStrategy = "article"
	// StrategyTranscript works from an uploaded transcript
	StrategyTranscript SourceStrategy = "transcript"
)

// ContentType is the output format the pipeline produces
type ContentType string

const (
	ContentTypePost       ContentType = "post"
	ContentTypeNewsletter ContentType = "newsletter"
	ContentTypeScript     ContentType = "script"
)

// Stage is one discrete phase of the content workflow
type Stage string

const (
	StageSourceSelection Stage = "source_selection"
	StageAngles          Stage = "angles"
	StageRefine          Stage = "refine"
	StageOutline         Stage = "outline"
	StageWrite           Stage = "write"
)

// stageOrder is the fixed forward order used for navigation gating.
// SourceSelection and Refine are not gated entry points: the first is
// always reachable and the second is a restore-only target.
var stageOrder = map[Stage]int{
	StageAngles:  0,
	StageOutline: 1,
	StageWrite:   2,
}

// Position returns the stage's index in the gated order, or -1 if the
// stage is not part of the gated sequence.
func (s Stage) Position() int {
	pos, ok := stageOrder[s]
	if !ok {
		return -1
	}
	return pos
}

// Source holds the chosen generation strategy and raw input
type Source struct {
	Strategy    SourceStrategy `json:"strategy"`
	ContentType ContentType    `json:"content_type"`
	RawInput    string         `json:"raw_input,omitempty"`
}

// Angle is one generated angle candidate
type Angle struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Hook      string `json:"hook,omitempty"`
	Audience  string `json:"audience,omitempty"`
	Rationale string `json:"rationale,omitempty"`
}

// Outline is a generated content outline
type Outline struct {
	Title    string           `json:"title"`
	Sections []OutlineSection `json:"sections"`
}

// OutlineSection is a single section of an outline
type OutlineSection struct {
	Heading string   `json:"heading"`
	Points  []string `json:"points,omitempty"`
}

// WrittenContent is the final full-content writing result
type WrittenContent struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body"`
}

// HookOption is a refinement hook choice surfaced alongside the outline stage
type HookOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// TemplateOption is a structural template choice for the written content
type TemplateOption struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RawContext is an opaque context blob returned by the Generation Service
// alongside angles; it is passed back verbatim on later calls.
type RawContext = json.RawMessage
