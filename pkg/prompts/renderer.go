// Package prompts builds the instruction payloads sent to the model service.
//
// Every builder is a pure function of its inputs. Prompt text lives in embedded
// *.tpl.md files rendered with text/template.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"writingcoach/pkg/dialogue"
	"writingcoach/pkg/writing"
)

//go:embed templates/*.tpl.md
var templateFS embed.FS

// Template names a prompt template.
type Template string

const (
	// FeedbackThesisTemplate asks for a verdict on the thesis.
	FeedbackThesisTemplate Template = "feedback_thesis.tpl.md"
	// FeedbackClaimsTemplate asks for a verdict on the claims.
	FeedbackClaimsTemplate Template = "feedback_claims.tpl.md"
	// FeedbackEvidenceTemplate asks for a verdict on the evidence structure.
	FeedbackEvidenceTemplate Template = "feedback_evidence.tpl.md"
	// FeedbackReviewTemplate asks for a verdict on the whole outline.
	FeedbackReviewTemplate Template = "feedback_review.tpl.md"
	// SocraticProbeTemplate opens a conversation about one issue.
	SocraticProbeTemplate Template = "socratic_probe.tpl.md"
	// ResolutionCheckTemplate asks whether one issue is fixed.
	ResolutionCheckTemplate Template = "resolution_check.tpl.md"
	// GeneralQuestionTemplate wraps a question asked with no issue selected.
	GeneralQuestionTemplate Template = "general_question.tpl.md"

	SystemFeedbackTemplate   Template = "system_feedback.tpl.md"
	SystemSocraticTemplate   Template = "system_socratic.tpl.md"
	SystemResolutionTemplate Template = "system_resolution.tpl.md"
	SystemGeneralTemplate    Template = "system_general.tpl.md"
)

// Data holds every field any prompt template reads.
type Data struct {
	Stage             writing.Stage
	StageName         string
	Subject           string
	NeedsVerb         string
	Thesis            string
	Claims            []ClaimData
	Outline           string
	IssueTitle        string
	StudentText       string
	StageContent      string
	Question          string
	HasQualityVerdict bool
	Phase             dialogue.Phase
}

// ClaimData is one claim as rendered in feedback prompts.
type ClaimData struct {
	Number    int
	Text      string
	Evidence  string
	Subclaims []SubclaimData
}

// SubclaimData is one subclaim with its evidence list already joined.
type SubclaimData struct {
	Text     string
	Evidence string
}

// Renderer renders the embedded prompt templates.
type Renderer struct {
	set *template.Template
}

// NewRenderer parses all embedded templates.
func NewRenderer() (*Renderer, error) {
	set, err := template.New("prompts").ParseFS(templateFS, "templates/*.tpl.md")
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt templates: %w", err)
	}
	return &Renderer{set: set}, nil
}

// Render executes one template and trims surrounding whitespace.
func (r *Renderer) Render(name Template, data *Data) (string, error) {
	tmpl := r.set.Lookup(string(name))
	if tmpl == nil {
		return "", fmt.Errorf("template %s not found", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Templates lists the names of the loaded templates.
func (r *Renderer) Templates() []Template {
	var names []Template
	for _, t := range r.set.Templates() {
		if strings.HasSuffix(t.Name(), ".tpl.md") {
			names = append(names, Template(t.Name()))
		}
	}
	return names
}

//nolint:gochecknoglobals // templates are embedded and parsed once
var defaultRenderer = mustRenderer()

func mustRenderer() *Renderer {
	r, err := NewRenderer()
	if err != nil {
		panic(err)
	}
	return r
}

// mustRender is only used with embedded templates and fully populated Data,
// so a failure is a programming error.
func mustRender(name Template, data *Data) string {
	out, err := defaultRenderer.Render(name, data)
	if err != nil {
		panic(err)
	}
	return out
}
