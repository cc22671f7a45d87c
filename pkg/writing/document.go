package writing

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrOutOfRange is returned by edit operations addressing a claim, subclaim or evidence slot that does not exist.
var ErrOutOfRange = errors.New("index out of range")

// Claim is a top-level supporting claim with optional subclaims.
type Claim struct {
	Text      string   `json:"text"`
	Subclaims []string `json:"subclaims"`
}

// Document is the student's mutable writing state.
//
// Evidence is keyed by ClaimKey(i) for claim-level evidence and SubclaimKey(i, j)
// for evidence attached to subclaim j of claim i. Outline is nil until it is first
// generated; an explicit empty outline is kept as the student's edit.
type Document struct {
	Thesis   string              `json:"thesis"`
	Claims   []Claim             `json:"claims"`
	Evidence map[string][]string `json:"evidence"`
	Outline  *string             `json:"outline"`
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{
		Claims:   []Claim{},
		Evidence: map[string][]string{},
	}
}

// ClaimKey is the evidence key for claim i.
func ClaimKey(claim int) string {
	return strconv.Itoa(claim)
}

// SubclaimKey is the evidence key for subclaim sub of claim.
func SubclaimKey(claim, sub int) string {
	return fmt.Sprintf("%d-%d", claim, sub)
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	if d == nil {
		return NewDocument()
	}
	out := &Document{
		Thesis:   d.Thesis,
		Claims:   make([]Claim, len(d.Claims)),
		Evidence: make(map[string][]string, len(d.Evidence)),
	}
	for i, c := range d.Claims {
		out.Claims[i] = Claim{Text: c.Text, Subclaims: append([]string(nil), c.Subclaims...)}
		if out.Claims[i].Subclaims == nil {
			out.Claims[i].Subclaims = []string{}
		}
	}
	for k, v := range d.Evidence {
		out.Evidence[k] = append([]string(nil), v...)
	}
	if d.Outline != nil {
		o := *d.Outline
		out.Outline = &o
	}
	return out
}

// HasStageContent reports whether the field relevant to stage holds something worth reviewing.
func (d *Document) HasStageContent(stage Stage) bool {
	switch stage {
	case StageThesis:
		return strings.TrimSpace(d.Thesis) != ""
	case StageClaims:
		for _, c := range d.Claims {
			if strings.TrimSpace(c.Text) != "" {
				return true
			}
		}
		return false
	case StageEvidence:
		return len(d.Evidence) > 0
	case StageReview:
		return d.Outline != nil && strings.TrimSpace(*d.Outline) != ""
	default:
		return false
	}
}

// EffectiveStage infers a stage from the document's shape rather than from
// the stage the student is viewing: claims imply at least stage 1, evidence
// at least stage 2, and an outline means stage 3.
func (d *Document) EffectiveStage() Stage {
	stage := StageThesis
	if len(d.Claims) > 0 {
		stage = StageClaims
	}
	if len(d.Evidence) > 0 {
		stage = StageEvidence
	}
	if d.Outline != nil && *d.Outline != "" {
		stage = StageReview
	}
	return stage
}

// Snapshot renders the stage-relevant content as a single string. Issues keep
// it as the content they were raised against.
func (d *Document) Snapshot(stage Stage) string {
	switch stage {
	case StageThesis:
		return strings.TrimSpace(d.Thesis)
	case StageClaims:
		return strings.Join(d.ClaimTexts(false), ", ")
	case StageEvidence:
		return d.EvidenceSummary()
	case StageReview:
		return strings.TrimSpace(d.OutlineText())
	default:
		return ""
	}
}

// ClaimTexts returns the claim texts in order. With skipBlank, blank claims are dropped.
func (d *Document) ClaimTexts(skipBlank bool) []string {
	texts := make([]string, 0, len(d.Claims))
	for _, c := range d.Claims {
		if skipBlank && strings.TrimSpace(c.Text) == "" {
			continue
		}
		texts = append(texts, c.Text)
	}
	return texts
}

// EvidenceFor returns the evidence snippets stored under key.
func (d *Document) EvidenceFor(key string) []string {
	return d.Evidence[key]
}

// EvidenceSummary renders every claim and subclaim with its evidence on one line each.
func (d *Document) EvidenceSummary() string {
	var b strings.Builder
	for i, c := range d.Claims {
		fmt.Fprintf(&b, "Claim %d: %s | Evidence: %s\n", i+1, c.Text, joinOrNone(d.Evidence[ClaimKey(i)]))
		for j, sub := range c.Subclaims {
			fmt.Fprintf(&b, "  Subclaim: %s | Evidence: %s\n", sub, joinOrNone(d.Evidence[SubclaimKey(i, j)]))
		}
	}
	// Evidence under keys that no longer match a claim still counts as content.
	for _, k := range d.orphanEvidenceKeys() {
		fmt.Fprintf(&b, "Unattached (%s) | Evidence: %s\n", k, joinOrNone(d.Evidence[k]))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (d *Document) orphanEvidenceKeys() []string {
	known := make(map[string]bool)
	for i, c := range d.Claims {
		known[ClaimKey(i)] = true
		for j := range c.Subclaims {
			known[SubclaimKey(i, j)] = true
		}
	}
	var orphans []string
	for k := range d.Evidence {
		if !known[k] {
			orphans = append(orphans, k)
		}
	}
	sort.Strings(orphans)
	return orphans
}

func joinOrNone(items []string) string {
	nonBlank := make([]string, 0, len(items))
	for _, it := range items {
		if strings.TrimSpace(it) != "" {
			nonBlank = append(nonBlank, it)
		}
	}
	if len(nonBlank) == 0 {
		return "None provided"
	}
	return strings.Join(nonBlank, ", ")
}

// OutlineText returns the outline or an empty string when none has been generated.
func (d *Document) OutlineText() string {
	if d.Outline == nil {
		return ""
	}
	return *d.Outline
}

// GenerateOutline derives an outline from the thesis, claims and evidence.
func (d *Document) GenerateOutline() string {
	var b strings.Builder
	fmt.Fprintf(&b, "THESIS: %s\n", d.Thesis)
	for i, c := range d.Claims {
		fmt.Fprintf(&b, "\nCLAIM %d: %s\n", i+1, c.Text)
		for n, ev := range d.Evidence[ClaimKey(i)] {
			fmt.Fprintf(&b, "  Evidence %d: %s\n", n+1, ev)
		}
		for j, sub := range c.Subclaims {
			fmt.Fprintf(&b, "  SUBCLAIM: %s\n", sub)
			for n, ev := range d.Evidence[SubclaimKey(i, j)] {
				fmt.Fprintf(&b, "    Evidence %d: %s\n", n+1, ev)
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// EnsureOutline generates the outline if it has never been set and reports whether it did.
func (d *Document) EnsureOutline() bool {
	if d.Outline != nil {
		return false
	}
	o := d.GenerateOutline()
	d.Outline = &o
	return true
}

// CanAdvance reports whether the student has done enough at stage to move on.
func (d *Document) CanAdvance(stage Stage) bool {
	switch stage {
	case StageThesis:
		return strings.TrimSpace(d.Thesis) != ""
	case StageClaims:
		return d.HasStageContent(StageClaims)
	case StageEvidence:
		return true
	default:
		return false
	}
}

// WordCount counts whitespace separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// SetThesis replaces the thesis text.
func (d *Document) SetThesis(text string) {
	d.Thesis = text
}

// AddClaim appends a claim and returns its index.
func (d *Document) AddClaim(text string) int {
	d.Claims = append(d.Claims, Claim{Text: text, Subclaims: []string{}})
	return len(d.Claims) - 1
}

// UpdateClaim replaces the text of claim i.
func (d *Document) UpdateClaim(i int, text string) error {
	if i < 0 || i >= len(d.Claims) {
		return fmt.Errorf("claim %d: %w", i, ErrOutOfRange)
	}
	d.Claims[i].Text = text
	return nil
}

// AddSubclaim appends a subclaim to claim i and returns its index.
func (d *Document) AddSubclaim(i int, text string) (int, error) {
	if i < 0 || i >= len(d.Claims) {
		return 0, fmt.Errorf("claim %d: %w", i, ErrOutOfRange)
	}
	d.Claims[i].Subclaims = append(d.Claims[i].Subclaims, text)
	return len(d.Claims[i].Subclaims) - 1, nil
}

// UpdateSubclaim replaces the text of subclaim j of claim i.
func (d *Document) UpdateSubclaim(i, j int, text string) error {
	if i < 0 || i >= len(d.Claims) || j < 0 || j >= len(d.Claims[i].Subclaims) {
		return fmt.Errorf("subclaim %d-%d: %w", i, j, ErrOutOfRange)
	}
	d.Claims[i].Subclaims[j] = text
	return nil
}

// AddEvidence appends a snippet under key and returns its index.
func (d *Document) AddEvidence(key, text string) int {
	if d.Evidence == nil {
		d.Evidence = map[string][]string{}
	}
	d.Evidence[key] = append(d.Evidence[key], text)
	return len(d.Evidence[key]) - 1
}

// UpdateEvidence replaces snippet n under key.
func (d *Document) UpdateEvidence(key string, n int, text string) error {
	items := d.Evidence[key]
	if n < 0 || n >= len(items) {
		return fmt.Errorf("evidence %s/%d: %w", key, n, ErrOutOfRange)
	}
	items[n] = text
	return nil
}

// DeleteEvidence removes snippet n under key. The key itself stays, even when emptied.
func (d *Document) DeleteEvidence(key string, n int) error {
	items := d.Evidence[key]
	if n < 0 || n >= len(items) {
		return fmt.Errorf("evidence %s/%d: %w", key, n, ErrOutOfRange)
	}
	d.Evidence[key] = append(items[:n:n], items[n+1:]...)
	return nil
}

// SetOutline stores an edited outline.
func (d *Document) SetOutline(text string) {
	d.Outline = &text
}
