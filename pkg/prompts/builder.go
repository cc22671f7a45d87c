package prompts

import (
	"fmt"
	"strings"

	"writingcoach/pkg/dialogue"
	"writingcoach/pkg/llmsvc/llm"
	"writingcoach/pkg/writing"
)

// Prompt is a complete instruction payload: a system prompt, earlier turns and the user
// message the model should answer.
type Prompt struct {
	Kind    llm.CallKind
	System  string
	History []llm.CompletionMessage
	User    string
	Phase   dialogue.Phase
}

// Request converts p into a model-service request with the budget for its kind.
func (p Prompt) Request() llm.Request {
	history := make([]llm.CompletionMessage, 0, len(p.History)+1)
	history = append(history, p.History...)
	history = append(history, llm.NewUserMessage(p.User))
	return llm.Request{
		Kind:      p.Kind,
		System:    p.System,
		History:   history,
		MaxTokens: llm.MaxTokensFor(p.Kind),
	}
}

// IssueRef is the part of an issue the prompts need.
type IssueRef struct {
	Title string
	Stage writing.Stage
}

//nolint:gochecknoglobals // static lookup table
var feedbackTemplates = map[writing.Stage]Template{
	writing.StageThesis:   FeedbackThesisTemplate,
	writing.StageClaims:   FeedbackClaimsTemplate,
	writing.StageEvidence: FeedbackEvidenceTemplate,
	writing.StageReview:   FeedbackReviewTemplate,
}

//nolint:gochecknoglobals // static lookup table
var feedbackSubjects = map[writing.Stage][2]string{
	writing.StageThesis:   {"thesis", "needs"},
	writing.StageClaims:   {"claims", "need"},
	writing.StageEvidence: {"evidence", "needs"},
	writing.StageReview:   {"argument", "needs"},
}

// BuildFeedbackPrompt builds the stage feedback request. The user content always ends
// with the QUALITY/ISSUES reply contract that ParseFeedback relies on.
func BuildFeedbackPrompt(stage writing.Stage, doc *writing.Document) (Prompt, error) {
	name, ok := feedbackTemplates[stage]
	if !ok {
		return Prompt{}, fmt.Errorf("feedback prompt for stage %d: %w", int(stage), writing.ErrInvalidStage)
	}

	subject := feedbackSubjects[stage]
	data := documentData(doc)
	data.Stage = stage
	data.StageName = stage.Name()
	data.Subject = subject[0]
	data.NeedsVerb = subject[1]

	return Prompt{
		Kind:   llm.KindFeedback,
		System: mustRender(SystemFeedbackTemplate, data),
		User:   mustRender(name, data),
	}, nil
}

// BuildSocraticPrompt builds the next teacher turn for a conversation about one issue.
//
// With no student turns yet it is the opening probe. Otherwise the opening framing is
// replayed as the first user message, the turns follow, and the latest student turn is
// the message to answer. The phase instruction is appended to the system prompt.
func BuildSocraticPrompt(issue IssueRef, doc *writing.Document, conv *dialogue.Conversation) Prompt {
	phase := conv.NextPhase()
	probe := mustRender(SocraticProbeTemplate, &Data{
		IssueTitle:  issue.Title,
		StudentText: studentText(issue.Stage, doc),
	})
	system := mustRender(SystemSocraticTemplate, &Data{Phase: phase})

	turns := conv.Turns()
	if conv.StudentTurns() == 0 {
		return Prompt{
			Kind:    llm.KindSocraticProbe,
			System:  system,
			History: toMessages(turns),
			User:    probe,
			Phase:   phase,
		}
	}

	user := probe
	if last, ok := conv.Last(); ok && last.Speaker == dialogue.SpeakerStudent {
		user = last.Text
		turns = turns[:len(turns)-1]
	}

	history := make([]llm.CompletionMessage, 0, len(turns)+1)
	history = append(history, llm.NewUserMessage(probe))
	history = append(history, toMessages(turns)...)

	return Prompt{
		Kind:    llm.KindSocraticContinue,
		System:  system,
		History: history,
		User:    user,
		Phase:   phase,
	}
}

// BuildResolutionCheckPrompt asks whether an issue has been fixed.
func BuildResolutionCheckPrompt(issue IssueRef, doc *writing.Document) Prompt {
	return Prompt{
		Kind:   llm.KindResolutionCheck,
		System: mustRender(SystemResolutionTemplate, &Data{}),
		User:   ResolutionCheckText(issue.Title, doc),
	}
}

// ResolutionCheckText renders the resolution check content. The stage is inferred
// from the document's shape, not from the stage the student is viewing, so it can
// disagree with the stage the issue was raised in.
func ResolutionCheckText(title string, doc *writing.Document) string {
	var content string
	switch doc.EffectiveStage() {
	case writing.StageThesis:
		content = fmt.Sprintf("Current thesis: \"%s\"", doc.Thesis)
	case writing.StageClaims:
		content = fmt.Sprintf("Current thesis: \"%s\"\nCurrent claims: %s",
			doc.Thesis, strings.Join(doc.ClaimTexts(false), ", "))
	case writing.StageEvidence:
		content = "Current evidence structure:\n" + doc.EvidenceSummary()
	default:
		content = fmt.Sprintf("Current outline: \"%s\"", doc.OutlineText())
	}

	return mustRender(ResolutionCheckTemplate, &Data{
		IssueTitle:   title,
		StageContent: content,
	})
}

// BuildGeneralPrompt answers a question asked with no issue selected. Earlier turns
// of the general conversation become history; the question itself is wrapped with
// the stage context.
func BuildGeneralPrompt(question string, doc *writing.Document, stage writing.Stage, hasQualityVerdict bool, conv *dialogue.Conversation) Prompt {
	var turns []dialogue.Turn
	if conv != nil {
		turns = conv.Turns()
		if last, ok := conv.Last(); ok && last.Speaker == dialogue.SpeakerStudent && last.Text == question {
			turns = turns[:len(turns)-1]
		}
	}

	return Prompt{
		Kind:    llm.KindGeneralQuestion,
		System:  mustRender(SystemGeneralTemplate, &Data{}),
		History: toMessages(turns),
		User:    GeneralQuestionText(question, doc, stage, hasQualityVerdict),
	}
}

// GeneralQuestionText renders a general question with the stage context.
func GeneralQuestionText(question string, doc *writing.Document, stage writing.Stage, hasQualityVerdict bool) string {
	var content string
	switch stage {
	case writing.StageThesis:
		if doc.Thesis != "" {
			content = fmt.Sprintf("Current thesis: \"%s\"", doc.Thesis)
		} else {
			content = "No thesis written yet."
		}
	case writing.StageClaims:
		content = fmt.Sprintf("Thesis: \"%s\"\n", doc.Thesis)
		if len(doc.Claims) > 0 {
			content += "Claims: " + strings.Join(doc.ClaimTexts(true), ", ")
		} else {
			content += "No claims added yet."
		}
	case writing.StageEvidence:
		content = "Working on adding evidence for their claims."
	case writing.StageReview:
		content = "Reviewing their complete argument outline."
	}

	return mustRender(GeneralQuestionTemplate, &Data{
		StageName:         stage.Name(),
		StageContent:      content,
		HasQualityVerdict: hasQualityVerdict,
		Question:          question,
	})
}

func documentData(doc *writing.Document) *Data {
	data := &Data{
		Thesis:  doc.Thesis,
		Outline: doc.OutlineText(),
		Claims:  make([]ClaimData, 0, len(doc.Claims)),
	}
	for i, c := range doc.Claims {
		cd := ClaimData{
			Number:   i + 1,
			Text:     c.Text,
			Evidence: joinEvidence(doc.EvidenceFor(writing.ClaimKey(i))),
		}
		for j, sub := range c.Subclaims {
			cd.Subclaims = append(cd.Subclaims, SubclaimData{
				Text:     sub,
				Evidence: joinEvidence(doc.EvidenceFor(writing.SubclaimKey(i, j))),
			})
		}
		data.Claims = append(data.Claims, cd)
	}
	return data
}

func joinEvidence(items []string) string {
	if joined := strings.Join(items, ", "); joined != "" {
		return joined
	}
	return "None provided"
}

// studentText is what the opening probe quotes back to the student: the content of
// the stage the issue was raised in, or the thesis when that content is gone.
func studentText(stage writing.Stage, doc *writing.Document) string {
	if text := doc.Snapshot(stage); text != "" {
		return text
	}
	return strings.TrimSpace(doc.Thesis)
}

func toMessages(turns []dialogue.Turn) []llm.CompletionMessage {
	msgs := make([]llm.CompletionMessage, 0, len(turns))
	for _, t := range turns {
		if t.Speaker == dialogue.SpeakerStudent {
			msgs = append(msgs, llm.NewUserMessage(t.Text))
		} else {
			msgs = append(msgs, llm.NewAssistantMessage(t.Text))
		}
	}
	return msgs
}
