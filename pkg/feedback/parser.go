// Package feedback turns free-form model replies into structured coaching results.
//
// Parsing never fails. Replies that drift from the requested format fall back to
// progressively looser interpretations instead of producing an error.
package feedback

import (
	"regexp"
	"strings"
)

// MaxIssues caps how many issues one feedback reply can raise.
const MaxIssues = 3

// FallbackQuality is the verdict used when a reply carries neither marker nor list items.
const FallbackQuality = "Content appears to be well-developed."

// Kind discriminates a Result.
type Kind int

const (
	// KindQuality is a positive verdict with no issues.
	KindQuality Kind = iota
	// KindIssues is a list of up to MaxIssues issue titles.
	KindIssues
)

func (k Kind) String() string {
	if k == KindIssues {
		return "issues"
	}
	return "quality"
}

// Result is either a quality verdict or an issue list, never both.
// The zero value is an empty quality verdict.
type Result struct {
	kind    Kind
	quality string
	issues  []string
}

// Quality builds a quality verdict result.
func Quality(explanation string) Result {
	return Result{kind: KindQuality, quality: explanation}
}

// Issues builds an issue list result. Titles beyond MaxIssues are dropped.
func Issues(titles []string) Result {
	if len(titles) > MaxIssues {
		titles = titles[:MaxIssues]
	}
	return Result{kind: KindIssues, issues: append([]string{}, titles...)}
}

// Kind reports which variant r holds.
func (r Result) Kind() Kind { return r.kind }

// QualityText returns the verdict explanation and whether r is a quality verdict.
func (r Result) QualityText() (string, bool) {
	return r.quality, r.kind == KindQuality
}

// IssueTitles returns a copy of the titles and whether r is an issue list.
// An issue list may legitimately be empty when the reply had an ISSUES marker and no items.
func (r Result) IssueTitles() ([]string, bool) {
	if r.kind != KindIssues {
		return nil, false
	}
	return append([]string{}, r.issues...), true
}

var (
	qualityPattern  = regexp.MustCompile(`(?s)QUALITY:\s*(.+?)(?:\n|$)`)
	issuesPattern   = regexp.MustCompile(`(?i)ISSUES:\s*([\s\S]*)`)
	numberedPattern = regexp.MustCompile(`^\s*(\d+)[.)]\s*(.+)$`)
	bulletPattern   = regexp.MustCompile(`^\s*[-*•]\s*(.+)$`)
)

// ParseFeedback interprets a stage feedback reply.
//
// A QUALITY: line wins outright; one with no text after the marker becomes
// FallbackQuality. Otherwise an ISSUES: marker yields the items that
// follow it, even when there are none. Without either marker, list items anywhere in
// the reply are taken as issues, and a reply with no items becomes FallbackQuality.
func ParseFeedback(raw string) Result {
	if m := qualityPattern.FindStringSubmatch(raw); m != nil {
		return Quality(noteOr(m[1], FallbackQuality))
	}
	if m := issuesPattern.FindStringSubmatch(raw); m != nil {
		return Issues(ExtractIssues(m[1]))
	}
	if titles := ExtractIssues(raw); len(titles) > 0 {
		return Issues(titles)
	}
	return Quality(FallbackQuality)
}

// ExtractIssues collects up to MaxIssues numbered ("1." or "1)") or bulleted
// ("-", "*", "•") lines in order. Later matches are ignored.
func ExtractIssues(text string) []string {
	titles := make([]string, 0, MaxIssues)
	for _, line := range strings.Split(text, "\n") {
		if len(titles) == MaxIssues {
			break
		}
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if m := numberedPattern.FindStringSubmatch(line); m != nil {
			if title := strings.TrimSpace(m[2]); title != "" {
				titles = append(titles, title)
			}
			continue
		}
		if m := bulletPattern.FindStringSubmatch(line); m != nil {
			if title := strings.TrimSpace(m[1]); title != "" {
				titles = append(titles, title)
			}
		}
	}
	return titles
}
