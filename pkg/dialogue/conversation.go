// Package dialogue models the tutoring conversation attached to an issue or to
// the student's general questions.
package dialogue

import (
	"time"
)

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerStudent Speaker = "student"
	SpeakerTeacher Speaker = "teacher"
)

// Turn is one message in a conversation.
type Turn struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is an ordered list of turns scoped to one issue, or to general
// questions when IssueID is empty. It carries its own turn count so the teaching
// phase never has to be tracked elsewhere.
//
// Conversation is not safe for concurrent use; its owner serializes access.
type Conversation struct {
	issueID      string
	turns        []Turn
	studentTurns int
}

// New starts an empty conversation. An empty issueID scopes it to general questions.
func New(issueID string) *Conversation {
	return &Conversation{issueID: issueID}
}

// IssueID returns the issue the conversation is about, or "" for general questions.
func (c *Conversation) IssueID() string { return c.issueID }

// IsGeneral reports whether no issue is attached.
func (c *Conversation) IsGeneral() bool { return c.issueID == "" }

// Len returns the number of turns.
func (c *Conversation) Len() int { return len(c.turns) }

// StudentTurns returns how many turns the student has taken.
func (c *Conversation) StudentTurns() int { return c.studentTurns }

// NextPhase is the phase of the next teacher turn given the turns so far.
func (c *Conversation) NextPhase() Phase { return PhaseFor(c.studentTurns) }

// AppendStudent records a student turn.
func (c *Conversation) AppendStudent(text string, at time.Time) Turn {
	t := Turn{Speaker: SpeakerStudent, Text: text, Timestamp: at}
	c.turns = append(c.turns, t)
	c.studentTurns++
	return t
}

// AppendTeacher records a teacher turn.
func (c *Conversation) AppendTeacher(text string, at time.Time) Turn {
	t := Turn{Speaker: SpeakerTeacher, Text: text, Timestamp: at}
	c.turns = append(c.turns, t)
	return t
}

// Turns returns a copy of the turns in order.
func (c *Conversation) Turns() []Turn {
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Last returns the most recent turn.
func (c *Conversation) Last() (Turn, bool) {
	if len(c.turns) == 0 {
		return Turn{}, false
	}
	return c.turns[len(c.turns)-1], true
}
