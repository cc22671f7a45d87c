package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"writingcoach/pkg/coach"
	"writingcoach/pkg/dialogue"
	"writingcoach/pkg/issues"
	"writingcoach/pkg/writing"
)

const replHelp = `Commands:
  :thesis TEXT           set the thesis
  :claim TEXT            add a claim
  :subclaim N TEXT       add a subclaim to claim N
  :evidence KEY TEXT     add evidence; KEY is "N" for claim N or "N-M" for subclaim M of claim N
  :outline TEXT          replace the outline
  :stage N               jump to stage N (1-4)
  :next / :back          move between stages
  :feedback              ask for feedback on the current stage
  :select N              discuss issue N
  :review N              check whether issue N is fixed
  :view                  show the session
  :reset                 start over
  :quit                  leave
Anything else is sent to the coach as a message.`

func replCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Coach a piece of writing interactively in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup(opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			deps, err := buildDeps(ctx, cfg)
			if err != nil {
				return err
			}
			defer deps.Close()

			sess := coach.New("repl-"+strconv.FormatInt(int64(os.Getpid()), 10), deps.service)
			r := newREPL(sess, cmd.InOrStdin(), cmd.OutOrStdout())
			r.interactive = term.IsTerminal(int(syscall.Stdin))
			return r.run(ctx)
		},
	}
}

type replStyles struct {
	title   lipgloss.Style
	teacher lipgloss.Style
	student lipgloss.Style
	issue   lipgloss.Style
	good    lipgloss.Style
	err     lipgloss.Style
	muted   lipgloss.Style
	box     lipgloss.Style
}

func newReplStyles(out io.Writer) replStyles {
	r := lipgloss.NewRenderer(out)
	return replStyles{
		title:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF")),
		teacher: r.NewStyle().Foreground(lipgloss.Color("#7FD1B9")),
		student: r.NewStyle().Foreground(lipgloss.Color("#AAAAAA")),
		issue:   r.NewStyle().Foreground(lipgloss.Color("#F4B942")),
		good:    r.NewStyle().Foreground(lipgloss.Color("#6BCB77")),
		err:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")),
		muted:   r.NewStyle().Foreground(lipgloss.Color("#888888")),
		box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1),
	}
}

// repl drives one session from line-oriented input.
type repl struct {
	session     *coach.Session
	in          io.Reader
	out         io.Writer
	styles      replStyles
	interactive bool
}

func newREPL(sess *coach.Session, in io.Reader, out io.Writer) *repl {
	return &repl{
		session: sess,
		in:      in,
		out:     out,
		styles:  newReplStyles(out),
	}
}

var errQuit = errors.New("quit")

func (r *repl) run(ctx context.Context) error {
	r.printView()
	fmt.Fprintln(r.out, r.styles.muted.Render("Type :help for commands."))

	scanner := bufio.NewScanner(r.in)
	for {
		if r.interactive {
			fmt.Fprint(r.out, "> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		err := r.handle(ctx, line)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			r.printError(err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (r *repl) handle(ctx context.Context, line string) error {
	if !strings.HasPrefix(line, ":") {
		return r.converse(r.session.SendMessage(ctx, line))
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)

	switch name {
	case "quit", "q", "exit":
		return errQuit
	case "help", "h":
		fmt.Fprintln(r.out, replHelp)
		return nil
	case "view":
		r.printView()
		return nil
	case "thesis":
		return r.edit(func(d *writing.Document) error {
			d.SetThesis(rest)
			return nil
		})
	case "claim":
		return r.edit(func(d *writing.Document) error {
			d.AddClaim(rest)
			return nil
		})
	case "subclaim":
		n, text, err := numberAndText(rest)
		if err != nil {
			return err
		}
		return r.edit(func(d *writing.Document) error {
			_, err := d.AddSubclaim(n-1, text)
			return err
		})
	case "evidence":
		key, text, ok := strings.Cut(rest, " ")
		if !ok {
			return errors.New("usage: :evidence KEY TEXT")
		}
		key, err := evidenceKey(key)
		if err != nil {
			return err
		}
		return r.edit(func(d *writing.Document) error {
			d.AddEvidence(key, strings.TrimSpace(text))
			return nil
		})
	case "outline":
		return r.edit(func(d *writing.Document) error {
			d.SetOutline(rest)
			return nil
		})
	case "stage":
		n, err := strconv.Atoi(rest)
		if err != nil {
			return fmt.Errorf("usage: :stage N (1-%d)", int(writing.LastStage)+1)
		}
		stage, err := writing.ParseStage(n - 1)
		if err != nil {
			return err
		}
		return r.moved(r.session.OnStageChanged(stage))
	case "next":
		return r.moved(r.session.Advance())
	case "back":
		return r.moved(r.session.Back())
	case "reset":
		return r.moved(r.session.StartOver())
	case "feedback":
		if err := r.session.RequestFeedback(ctx); err != nil {
			return err
		}
		r.printFeedback()
		return nil
	case "select":
		issue, err := r.issueAt(rest)
		if err != nil {
			return err
		}
		return r.converse(r.session.SelectIssue(ctx, issue.ID))
	case "review":
		issue, err := r.issueAt(rest)
		if err != nil {
			return err
		}
		reviewed, err := r.session.ReviewIssue(ctx, issue.ID)
		if err != nil {
			return err
		}
		r.printReview(reviewed)
		return nil
	default:
		return fmt.Errorf("unknown command :%s (try :help)", name)
	}
}

func (r *repl) edit(fn func(*writing.Document) error) error {
	if err := r.session.UpdateDocument(fn); err != nil {
		return err
	}
	fmt.Fprintln(r.out, r.styles.muted.Render(fmt.Sprintf("saved (%d words in this stage)", r.session.View().WordCount)))
	return nil
}

func (r *repl) moved(err error) error {
	if err != nil {
		return err
	}
	r.printView()
	return nil
}

func (r *repl) converse(turn *dialogue.Turn, err error) error {
	if err != nil {
		return err
	}
	if turn != nil {
		r.printTurn(*turn)
	}
	return nil
}

// issueAt resolves a 1-based issue number from the current list.
func (r *repl) issueAt(arg string) (issues.Issue, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return issues.Issue{}, errors.New("expected an issue number")
	}
	list := r.session.View().Issues
	if n < 1 || n > len(list) {
		return issues.Issue{}, fmt.Errorf("issue %d: %w", n, coach.ErrNoIssue)
	}
	return list[n-1], nil
}

func numberAndText(arg string) (int, string, error) {
	head, text, ok := strings.Cut(arg, " ")
	n, err := strconv.Atoi(head)
	if !ok || err != nil {
		return 0, "", errors.New("expected a number followed by text")
	}
	return n, strings.TrimSpace(text), nil
}

// evidenceKey turns the 1-based "N" or "N-M" form into a document evidence key.
func evidenceKey(arg string) (string, error) {
	claimPart, subPart, hasSub := strings.Cut(arg, "-")
	claim, err := strconv.Atoi(claimPart)
	if err != nil || claim < 1 {
		return "", fmt.Errorf("invalid evidence key %q", arg)
	}
	if !hasSub {
		return writing.ClaimKey(claim - 1), nil
	}
	sub, err := strconv.Atoi(subPart)
	if err != nil || sub < 1 {
		return "", fmt.Errorf("invalid evidence key %q", arg)
	}
	return writing.SubclaimKey(claim-1, sub-1), nil
}

func (r *repl) printError(err error) {
	msg := err.Error()
	var um interface{ UserMessage() string }
	switch {
	case errors.Is(err, coach.ErrEmptyContent):
		msg = coach.EmptyContentMessage
	case errors.As(err, &um):
		msg = um.UserMessage()
	}
	fmt.Fprintln(r.out, r.styles.err.Render(msg))
}

func (r *repl) printView() {
	v := r.session.View()
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", r.styles.title.Render(fmt.Sprintf("Stage %d: %s", int(v.Stage)+1, v.StageName)))
	fmt.Fprintf(&b, "%s\n", r.styles.muted.Render(v.Instructions))
	if snapshot := v.Document.Snapshot(v.Stage); strings.TrimSpace(snapshot) != "" {
		fmt.Fprintf(&b, "\n%s\n", snapshot)
	}
	if v.QualityVerdict != nil {
		fmt.Fprintf(&b, "\n%s\n", r.styles.good.Render("Strength: "+*v.QualityVerdict))
	}
	if len(v.Issues) > 0 {
		b.WriteString("\nIssues:\n")
		for i, is := range v.Issues {
			fmt.Fprintf(&b, "%s\n", r.styles.issue.Render(fmt.Sprintf("  %d. [%s] %s", i+1, is.Status, is.Title)))
		}
	}
	if v.CanAdvance {
		fmt.Fprintf(&b, "\n%s", r.styles.muted.Render("Ready for the next stage (:next)."))
	}
	fmt.Fprintln(r.out, r.styles.box.Render(strings.TrimRight(b.String(), "\n")))
}

func (r *repl) printFeedback() {
	v := r.session.View()
	if v.QualityVerdict != nil {
		fmt.Fprintln(r.out, r.styles.good.Render("Strength: "+*v.QualityVerdict))
		return
	}
	fmt.Fprintln(r.out, "Issues found:")
	for i, is := range v.Issues {
		fmt.Fprintln(r.out, r.styles.issue.Render(fmt.Sprintf("  %d. %s", i+1, is.Title)))
	}
	fmt.Fprintln(r.out, r.styles.muted.Render("Use :select N to discuss an issue."))
}

func (r *repl) printTurn(t dialogue.Turn) {
	if t.Speaker == dialogue.SpeakerTeacher {
		fmt.Fprintln(r.out, r.styles.teacher.Render("coach: "+t.Text))
		return
	}
	fmt.Fprintln(r.out, r.styles.student.Render("you: "+t.Text))
}

func (r *repl) printReview(is issues.Issue) {
	style := r.styles.issue
	if is.Status == issues.StatusResolved {
		style = r.styles.good
	}
	line := fmt.Sprintf("%s: %s", is.Title, is.Status)
	if is.LastFeedback != "" {
		line += "\n  " + is.LastFeedback
	}
	fmt.Fprintln(r.out, style.Render(line))
}

