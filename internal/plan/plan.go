// Package plan implements the interactive plan review that runs before any
// search budget is spent: the proposed subtopics are shown, and the operator
// can accept them, abort the run, or rewrite the plan as YAML in $EDITOR.
// Edited plans are re-validated and renumbered.
package plan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/Sumatoshi-tech/scout/internal/state"
)

// ErrReviewAborted reports that the operator declined the plan. The run
// stops before any search spend.
var ErrReviewAborted = errors.New("plan review aborted")

// ErrEditCancelled reports a deliberately abandoned edit: an empty file, or
// an editor that exited non-zero. The previous plan stays in force.
var ErrEditCancelled = errors.New("plan edit cancelled")

// ErrEditInvalid reports an edit that could not be used: unparseable YAML,
// no usable entries, or too many. The previous plan stays in force.
var ErrEditInvalid = errors.New("edited plan invalid")

// reviewPrompt is the readline prompt for the accept/edit/quit loop.
const reviewPrompt = "[a]ccept, [e]dit, [q]uit: "

// defaultTermWidth is assumed when the output is not a terminal.
const defaultTermWidth = 80

// Decision records how the review concluded.
type Decision string

// Review outcomes.
const (
	DecisionAccepted Decision = "accepted"
	DecisionEdited   Decision = "edited"
)

// Options configure the review session. Zero values mean the process
// stdin/stdout and the $VISUAL/$EDITOR environment.
type Options struct {
	// In replaces stdin. An injected reader is treated as a non-terminal.
	In io.ReadCloser

	// Out replaces stdout.
	Out io.Writer

	// Editor overrides the editor command. Split on whitespace, so
	// "code --wait" works.
	Editor string
}

// Result is the reviewed plan.
type Result struct {
	// Subtopics is the accepted set, renumbered when edited.
	Subtopics []state.Subtopic

	// Decision is accepted or edited.
	Decision Decision

	// Diff summarizes the change when Decision is DecisionEdited.
	Diff string
}

// Review shows the plan and loops on the operator's choice until the plan
// is accepted, edited and accepted, or abandoned. Ctrl+C, Ctrl+D, and a
// closed input all abort. A cancelled or invalid edit keeps the previous
// plan and re-prompts.
func Review(ctx context.Context, query string, subs []state.Subtopic, opts Options) (*Result, error) {
	rl, err := readline.NewEx(opts.readlineConfig())
	if err != nil {
		return nil, fmt.Errorf("open prompt: %w", err)
	}
	defer rl.Close()

	out := opts.out()
	current := append([]state.Subtopic(nil), subs...)
	edited := false

	render(out, query, current)

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrReviewAborted, ctxErr)
		}

		line, readErr := rl.Readline()
		if readErr != nil {
			if errors.Is(readErr, readline.ErrInterrupt) || errors.Is(readErr, io.EOF) {
				return nil, ErrReviewAborted
			}

			return nil, fmt.Errorf("read choice: %w", readErr)
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "a", "accept", "":
			return buildResult(current, subs, edited), nil

		case "e", "edit":
			next, editErr := editInEditor(ctx, current, opts)
			if editErr != nil {
				if errors.Is(editErr, ErrEditCancelled) || errors.Is(editErr, ErrEditInvalid) {
					notice(out, "%v, plan unchanged", editErr)

					continue
				}

				return nil, editErr
			}

			if listing(next) == listing(current) {
				notice(out, "no changes, plan unchanged")

				continue
			}

			current = next
			edited = true

			render(out, query, current)

		case "q", "quit", "abort":
			return nil, ErrReviewAborted

		default:
			notice(out, "unrecognized choice %q", strings.TrimSpace(line))
		}
	}
}

// buildResult assembles the result, diffing against the original plan when
// edits survived the loop.
func buildResult(current, original []state.Subtopic, edited bool) *Result {
	res := &Result{Subtopics: current, Decision: DecisionAccepted}

	if edited {
		res.Decision = DecisionEdited
		res.Diff = DiffSummary(original, current)
	}

	return res
}

// readlineConfig builds the prompt configuration. Injected streams get the
// non-terminal function set so readline never issues raw-mode ioctls
// against a pipe.
func (o Options) readlineConfig() *readline.Config {
	cfg := &readline.Config{Prompt: reviewPrompt}

	if o.In != nil {
		cfg.Stdin = o.In
		cfg.FuncIsTerminal = func() bool { return false }
		cfg.FuncMakeRaw = func() error { return nil }
		cfg.FuncExitRaw = func() error { return nil }
		cfg.FuncGetWidth = func() int { return defaultTermWidth }
		cfg.FuncOnWidthChanged = func(func()) {}
	}

	if o.Out != nil {
		cfg.Stdout = o.Out
		cfg.Stderr = o.Out
	}

	return cfg
}
