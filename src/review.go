package src

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReviewDecision is the outcome of presenting one unit for review.
// Transitions: Presented -> {Accepted, EditRequested, Cancelled};
// EditRequested -> {Accepted, Cancelled}. Nothing else.
type ReviewDecision int

const (
	DecisionCancel ReviewDecision = iota
	DecisionAccept
	DecisionEdit
)

// BatchDecision is the upfront choice for a multi-file change-set.
type BatchDecision int

const (
	BatchNone BatchDecision = iota
	BatchAll
	BatchIndividual
)

// ReviewRequest is one file change presented for review.
type ReviewRequest struct {
	Path      string
	Kind      ChangeKind
	Original  string
	Suggested string
	Diff      string
}

// ReviewOutcome carries the final decision and the content to apply: the
// suggestion as-is, or the user's edit of it.
type ReviewOutcome struct {
	Decision ReviewDecision
	Content  string
}

// Reviewer is the interaction surface of the review engine. Implementations
// are the terminal prompt, the TUI bridge, auto-approval, and test scripts.
type Reviewer interface {
	// ReviewFile runs the full accept/edit/cancel round for one file.
	ReviewFile(ctx context.Context, req ReviewRequest) (ReviewOutcome, error)
	// BatchMode asks how to handle a multi-file change-set.
	BatchMode(ctx context.Context, reqs []ReviewRequest) (BatchDecision, error)
	// ConfirmFile is the per-file yes/no of individual batch mode.
	ConfirmFile(ctx context.Context, req ReviewRequest) (bool, error)
}

// ReviewResult reports what happened to one file.
type ReviewResult struct {
	Path       string
	Kind       ChangeKind
	Applied    bool
	Edited     bool
	Unchanged  bool
	BackupPath string
	Err        error
}

// ReviewEngine drives diff presentation, decision taking, and commits.
// Its commit path is the pipeline's only writer; no file changes without
// an explicit accepted decision for that file.
type ReviewEngine struct {
	ws       *Workspace
	reviewer Reviewer
	logger   *zap.Logger
}

func NewReviewEngine(ws *Workspace, reviewer Reviewer, logger *zap.Logger) *ReviewEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReviewEngine{ws: ws, reviewer: reviewer, logger: logger}
}

// originalFor resolves the diff baseline. Creations diff against whatever
// exists (usually nothing); modifications of missing files are errors.
func (e *ReviewEngine) originalFor(change FileChangeSet) (string, error) {
	original, err := e.ws.ReadFile(change.Path)
	if err == nil {
		return original, nil
	}
	var notFound *FileNotFoundError
	if errors.As(err, &notFound) {
		if change.Kind == ChangeModify {
			return "", err
		}
		return "", nil
	}
	return "", err
}

// ReviewChange runs one change through diff, review, and commit.
func (e *ReviewEngine) ReviewChange(ctx context.Context, change FileChangeSet) ReviewResult {
	res := ReviewResult{Path: change.Path, Kind: change.Kind}

	original, err := e.originalFor(change)
	if err != nil {
		res.Err = err
		return res
	}

	diff := Diff(change.Path, original, change.Content)
	if diff == "" {
		res.Unchanged = true
		return res
	}

	outcome, err := e.reviewer.ReviewFile(ctx, ReviewRequest{
		Path:      change.Path,
		Kind:      change.Kind,
		Original:  original,
		Suggested: change.Content,
		Diff:      diff,
	})
	if err != nil {
		res.Err = err
		return res
	}
	if outcome.Decision != DecisionAccept {
		e.logger.Info("change cancelled", zap.String("path", change.Path))
		return res
	}

	res.Edited = outcome.Content != change.Content
	return e.commit(ctx, res, outcome.Content)
}

// ReviewAll runs a change-set through batch review. Every applied file is
// an explicit decision; one file's commit failure never aborts siblings.
// The returned decision is how the user chose to handle the batch.
func (e *ReviewEngine) ReviewAll(ctx context.Context, changes []FileChangeSet) (BatchDecision, []ReviewResult) {
	if len(changes) == 0 {
		return BatchNone, nil
	}

	type unit struct {
		idx int
		req ReviewRequest
	}
	results := make([]ReviewResult, len(changes))
	var units []unit
	anyDiff := false
	for i, change := range changes {
		results[i].Path = change.Path
		results[i].Kind = change.Kind
		original, err := e.originalFor(change)
		if err != nil {
			results[i].Err = err
			continue
		}
		req := ReviewRequest{
			Path:      change.Path,
			Kind:      change.Kind,
			Original:  original,
			Suggested: change.Content,
			Diff:      Diff(change.Path, original, change.Content),
		}
		if req.Diff != "" {
			anyDiff = true
		}
		units = append(units, unit{i, req})
	}
	if len(units) == 0 {
		return BatchNone, results
	}
	if !anyDiff {
		for _, u := range units {
			results[u.idx].Unchanged = true
		}
		return BatchNone, results
	}

	reqs := make([]ReviewRequest, len(units))
	for i, u := range units {
		reqs[i] = u.req
	}
	mode, err := e.reviewer.BatchMode(ctx, reqs)
	if err != nil {
		e.logger.Warn("batch review aborted", zap.Error(err))
		return BatchNone, results
	}

	switch mode {
	case BatchAll:
		for _, u := range units {
			res := &results[u.idx]
			if u.req.Diff == "" {
				res.Unchanged = true
				continue
			}
			*res = e.commit(ctx, *res, u.req.Suggested)
		}
	case BatchIndividual:
		for _, u := range units {
			res := &results[u.idx]
			if u.req.Diff == "" {
				res.Unchanged = true
				continue
			}
			ok, err := e.reviewer.ConfirmFile(ctx, u.req)
			if err != nil {
				res.Err = err
				continue
			}
			if !ok {
				continue
			}
			*res = e.commit(ctx, *res, u.req.Suggested)
		}
	}
	return mode, results
}

// commit writes one accepted change under the workspace commit lock. The
// original file is preserved by rename before the write.
func (e *ReviewEngine) commit(ctx context.Context, res ReviewResult, content string) ReviewResult {
	err := e.ws.WithCommitLock(ctx, func() error {
		backup, werr := e.ws.BackupAndWrite(res.Path, content)
		res.BackupPath = backup
		return werr
	})
	if err != nil {
		res.Err = &CommitError{Path: res.Path, Err: err}
		e.logger.Error("commit failed", zap.String("path", res.Path), zap.Error(err))
		return res
	}
	res.Applied = true
	e.logger.Info("change applied",
		zap.String("path", res.Path), zap.Bool("edited", res.Edited), zap.String("backup", res.BackupPath))
	return res
}

// AppliedPaths filters a result set down to the files actually written.
func AppliedPaths(results []ReviewResult) []string {
	var out []string
	for _, res := range results {
		if res.Applied {
			out = append(out, res.Path)
		}
	}
	return out
}

const defaultPromptWait = 5 * time.Minute

var errInputTimeout = errors.New("input timed out")

// TerminalReviewer drives review prompts on stdin/stdout for headless
// runs. Every prompt defaults to the safe answer and gives up after a
// bounded wait so an unattended run cannot hang holding changes.
type TerminalReviewer struct {
	in   io.Reader
	out  io.Writer
	wait time.Duration

	once  sync.Once
	lines chan string
}

func NewTerminalReviewer(in io.Reader, out io.Writer, wait time.Duration) *TerminalReviewer {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	if wait <= 0 {
		wait = defaultPromptWait
	}
	return &TerminalReviewer{in: in, out: out, wait: wait}
}

func (r *TerminalReviewer) readLine(ctx context.Context) (string, error) {
	r.once.Do(func() {
		r.lines = make(chan string)
		go func() {
			scanner := bufio.NewScanner(r.in)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for scanner.Scan() {
				r.lines <- scanner.Text()
			}
			close(r.lines)
		}()
	})

	timer := time.NewTimer(r.wait)
	defer timer.Stop()
	select {
	case line, ok := <-r.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return "", errInputTimeout
	}
}

func (r *TerminalReviewer) announce(err error) {
	if errors.Is(err, errInputTimeout) {
		fmt.Fprintln(r.out, "\n⚠️ Input timeout. Cancelling changes.")
	}
}

func (r *TerminalReviewer) confirm(ctx context.Context, prompt string) bool {
	fmt.Fprintf(r.out, "%s [y/N]: ", prompt)
	line, err := r.readLine(ctx)
	if err != nil {
		r.announce(err)
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func (r *TerminalReviewer) ReviewFile(ctx context.Context, req ReviewRequest) (ReviewOutcome, error) {
	fmt.Fprintln(r.out, req.Diff)
	fmt.Fprintln(r.out, "\nWhat would you like to do?")
	fmt.Fprintln(r.out, "  A. Accept changes and apply to file")
	fmt.Fprintln(r.out, "  E. Edit the suggested changes")
	fmt.Fprintln(r.out, "  C. Cancel (no changes)")

	for {
		fmt.Fprint(r.out, "Choose an option [A/E/C] (C): ")
		line, err := r.readLine(ctx)
		if err != nil {
			r.announce(err)
			return ReviewOutcome{Decision: DecisionCancel}, nil
		}
		switch strings.ToUpper(strings.TrimSpace(line)) {
		case "A":
			return ReviewOutcome{Decision: DecisionAccept, Content: req.Suggested}, nil
		case "E":
			return r.editRound(ctx, req)
		case "", "C":
			fmt.Fprintln(r.out, "Changes cancelled")
			return ReviewOutcome{Decision: DecisionCancel}, nil
		}
	}
}

// editRound opens the suggestion in an editor and re-confirms when the
// user changed it. An untouched file counts as accepting the suggestion.
func (r *TerminalReviewer) editRound(ctx context.Context, req ReviewRequest) (ReviewOutcome, error) {
	fmt.Fprintf(r.out, "\nOpening suggestions in %s...\n", resolveEditor())
	fmt.Fprintln(r.out, "Make your changes and save the file, then close the editor.")

	edited, err := editInTempFile(ctx, req.Suggested)
	if err != nil {
		fmt.Fprintln(r.out, "Editor exited with an error")
		return ReviewOutcome{Decision: DecisionCancel}, nil
	}
	if edited == req.Suggested {
		fmt.Fprintln(r.out, "No changes made in editor")
		return ReviewOutcome{Decision: DecisionAccept, Content: req.Suggested}, nil
	}

	fmt.Fprintln(r.out, "\nChanges made in editor:")
	fmt.Fprintln(r.out, Diff(req.Path, req.Suggested, edited))
	if !r.confirm(ctx, "Apply these edited changes?") {
		return ReviewOutcome{Decision: DecisionCancel}, nil
	}
	return ReviewOutcome{Decision: DecisionAccept, Content: edited}, nil
}

func (r *TerminalReviewer) BatchMode(ctx context.Context, reqs []ReviewRequest) (BatchDecision, error) {
	r.printBatchPreview(reqs)

	fmt.Fprintln(r.out, "\n🤔 What would you like to do?")
	fmt.Fprintln(r.out, "  1. Apply ALL changes at once")
	fmt.Fprintln(r.out, "  2. Review and apply changes one by one")
	fmt.Fprintln(r.out, "  3. Cancel - don't apply any changes")

	for {
		fmt.Fprint(r.out, "Enter your choice [1/2/3] (3): ")
		line, err := r.readLine(ctx)
		if err != nil {
			r.announce(err)
			return BatchNone, nil
		}
		switch strings.TrimSpace(line) {
		case "1":
			return BatchAll, nil
		case "2":
			return BatchIndividual, nil
		case "", "3":
			return BatchNone, nil
		}
	}
}

func (r *TerminalReviewer) ConfirmFile(ctx context.Context, req ReviewRequest) (bool, error) {
	fmt.Fprintf(r.out, "\n📄 %s: %s\n", strings.ToUpper(string(req.Kind)), req.Path)
	fmt.Fprintln(r.out, strings.Repeat("=", 80))
	fmt.Fprintln(r.out, req.Diff)
	ok := r.confirm(ctx, fmt.Sprintf("Apply changes to %s?", req.Path))
	if !ok {
		fmt.Fprintf(r.out, "⏭️ Skipped: %s\n", req.Path)
	}
	return ok, nil
}

func (r *TerminalReviewer) printBatchPreview(reqs []ReviewRequest) {
	fmt.Fprintln(r.out, "\n🔍 PREVIEW: Proposed Changes")
	fmt.Fprintln(r.out, strings.Repeat("=", 80))

	var created, modified int
	for i, req := range reqs {
		action := "Modify"
		if req.Kind == ChangeCreate {
			action = "Create"
			created++
		} else {
			modified++
		}
		fmt.Fprintf(r.out, "  %d. %s %s\n", i+1, action, req.Path)
	}
	fmt.Fprintf(r.out, "\n📊 Summary:\n")
	fmt.Fprintf(r.out, "• Total files: %d\n", len(reqs))
	fmt.Fprintf(r.out, "• Files to create: %d\n", created)
	fmt.Fprintf(r.out, "• Files to modify: %d\n", modified)

	fmt.Fprintln(r.out, "\n📄 CODE CHANGES PREVIEW:")
	fmt.Fprintln(r.out, strings.Repeat("=", 80))
	for i, req := range reqs {
		fmt.Fprintf(r.out, "\n%d. %s: %s\n", i+1, strings.ToUpper(string(req.Kind)), req.Path)
		fmt.Fprintln(r.out, strings.Repeat("-", 60))
		if req.Diff == "" {
			fmt.Fprintln(r.out, "No changes detected")
		} else {
			fmt.Fprintln(r.out, req.Diff)
		}
	}
}

// AutoApprove accepts everything without prompting, for scripted runs.
type AutoApprove struct{}

func (AutoApprove) ReviewFile(ctx context.Context, req ReviewRequest) (ReviewOutcome, error) {
	return ReviewOutcome{Decision: DecisionAccept, Content: req.Suggested}, nil
}

func (AutoApprove) BatchMode(ctx context.Context, reqs []ReviewRequest) (BatchDecision, error) {
	return BatchAll, nil
}

func (AutoApprove) ConfirmFile(ctx context.Context, req ReviewRequest) (bool, error) {
	return true, nil
}
