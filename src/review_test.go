package src

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// funcReviewer scripts review decisions for tests. Nil fields answer with
// the safe default, matching real reviewer behavior.
type funcReviewer struct {
	reviewFile  func(req ReviewRequest) (ReviewOutcome, error)
	batchMode   func(reqs []ReviewRequest) (BatchDecision, error)
	confirmFile func(req ReviewRequest) (bool, error)
}

func (r funcReviewer) ReviewFile(ctx context.Context, req ReviewRequest) (ReviewOutcome, error) {
	if r.reviewFile == nil {
		return ReviewOutcome{Decision: DecisionCancel}, nil
	}
	return r.reviewFile(req)
}

func (r funcReviewer) BatchMode(ctx context.Context, reqs []ReviewRequest) (BatchDecision, error) {
	if r.batchMode == nil {
		return BatchNone, nil
	}
	return r.batchMode(reqs)
}

func (r funcReviewer) ConfirmFile(ctx context.Context, req ReviewRequest) (bool, error) {
	if r.confirmFile == nil {
		return false, nil
	}
	return r.confirmFile(req)
}

func acceptAll(req ReviewRequest) (ReviewOutcome, error) {
	return ReviewOutcome{Decision: DecisionAccept, Content: req.Suggested}, nil
}

func TestReviewChangeAcceptApplies(t *testing.T) {
	ws := newTestWorkspace(t, map[string]string{"app.js": "old content"})
	engine := NewReviewEngine(ws, funcReviewer{reviewFile: acceptAll}, nil)

	res := engine.ReviewChange(context.Background(),
		FileChangeSet{Kind: ChangeModify, Path: "app.js", Content: "new content"})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if !res.Applied || res.Edited || res.Unchanged {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.BackupPath != "app.js.backup" {
		t.Fatalf("unexpected backup path: %q", res.BackupPath)
	}
	got, _ := ws.ReadFile("app.js")
	if got != "new content" {
		t.Fatalf("change not applied: %q", got)
	}
}

func TestReviewChangeCancelLeavesFileAlone(t *testing.T) {
	ws := newTestWorkspace(t, map[string]string{"app.js": "old content"})
	engine := NewReviewEngine(ws, funcReviewer{}, nil)

	res := engine.ReviewChange(context.Background(),
		FileChangeSet{Kind: ChangeModify, Path: "app.js", Content: "new content"})
	if res.Applied || res.Err != nil {
		t.Fatalf("cancel must not apply: %+v", res)
	}
	got, _ := ws.ReadFile("app.js")
	if got != "old content" {
		t.Fatalf("file changed after cancel: %q", got)
	}
	if _, err := os.Stat(filepath.Join(ws.Root, "app.js.backup")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("no backup should exist after cancel")
	}
}

func TestReviewChangeEditedContent(t *testing.T) {
	ws := newTestWorkspace(t, map[string]string{"app.js": "old"})
	engine := NewReviewEngine(ws, funcReviewer{
		reviewFile: func(req ReviewRequest) (ReviewOutcome, error) {
			return ReviewOutcome{Decision: DecisionAccept, Content: "user edited"}, nil
		},
	}, nil)

	res := engine.ReviewChange(context.Background(),
		FileChangeSet{Kind: ChangeModify, Path: "app.js", Content: "suggested"})
	if !res.Applied || !res.Edited {
		t.Fatalf("expected applied+edited, got %+v", res)
	}
	got, _ := ws.ReadFile("app.js")
	if got != "user edited" {
		t.Fatalf("edited content not written: %q", got)
	}
}

func TestReviewChangeIdenticalContentSkipsReview(t *testing.T) {
	ws := newTestWorkspace(t, map[string]string{"app.js": "same"})
	called := false
	engine := NewReviewEngine(ws, funcReviewer{
		reviewFile: func(req ReviewRequest) (ReviewOutcome, error) {
			called = true
			return acceptAll(req)
		},
	}, nil)

	res := engine.ReviewChange(context.Background(),
		FileChangeSet{Kind: ChangeModify, Path: "app.js", Content: "same"})
	if !res.Unchanged || res.Applied {
		t.Fatalf("identical content should report unchanged: %+v", res)
	}
	if called {
		t.Fatalf("review prompt must be skipped for identical content")
	}
}

func TestReviewChangeModifyMissingFile(t *testing.T) {
	ws := newTestWorkspace(t, map[string]string{"a.go": "package a"})
	engine := NewReviewEngine(ws, funcReviewer{reviewFile: acceptAll}, nil)

	res := engine.ReviewChange(context.Background(),
		FileChangeSet{Kind: ChangeModify, Path: "ghost.js", Content: "x"})
	var notFound *FileNotFoundError
	if !errors.As(res.Err, &notFound) {
		t.Fatalf("expected FileNotFoundError, got %v", res.Err)
	}
	if res.Applied {
		t.Fatalf("nothing should be applied on error")
	}
}

func TestReviewChangeCreateDiffsAgainstEmpty(t *testing.T) {
	ws := newTestWorkspace(t, map[string]string{"a.go": "package a"})
	var seen ReviewRequest
	engine := NewReviewEngine(ws, funcReviewer{
		reviewFile: func(req ReviewRequest) (ReviewOutcome, error) {
			seen = req
			return acceptAll(req)
		},
	}, nil)

	res := engine.ReviewChange(context.Background(),
		FileChangeSet{Kind: ChangeCreate, Path: "fresh.js", Content: "let x = 1\n"})
	if res.Err != nil || !res.Applied {
		t.Fatalf("unexpected result: %+v", res)
	}
	if seen.Original != "" {
		t.Fatalf("creation should diff against empty baseline, got %q", seen.Original)
	}
	if !strings.Contains(seen.Diff, "+let x = 1") {
		t.Fatalf("diff missing added line: %q", seen.Diff)
	}
	if res.BackupPath != "" {
		t.Fatalf("creation should have no backup, got %q", res.BackupPath)
	}
}

func TestReviewAllEmptySet(t *testing.T) {
	ws := newTestWorkspace(t, map[string]string{"a.go": "package a"})
	engine := NewReviewEngine(ws, funcReviewer{}, nil)

	decision, results := engine.ReviewAll(context.Background(), nil)
	if decision != BatchNone || results != nil {
		t.Fatalf("empty set should short-circuit: %v %v", decision, results)
	}
}

func TestReviewAllBatchAllApplies(t *testing.T) {
	ws := newTestWorkspace(t, map[string]string{"app.js": "old"})
	engine := NewReviewEngine(ws, funcReviewer{
		batchMode: func(reqs []ReviewRequest) (BatchDecision, error) { return BatchAll, nil },
	}, nil)

	decision, results := engine.ReviewAll(context.Background(), []FileChangeSet{
		{Kind: ChangeModify, Path: "app.js", Content: "new"},
		{Kind: ChangeCreate, Path: "fresh.js", Content: "created"},
	})
	if decision != BatchAll {
		t.Fatalf("unexpected decision: %v", decision)
	}
	for _, res := range results {
		if !res.Applied || res.Err != nil {
			t.Fatalf("expected all applied: %+v", res)
		}
	}
	if got, _ := ws.ReadFile("fresh.js"); got != "created" {
		t.Fatalf("created file missing: %q", got)
	}
}

func TestReviewAllIndividualSkipsDeclined(t *testing.T) {
	ws := newTestWorkspace(t, map[string]string{"keep.js": "old", "skip.js": "old"})
	engine := NewReviewEngine(ws, funcReviewer{
		batchMode: func(reqs []ReviewRequest) (BatchDecision, error) { return BatchIndividual, nil },
		confirmFile: func(req ReviewRequest) (bool, error) {
			return req.Path == "keep.js", nil
		},
	}, nil)

	_, results := engine.ReviewAll(context.Background(), []FileChangeSet{
		{Kind: ChangeModify, Path: "keep.js", Content: "new"},
		{Kind: ChangeModify, Path: "skip.js", Content: "new"},
	})
	if !results[0].Applied {
		t.Fatalf("confirmed file should apply: %+v", results[0])
	}
	if results[1].Applied {
		t.Fatalf("declined file must not apply: %+v", results[1])
	}
	if got, _ := ws.ReadFile("skip.js"); got != "old" {
		t.Fatalf("declined file was changed: %q", got)
	}
}

func TestReviewAllCancelAppliesNothing(t *testing.T) {
	ws := newTestWorkspace(t, map[string]string{"app.js": "old"})
	engine := NewReviewEngine(ws, funcReviewer{}, nil)

	decision, results := engine.ReviewAll(context.Background(), []FileChangeSet{
		{Kind: ChangeModify, Path: "app.js", Content: "new"},
	})
	if decision != BatchNone {
		t.Fatalf("default decision should be cancel, got %v", decision)
	}
	for _, res := range results {
		if res.Applied {
			t.Fatalf("nothing should apply on cancel: %+v", res)
		}
	}
	if got, _ := ws.ReadFile("app.js"); got != "old" {
		t.Fatalf("file changed after cancel: %q", got)
	}
}

func TestReviewAllIdenticalSetSkipsPrompt(t *testing.T) {
	ws := newTestWorkspace(t, map[string]string{"a.js": "same", "b.js": "same too"})
	prompted := false
	engine := NewReviewEngine(ws, funcReviewer{
		batchMode: func(reqs []ReviewRequest) (BatchDecision, error) {
			prompted = true
			return BatchAll, nil
		},
	}, nil)

	decision, results := engine.ReviewAll(context.Background(), []FileChangeSet{
		{Kind: ChangeModify, Path: "a.js", Content: "same"},
		{Kind: ChangeModify, Path: "b.js", Content: "same too"},
	})
	if prompted {
		t.Fatalf("no prompt when nothing differs")
	}
	if decision != BatchNone {
		t.Fatalf("unexpected decision: %v", decision)
	}
	for _, res := range results {
		if !res.Unchanged {
			t.Fatalf("expected unchanged: %+v", res)
		}
	}
}

func TestReviewAllCommitErrorDoesNotAbortSiblings(t *testing.T) {
	ws := newTestWorkspace(t, map[string]string{"blocked": "i am a file"})
	engine := NewReviewEngine(ws, funcReviewer{
		batchMode: func(reqs []ReviewRequest) (BatchDecision, error) { return BatchAll, nil },
	}, nil)

	// blocked/file.txt cannot be created because "blocked" is a file.
	_, results := engine.ReviewAll(context.Background(), []FileChangeSet{
		{Kind: ChangeCreate, Path: "blocked/file.txt", Content: "x"},
		{Kind: ChangeCreate, Path: "ok.txt", Content: "fine"},
	})

	var commitErr *CommitError
	if !errors.As(results[0].Err, &commitErr) {
		t.Fatalf("expected CommitError, got %v", results[0].Err)
	}
	if results[0].Applied {
		t.Fatalf("failed commit must not report applied")
	}
	if !results[1].Applied || results[1].Err != nil {
		t.Fatalf("sibling should still apply: %+v", results[1])
	}
	if got, _ := ws.ReadFile("ok.txt"); got != "fine" {
		t.Fatalf("sibling content missing: %q", got)
	}
}

func TestReviewAllBatchModeErrorCancels(t *testing.T) {
	ws := newTestWorkspace(t, map[string]string{"app.js": "old"})
	engine := NewReviewEngine(ws, funcReviewer{
		batchMode: func(reqs []ReviewRequest) (BatchDecision, error) {
			return BatchNone, errors.New("terminal went away")
		},
	}, nil)

	decision, results := engine.ReviewAll(context.Background(), []FileChangeSet{
		{Kind: ChangeModify, Path: "app.js", Content: "new"},
	})
	if decision != BatchNone {
		t.Fatalf("errors should cancel the batch, got %v", decision)
	}
	for _, res := range results {
		if res.Applied {
			t.Fatalf("nothing should apply when the prompt fails")
		}
	}
}

func TestAppliedPaths(t *testing.T) {
	results := []ReviewResult{
		{Path: "a.go", Applied: true},
		{Path: "b.go"},
		{Path: "c.go", Applied: true},
	}
	got := AppliedPaths(results)
	if len(got) != 2 || got[0] != "a.go" || got[1] != "c.go" {
		t.Fatalf("unexpected applied paths: %v", got)
	}
}

func sampleRequest() ReviewRequest {
	return ReviewRequest{
		Path:      "app.js",
		Kind:      ChangeModify,
		Original:  "old\n",
		Suggested: "new\n",
		Diff:      Diff("app.js", "old\n", "new\n"),
	}
}

func TestTerminalReviewerAccept(t *testing.T) {
	out := &strings.Builder{}
	r := NewTerminalReviewer(strings.NewReader("A\n"), out, time.Second)

	outcome, err := r.ReviewFile(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("ReviewFile: %v", err)
	}
	if outcome.Decision != DecisionAccept || outcome.Content != "new\n" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if !strings.Contains(out.String(), "Choose an option [A/E/C] (C):") {
		t.Fatalf("missing menu prompt: %q", out.String())
	}
}

func TestTerminalReviewerDefaultsToCancel(t *testing.T) {
	out := &strings.Builder{}
	r := NewTerminalReviewer(strings.NewReader("\n"), out, time.Second)

	outcome, err := r.ReviewFile(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("ReviewFile: %v", err)
	}
	if outcome.Decision != DecisionCancel {
		t.Fatalf("empty answer must cancel, got %+v", outcome)
	}
	if !strings.Contains(out.String(), "Changes cancelled") {
		t.Fatalf("missing cancel notice: %q", out.String())
	}
}

func TestTerminalReviewerRepromptsOnGarbage(t *testing.T) {
	out := &strings.Builder{}
	r := NewTerminalReviewer(strings.NewReader("zzz\nC\n"), out, time.Second)

	outcome, err := r.ReviewFile(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("ReviewFile: %v", err)
	}
	if outcome.Decision != DecisionCancel {
		t.Fatalf("expected cancel after reprompt, got %+v", outcome)
	}
	if got := strings.Count(out.String(), "Choose an option"); got != 2 {
		t.Fatalf("expected a reprompt, saw %d prompts", got)
	}
}

func TestTerminalReviewerEOFCancels(t *testing.T) {
	r := NewTerminalReviewer(strings.NewReader(""), io.Discard, time.Second)
	outcome, err := r.ReviewFile(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("ReviewFile: %v", err)
	}
	if outcome.Decision != DecisionCancel {
		t.Fatalf("EOF must cancel, got %+v", outcome)
	}
}

func TestTerminalReviewerTimeoutCancels(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	out := &strings.Builder{}
	r := NewTerminalReviewer(pr, out, 50*time.Millisecond)
	outcome, err := r.ReviewFile(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("ReviewFile: %v", err)
	}
	if outcome.Decision != DecisionCancel {
		t.Fatalf("timeout must cancel, got %+v", outcome)
	}
	if !strings.Contains(out.String(), "Input timeout") {
		t.Fatalf("missing timeout notice: %q", out.String())
	}
}

func TestTerminalReviewerBatchChoices(t *testing.T) {
	reqs := []ReviewRequest{sampleRequest()}

	r := NewTerminalReviewer(strings.NewReader("1\n"), io.Discard, time.Second)
	if mode, _ := r.BatchMode(context.Background(), reqs); mode != BatchAll {
		t.Fatalf("expected BatchAll, got %v", mode)
	}

	r = NewTerminalReviewer(strings.NewReader("2\n"), io.Discard, time.Second)
	if mode, _ := r.BatchMode(context.Background(), reqs); mode != BatchIndividual {
		t.Fatalf("expected BatchIndividual, got %v", mode)
	}

	r = NewTerminalReviewer(strings.NewReader("\n"), io.Discard, time.Second)
	if mode, _ := r.BatchMode(context.Background(), reqs); mode != BatchNone {
		t.Fatalf("empty answer must cancel the batch, got %v", mode)
	}
}

func TestTerminalReviewerBatchPreview(t *testing.T) {
	out := &strings.Builder{}
	r := NewTerminalReviewer(strings.NewReader("3\n"), out, time.Second)

	reqs := []ReviewRequest{
		sampleRequest(),
		{Path: "fresh.js", Kind: ChangeCreate, Suggested: "x\n", Diff: Diff("fresh.js", "", "x\n")},
	}
	if _, err := r.BatchMode(context.Background(), reqs); err != nil {
		t.Fatalf("BatchMode: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "PREVIEW: Proposed Changes") {
		t.Fatalf("missing preview header: %q", text)
	}
	if !strings.Contains(text, "Total files: 2") {
		t.Fatalf("missing summary: %q", text)
	}
	if !strings.Contains(text, "Files to create: 1") || !strings.Contains(text, "Files to modify: 1") {
		t.Fatalf("missing create/modify counts: %q", text)
	}
}

func TestTerminalReviewerConfirmFile(t *testing.T) {
	r := NewTerminalReviewer(strings.NewReader("y\n"), io.Discard, time.Second)
	ok, err := r.ConfirmFile(context.Background(), sampleRequest())
	if err != nil || !ok {
		t.Fatalf("expected confirmation: %v %v", ok, err)
	}

	out := &strings.Builder{}
	r = NewTerminalReviewer(strings.NewReader("\n"), out, time.Second)
	ok, err = r.ConfirmFile(context.Background(), sampleRequest())
	if err != nil || ok {
		t.Fatalf("empty answer must decline: %v %v", ok, err)
	}
	if !strings.Contains(out.String(), "⏭️ Skipped: app.js") {
		t.Fatalf("missing skip notice: %q", out.String())
	}
}

func TestTerminalReviewerEditUnchangedAcceptsSuggestion(t *testing.T) {
	t.Setenv("EDITOR", "true")
	out := &strings.Builder{}
	r := NewTerminalReviewer(strings.NewReader("E\n"), out, time.Second)

	outcome, err := r.ReviewFile(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("ReviewFile: %v", err)
	}
	if outcome.Decision != DecisionAccept || outcome.Content != "new\n" {
		t.Fatalf("untouched edit should accept the suggestion: %+v", outcome)
	}
	if !strings.Contains(out.String(), "No changes made in editor") {
		t.Fatalf("missing unchanged notice: %q", out.String())
	}
}

func fakeEditor(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-editor.sh")
	script := "#!/bin/sh\nprintf '%s' '" + content + "' > \"$1\"\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake editor: %v", err)
	}
	return path
}

func TestTerminalReviewerEditReconfirmApplies(t *testing.T) {
	t.Setenv("EDITOR", fakeEditor(t, "edited body"))
	out := &strings.Builder{}
	r := NewTerminalReviewer(strings.NewReader("E\ny\n"), out, time.Second)

	outcome, err := r.ReviewFile(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("ReviewFile: %v", err)
	}
	if outcome.Decision != DecisionAccept || outcome.Content != "edited body" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if !strings.Contains(out.String(), "Apply these edited changes?") {
		t.Fatalf("missing re-confirm prompt: %q", out.String())
	}
}

func TestTerminalReviewerEditReconfirmDefaultCancels(t *testing.T) {
	t.Setenv("EDITOR", fakeEditor(t, "edited body"))
	r := NewTerminalReviewer(strings.NewReader("E\n\n"), io.Discard, time.Second)

	outcome, err := r.ReviewFile(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("ReviewFile: %v", err)
	}
	if outcome.Decision != DecisionCancel {
		t.Fatalf("declined re-confirm must cancel: %+v", outcome)
	}
}

func TestAutoApproveAcceptsEverything(t *testing.T) {
	req := sampleRequest()
	outcome, err := AutoApprove{}.ReviewFile(context.Background(), req)
	if err != nil || outcome.Decision != DecisionAccept || outcome.Content != req.Suggested {
		t.Fatalf("unexpected outcome: %+v %v", outcome, err)
	}
	if mode, _ := (AutoApprove{}).BatchMode(context.Background(), []ReviewRequest{req}); mode != BatchAll {
		t.Fatalf("expected BatchAll, got %v", mode)
	}
	if ok, _ := (AutoApprove{}).ConfirmFile(context.Background(), req); !ok {
		t.Fatalf("expected confirmation")
	}
}
