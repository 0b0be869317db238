package src

import (
	"strings"
	"testing"
)

func TestNewSessionStateDefaults(t *testing.T) {
	s := NewSessionState("", 0)
	if s.ID == "" {
		t.Fatalf("expected a session ID")
	}
	if s.CurrentModel != DefaultModel {
		t.Fatalf("expected default model, got %q", s.CurrentModel)
	}
	if s.MaxContextTokens != 64000 {
		t.Fatalf("unexpected context budget: %d", s.MaxContextTokens)
	}
	if s.MaxHistory != 200 {
		t.Fatalf("unexpected history cap: %d", s.MaxHistory)
	}
	if s.FilesAccessed == nil || s.ModelsUsed == nil {
		t.Fatalf("tracking maps must be initialized")
	}
}

func TestAddMessageTrimsAtHistoryCap(t *testing.T) {
	s := NewSessionState("", 3)
	for _, content := range []string{"one", "two", "three", "four", "five"} {
		s.AddMessage(RoleUser, content)
	}
	if len(s.Messages) != 3 {
		t.Fatalf("expected 3 messages after trim, got %d", len(s.Messages))
	}
	if s.Messages[0].Content != "three" || s.Messages[2].Content != "five" {
		t.Fatalf("trim should drop the oldest turns: %v", s.Messages)
	}
}

func TestRecordOperationGrowsUtilization(t *testing.T) {
	s := NewSessionState("", 10)
	if s.ContextUtilization() != 0 {
		t.Fatalf("fresh session should have zero utilization")
	}
	s.RecordOperation("user_request", strings.Repeat("x", 400))
	if s.ContextUtilization() <= 0 {
		t.Fatalf("utilization should grow with recorded operations")
	}
	if len(s.Operations) != 1 {
		t.Fatalf("expected 1 operation, got %d", len(s.Operations))
	}
	if s.Operations[0].SizeEstimate == 0 {
		t.Fatalf("operation should carry a size estimate")
	}
}

func TestUpdateTaskStartsFreshTask(t *testing.T) {
	s := NewSessionState("", 10)
	s.UpdateTask("hello there")

	if s.Task.CurrentTask != "hello there" {
		t.Fatalf("unexpected task: %q", s.Task.CurrentTask)
	}
	if s.Task.TaskContinuation {
		t.Fatalf("fresh task must not be a continuation")
	}
	if s.Task.TaskStartTime.IsZero() {
		t.Fatalf("task start time should be set")
	}
}

func TestUpdateTaskLabelsContinuation(t *testing.T) {
	s := NewSessionState("", 10)
	s.UpdateTask("build a login page")
	s.UpdateTask("make it use dark colors")

	if want := "build a login page → make it use dark colors"; s.Task.CurrentTask != want {
		t.Fatalf("continuation label mismatch:\n got %q\nwant %q", s.Task.CurrentTask, want)
	}
	if !s.Task.TaskContinuation {
		t.Fatalf("continuation flag should be set")
	}
}

func TestUpdateTaskNonContinuationReplacesTask(t *testing.T) {
	s := NewSessionState("", 10)
	s.UpdateTask("build a login page")
	s.Task.FilesModified = []string{"login.html"}
	s.UpdateTask("hello")

	if s.Task.CurrentTask != "hello" {
		t.Fatalf("unrelated input should start a new task, got %q", s.Task.CurrentTask)
	}
	if len(s.Task.FilesModified) != 0 {
		t.Fatalf("new task should reset the modified file list")
	}
}

func TestAddModifiedFilesDeduplicates(t *testing.T) {
	s := NewSessionState("", 10)
	s.AddModifiedFiles("a.go", "b.go")
	s.AddModifiedFiles("b.go", "c.go", "a.go")

	want := []string{"a.go", "b.go", "c.go"}
	if len(s.Task.FilesModified) != len(want) {
		t.Fatalf("expected %v, got %v", want, s.Task.FilesModified)
	}
	for i, p := range want {
		if s.Task.FilesModified[i] != p {
			t.Fatalf("expected %v, got %v", want, s.Task.FilesModified)
		}
	}
}

func TestIsModificationRequestKeywords(t *testing.T) {
	s := NewSessionState("", 10)
	if !s.IsModificationRequest("add a button to the page") {
		t.Fatalf("explicit modification verbs should classify as modification")
	}
	if !s.IsModificationRequest("fix the login bug") {
		t.Fatalf("fix requests should classify as modification")
	}
	if s.IsModificationRequest("what is a goroutine?") {
		t.Fatalf("plain questions should not classify as modification")
	}
}

func TestIsModificationRequestPronounsNeedRecentWork(t *testing.T) {
	s := NewSessionState("", 10)
	if s.IsModificationRequest("what about that?") {
		t.Fatalf("pronouns without prior work should not count")
	}
	s.RecordFileChange("index.html", "created")
	if !s.IsModificationRequest("what about that?") {
		t.Fatalf("pronouns referencing recent work should count")
	}
}

func TestIsModificationRequestStyleWordsNeedRecentWork(t *testing.T) {
	s := NewSessionState("", 10)
	if s.IsModificationRequest("red green blue") {
		t.Fatalf("style words without prior work should not count")
	}
	s.RecordFileChange("style.css", "modified")
	if !s.IsModificationRequest("red green blue") {
		t.Fatalf("style words with recent work should count")
	}
}

func TestKeywordClassifierContinuation(t *testing.T) {
	intent := KeywordClassifier{}.Classify("change the title", IntentSignals{})
	if !intent.Continuation {
		t.Fatalf("change requests continue the current task")
	}
	intent = KeywordClassifier{}.Classify("hello", IntentSignals{})
	if intent.Continuation {
		t.Fatalf("greetings are not continuations")
	}
}

func TestKeywordClassifierTaskContinuationSignal(t *testing.T) {
	intent := KeywordClassifier{}.Classify("and the footer too?", IntentSignals{TaskContinuation: true})
	if !intent.FileModification {
		t.Fatalf("an input during a continued task should count as modification")
	}
}

func TestMarkModelUsedAndFileAccessed(t *testing.T) {
	s := NewSessionState("m1", 10)
	s.MarkModelUsed("m1")
	s.MarkModelUsed("m2")
	s.MarkFileAccessed("a.go")

	if len(s.ModelsUsed) != 2 {
		t.Fatalf("expected 2 models used, got %d", len(s.ModelsUsed))
	}
	if _, ok := s.FilesAccessed["a.go"]; !ok {
		t.Fatalf("file access not recorded")
	}
}

func TestContextUtilizationZeroBudget(t *testing.T) {
	s := NewSessionState("", 10)
	s.MaxContextTokens = 0
	s.RecordOperation("x", "y")
	if got := s.ContextUtilization(); got != 0 {
		t.Fatalf("zero budget must report zero utilization, got %f", got)
	}
}
