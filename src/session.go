package src

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// OperationRecord is one entry of the session operation history.
type OperationRecord struct {
	Type         string    `json:"type"`
	Description  string    `json:"description"`
	Timestamp    time.Time `json:"timestamp"`
	SizeEstimate int       `json:"size_estimate"`
}

// TaskContext tracks what the user is currently working on across turns.
type TaskContext struct {
	CurrentTask      string    `json:"current_task"`
	TaskStartTime    time.Time `json:"task_start_time"`
	FilesModified    []string  `json:"files_modified"`
	TaskContinuation bool      `json:"task_continuation"`
}

// FileChange is one entry of the recent-changes list.
type FileChange struct {
	Name      string    `json:"name"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// Intent is what the classifier decides about a user input.
type Intent struct {
	Continuation     bool
	FileModification bool
}

// IntentSignals carries the session facts the classifier may consult.
type IntentSignals struct {
	HasRecentChanges bool
	TaskContinuation bool
}

// IntentClassifier decides whether an input continues the current task and
// whether it asks for file modifications. Implementations are pluggable so
// the keyword heuristic can be swapped out.
type IntentClassifier interface {
	Classify(text string, sig IntentSignals) Intent
}

// continuationKeywords mark an input as refining the task in flight rather
// than starting a new one.
var continuationKeywords = []string{
	"change", "modify", "update", "make", "add", "remove", "it", "this", "that",
}

var modificationKeywords = []string{
	"add", "create", "modify", "change", "update", "edit", "fix", "implement",
	"make", "build", "generate",
	"button", "function", "component", "page", "file", "code", "feature",
	"website", "app",
}

var referencePronouns = []string{"it", "this", "that", "the", "these", "those"}

var styleKeywords = []string{"red", "black", "blue", "green", "theme", "color", "style", "css"}

// KeywordClassifier is the default substring-matching classifier.
type KeywordClassifier struct{}

func (KeywordClassifier) Classify(text string, sig IntentSignals) Intent {
	lower := strings.ToLower(text)

	var intent Intent
	for _, kw := range continuationKeywords {
		if strings.Contains(lower, kw) {
			intent.Continuation = true
			break
		}
	}

	for _, kw := range modificationKeywords {
		if strings.Contains(lower, kw) {
			intent.FileModification = true
			return intent
		}
	}
	// Pronouns and style words only count as modification requests when
	// there is existing work to modify.
	if sig.HasRecentChanges {
		for _, p := range referencePronouns {
			if strings.Contains(lower, p) {
				intent.FileModification = true
				return intent
			}
		}
		for _, kw := range styleKeywords {
			if strings.Contains(lower, kw) {
				intent.FileModification = true
				return intent
			}
		}
	}
	if sig.TaskContinuation {
		intent.FileModification = true
	}
	return intent
}

// SessionState owns everything one interactive session accumulates:
// conversation, operation history, the current task, and workspace facts.
// It is caller-owned; nothing here is global.
type SessionState struct {
	ID            string
	Messages      []ChatMessage
	Operations    []OperationRecord
	Task          TaskContext
	RecentChanges []FileChange

	WorkspacePath   string
	AccessibleFiles int
	ProjectType     string
	FilesAccessed   map[string]struct{}
	ModelsUsed      map[string]struct{}

	CurrentModel     string
	MaxContextTokens int
	MaxHistory       int

	Classifier IntentClassifier

	contextSize int // running token estimate of the operation history
}

// NewSessionState builds an empty session bound to a workspace.
func NewSessionState(model string, maxHistory int) *SessionState {
	if model == "" {
		model = DefaultModel
	}
	if maxHistory <= 0 {
		maxHistory = 200
	}
	return &SessionState{
		ID:               uuid.NewString(),
		FilesAccessed:    map[string]struct{}{},
		ModelsUsed:       map[string]struct{}{},
		CurrentModel:     model,
		MaxContextTokens: 64000,
		MaxHistory:       maxHistory,
		Classifier:       KeywordClassifier{},
	}
}

// AddMessage appends a conversation turn, trimming from the front once the
// history cap is reached.
func (s *SessionState) AddMessage(role, content string) {
	s.Messages = append(s.Messages, ChatMessage{Role: role, Content: content})
	if len(s.Messages) > s.MaxHistory {
		s.Messages = s.Messages[len(s.Messages)-s.MaxHistory:]
	}
}

// RecordOperation appends to the operation history and updates the running
// context-size estimate. Estimates use the chars/4 token heuristic.
func (s *SessionState) RecordOperation(opType, description string) {
	rec := OperationRecord{
		Type:        opType,
		Description: description,
		Timestamp:   time.Now(),
	}
	rec.SizeEstimate = (len(rec.Type) + len(rec.Description)) / 4
	s.Operations = append(s.Operations, rec)
	s.contextSize += rec.SizeEstimate
}

// RecordFileChange notes a created or modified workspace file.
func (s *SessionState) RecordFileChange(name, action string) {
	s.RecentChanges = append(s.RecentChanges, FileChange{
		Name:      name,
		Action:    action,
		Timestamp: time.Now(),
	})
	s.FilesAccessed[name] = struct{}{}
}

// MarkFileAccessed notes a file touched by a read.
func (s *SessionState) MarkFileAccessed(name string) {
	s.FilesAccessed[name] = struct{}{}
}

// MarkModelUsed notes which model served a call.
func (s *SessionState) MarkModelUsed(model string) {
	if s.ModelsUsed == nil {
		s.ModelsUsed = map[string]struct{}{}
	}
	s.ModelsUsed[model] = struct{}{}
}

// ContextUtilization is the operation history's share of the context budget,
// in percent. It may exceed 100; only display code clamps it.
func (s *SessionState) ContextUtilization() float64 {
	if s.MaxContextTokens == 0 {
		return 0
	}
	return float64(s.contextSize) / float64(s.MaxContextTokens) * 100
}

// UpdateTask classifies the input and either continues the current task or
// starts a fresh one. Continuations keep the modified-files list and label
// the task as "previous → new".
func (s *SessionState) UpdateTask(description string) {
	sig := IntentSignals{
		HasRecentChanges: len(s.RecentChanges) > 0 || len(s.Task.FilesModified) > 0,
		TaskContinuation: s.Task.TaskContinuation,
	}
	classifier := s.Classifier
	if classifier == nil {
		classifier = KeywordClassifier{}
	}
	intent := classifier.Classify(description, sig)

	if intent.Continuation && s.Task.CurrentTask != "" {
		s.Task.CurrentTask = s.Task.CurrentTask + " → " + description
		s.Task.TaskContinuation = true
	} else {
		s.Task = TaskContext{
			CurrentTask:   description,
			TaskStartTime: time.Now(),
		}
	}
	s.RecordOperation("task_update", "Task: "+description)
}

// AddModifiedFiles merges paths into the task's modified set, deduplicated.
func (s *SessionState) AddModifiedFiles(paths ...string) {
	seen := map[string]struct{}{}
	for _, p := range s.Task.FilesModified {
		seen[p] = struct{}{}
	}
	for _, p := range paths {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			s.Task.FilesModified = append(s.Task.FilesModified, p)
		}
	}
}

// IsModificationRequest reports whether an input asks for file changes.
func (s *SessionState) IsModificationRequest(input string) bool {
	sig := IntentSignals{
		HasRecentChanges: len(s.RecentChanges) > 0 || len(s.Task.FilesModified) > 0,
		TaskContinuation: s.Task.TaskContinuation,
	}
	classifier := s.Classifier
	if classifier == nil {
		classifier = KeywordClassifier{}
	}
	return classifier.Classify(input, sig).FileModification
}
