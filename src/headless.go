package src

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Pipeline wires the engines into the request flow shared by the TUI and
// the headless CLI: budgeted context, model call, change extraction,
// review, session bookkeeping.
type Pipeline struct {
	Client     Completer
	Workspace  *Workspace
	Session    *SessionState
	Extractor  Extractor
	Review     *ReviewEngine
	Transcript *TranscriptStore
	Logger     *zap.Logger
}

// RunResult is the outcome of one processed request.
type RunResult struct {
	Response     string
	Modification bool
	Results      []ReviewResult
}

func NewPipeline(client Completer, ws *Workspace, session *SessionState, review *ReviewEngine, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		Client:    client,
		Workspace: ws,
		Session:   session,
		Extractor: MarkerExtractor{},
		Review:    review,
		Logger:    logger,
	}
}

// Run processes one user request end to end. Modification requests go
// through extract-review-commit; everything else is a plain chat turn
// carried on the budgeted session context.
func (p *Pipeline) Run(ctx context.Context, userInput string) (*RunResult, error) {
	userInput = strings.TrimSpace(userInput)
	if userInput == "" {
		return nil, errors.New("prompt cannot be empty")
	}

	s := p.Session
	s.UpdateTask(userInput)
	s.RecordOperation("user_request", userInput)

	var result *RunResult
	var err error
	if s.IsModificationRequest(userInput) {
		result, err = p.runModification(ctx, userInput)
	} else {
		result, err = p.runChat(ctx, userInput)
	}
	if err != nil {
		return nil, err
	}

	p.saveTranscript()
	return result, nil
}

func (p *Pipeline) runChat(ctx context.Context, userInput string) (*RunResult, error) {
	s := p.Session
	contextText := s.PromptContext(userInput)

	messages := make([]ChatMessage, 0, len(s.Messages)+2)
	messages = append(messages, s.Messages...)
	messages = append(messages,
		ChatMessage{Role: RoleSystem, Content: contextText},
		ChatMessage{Role: RoleUser, Content: userInput},
	)

	s.MarkModelUsed(s.CurrentModel)
	response, err := p.Client.Complete(ctx, messages, s.CurrentModel, chatTemperature, chatMaxTokens)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(response) == "" {
		return nil, errors.New("empty response from model")
	}

	s.AddMessage(RoleUser, userInput)
	s.AddMessage(RoleAssistant, response)
	s.RecordOperation("ai_response", "Generated response for: "+clipRunes(userInput, 50)+"...")

	return &RunResult{Response: response}, nil
}

func (p *Pipeline) runModification(ctx context.Context, userInput string) (*RunResult, error) {
	s := p.Session

	relevant := p.Workspace.RelevantFiles(userInput)
	paths := make([]string, 0, len(relevant))
	for _, f := range relevant {
		paths = append(paths, f.Path)
		s.MarkFileAccessed(f.Path)
	}
	prompt := ModificationPrompt(userInput, ModificationContext(p.Workspace.Structure(), relevant), paths)

	s.MarkModelUsed(s.CurrentModel)
	response, err := p.Client.Complete(ctx,
		[]ChatMessage{{Role: RoleUser, Content: prompt}},
		s.CurrentModel, codeTemperature, chatMaxTokens)
	if err != nil {
		return nil, err
	}

	result := &RunResult{Response: response, Modification: true}
	changes := p.Extractor.Extract(response)
	if len(changes) == 0 {
		p.Logger.Info("no change blocks in response",
			zap.Bool("has_markers", HasChanges(response)))
		s.AddMessage(RoleUser, userInput)
		s.AddMessage(RoleAssistant, response)
		return result, nil
	}

	decision, results := p.Review.ReviewAll(ctx, changes)
	result.Results = results

	for _, res := range results {
		if !res.Applied {
			continue
		}
		action := "modified"
		if res.Kind == ChangeCreate {
			action = "created"
		}
		s.RecordFileChange(res.Path, action)
		s.RecordOperation("file_modification", action+" "+res.Path)
	}
	s.AddModifiedFiles(AppliedPaths(results)...)

	result.Response = applySummary(response, decision, results)
	s.AddMessage(RoleUser, userInput)
	s.AddMessage(RoleAssistant, result.Response)
	return result, nil
}

// applySummary renders the user-facing outcome of a batch review, always
// carrying the model's original response below it.
func applySummary(response string, decision BatchDecision, results []ReviewResult) string {
	applied := AppliedPaths(results)
	if len(applied) > 0 {
		b := strings.Builder{}
		b.WriteString("\n✅ Changes applied successfully!\n\nModified files:\n")
		for _, path := range applied {
			b.WriteString("• " + path + "\n")
		}
		b.WriteString("\nOriginal response:\n")
		b.WriteString(response)
		b.WriteString("\n")
		return b.String()
	}

	reviewable := false
	for _, res := range results {
		if !res.Unchanged && res.Err == nil {
			reviewable = true
			break
		}
	}
	if decision == BatchNone && reviewable {
		return fmt.Sprintf("\n❌ No changes applied. User cancelled.\n\nOriginal response:\n%s\n", response)
	}
	return fmt.Sprintf("\n❌ No changes applied.\n\nOriginal response:\n%s\n", response)
}

func (p *Pipeline) saveTranscript() {
	if p.Transcript == nil {
		return
	}
	if err := p.Transcript.Save(p.Session); err != nil {
		p.Logger.Warn("transcript save failed", zap.Error(err))
	}
}

// clipRunes cuts a string to at most n bytes on a rune boundary.
func clipRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
