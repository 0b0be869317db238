package src

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// GoalStatus is the lifecycle state of a goal or sub-goal.
type GoalStatus string

const (
	StatusPending    GoalStatus = "pending"
	StatusInProgress GoalStatus = "in_progress"
	StatusCompleted  GoalStatus = "completed"
	StatusFailed     GoalStatus = "failed"
	StatusBlocked    GoalStatus = "blocked"
)

// SubGoalResult is what one executed sub-goal produced.
type SubGoalResult struct {
	Success      bool     `json:"success"`
	FilesChanged []string `json:"files_changed,omitempty"`
	ChangesMade  []string `json:"changes_made,omitempty"`
	Summary      string   `json:"summary,omitempty"`
}

// SubGoalContext is what a sub-goal inherits before it runs: the results
// of the sub-goals it depends on plus the tail of the context chain.
type SubGoalContext struct {
	PreviousResults map[string]*SubGoalResult `json:"previous_results"`
	Chain           []ContextEntry            `json:"context_chain,omitempty"`
}

// SubGoal is one step of a decomposed goal. Dependencies are indexes into
// the parent goal's sub-goal list.
type SubGoal struct {
	ID                  string            `json:"id"`
	Description         string            `json:"description"`
	Status              GoalStatus        `json:"status"`
	Dependencies        []int             `json:"dependencies,omitempty"`
	FilesToModify       []string          `json:"files_to_modify,omitempty"`
	ExpectedChanges     map[string]string `json:"expected_changes,omitempty"`
	ContextFromPrevious *SubGoalContext   `json:"context_from_previous,omitempty"`
	Result              *SubGoalResult    `json:"result,omitempty"`
	Error               string            `json:"error,omitempty"`
	StartTime           time.Time         `json:"start_time"`
	EndTime             time.Time         `json:"end_time"`
}

// Goal is a top-level request decomposed into ordered sub-goals. A goal
// is archived exactly once and never resumed afterward.
type Goal struct {
	ID           string     `json:"id"`
	Description  string     `json:"description"`
	UserPrompt   string     `json:"user_prompt"`
	Status       GoalStatus `json:"status"`
	SubGoals     []*SubGoal `json:"sub_goals"`
	FilesChanged []string   `json:"files_changed,omitempty"`
	ChangesMade  []string   `json:"changes_made,omitempty"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      time.Time  `json:"end_time"`
}

// ContextEntry is one link of the rolling context chain.
type ContextEntry struct {
	Timestamp    string         `json:"timestamp"`
	SubGoalID    string         `json:"sub_goal_id"`
	Description  string         `json:"description"`
	Result       *SubGoalResult `json:"result,omitempty"`
	FilesChanged []string       `json:"files_changed,omitempty"`
}

// ChangeRecord is the archived summary of a finalized goal.
type ChangeRecord struct {
	ID                string   `json:"id"`
	Timestamp         string   `json:"timestamp"`
	Goal              string   `json:"goal"`
	FilesChanged      []string `json:"files_changed"`
	ChangesMade       []string `json:"changes_made"`
	SubGoalsCompleted int      `json:"sub_goals_completed"`
	SubGoalsTotal     int      `json:"sub_goals_total"`
}

const (
	defaultContextWindow = 5
	defaultMaxSubGoals   = 10

	subGoalSummaryLimit = 200

	catchAllDescription = "Execute the main goal"
)

// GoalEngine decomposes a goal into sub-goals and executes them in order,
// threading context between them. Caller-owned; no global state.
type GoalEngine struct {
	client    Completer
	ws        *Workspace
	extractor Extractor
	review    *ReviewEngine
	logger    *zap.Logger

	Model             string
	ContextWindowSize int
	MaxSubGoals       int
	HistoryPath       string

	// Progress, when set, is called after every sub-goal status change.
	Progress func(goal *Goal, sub *SubGoal)

	chain   []ContextEntry
	history []*Goal
}

func NewGoalEngine(client Completer, ws *Workspace, extractor Extractor, review *ReviewEngine, model string, logger *zap.Logger) *GoalEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	historyPath, err := GoalHistoryPath()
	if err != nil {
		historyPath = ""
	}
	return &GoalEngine{
		client:            client,
		ws:                ws,
		extractor:         extractor,
		review:            review,
		logger:            logger,
		Model:             model,
		ContextWindowSize: defaultContextWindow,
		MaxSubGoals:       defaultMaxSubGoals,
		HistoryPath:       historyPath,
	}
}

// Execute runs one goal end to end: decompose, execute sub-goals in
// order, finalize. The goal is archived whether it completed or not.
func (e *GoalEngine) Execute(ctx context.Context, userPrompt, description string) (*Goal, error) {
	goal := &Goal{
		ID:          fmt.Sprintf("goal_%d", time.Now().Unix()),
		Description: description,
		UserPrompt:  userPrompt,
		Status:      StatusPending,
		StartTime:   time.Now(),
	}
	defer func() {
		e.history = append(e.history, goal)
	}()

	e.Decompose(ctx, goal)
	e.ExecuteAll(ctx, goal)

	if err := ctx.Err(); err != nil {
		goal.Status = StatusFailed
		goal.EndTime = time.Now()
		return goal, err
	}
	if err := e.Finalize(goal); err != nil {
		e.logger.Warn("goal history persist failed", zap.Error(err))
	}
	return goal, nil
}

// Decompose asks the model to break the goal into 3-5 sub-goals. Any
// breakdown failure falls back to a single catch-all sub-goal so the
// goal can still run to completion.
func (e *GoalEngine) Decompose(ctx context.Context, goal *Goal) {
	goal.Status = StatusInProgress

	var subs []*SubGoal
	response, err := e.client.Complete(ctx,
		[]ChatMessage{{Role: RoleUser, Content: breakdownPrompt(goal)}},
		e.Model, codeTemperature, codeMaxTokens)
	if err == nil {
		subs, err = parseBreakdown(goal.ID, response)
	}
	if err != nil {
		e.logger.Warn("goal breakdown failed, falling back to a single sub-goal",
			zap.String("goal", goal.ID), zap.Error(err))
		subs = []*SubGoal{{
			ID:          goal.ID + "_sub_0",
			Description: catchAllDescription,
			Status:      StatusPending,
		}}
	}

	maxSubGoals := e.MaxSubGoals
	if maxSubGoals <= 0 {
		maxSubGoals = defaultMaxSubGoals
	}
	if len(subs) > maxSubGoals {
		subs = subs[:maxSubGoals]
	}
	goal.SubGoals = subs
}

// ExecuteAll runs sub-goals in list order. A failed sub-goal never stops
// the loop; later sub-goals that depend on it end Blocked instead.
func (e *GoalEngine) ExecuteAll(ctx context.Context, goal *Goal) {
	for _, sub := range goal.SubGoals {
		if missing := e.unmetDependencies(goal, sub); len(missing) > 0 {
			sub.Status = StatusBlocked
			sub.Error = (&DependencyBlockedError{SubGoalID: sub.ID, Missing: missing}).Error()
			e.logger.Warn("sub-goal blocked",
				zap.String("sub_goal", sub.ID), zap.Ints("missing", missing))
			e.notify(goal, sub)
			continue
		}
		if err := e.executeOne(ctx, goal, sub); err != nil {
			sub.Status = StatusFailed
			sub.Error = err.Error()
			sub.EndTime = time.Now()
			e.logger.Error("sub-goal failed",
				zap.String("sub_goal", sub.ID), zap.Error(err))
			e.notify(goal, sub)
			continue
		}
		e.UpdateChain(sub)
		e.notify(goal, sub)
	}
}

func (e *GoalEngine) unmetDependencies(goal *Goal, sub *SubGoal) []int {
	var missing []int
	for _, dep := range sub.Dependencies {
		if dep < 0 || dep >= len(goal.SubGoals) || goal.SubGoals[dep].Status != StatusCompleted {
			missing = append(missing, dep)
		}
	}
	return missing
}

func (e *GoalEngine) executeOne(ctx context.Context, goal *Goal, sub *SubGoal) error {
	sub.Status = StatusInProgress
	sub.StartTime = time.Now()
	sub.ContextFromPrevious = e.contextFor(goal, sub)
	e.notify(goal, sub)

	files := e.relevantFor(sub)
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	prompt := ModificationPrompt(
		subGoalPrompt(goal, sub),
		ModificationContext(e.ws.Structure(), files),
		paths,
	)

	response, err := e.client.Complete(ctx,
		[]ChatMessage{{Role: RoleUser, Content: prompt}},
		e.Model, codeTemperature, chatMaxTokens)
	if err != nil {
		return err
	}

	changes := e.extractor.Extract(response)
	result := &SubGoalResult{Success: true}
	if len(changes) == 0 {
		result.Summary = headOf(response, subGoalSummaryLimit)
	} else {
		applied := 0
		_, results := e.review.ReviewAll(ctx, changes)
		for _, res := range results {
			if res.Err != nil {
				e.logger.Warn("sub-goal change failed",
					zap.String("sub_goal", sub.ID),
					zap.String("path", res.Path),
					zap.Error(res.Err))
				continue
			}
			if !res.Applied {
				continue
			}
			applied++
			result.FilesChanged = append(result.FilesChanged, res.Path)
			action := "Modified"
			if res.Kind == ChangeCreate {
				action = "Created"
			}
			result.ChangesMade = append(result.ChangesMade, action+" "+res.Path)
		}
		result.Summary = fmt.Sprintf("applied %d of %d changes", applied, len(changes))
	}

	sub.Result = result
	sub.Status = StatusCompleted
	sub.EndTime = time.Now()

	goal.FilesChanged = append(goal.FilesChanged, result.FilesChanged...)
	goal.ChangesMade = append(goal.ChangesMade, result.ChangesMade...)
	return nil
}

// relevantFor reads the files a sub-goal says it will touch; when it
// names none, fall back to a workspace relevance search.
func (e *GoalEngine) relevantFor(sub *SubGoal) []RelevantFile {
	if len(sub.FilesToModify) == 0 {
		return e.ws.RelevantFiles(sub.Description)
	}
	var files []RelevantFile
	for _, path := range sub.FilesToModify {
		content, err := e.ws.ReadFile(path)
		if err != nil {
			continue
		}
		files = append(files, RelevantFile{Path: path, Content: content})
	}
	return files
}

func (e *GoalEngine) contextFor(goal *Goal, sub *SubGoal) *SubGoalContext {
	sgc := &SubGoalContext{PreviousResults: map[string]*SubGoalResult{}}
	for _, dep := range sub.Dependencies {
		if dep < 0 || dep >= len(goal.SubGoals) {
			continue
		}
		if res := goal.SubGoals[dep].Result; res != nil {
			sgc.PreviousResults[strconv.Itoa(dep)] = res
		}
	}
	if n := len(e.chain); n > 0 {
		window := e.windowSize()
		start := n - window
		if start < 0 {
			start = 0
		}
		sgc.Chain = append([]ContextEntry(nil), e.chain[start:]...)
	}
	return sgc
}

// UpdateChain appends a completed sub-goal to the rolling context chain,
// evicting the oldest entries beyond the window.
func (e *GoalEngine) UpdateChain(sub *SubGoal) {
	entry := ContextEntry{
		Timestamp:   time.Now().Format(time.RFC3339),
		SubGoalID:   sub.ID,
		Description: sub.Description,
		Result:      sub.Result,
	}
	if sub.Result != nil {
		entry.FilesChanged = sub.Result.FilesChanged
	}
	e.chain = append(e.chain, entry)

	if window := e.windowSize(); len(e.chain) > window {
		e.chain = e.chain[len(e.chain)-window:]
	}
}

// Chain returns a copy of the current context chain.
func (e *GoalEngine) Chain() []ContextEntry {
	return append([]ContextEntry(nil), e.chain...)
}

func (e *GoalEngine) windowSize() int {
	if e.ContextWindowSize <= 0 {
		return defaultContextWindow
	}
	return e.ContextWindowSize
}

// Finalize marks the goal done and archives a change record. FilesChanged
// and ChangesMade are recomputed from sub-goal results so the archive
// reflects what actually happened.
func (e *GoalEngine) Finalize(goal *Goal) error {
	goal.Status = StatusCompleted
	goal.EndTime = time.Now()

	var files, changes []string
	completed := 0
	for _, sub := range goal.SubGoals {
		if sub.Status == StatusCompleted {
			completed++
		}
		if sub.Result == nil {
			continue
		}
		files = append(files, sub.Result.FilesChanged...)
		changes = append(changes, sub.Result.ChangesMade...)
	}
	goal.FilesChanged = uniqueStrings(files)
	goal.ChangesMade = uniqueStrings(changes)

	return e.appendRecord(ChangeRecord{
		ID:                uuid.NewString(),
		Timestamp:         time.Now().Format(time.RFC3339),
		Goal:              goal.Description,
		FilesChanged:      goal.FilesChanged,
		ChangesMade:       goal.ChangesMade,
		SubGoalsCompleted: completed,
		SubGoalsTotal:     len(goal.SubGoals),
	})
}

// appendRecord loads, appends to, and rewrites the goal history archive.
func (e *GoalEngine) appendRecord(record ChangeRecord) error {
	if e.HistoryPath == "" {
		return nil
	}
	var records []ChangeRecord
	data, err := os.ReadFile(e.HistoryPath)
	switch {
	case err == nil:
		if uerr := json.Unmarshal(data, &records); uerr != nil {
			e.logger.Warn("goal history unreadable, starting fresh",
				zap.String("path", e.HistoryPath), zap.Error(uerr))
			records = nil
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return fmt.Errorf("read goal history: %w", err)
	}

	records = append(records, record)
	out, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(e.HistoryPath), 0o700); err != nil {
		return fmt.Errorf("create goal history dir: %w", err)
	}
	if err := os.WriteFile(e.HistoryPath, out, 0o600); err != nil {
		return fmt.Errorf("write goal history: %w", err)
	}
	return nil
}

// GoalByID looks up an archived goal.
func (e *GoalEngine) GoalByID(goalID string) (*Goal, bool) {
	for _, goal := range e.history {
		if goal.ID == goalID {
			return goal, true
		}
	}
	return nil, false
}

// RecentGoals returns the newest archived goals, oldest first.
func (e *GoalEngine) RecentGoals(limit int) []*Goal {
	if limit <= 0 || len(e.history) == 0 {
		return nil
	}
	start := len(e.history) - limit
	if start < 0 {
		start = 0
	}
	return append([]*Goal(nil), e.history[start:]...)
}

func (e *GoalEngine) notify(goal *Goal, sub *SubGoal) {
	if e.Progress != nil {
		e.Progress(goal, sub)
	}
}

func goalGlyph(status GoalStatus) string {
	switch status {
	case StatusCompleted:
		return "✅"
	case StatusFailed:
		return "❌"
	case StatusBlocked:
		return "⏭️"
	case StatusInProgress:
		return "⏳"
	default:
		return "•"
	}
}

// FormatGoalSummary renders a finished goal for chat output and the CLI.
func FormatGoalSummary(goal *Goal) string {
	completed := 0
	for _, sub := range goal.SubGoals {
		if sub.Status == StatusCompleted {
			completed++
		}
	}

	b := strings.Builder{}
	switch goal.Status {
	case StatusCompleted:
		b.WriteString(fmt.Sprintf("Goal completed: %s\n", goal.Description))
	case StatusFailed:
		b.WriteString(fmt.Sprintf("Goal failed: %s\n", goal.Description))
	default:
		b.WriteString(fmt.Sprintf("Goal %s: %s\n", goal.Status, goal.Description))
	}
	b.WriteString(fmt.Sprintf("Sub-goals: %d/%d completed\n", completed, len(goal.SubGoals)))
	for _, sub := range goal.SubGoals {
		b.WriteString(fmt.Sprintf("  %s %s\n", goalGlyph(sub.Status), sub.Description))
	}
	if len(goal.FilesChanged) > 0 {
		b.WriteString("Files changed:\n")
		for _, f := range goal.FilesChanged {
			b.WriteString("  • " + f + "\n")
		}
	}
	return b.String()
}

func breakdownPrompt(goal *Goal) string {
	p := strings.Builder{}
	p.WriteString("\nYou are a goal breakdown specialist. Your task is to break down the following user goal into 3-5 specific, actionable sub-goals.\n")
	fmt.Fprintf(&p, "\nUser Goal: %s\n", goal.Description)
	fmt.Fprintf(&p, "User Prompt: %s\n", goal.UserPrompt)
	p.WriteString("\nPlease break this down into sub-goals that:\n")
	p.WriteString("1. Are specific and actionable\n")
	p.WriteString("2. Can be executed in sequence\n")
	p.WriteString("3. Each sub-goal builds on the context from previous sub-goals\n")
	p.WriteString("4. Are focused on specific files or functions that need to be modified\n")
	p.WriteString("\nFor each sub-goal, provide:\n")
	p.WriteString("- A clear description\n")
	p.WriteString("- Which files need to be modified\n")
	p.WriteString("- What specific changes are expected\n")
	p.WriteString("- Any dependencies on previous sub-goals\n")
	p.WriteString("\nFormat your response as JSON:\n")
	p.WriteString("{\n")
	p.WriteString("    \"sub_goals\": [\n")
	p.WriteString("        {\n")
	p.WriteString("            \"description\": \"Sub-goal description\",\n")
	p.WriteString("            \"files_to_modify\": [\"file1.py\", \"file2.py\"],\n")
	p.WriteString("            \"expected_changes\": {\n")
	p.WriteString("                \"file1.py\": \"What changes to make\",\n")
	p.WriteString("                \"file2.py\": \"What changes to make\"\n")
	p.WriteString("            },\n")
	p.WriteString("            \"dependencies\": []\n")
	p.WriteString("        }\n")
	p.WriteString("    ]\n")
	p.WriteString("}\n")
	return p.String()
}

func subGoalPrompt(goal *Goal, sub *SubGoal) string {
	expected := sub.ExpectedChanges
	if expected == nil {
		expected = map[string]string{}
	}
	expectedJSON, _ := json.MarshalIndent(expected, "", "  ")

	previous := map[string]*SubGoalResult{}
	if sub.ContextFromPrevious != nil && sub.ContextFromPrevious.PreviousResults != nil {
		previous = sub.ContextFromPrevious.PreviousResults
	}
	previousJSON, _ := json.MarshalIndent(previous, "", "  ")

	p := strings.Builder{}
	p.WriteString("\nExecute the following sub-goal of the user goal below.\n")
	fmt.Fprintf(&p, "\nUser Goal: %s\n", goal.Description)
	fmt.Fprintf(&p, "\nSub-goal: %s\n", sub.Description)
	fmt.Fprintf(&p, "Files to modify: %s\n", strings.Join(sub.FilesToModify, ", "))
	fmt.Fprintf(&p, "Expected changes: %s\n", expectedJSON)
	p.WriteString("\nContext from previous sub-goals:\n")
	p.Write(previousJSON)
	p.WriteString("\n\nPlease execute this sub-goal by:\n")
	p.WriteString("1. Analyzing the current state of the files\n")
	p.WriteString("2. Making the necessary changes\n")
	p.WriteString("3. Ensuring changes are minimal and focused\n")
	p.WriteString("\nFocus only on the specific changes needed for this sub-goal.\n")
	return p.String()
}

type breakdownPayload struct {
	SubGoals []struct {
		Description     string         `json:"description"`
		FilesToModify   []string       `json:"files_to_modify"`
		ExpectedChanges changeMap      `json:"expected_changes"`
		Dependencies    dependencyList `json:"dependencies"`
	} `json:"sub_goals"`
}

func parseBreakdown(goalID, response string) ([]*SubGoal, error) {
	data, err := extractJSON(response)
	if err != nil {
		return nil, err
	}
	var payload breakdownPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("invalid breakdown JSON: %w", err)
	}
	if len(payload.SubGoals) == 0 {
		return nil, errors.New("breakdown contains no sub-goals")
	}

	subs := make([]*SubGoal, 0, len(payload.SubGoals))
	for i, sg := range payload.SubGoals {
		subs = append(subs, &SubGoal{
			ID:              fmt.Sprintf("%s_sub_%d", goalID, i),
			Description:     sg.Description,
			Status:          StatusPending,
			Dependencies:    sg.Dependencies,
			FilesToModify:   sg.FilesToModify,
			ExpectedChanges: sg.ExpectedChanges,
		})
	}
	return subs, nil
}

// dependencyList accepts dependency indexes as JSON numbers or numeric
// strings; models emit both.
type dependencyList []int

func (d *dependencyList) UnmarshalJSON(data []byte) error {
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]int, 0, len(raw))
	for _, v := range raw {
		switch t := v.(type) {
		case float64:
			out = append(out, int(t))
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(t))
			if err != nil {
				return fmt.Errorf("dependency %q is not an index", t)
			}
			out = append(out, n)
		default:
			return fmt.Errorf("dependency %v is not an index", v)
		}
	}
	*d = out
	return nil
}

// changeMap tolerates non-string values in expected_changes by
// re-encoding them as JSON text.
type changeMap map[string]string

func (c *changeMap) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		out[k] = string(b)
	}
	*c = out
	return nil
}

var (
	jsonRe              = regexp.MustCompile("(?is)```(?:json[c5]?|json5)?\\s*([{\\[].*?[}\\]])\\s*```")
	trailingArrayComma  = regexp.MustCompile(`,\s*\]`)
	trailingObjectComma = regexp.MustCompile(`,\s*\}`)
	backtickStringRe    = regexp.MustCompile("`([^`\\\\]*(?:\\\\.[^`\\\\]*)*)`")
)

// extractJSON finds the first JSON object or array in a string,
// handling optional markdown fences.
func extractJSON(raw string) ([]byte, error) {
	candidate := raw

	// First, try to find a fenced JSON block.
	if matches := jsonRe.FindStringSubmatch(raw); len(matches) > 1 {
		candidate = matches[1]
	} else {
		// If no fence is found, fall back to finding the first/last bracket.
		start := strings.IndexAny(raw, "[{")
		if start == -1 {
			return nil, errors.New("no JSON object or array found")
		}

		end := strings.LastIndexAny(raw, "}]")
		if end == -1 || end < start {
			return nil, errors.New("no JSON object or array found")
		}
		candidate = raw[start : end+1]
	}

	jsonStr := strings.TrimSpace(candidate)
	if jsonStr == "" {
		return nil, errors.New("empty JSON payload")
	}

	// Sanitize trailing commas.
	jsonStr = trailingArrayComma.ReplaceAllString(jsonStr, "]")
	jsonStr = trailingObjectComma.ReplaceAllString(jsonStr, "}")

	// Some providers occasionally use backticks instead of double quotes.
	if strings.Contains(jsonStr, "`") {
		jsonStr = backtickStringRe.ReplaceAllString(jsonStr, "\"$1\"")
	}

	first := jsonStr[0]
	if first != '{' && first != '[' {
		return nil, errors.New("response did not contain JSON object or array")
	}

	return []byte(jsonStr), nil
}

// uniqueStrings removes duplicates, preserving first-seen order.
func uniqueStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// headOf clips a string for log and summary use, cutting on a rune
// boundary.
func headOf(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
