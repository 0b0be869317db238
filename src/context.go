package src

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Section headers of the assembled context. FitToBudget keys on these, so
// they must match what BuildContext emits byte for byte.
const (
	sectionConversation = "=== CONVERSATION HISTORY ==="
	sectionTask         = "=== CURRENT TASK CONTEXT ==="
	sectionOperations   = "=== RECENT OPERATIONS ==="
	sectionProject      = "=== PROJECT CONTEXT ==="
	sectionSession      = "=== SESSION STATE ==="
	sectionRequest      = "=== CURRENT USER REQUEST ==="
	sectionEssential    = "=== ESSENTIAL CONTEXT (CRITICAL) ==="
	sectionInstructions = "=== CONTEXT INSTRUCTIONS ==="
)

const (
	historyWindow    = 10
	operationsWindow = 15
	changesWindow    = 5
	factScanWindow   = 6
	factOpsWindow    = 5
)

const truncationMarker = "\n[Context truncated for optimization]"

// contextPriority decides which sections survive budget trimming. It is
// deliberately not the build order: the request and essential facts outrank
// the operation log and session metadata.
var contextPriority = []string{
	sectionEssential,
	sectionConversation,
	sectionRequest,
	sectionTask,
	sectionInstructions,
	sectionOperations,
	sectionProject,
	sectionSession,
}

var contextInstructions = []string{
	"IMPORTANT: Maintain continuity with previous conversation and tasks.",
	"If the user refers to previous work (like 'change it to', 'make it', etc.),",
	"refer to the conversation history and current task context above.",
	"Do not lose track of what was previously created or modified.",
	"When modifying existing files, preserve the current content and enhance it.",
	"CRITICAL: Always preserve the ESSENTIAL CONTEXT above in all operations.",
	"Do not remove or replace existing content unless explicitly requested.",
}

// EstimateTokens approximates token count as len/4. It is a character
// heuristic, not real tokenization; all budget math uses it.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// BuildContext assembles the layered prompt context for one model call.
// It is a pure read over the session; the caller records the resulting
// size back into the operation log.
func (s *SessionState) BuildContext(userInput string) string {
	var parts []string

	if len(s.Messages) > 0 {
		parts = append(parts, sectionConversation)
		msgs := s.Messages
		if len(msgs) > historyWindow {
			msgs = msgs[len(msgs)-historyWindow:]
		}
		for _, msg := range msgs {
			switch msg.Role {
			case RoleUser:
				parts = append(parts, "USER: "+msg.Content)
			case RoleAssistant:
				parts = append(parts, "ASSISTANT: "+msg.Content)
			case RoleSystem:
				parts = append(parts, "SYSTEM: "+msg.Content)
			}
		}
		parts = append(parts, "=== END CONVERSATION HISTORY ===\n")
	}

	if s.Task.CurrentTask != "" {
		parts = append(parts, sectionTask)
		parts = append(parts, "Current Task: "+s.Task.CurrentTask)
		parts = append(parts, "Task Start Time: "+s.Task.TaskStartTime.Format("2006-01-02 15:04:05"))
		parts = append(parts, "Files Modified: "+strings.Join(s.Task.FilesModified, ", "))
		parts = append(parts, "=== END TASK CONTEXT ===\n")
	}

	if len(s.Operations) > 0 {
		parts = append(parts, sectionOperations)
		ops := s.Operations
		if len(ops) > operationsWindow {
			ops = ops[len(ops)-operationsWindow:]
		}
		for _, op := range ops {
			parts = append(parts, fmt.Sprintf("- [%s] %s: %s",
				op.Timestamp.Format("15:04:05"), op.Type, op.Description))
		}
		parts = append(parts, "=== END RECENT OPERATIONS ===\n")
	}

	parts = append(parts, sectionProject)
	parts = append(parts, "Workspace Path: "+s.WorkspacePath)
	parts = append(parts, fmt.Sprintf("Accessible Files: %d", s.AccessibleFiles))
	projectType := s.ProjectType
	if projectType == "" {
		projectType = "Unknown"
	}
	parts = append(parts, "Project Type: "+projectType)
	if len(s.RecentChanges) > 0 {
		parts = append(parts, "Recent File Changes:")
		changes := s.RecentChanges
		if len(changes) > changesWindow {
			changes = changes[len(changes)-changesWindow:]
		}
		for _, ch := range changes {
			parts = append(parts, fmt.Sprintf("  - [%s] %s (%s)",
				ch.Timestamp.Format("15:04:05"), filepath.Base(ch.Name), ch.Action))
		}
	}
	parts = append(parts, "=== END PROJECT CONTEXT ===\n")

	parts = append(parts, sectionSession)
	parts = append(parts, fmt.Sprintf("Total Operations: %d", len(s.Operations)))
	parts = append(parts, fmt.Sprintf("Files Accessed: %d", len(s.FilesAccessed)))
	parts = append(parts, fmt.Sprintf("Context Utilization: %.1f%%", s.ContextUtilization()))
	parts = append(parts, "Current Model: "+s.CurrentModel)
	parts = append(parts, "=== END SESSION STATE ===\n")

	parts = append(parts, sectionRequest)
	parts = append(parts, "User Input: "+userInput)
	parts = append(parts, "=== END CURRENT USER REQUEST ===\n")

	if facts := s.EssentialFacts(); len(facts) > 0 {
		parts = append(parts, sectionEssential)
		parts = append(parts, "CRITICAL: The following information MUST be preserved in all operations:")
		parts = append(parts, strings.Join(facts, "\n"))
		parts = append(parts, "=== END ESSENTIAL CONTEXT ===\n")
	}

	parts = append(parts, sectionInstructions)
	parts = append(parts, contextInstructions...)
	parts = append(parts, "=== END CONTEXT INSTRUCTIONS ===")

	return strings.Join(parts, "\n")
}

// PromptContext builds and budget-fits the context in one step.
func (s *SessionState) PromptContext(userInput string) string {
	return FitToBudget(s.BuildContext(userInput), s.MaxContextTokens)
}

// FitToBudget trims a built context to the token budget. Sections are kept
// by priority; the first section that would overflow is cut so the result
// plus the truncation marker still fits, and everything lower-priority is
// dropped. Output never exceeds maxTokens*4 characters.
func FitToBudget(context string, maxTokens int) string {
	if EstimateTokens(context) <= maxTokens {
		return context
	}

	remaining := maxTokens * 4
	var kept []string
	for _, header := range contextPriority {
		section := extractSection(context, header)
		if section == "" {
			continue
		}
		sep := 0
		if len(kept) > 0 {
			sep = len("\n\n")
		}
		if sep+len(section) <= remaining {
			kept = append(kept, section)
			remaining -= sep + len(section)
			continue
		}
		keep := remaining - sep - len(truncationMarker)
		if keep < 0 {
			keep = 0
		}
		for keep > 0 && keep < len(section) && !utf8.RuneStart(section[keep]) {
			keep--
		}
		kept = append(kept, section[:keep]+truncationMarker)
		break
	}
	return strings.Join(kept, "\n\n")
}

// extractSection returns a section from its header line through its
// "=== END" closer. Missing sections return "".
func extractSection(context, header string) string {
	var section []string
	inSection := false
	for _, line := range strings.Split(context, "\n") {
		switch {
		case line == header:
			inSection = true
			section = append(section, line)
		case inSection && strings.HasPrefix(line, "=== END"):
			section = append(section, line)
			return strings.Join(section, "\n")
		case inSection:
			section = append(section, line)
		}
	}
	if !inSection {
		return ""
	}
	return strings.Join(section, "\n")
}

// EssentialFacts scans recent conversation, the current task, and the last
// few operations for facts that must survive context trimming. Facts are
// KEY: VALUE strings, deduplicated in first-seen order.
func (s *SessionState) EssentialFacts() []string {
	var facts []string

	msgs := s.Messages
	if len(msgs) > factScanWindow {
		msgs = msgs[len(msgs)-factScanWindow:]
	}
	for _, msg := range msgs {
		content := strings.ToLower(msg.Content)
		if containsAny(content, "website", "html", "web") {
			facts = append(facts, "PROJECT TYPE: Website/HTML project")
			break
		}
		if containsAny(content, "delhi", "location", "city") {
			if loc := extractLocation(content); loc != "" {
				facts = append(facts, "LOCATION: "+loc)
			}
		}
		if containsAny(content, "school", "college", "university", "institute") {
			if ct := contentTypeFor(content); ct != "" {
				facts = append(facts, "CONTENT TYPE: "+ct)
			}
		}
		if strings.Contains(content, "json") {
			facts = append(facts, "FILE TYPE: JSON data structure")
		} else if containsAny(content, "html", "website") {
			facts = append(facts, "FILE TYPE: HTML/Website")
		}
	}

	if task := strings.ToLower(s.Task.CurrentTask); task != "" {
		if containsAny(task, "website", "html") {
			facts = append(facts, "PROJECT TYPE: Website/HTML project")
		}
		if strings.Contains(task, "delhi") {
			facts = append(facts, "LOCATION: Delhi")
		}
		if strings.Contains(task, "school") {
			facts = append(facts, "CONTENT TYPE: Schools")
		} else if strings.Contains(task, "college") {
			facts = append(facts, "CONTENT TYPE: Colleges")
		}
		if strings.Contains(task, "json") {
			facts = append(facts, "FILE TYPE: JSON data structure")
		} else if containsAny(task, "html", "website") {
			facts = append(facts, "FILE TYPE: HTML/Website")
		}
	}

	ops := s.Operations
	if len(ops) > factOpsWindow {
		ops = ops[len(ops)-factOpsWindow:]
	}
	for _, op := range ops {
		desc := strings.ToLower(op.Description)
		if containsAny(desc, "html", "website") {
			facts = append(facts, "PROJECT TYPE: Website/HTML project")
		}
		if strings.Contains(desc, "school") {
			facts = append(facts, "CONTENT TYPE: Schools")
		} else if strings.Contains(desc, "college") {
			facts = append(facts, "CONTENT TYPE: Colleges")
		}
	}

	seen := make(map[string]struct{}, len(facts))
	unique := facts[:0]
	for _, f := range facts {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		unique = append(unique, f)
	}
	return unique
}

var locationCities = []string{
	"delhi", "mumbai", "bangalore", "chennai", "kolkata", "hyderabad", "pune", "ahmedabad",
}

var locationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`in\s+(\w+)`),
	regexp.MustCompile(`of\s+(\w+)`),
	regexp.MustCompile(`(\w+)\s+schools`),
	regexp.MustCompile(`(\w+)\s+colleges`),
}

// extractLocation pulls a city name out of lowercased content, first from
// the known-city table, then from loose "in X" / "X schools" patterns.
func extractLocation(content string) string {
	for _, city := range locationCities {
		if strings.Contains(content, city) {
			return titleCase(city)
		}
	}
	for _, re := range locationPatterns {
		if m := re.FindStringSubmatch(content); m != nil {
			return titleCase(m[1])
		}
	}
	return ""
}

func contentTypeFor(content string) string {
	switch {
	case strings.Contains(content, "school"):
		return "Schools"
	case strings.Contains(content, "college"):
		return "Colleges"
	case strings.Contains(content, "university"):
		return "Universities"
	case strings.Contains(content, "institute"):
		return "Institutes"
	}
	return ""
}

func titleCase(word string) string {
	if word == "" {
		return word
	}
	return strings.ToUpper(word[:1]) + word[1:]
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
