package src

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxContextFileBytes caps how much of each relevant file rides along in
// a modification prompt.
const maxContextFileBytes = 2000

// ModificationContext summarizes the project and inlines the relevant
// files for a modification call. Oversized files are cut with a visible
// truncation note so the model knows content is missing.
func ModificationContext(structure ProjectStructure, files []RelevantFile) string {
	parts := strings.Builder{}
	fmt.Fprintf(&parts, "Project Type: %s\n", structure.Type)
	fmt.Fprintf(&parts, "Main Files: %s\n", strings.Join(structure.MainFiles, ", "))
	fmt.Fprintf(&parts, "Total Files: %d", structure.TotalFiles)

	for _, f := range files {
		if f.Content == "" {
			continue
		}
		content := f.Content
		if len(content) > maxContextFileBytes {
			cut := maxContextFileBytes
			for cut > 0 && !utf8.RuneStart(content[cut]) {
				cut--
			}
			content = content[:cut] + "... [truncated]"
		}
		fmt.Fprintf(&parts, "\n\nFile: %s\nContent:\n%s", f.Path, content)
	}
	return parts.String()
}

// ModificationPrompt frames a modification request. The instruction block
// teaches the model the exact change-block wire format the extractor
// parses, and insists on complete file bodies between the markers.
func ModificationPrompt(userInput, contextText string, relevantFiles []string) string {
	p := strings.Builder{}
	p.WriteString("\nYou are an intelligent coding assistant with access to a codebase. Your job is to FIX BUGS and MODIFY FILES.\n")
	p.WriteString("\nCONTEXT:\n")
	p.WriteString(contextText)
	p.WriteString("\n\nUSER REQUEST:\n")
	p.WriteString(userInput)
	p.WriteString("\n\nRELEVANT FILES:\n")
	p.WriteString(strings.Join(relevantFiles, ", "))
	p.WriteString("\n\nCRITICAL INSTRUCTIONS:\n")
	p.WriteString("1. If the user reports a bug or requests changes, you MUST provide file modifications\n")
	p.WriteString("2. You MUST use the exact format below for ANY file changes:\n")
	p.WriteString("\n=== MODIFY: filename ===\n")
	p.WriteString("[COMPLETE file content with your changes]\n")
	p.WriteString("=== END MODIFY ===\n")
	p.WriteString("\n=== CREATE: filename ===\n")
	p.WriteString("[COMPLETE new file content]\n")
	p.WriteString("=== END CREATE ===\n")
	p.WriteString("\n3. Do NOT provide just analysis - you MUST include the actual file modifications\n")
	p.WriteString("4. The content between === markers should be the COMPLETE file content\n")
	p.WriteString("5. If you need to modify multiple files, include multiple === MODIFY: === blocks\n")
	p.WriteString("\nEXAMPLE:\n")
	p.WriteString("If you need to fix a bug in taskManager.js, your response should look like:\n")
	p.WriteString("\n=== MODIFY: taskManager.js ===\n")
	p.WriteString("// Fixed task management\n")
	p.WriteString("function addTask(task) {\n")
	p.WriteString("    return firestore.collection('tasks').add(task);\n")
	p.WriteString("}\n")
	p.WriteString("\nfunction getTasks(employeeId) {\n")
	p.WriteString("    // Now filters by employee\n")
	p.WriteString("    return firestore.collection('tasks').where('employeeId', '==', employeeId).get();\n")
	p.WriteString("}\n")
	p.WriteString("=== END MODIFY ===\n")
	p.WriteString("\nDO NOT provide just text analysis. ALWAYS include the actual file modifications using the === format above.\n")
	return p.String()
}
