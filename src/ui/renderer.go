package ui

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const Logo = `
 ██████╗ ██████╗ ██████╗ ███████╗███████╗██╗      ██████╗ ██╗    ██╗
██╔════╝██╔═══██╗██╔══██╗██╔════╝██╔════╝██║     ██╔═══██╗██║    ██║
██║     ██║   ██║██║  ██║█████╗  █████╗  ██║     ██║   ██║██║ █╗ ██║
██║     ██║   ██║██║  ██║██╔══╝  ██╔══╝  ██║     ██║   ██║██║███╗██║
╚██████╗╚██████╔╝██████╔╝███████╗██║     ███████╗╚██████╔╝╚███╔███╔╝
 ╚═════╝ ╚═════╝ ╚═════╝ ╚══════╝╚═╝     ╚══════╝ ╚═════╝  ╚══╝╚══╝
         C O D E  ·  F L O W I N G  I N T E L L I G E N C E
`

// Render generates the full UI string based on the provided state.
func Render(s State, styles Styles) string {
	header := Header(styles)
	body := renderBody(s, styles)
	footer := Footer(s, styles)

	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}

// Header renders the logo block. Exposed so the layout code can measure it.
func Header(styles Styles) string {
	logoStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AD8CFF")).Bold(true).
		Background(lipgloss.Color("#000000")).UnsetBackground()
	subtitle := styles.Header.Render("CodeFlow CLI")
	styledLogo := logoStyle.Render(Logo)

	return lipgloss.JoinVertical(lipgloss.Left, styledLogo, subtitle)
}

// Footer renders the key hints for the current mode. Exposed so the layout
// code can measure it.
func Footer(s State, styles Styles) string {
	help := "ctrl+c: quit"
	switch s.Mode {
	case ModeDir:
		help += " | enter: select | ←/↑/↓/→: navigate"
	case ModeChat:
		help += " | ctrl+d: change directory | ctrl+p: switch model | @goal <task>: decompose"
	case ModeModels:
		help += " | enter: select | esc: back"
	case ModeReview:
		if s.ReviewHint != "" {
			help += " | " + s.ReviewHint
		}
	case ModeGoal:
		help += " | esc: back to chat"
	}
	return styles.Footer.Render(help)
}

func renderBody(s State, styles Styles) string {
	switch s.Mode {
	case ModeDir:
		return renderDir(s, styles)
	case ModeChat:
		return renderChat(s, styles)
	case ModeModels:
		return renderModels(s, styles)
	case ModeReview:
		return renderReview(s, styles)
	case ModeGoal:
		return renderGoal(s, styles)
	default:
		return ""
	}
}

func renderDir(s State, styles Styles) string {
	pathHeader := styles.Subtitle.Render(fmt.Sprintf("Current: %s", s.WorkingDir))
	return lipgloss.JoinVertical(lipgloss.Left, pathHeader, s.DirList.View())
}

func renderModels(s State, styles Styles) string {
	return styles.List.Render(s.ModelList.View())
}

func renderChat(s State, styles Styles) string {
	var statusItems []string
	statusItems = append(statusItems, styles.Status.Render(fmt.Sprintf("SESSION: %s", s.SessionID)))
	if s.Model != "" {
		statusItems = append(statusItems, styles.Status.Render(fmt.Sprintf("MODEL: %s", s.Model)))
	}
	if len(s.RecentChanges) > 0 {
		statusItems = append(statusItems, styles.Status.Render(fmt.Sprintf("CHANGES: %s", strings.Join(s.RecentChanges, ", "))))
	}
	statusItems = append(statusItems, styles.StatusRight.Render(fmt.Sprintf("CTX: %d files (%s) %.0f%%", s.ContextFiles, humanSize(s.ContextBytes), s.ContextPct)))

	status := lipgloss.JoinHorizontal(lipgloss.Top, statusItems...)

	metaLines := []string{styles.Subtitle.Render(fmt.Sprintf("Working Directory: %s", s.WorkingDir))}
	if s.TranscriptPath != "" {
		rel := s.TranscriptPath
		if r, err := filepath.Rel(s.WorkingDir, s.TranscriptPath); err == nil {
			rel = r
		}
		metaLines = append(metaLines, styles.Subtle.Render(fmt.Sprintf("Transcript: %s", rel)))
	}
	chatView := lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.JoinVertical(lipgloss.Left, metaLines...),
		s.Viewport.View(),
		status,
		renderThinking(s, styles),
		s.TextArea.View(),
	)
	return styles.ChatContainer.Render(chatView)
}

func renderReview(s State, styles Styles) string {
	return lipgloss.JoinVertical(lipgloss.Left,
		styles.ListHeader.Render(s.ReviewTitle),
		s.Viewport.View(),
	)
}

func renderGoal(s State, styles Styles) string {
	lines := []string{styles.ListHeader.Render(s.GoalTitle)}
	for _, l := range s.GoalLines {
		lines = append(lines, styles.ListItem.Render(l))
	}
	if t := renderThinking(s, styles); t != "" {
		lines = append(lines, t)
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderThinking(s State, styles Styles) string {
	if !s.IsThinking {
		return ""
	}
	return styles.Thinking.Render(fmt.Sprintf("CodeFlow %s %s", s.Spinner.View(), s.ThinkingText))
}

var ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// ColorizeDiff styles unified diff lines for viewport display. Engine diffs
// arrive with raw terminal colors; those are stripped first so the adaptive
// palette applies cleanly.
func ColorizeDiff(diff string, styles Styles) string {
	diff = ansiRe.ReplaceAllString(diff, "")
	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "@@"):
			lines[i] = styles.DiffHunk.Render(line)
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			lines[i] = styles.Subtle.Render(line)
		case strings.HasPrefix(line, "+"):
			lines[i] = styles.DiffAdd.Render(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = styles.DiffDel.Render(line)
		}
	}
	return strings.Join(lines, "\n")
}

func humanSize(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
