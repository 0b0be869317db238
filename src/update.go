package src

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tmnabeel30/CodeFlow-CLI/src/ui"
)

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		headerHeight := lipgloss.Height(ui.Header(m.styles))
		footerHeight := lipgloss.Height(ui.Footer(m.uiState(), m.styles))
		chatContainerVPadding := m.styles.ChatContainer.GetVerticalPadding()
		chatContainerHPadding := m.styles.ChatContainer.GetHorizontalPadding()
		m.width, m.height = msg.Width, msg.Height
		m.modellist.SetSize(m.width-chatContainerHPadding-2, m.height-headerHeight-footerHeight-chatContainerVPadding-2)
		m.dirlist.SetSize(m.width, m.height-headerHeight-footerHeight-2)                                             // No container padding
		m.textarea.SetWidth(m.width - chatContainerHPadding - 2)                                                     // -2 for border
		m.viewport.Width = m.width - chatContainerHPadding - 2                                                       // -2 for border
		m.viewport.Height = m.height - headerHeight - footerHeight - m.textarea.Height() - chatContainerVPadding - 4 // -4 for subtitle, status, thinking
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.mode == modeReview {
			return m.updateReview(msg)
		}

		switch msg.String() {

		case "ctrl+d": // shortcut to change directory
			if m.mode == modeChat && !m.isThinking {
				m.mode = modeDir
				m.dirlist.SetItems(loadDirs(m.working))
				m.dirlist.Select(0)
			}
			return m, nil

		case "ctrl+p": // shortcut to switch model
			if m.mode == modeChat && !m.isThinking {
				m.mode = modeModels
			}
			return m, nil

		case "left":
			if m.mode == modeDir {
				parent := filepath.Dir(m.working)
				if parent != m.working {
					m.working = parent
					m.dirlist.SetItems(loadDirs(m.working))
					m.dirlist.Select(0)
				}
				return m, nil
			}

		case "esc":
			switch m.mode {
			case modeModels:
				m.mode = modeChat
			case modeGoal:
				if !m.isThinking {
					m.mode = modeChat
					m.renderOutput(false)
				}
			case modeDir:
				if m.ws != nil {
					m.mode = modeChat
				}
			}
			return m, nil

		case "enter":
			switch m.mode {

			case modeDir:
				item, ok := m.dirlist.SelectedItem().(dirItem)
				if !ok {
					return m, nil
				}

				// --- Confirm current directory ---
				if strings.HasPrefix(item.name, "✅") {
					if err := m.bindWorkspace(m.working); err != nil {
						m.output += m.styles.Error.Render(fmt.Sprintf("❌ %v\n", err))
						m.renderOutput(true)
						return m, nil
					}
					m.mode = modeChat
					m.output += m.styles.Subtle.Render(fmt.Sprintf("Working in %s (%s project, %d files)\n",
						m.working, m.session.ProjectType, m.statusFiles))
					m.renderOutput(true)
					m.textarea.Focus()
					return m, nil
				}

				// --- Go up one level ---
				if item.name == "⬆️ ../" {
					parent := filepath.Dir(m.working)
					if parent != m.working {
						m.working = parent
						m.dirlist.SetItems(loadDirs(m.working))
						m.dirlist.Select(0)
					}
					return m, nil
				}

				// --- Enter a subfolder ---
				info, err := os.Stat(item.path)
				if err == nil && info.IsDir() {
					m.working = item.path
					m.dirlist.SetItems(loadDirs(m.working))
					m.dirlist.Select(0)
					return m, nil
				}

			case modeModels:
				if i, ok := m.modellist.SelectedItem().(modelItem); ok {
					m.session.CurrentModel = i.info.ID
					m.session.MarkModelUsed(i.info.ID)
					if m.goals != nil {
						m.goals.Model = i.info.ID
					}
					m.statusModel = i.info.ID
					m.output += m.styles.Subtle.Render(fmt.Sprintf("Switched to %s [%s]\n", i.info.ID, i.info.Alias))
					m.mode = modeChat
					m.renderOutput(true)
				}
				return m, nil

			case modeChat:
				if m.isThinking {
					return m, nil
				}
				raw := strings.TrimSpace(m.textarea.Value())
				if raw == "" {
					return m, nil
				}

				// Goal decomposition is opted into from chat
				if strings.HasPrefix(raw, "@goal ") {
					desc := strings.TrimSpace(strings.TrimPrefix(raw, "@goal "))
					if desc == "" {
						m.output += m.styles.Error.Render("❌ @goal needs a task description.\n")
						m.renderOutput(true)
						return m, nil
					}
					return m.runGoal(desc)
				}
				return m.runPrompt(raw)
			}
		}

	// --- Handle final message from a generation task ---
	case generateMsg:
		m.isThinking = false
		m.thinking = ""
		if msg.err != nil {
			m.output += m.styles.Error.Render(fmt.Sprintf("❌ %v\n", msg.err))
		} else {
			m.output += msg.text
			if msg.text != "" && !strings.HasSuffix(msg.text, "\n") {
				m.output += "\n"
			}
		}
		if m.mode == modeGoal {
			m.mode = modeChat
		}
		m.refreshStatus()
		m.renderOutput(true)
		return m, nil

	// --- Handle real-time progress from the goal engine ---
	case goalProgressMsg:
		m.goalTitle = fmt.Sprintf("Goal: %s", msg.description)
		lines := make([]string, 0, len(msg.subs))
		for _, sub := range msg.subs {
			line := fmt.Sprintf("%s %s", goalGlyph(sub.status), sub.description)
			if sub.status == StatusInProgress {
				line = m.styles.ListSelected.Render(line)
			}
			lines = append(lines, line)
		}
		m.goalLines = lines
		if m.isThinking {
			m.thinking = "executing sub-goals"
		}
		if m.mode != modeReview {
			m.mode = modeGoal
		}
		return m, nil

	case reviewRequestMsg:
		if m.mode != modeReview {
			m.prevMode = m.mode
		}
		m.mode = modeReview
		m.phase = phaseMenu
		m.reviewReq = msg.req
		m.reviewRespond = msg.respond
		m.viewport.SetContent(ui.ColorizeDiff(msg.req.Diff, m.styles))
		m.viewport.GotoTop()
		return m, nil

	case batchRequestMsg:
		if m.mode != modeReview {
			m.prevMode = m.mode
		}
		m.mode = modeReview
		m.phase = phaseBatchMenu
		m.batchReqs = msg.reqs
		m.batchRespond = msg.respond
		m.viewport.SetContent(m.batchPreview(msg.reqs))
		m.viewport.GotoTop()
		return m, nil

	case confirmRequestMsg:
		if m.mode != modeReview {
			m.prevMode = m.mode
		}
		m.mode = modeReview
		m.phase = phaseFileConfirm
		m.reviewReq = msg.req
		m.confirmRespond = msg.respond
		m.viewport.SetContent(ui.ColorizeDiff(msg.req.Diff, m.styles))
		m.viewport.GotoTop()
		return m, nil

	case editorFinishedMsg:
		return m.finishEdit(msg.err)
	}

	var cmd tea.Cmd
	var newCmd tea.Cmd
	switch m.mode {
	case modeDir:
		m.dirlist, newCmd = m.dirlist.Update(msg)
	case modeModels:
		m.modellist, newCmd = m.modellist.Update(msg)
	case modeChat:
		var textareaCmd, viewportCmd tea.Cmd
		m.textarea, textareaCmd = m.textarea.Update(msg)
		m.viewport, viewportCmd = m.viewport.Update(msg)
		newCmd = tea.Batch(textareaCmd, viewportCmd)
	case modeReview:
		m.viewport, newCmd = m.viewport.Update(msg)
	}
	cmd = tea.Batch(cmd, newCmd)

	if m.isThinking {
		var spinnerCmd tea.Cmd
		m.spinner, spinnerCmd = m.spinner.Update(msg)
		cmd = tea.Batch(cmd, spinnerCmd)
	}
	return m, cmd
}

// updateReview handles keys while a review round is on screen. Everything
// that is not a decision key scrolls the diff.
func (m *model) updateReview(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	switch m.phase {
	case phaseMenu:
		switch key {
		case "a", "A":
			return m.respondReview(ReviewOutcome{Decision: DecisionAccept, Content: m.reviewReq.Suggested}, "")
		case "e", "E":
			return m.openEditor()
		case "c", "C", "esc":
			return m.respondReview(ReviewOutcome{Decision: DecisionCancel}, "Changes cancelled")
		}

	case phaseEditConfirm:
		switch key {
		case "y", "Y":
			return m.respondReview(ReviewOutcome{Decision: DecisionAccept, Content: m.editedContent}, "")
		case "n", "N", "esc", "enter":
			// Anything but an explicit yes leaves the file untouched
			return m.respondReview(ReviewOutcome{Decision: DecisionCancel}, "Changes cancelled")
		}

	case phaseBatchMenu:
		switch key {
		case "1":
			return m.respondBatch(BatchAll)
		case "2":
			return m.respondBatch(BatchIndividual)
		case "3", "esc", "enter":
			return m.respondBatch(BatchNone)
		}

	case phaseFileConfirm:
		switch key {
		case "y", "Y":
			return m.respondConfirm(true)
		case "n", "N", "esc", "enter":
			return m.respondConfirm(false)
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *model) respondReview(outcome ReviewOutcome, note string) (*model, tea.Cmd) {
	if m.reviewRespond != nil {
		m.reviewRespond <- outcome
		m.reviewRespond = nil
	}
	if note != "" {
		m.output += m.styles.Subtle.Render(note + "\n")
	}
	return m.leaveReview()
}

func (m *model) respondBatch(decision BatchDecision) (*model, tea.Cmd) {
	if m.batchRespond != nil {
		m.batchRespond <- decision
		m.batchRespond = nil
	}
	return m.leaveReview()
}

func (m *model) respondConfirm(apply bool) (*model, tea.Cmd) {
	if m.confirmRespond != nil {
		m.confirmRespond <- apply
		m.confirmRespond = nil
	}
	if !apply {
		m.output += m.styles.Subtle.Render(fmt.Sprintf("⏭️ Skipped: %s\n", m.reviewReq.Path))
	}
	return m.leaveReview()
}

func (m *model) leaveReview() (*model, tea.Cmd) {
	m.mode = m.prevMode
	m.phase = phaseMenu
	m.renderOutput(false)
	return m, nil
}

// openEditor suspends the TUI and hands the suggestion to $EDITOR.
func (m *model) openEditor() (*model, tea.Cmd) {
	path, err := suggestionTempFile(m.reviewReq.Suggested)
	if err != nil {
		return m.respondReview(ReviewOutcome{Decision: DecisionCancel}, fmt.Sprintf("Editor setup failed: %v", err))
	}
	m.editPath = path
	return m, tea.ExecProcess(editorCommand(m.ctx, path), func(err error) tea.Msg {
		return editorFinishedMsg{err: err}
	})
}

func (m *model) finishEdit(editorErr error) (*model, tea.Cmd) {
	path := m.editPath
	m.editPath = ""
	if path != "" {
		defer os.Remove(path)
	}

	if editorErr != nil {
		return m.respondReview(ReviewOutcome{Decision: DecisionCancel}, "Editor exited with an error")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return m.respondReview(ReviewOutcome{Decision: DecisionCancel}, fmt.Sprintf("Could not read edited file: %v", err))
	}
	edited := string(data)
	if edited == m.reviewReq.Suggested {
		return m.respondReview(ReviewOutcome{Decision: DecisionAccept, Content: m.reviewReq.Suggested}, "No changes made in editor")
	}

	// Show what the edit changed relative to the suggestion and re-confirm
	m.editedContent = edited
	m.phase = phaseEditConfirm
	m.viewport.SetContent(ui.ColorizeDiff(Diff(m.reviewReq.Path, m.reviewReq.Suggested, edited), m.styles))
	m.viewport.GotoTop()
	return m, nil
}

func (m *model) batchPreview(reqs []ReviewRequest) string {
	var created, modified int
	for _, req := range reqs {
		if req.Kind == ChangeCreate {
			created++
		} else {
			modified++
		}
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%d proposed changes (%d create, %d modify)\n", len(reqs), created, modified))
	for i, req := range reqs {
		b.WriteString(fmt.Sprintf("\n%d. %s: %s\n", i+1, strings.ToUpper(string(req.Kind)), req.Path))
		b.WriteString(strings.Repeat("-", 60) + "\n")
		if req.Diff == "" {
			b.WriteString("No changes detected\n")
		} else {
			b.WriteString(ui.ColorizeDiff(req.Diff, m.styles) + "\n")
		}
	}
	return b.String()
}

func (m *model) runPrompt(raw string) (*model, tea.Cmd) {
	m.textarea.Reset()

	m.output += m.styles.Accent.Render("You: ") + raw + "\n\n"
	m.renderOutput(true)

	m.isThinking = true
	m.thinking = "thinking"

	pipeline := m.pipeline
	styles := m.styles
	ctx := m.ctx
	cmd := func() tea.Msg {
		result, err := pipeline.Run(ctx, raw)
		if err != nil {
			return generateMsg{"", err}
		}
		text := styles.Accent.Render("CodeFlow:") + "\n" + strings.TrimSpace(result.Response) + "\n\n"
		return generateMsg{text, nil}
	}
	return m, tea.Batch(cmd, m.spinner.Tick)
}

func (m *model) runGoal(desc string) (*model, tea.Cmd) {
	m.textarea.Reset()

	m.output += m.styles.Accent.Render("You: ") + "@goal " + desc + "\n\n"
	m.renderOutput(true)

	m.isThinking = true
	m.thinking = "decomposing goal"
	m.goalTitle = fmt.Sprintf("Goal: %s", desc)
	m.goalLines = nil
	m.prevMode = modeChat
	m.mode = modeGoal

	engine := m.goals
	styles := m.styles
	ctx := m.ctx
	cmd := func() tea.Msg {
		goal, err := engine.Execute(ctx, desc, desc)
		if err != nil {
			return generateMsg{"", err}
		}
		text := styles.Accent.Render("CodeFlow:") + "\n" + FormatGoalSummary(goal)
		return generateMsg{text, nil}
	}
	return m, tea.Batch(cmd, m.spinner.Tick)
}

func (m *model) renderOutput(follow bool) {
	m.viewport.SetContent(m.output)
	if follow {
		m.viewport.GotoBottom()
	}
}
