package src

import (
	"fmt"

	"github.com/tmnabeel30/CodeFlow-CLI/src/ui"
)

func (m *model) View() string {
	return ui.Render(m.uiState(), m.styles)
}

// uiState copies the render-relevant fields into the ui package's value
// type. The renderer never sees the model itself.
func (m *model) uiState() ui.State {
	s := ui.State{
		Mode:           m.uiMode(),
		WorkingDir:     m.working,
		SessionID:      m.session.ID,
		Model:          m.statusModel,
		ContextFiles:   m.statusFiles,
		ContextBytes:   m.statusBytes,
		ContextPct:     m.statusPct,
		RecentChanges:  m.statusChanges,
		TranscriptPath: m.transcriptPath,
		IsThinking:     m.isThinking,
		ThinkingText:   m.thinking,
		Output:         m.output,
		GoalTitle:      m.goalTitle,
		GoalLines:      m.goalLines,
		ModelList:      m.modellist,
		DirList:        m.dirlist,
		TextArea:       m.textarea,
		Viewport:       m.viewport,
		Spinner:        m.spinner,
	}
	if m.mode == modeReview {
		s.ReviewTitle = m.reviewTitle()
		s.ReviewHint = m.reviewHint()
	}
	return s
}

func (m *model) uiMode() ui.Mode {
	switch m.mode {
	case modeDir:
		return ui.ModeDir
	case modeModels:
		return ui.ModeModels
	case modeReview:
		return ui.ModeReview
	case modeGoal:
		return ui.ModeGoal
	default:
		return ui.ModeChat
	}
}

func (m *model) reviewTitle() string {
	switch m.phase {
	case phaseBatchMenu:
		return fmt.Sprintf("Review: %d proposed changes", len(m.batchReqs))
	case phaseEditConfirm:
		return fmt.Sprintf("Your edit of %s", m.reviewReq.Path)
	case phaseFileConfirm:
		return fmt.Sprintf("Apply changes to %s?", m.reviewReq.Path)
	default:
		return fmt.Sprintf("Review: %s (%s)", m.reviewReq.Path, m.reviewReq.Kind)
	}
}

func (m *model) reviewHint() string {
	switch m.phase {
	case phaseEditConfirm:
		return "y: apply your edit | n: cancel"
	case phaseBatchMenu:
		return "1: apply all | 2: one by one | 3: cancel"
	case phaseFileConfirm:
		return "y: apply | n: skip"
	default:
		return "a: accept | e: edit | c: cancel"
	}
}
