package ui

import (
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
)

// Mode represents the current UI state
type Mode int

const (
	ModeDir Mode = iota
	ModeChat
	ModeModels
	ModeReview
	ModeGoal
)

// State contains all the data required to render the UI.
// This decouples the renderer from the main application logic.
type State struct {
	Mode           Mode
	WorkingDir     string
	SessionID      string
	Model          string
	ContextFiles   int
	ContextBytes   int64
	ContextPct     float64
	RecentChanges  []string
	TranscriptPath string
	IsThinking     bool
	ThinkingText   string
	Output         string
	ReviewTitle    string
	ReviewHint     string
	GoalTitle      string
	GoalLines      []string

	// Bubble Tea models
	ModelList list.Model
	DirList   list.Model
	TextArea  textarea.Model
	Viewport  viewport.Model
	Spinner   spinner.Model
}
