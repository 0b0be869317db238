package src

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/tmnabeel30/CodeFlow-CLI/src/ui"
)

type mode int

const (
	modeDir mode = iota
	modeChat
	modeModels
	modeReview
	modeGoal
)

// reviewPhase tracks which question the review screen is currently asking.
type reviewPhase int

const (
	phaseMenu reviewPhase = iota
	phaseEditConfirm
	phaseBatchMenu
	phaseFileConfirm
)

// recentChangeLimit caps the change names shown in the status bar.
const recentChangeLimit = 10

type modelItem struct{ info ModelInfo }

func (i modelItem) Title() string { return i.info.ID }
func (i modelItem) Description() string {
	return fmt.Sprintf("[%s] %s", i.info.Alias, i.info.Description)
}
func (i modelItem) FilterValue() string { return i.info.ID }

type dirItem struct {
	name string
	path string
}

func (d dirItem) Title() string       { return d.name }
func (d dirItem) Description() string { return d.path }
func (d dirItem) FilterValue() string { return d.name }

type generateMsg struct {
	text string
	err  error
}

// reviewRequestMsg asks the Update loop to run one accept/edit/cancel round.
// The worker goroutine blocks on respond until the user decides.
type reviewRequestMsg struct {
	req     ReviewRequest
	respond chan ReviewOutcome
}

// batchRequestMsg asks for the upfront all/individual/cancel choice.
type batchRequestMsg struct {
	reqs    []ReviewRequest
	respond chan BatchDecision
}

// confirmRequestMsg asks the per-file yes/no of individual batch mode.
type confirmRequestMsg struct {
	req     ReviewRequest
	respond chan bool
}

// editorFinishedMsg arrives after the external editor process exits.
type editorFinishedMsg struct {
	err error
}

type subGoalView struct {
	status      GoalStatus
	description string
}

// goalProgressMsg is a value snapshot of goal progress, sent from the
// engine goroutine after every sub-goal status change.
type goalProgressMsg struct {
	description string
	subs        []subGoalView
}

type model struct {
	ctx     context.Context
	cfg     *Config
	client  *Client
	session *SessionState
	store   *TranscriptStore
	logger  *zap.Logger

	// Bound on directory confirmation.
	ws       *Workspace
	pipeline *Pipeline
	goals    *GoalEngine

	working    string
	mode       mode
	prevMode   mode
	isThinking bool
	thinking   string
	output     string

	modellist list.Model
	dirlist   list.Model
	textarea  textarea.Model
	viewport  viewport.Model
	spinner   spinner.Model

	width  int
	height int
	styles ui.Styles

	// In-flight review round. The respond channels are buffered so the
	// Update loop never blocks on a worker that already gave up.
	phase          reviewPhase
	reviewReq      ReviewRequest
	batchReqs      []ReviewRequest
	reviewRespond  chan ReviewOutcome
	batchRespond   chan BatchDecision
	confirmRespond chan bool
	editPath       string
	editedContent  string

	goalTitle string
	goalLines []string

	// Status snapshot. Refreshed only while no worker goroutine runs, so
	// the render path never reads the session concurrently.
	statusModel    string
	statusFiles    int
	statusBytes    int64
	statusPct      float64
	statusChanges  []string
	transcriptPath string

	Program *tea.Program
}

func NewModel(ctx context.Context, cfg *Config, client *Client, session *SessionState, store *TranscriptStore, startDir string, logger *zap.Logger) *model {
	if logger == nil {
		logger = zap.NewNop()
	}

	dirItems := loadDirs(startDir)
	dirDelegate := list.NewDefaultDelegate()
	dirList := list.New(dirItems, dirDelegate, 0, 0)
	dirList.Title = "Choose Working Directory"
	dirList.SetShowHelp(false)
	dirList.SetShowStatusBar(false)
	dirList.SetFilteringEnabled(false)

	ml := list.New(modelItems(), list.NewDefaultDelegate(), 0, 0)
	ml.Title = "Select Model"
	ml.SetShowHelp(false)
	ml.SetShowStatusBar(false)
	ml.SetFilteringEnabled(false)

	ta := textarea.New()
	ta.Placeholder = "Describe your task or goal..."
	ta.Focus()
	ta.SetHeight(3)

	st := ui.NewStyles()

	welcome := "Welcome to CodeFlow! Pick a working directory to get started."
	if cfg != nil && cfg.FirstRun {
		welcome += "\n\nTip: plain messages chat about your code, modification requests" +
			"\nopen a review screen, and @goal <task> breaks big work into steps."
	}
	vp := viewport.New(0, 0)
	vp.SetContent(welcome)

	s := spinner.New()
	s.Spinner = spinner.Line
	s.Style = st.Thinking

	return &model{
		ctx:         ctx,
		cfg:         cfg,
		client:      client,
		session:     session,
		store:       store,
		logger:      logger,
		working:     startDir,
		mode:        modeDir,
		modellist:   ml,
		dirlist:     dirList,
		textarea:    ta,
		viewport:    vp,
		spinner:     s,
		styles:      st,
		statusModel: session.CurrentModel,
	}
}

func loadDirs(path string) []list.Item {
	if path == "" {
		path, _ = os.Getwd()
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return []list.Item{dirItem{name: "(error reading dir)", path: path}}
	}
	var items []list.Item

	// 1. Add confirmation item
	items = append(items, dirItem{name: fmt.Sprintf("✅ Use this directory (%s)", filepath.Base(path)), path: path})

	// 2. Add parent directory navigation
	if path != "/" {
		items = append(items, dirItem{name: "⬆️ ../", path: filepath.Dir(path)})
	}

	// 3. Add subdirectories
	for _, e := range entries { // Already sorted by ReadDir
		if e.IsDir() {
			items = append(items, dirItem{name: "📁 " + e.Name() + "/", path: filepath.Join(path, e.Name())})
		}
	}
	return items
}

func modelItems() []list.Item {
	infos := Catalog()
	items := make([]list.Item, 0, len(infos))
	for _, info := range infos {
		items = append(items, modelItem{info: info})
	}
	return items
}

// bindWorkspace scans the chosen directory and builds the engines around
// it. Called again whenever the user picks a new directory.
func (m *model) bindWorkspace(root string) error {
	ws, err := NewWorkspace(root, m.logger)
	if err != nil {
		return err
	}
	files, err := ws.Scan()
	if err != nil {
		return err
	}

	review := NewReviewEngine(ws, tuiReviewer{m: m}, m.logger)
	pipeline := NewPipeline(m.client, ws, m.session, review, m.logger)
	pipeline.Transcript = m.store

	goals := NewGoalEngine(m.client, ws, MarkerExtractor{}, review, m.session.CurrentModel, m.logger)
	goals.Progress = func(goal *Goal, _ *SubGoal) {
		msg := goalProgressMsg{description: goal.Description}
		for _, sub := range goal.SubGoals {
			msg.subs = append(msg.subs, subGoalView{status: sub.Status, description: sub.Description})
		}
		if m.Program != nil {
			m.Program.Send(msg)
		}
	}

	structure := ws.Structure()
	m.session.WorkspacePath = root
	m.session.AccessibleFiles = len(files)
	m.session.ProjectType = structure.Type
	m.session.RecordOperation("workspace_scan", fmt.Sprintf("%s (%d files)", root, len(files)))

	m.ws = ws
	m.pipeline = pipeline
	m.goals = goals
	if m.store != nil {
		m.transcriptPath = m.store.Path(m.session.ID)
	}
	m.refreshStatus()
	return nil
}

// refreshStatus snapshots the counters the status bar shows. Only called
// while the worker is idle.
func (m *model) refreshStatus() {
	m.statusModel = m.session.CurrentModel
	m.statusPct = m.session.ContextUtilization()
	if m.statusPct > 100 {
		m.statusPct = 100
	}

	m.statusChanges = nil
	changes := m.session.RecentChanges
	if len(changes) > recentChangeLimit {
		changes = changes[len(changes)-recentChangeLimit:]
	}
	for _, c := range changes {
		m.statusChanges = append(m.statusChanges, c.Name)
	}

	if m.ws != nil {
		files := m.ws.Files()
		m.statusFiles = len(files)
		var total int64
		for _, f := range files {
			total += f.Size
		}
		m.statusBytes = total
	}
}

func (m *model) Init() tea.Cmd { return nil }
