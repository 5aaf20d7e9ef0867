package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/adamgarcia4/goLearning/hydfs/logger"
	"github.com/adamgarcia4/goLearning/hydfs/membership"
	"github.com/adamgarcia4/goLearning/hydfs/node"
)

var interactiveDataDir string

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Start an interactive local cluster manager",
	Long: `Start a terminal UI that runs a whole HyDFS cluster in one process.

The first node created becomes the introducer; later nodes join through
it. Each node gets its own store root under --data-dir.

Keyboard shortcuts:
  C - Create a new node
  D - Delete a node (shows selection menu)
  Q - Quit

Examples:
  hydfs interactive
  hydfs interactive --data-dir=/tmp/hydfs-demo`,
	Run: runInteractive,
}

func init() {
	rootCmd.AddCommand(interactiveCmd)
	interactiveCmd.Flags().StringVar(&interactiveDataDir, "data-dir", "", "Directory for per-node store roots (default: a temp dir)")
}

const logWindow = 15

type model struct {
	manager      *node.Manager
	nodes        []*node.Node
	deleteMode   bool
	selected     int
	err          error
	logBuffer    *logger.LogBuffer
	logScroll    int
	width        int
	height       int
	lastCommand  string // repeated on Enter
	numericInput string // digit buffer while in delete mode
}

func initialModel(dataDir string) model {
	// TUI owns the terminal, so logs go to the ring buffer only.
	logBuffer := logger.GetGlobalLogBuffer()
	logger.Init("", false)
	logger.AddOutput(logger.NewLogBufferWriter(logBuffer))

	return model{
		manager:   node.NewManager(dataDir),
		nodes:     []*node.Node{},
		logBuffer: logBuffer,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tick(), refreshNodes(m.manager))
}

type tickMsg struct{}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

type nodesUpdatedMsg struct {
	nodes []*node.Node
}

func refreshNodes(manager *node.Manager) tea.Cmd {
	return func() tea.Msg {
		return nodesUpdatedMsg{nodes: manager.GetNodes()}
	}
}

type shutdownCompleteMsg struct {
	err error
}

func shutdownNodes(manager *node.Manager) tea.Cmd {
	return func() tea.Msg {
		return shutdownCompleteMsg{err: manager.StopAll()}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, shutdownNodes(m.manager)
		}
		if m.deleteMode {
			return m.handleDeleteMode(msg)
		}
		return m.handleNormalMode(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		return m, tea.Batch(tick(), refreshNodes(m.manager))

	case nodesUpdatedMsg:
		m.nodes = msg.nodes
		return m, nil

	case shutdownCompleteMsg:
		if msg.err != nil {
			logger.Printf("Error stopping nodes during shutdown: %v", msg.err)
		}
		return m, tea.Quit
	}
	return m, nil
}

func (m model) handleNormalMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "c", "C":
		m.createNode()
		if m.err == nil {
			m.lastCommand = "create"
		}
		return m, nil

	case "d", "D":
		if len(m.nodes) == 0 {
			m.err = fmt.Errorf("no nodes to delete")
			return m, nil
		}
		m.deleteMode = true
		m.selected = 0
		m.numericInput = ""
		return m, nil

	case "enter":
		return m.repeatLast()

	case "esc":
		m.err = nil
		return m, nil

	case "up", "k":
		if max := len(m.logBuffer.GetAll()) - logWindow; m.logScroll < max {
			m.logScroll++
		}
		return m, nil

	case "down", "j":
		if m.logScroll > 0 {
			m.logScroll--
		}
		return m, nil
	}
	return m, nil
}

func (m *model) createNode() {
	if _, err := m.manager.CreateNode(); err != nil {
		m.err = err
		return
	}
	m.err = nil
	m.nodes = m.manager.GetNodes()
}

func (m *model) deleteAt(index int) {
	if err := m.manager.DeleteNode(index); err != nil {
		m.err = err
		return
	}
	m.err = nil
	m.nodes = m.manager.GetNodes()
	m.deleteMode = false
	m.selected = 0
	m.lastCommand = fmt.Sprintf("delete:%d", index)
}

func (m model) repeatLast() (tea.Model, tea.Cmd) {
	switch {
	case m.lastCommand == "create":
		m.createNode()
	case strings.HasPrefix(m.lastCommand, "delete:"):
		index, err := strconv.Atoi(strings.TrimPrefix(m.lastCommand, "delete:"))
		if err != nil {
			return m, nil
		}
		if index < 0 || index >= len(m.nodes) {
			m.err = fmt.Errorf("node %d no longer exists", index+1)
			return m, nil
		}
		m.deleteAt(index)
	}
	return m, nil
}

func (m model) handleDeleteMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key := msg.String(); key {
	case "esc":
		m.deleteMode = false
		m.selected = 0
		m.err = nil
		m.numericInput = ""
		return m, nil

	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
		return m, nil

	case "down", "j":
		if m.selected < len(m.nodes)-1 {
			m.selected++
		}
		return m, nil

	case "enter", " ":
		if m.numericInput != "" {
			input := m.numericInput
			m.numericInput = ""
			num, err := strconv.Atoi(input)
			if err != nil {
				m.err = fmt.Errorf("invalid number: %q", input)
				return m, nil
			}
			if num < 1 || num > len(m.nodes) {
				m.err = fmt.Errorf("node %d does not exist (have %d)", num, len(m.nodes))
				return m, nil
			}
			m.deleteAt(num - 1)
			return m, nil
		}
		m.deleteAt(m.selected)
		return m, nil

	default:
		if len(key) == 1 && key >= "0" && key <= "9" {
			m.numericInput += key
			m.err = nil
			return m, nil
		}
		m.numericInput = ""
		return m, nil
	}
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(1, 2)
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
	selectedStyle = lipgloss.NewStyle().
			PaddingLeft(2).
			Foreground(lipgloss.Color("196")).
			Bold(true)
	logBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1).
			Height(logWindow - 2)
	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true).
			PaddingTop(1)
)

func (m model) View() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("HyDFS Cluster Manager"))
	s.WriteString("\n\n")

	if m.err != nil {
		s.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		s.WriteString("\n\n")
	}

	if len(m.nodes) == 0 {
		s.WriteString("No nodes running. Press C to start the introducer.\n\n")
	} else {
		s.WriteString("Running Nodes:\n\n")
		for i, n := range m.nodes {
			line := describeNode(i, n)
			if m.deleteMode && i == m.selected {
				s.WriteString(selectedStyle.Render("> " + line))
			} else {
				s.WriteString("    " + line)
			}
			s.WriteString("\n")
		}
		s.WriteString("\n")
	}

	s.WriteString("\n")
	s.WriteString(m.renderLogBox())
	s.WriteString("\n\n")
	s.WriteString(helpStyle.Render(m.helpLine()))
	return s.String()
}

// describeNode summarizes one node: address, role, how many members it
// sees alive, and how many files it stores.
func describeNode(i int, n *node.Node) string {
	alive := 0
	for _, info := range n.Detector().List().Snapshot() {
		if info.Status == membership.Alive {
			alive++
		}
	}
	role := ""
	if n.Config().IsIntroducer() {
		role = " (introducer)"
	}
	files := len(n.Coordinator().ListStore())
	return fmt.Sprintf("[%d] %-22s%s  %s  alive: %d  files: %d",
		i+1, n.Config().Addr(), role, n.Detector().Mode(), alive, files)
}

func (m model) renderLogBox() string {
	entries := m.logBuffer.GetAll()

	var lines []string
	if len(entries) == 0 {
		lines = []string{"     | (no logs yet)"}
	} else {
		// Newest first; logScroll steps back into history. The line
		// number is the entry's distance from the newest entry.
		newest := len(entries) - 1 - m.logScroll
		if newest < 0 {
			newest = 0
		}
		for i := newest; i >= 0 && len(lines) < logWindow; i-- {
			lines = append(lines, fmt.Sprintf("%4d | %s", len(entries)-1-i, logger.FormatLogEntry(entries[i])))
		}
	}

	boxWidth := 100
	if m.width > 0 {
		boxWidth = m.width - 4
	}
	return logBoxStyle.Width(boxWidth).Render("Logs:\n" + strings.Join(lines, "\n"))
}

func (m model) helpLine() string {
	if m.deleteMode {
		if m.numericInput != "" {
			return fmt.Sprintf("DELETE MODE: node number so far: %s, Enter to confirm, Esc to cancel", m.numericInput)
		}
		return fmt.Sprintf("DELETE MODE: ↑/↓/j/k or type a node number (1-%d), Enter to confirm, Esc to cancel", len(m.nodes))
	}
	help := "Press C to create a node | D to delete a node"
	if m.lastCommand != "" {
		help += fmt.Sprintf(" | Enter to repeat (%s)", formatCommandPreview(m.lastCommand))
	}
	return help + " | ↑/↓/j/k to scroll logs | Q to quit"
}

func formatCommandPreview(lastCommand string) string {
	if index, ok := strings.CutPrefix(lastCommand, "delete:"); ok {
		return "D → " + incrementIndex(index)
	}
	if lastCommand == "create" {
		return "C"
	}
	return lastCommand
}

func incrementIndex(s string) string {
	n, err := strconv.Atoi(s)
	if err != nil {
		return s
	}
	return strconv.Itoa(n + 1)
}

func runInteractive(cmd *cobra.Command, args []string) {
	dataDir := interactiveDataDir
	if dataDir == "" {
		dir, err := os.MkdirTemp("", "hydfs-cluster-")
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create data dir: %v\n", err)
			os.Exit(1)
		}
		dataDir = dir
	}

	p := tea.NewProgram(initialModel(dataDir))
	if _, err := p.Run(); err != nil {
		fmt.Printf("Error running interactive mode: %v\n", err)
	}
}
