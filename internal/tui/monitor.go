package tui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattwade/papermill/internal/history"
)

// --- Styles ---

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	statusOK     = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusFailed = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)
)

// --- Types ---

type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	conversions []history.Entry

	health struct {
		Status        string
		UptimeSeconds int64
		SlotsInUse    int
		SlotsTotal    int
	}

	convTable table.Model
	lastErr   error
}

type healthMsg struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	SlotsInUse    int    `json:"slots_in_use"`
	SlotsTotal    int    `json:"slots_total"`
}

type conversionsMsg []history.Entry

// errMsg carries the poll that failed so Update can reschedule that poll
// rather than silently dropping its chain.
type errMsg struct {
	source string // "health" or "conversions"
	err    error
}

// --- Init ---

func NewMonitor(apiURL, apiKey string) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "From", Width: 6},
			{Title: "To", Width: 6},
			{Title: "Method", Width: 12},
			{Title: "ID", Width: 10},
			{Title: "Duration", Width: 10},
			{Title: "Error", Width: 40},
		}),
		table.WithFocused(true),
		table.WithHeight(12),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return &Model{
		apiURL:    apiURL,
		apiKey:    apiKey,
		convTable: t,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.pollHealth(),
		m.pollConversions(),
		tea.EnterAltScreen,
	)
}

// --- Update ---

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, tea.Batch(m.pollHealth(), m.pollConversions())
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.convTable.SetWidth(m.width - 6)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.SlotsInUse = msg.SlotsInUse
		m.health.SlotsTotal = msg.SlotsTotal
		m.lastErr = nil
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return m.fetchHealth()
		})

	case conversionsMsg:
		m.conversions = msg
		m.updateTable()
		return m, tea.Tick(2*time.Second, func(time.Time) tea.Msg {
			return m.fetchConversions()
		})

	case errMsg:
		m.lastErr = msg.err
		fetch := m.fetchHealth
		if msg.source == "conversions" {
			fetch = m.fetchConversions
		}
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetch()
		})
	}

	m.convTable, cmd = m.convTable.Update(msg)
	return m, cmd
}

func (m *Model) updateTable() {
	rows := make([]table.Row, 0, len(m.conversions))
	for _, e := range m.conversions {
		statusSym := statusOK.Render("●")
		errText := ""
		if !e.Success {
			statusSym = statusFailed.Render("∅")
			errText = string(e.FailureKind)
			if e.Error != "" {
				errText += ": " + e.Error
			}
		}

		id := e.ID
		if len(id) > 8 {
			id = id[:8]
		}

		rows = append(rows, table.Row{
			statusSym,
			e.InputFormat,
			e.OutputFormat,
			e.Method,
			id,
			(time.Duration(e.ElapsedMs) * time.Millisecond).String(),
			errText,
		})
	}
	m.convTable.SetRows(rows)
}

// --- View ---

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	header := m.renderHeader()
	conversions := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Conversions"),
			m.convTable.View(),
		),
	)

	help := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(" [q] Quit • [r] Refresh • [↑/↓] Scroll")
	if m.lastErr != nil {
		help += statusFailed.Render("  error: " + m.lastErr.Error())
	}

	return docStyle.Render(
		lipgloss.JoinVertical(
			lipgloss.Left,
			header,
			conversions,
			help,
		),
	)
}

func (m Model) renderHeader() string {
	status := statusOK.Render("RUNNING")
	if m.health.Status != "ok" && m.health.Status != "" {
		status = statusFailed.Render("DEGRADED")
	}

	uptime := time.Duration(m.health.UptimeSeconds) * time.Second

	items := []string{
		fmt.Sprintf("Status: %s", status),
		fmt.Sprintf("Uptime: %s", uptime.String()),
		fmt.Sprintf("Slots: %d/%d", m.health.SlotsInUse, m.health.SlotsTotal),
		fmt.Sprintf("Shown: %d", len(m.conversions)),
	}

	cells := make([]string, len(items))
	for i, item := range items {
		cells[i] = lipgloss.NewStyle().Width((m.width - 4) / 4).Render(item)
	}

	return borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinHorizontal(lipgloss.Top, cells...),
	)
}

// --- Commands ---

func (m Model) pollHealth() tea.Cmd {
	return func() tea.Msg {
		return m.fetchHealth()
	}
}

func (m Model) fetchHealth() tea.Msg {
	client := &http.Client{Timeout: 2 * time.Second}
	req, _ := http.NewRequest("GET", m.apiURL+"/healthz", nil)

	resp, err := client.Do(req)
	if err != nil {
		return errMsg{source: "health", err: err}
	}
	defer resp.Body.Close()

	var h healthMsg
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg{source: "health", err: err}
	}
	return h
}

func (m Model) pollConversions() tea.Cmd {
	return func() tea.Msg {
		return m.fetchConversions()
	}
}

func (m Model) fetchConversions() tea.Msg {
	client := &http.Client{Timeout: 2 * time.Second}
	req, _ := http.NewRequest("GET", m.apiURL+"/api/v1/conversions?limit=50", nil)
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return errMsg{source: "conversions", err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errMsg{source: "conversions", err: fmt.Errorf("conversions request failed: %s", strings.TrimSpace(resp.Status))}
	}

	var body struct {
		Conversions []history.Entry `json:"conversions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return errMsg{source: "conversions", err: err}
	}
	return conversionsMsg(body.Conversions)
}
