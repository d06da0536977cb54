// Package tui renders the keyrace dashboard in the terminal.
package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aayushbajaj/keyrace/internal/counter"
	"github.com/aayushbajaj/keyrace/internal/leaderboard"
	"github.com/aayushbajaj/keyrace/internal/storage"
)

const (
	historyDays     = 7
	refreshInterval = time.Second
	leaderboardRows = 10
	topKeysShown    = 5
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)
	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(0, 1)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	valueStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FAFAFA"))
	barStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	leaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F2C94C"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
)

var bars = []rune("▁▂▃▄▅▆▇█")

// Source supplies the data the dashboard shows.
type Source interface {
	Snapshot() counter.Snapshot
	Leaderboard() []leaderboard.Entry
	History(days int) ([]storage.DayTotal, error)
}

// Model is the bubbletea model for the dashboard.
type Model struct {
	src Source

	snapshot *counter.Snapshot
	entries  []leaderboard.Entry
	history  []storage.DayTotal
	err      error

	filtering bool
	filter    string

	width  int
	height int
}

type statsMsg struct {
	snapshot counter.Snapshot
	entries  []leaderboard.Entry
	history  []storage.DayTotal
	err      error
}

type tickMsg time.Time

// New creates the dashboard. src may be nil, in which case nothing is fetched.
func New(src Source) Model {
	return Model{src: src}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetchStats, tick())
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) fetchStats() tea.Msg {
	if m.src == nil {
		return statsMsg{}
	}
	history, err := m.src.History(historyDays)
	return statsMsg{
		snapshot: m.src.Snapshot(),
		entries:  m.src.Leaderboard(),
		history:  history,
		err:      err,
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.filtering {
			return m.updateFilter(msg)
		}
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.fetchStats
		case "/":
			m.filtering = true
			return m, nil
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		return m, tea.Batch(m.fetchStats, tick())
	case statsMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		if m.src != nil {
			snap := msg.snapshot
			m.snapshot = &snap
		}
		m.entries = msg.entries
		m.history = msg.history
	}
	return m, nil
}

func (m Model) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyEsc:
		m.filtering = false
		m.filter = ""
	case tea.KeyEnter:
		m.filtering = false
	case tea.KeyBackspace:
		if r := []rune(m.filter); len(r) > 0 {
			m.filter = string(r[:len(r)-1])
		}
	case tea.KeyRunes, tea.KeySpace:
		m.filter += string(msg.Runes)
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if m.err != nil {
		return errorStyle.Render("Error: "+m.err.Error()) + "\n\nPress q to quit."
	}
	if m.snapshot == nil {
		return "Loading..."
	}

	c := &m.snapshot.Counters
	var b strings.Builder
	b.WriteString(titleStyle.Render("⌨  Keyrace"))
	b.WriteString("\n\n")

	today := fmt.Sprintf("%s  %s\n%s  %s",
		labelStyle.Render("Today:"), valueStyle.Render(counter.FormatCount(c.Total)),
		labelStyle.Render("Top keys:"), valueStyle.Render(topKeys(c, topKeysShown)))
	b.WriteString(sectionStyle.Render("Today\n" + today))
	b.WriteString("\n")

	b.WriteString(sectionStyle.Render("Last 20 minutes\n" + m.renderMinutesGraph()))
	b.WriteString("\n")
	b.WriteString(sectionStyle.Render("Today by hour\n" + m.renderHourlyGraph()))
	b.WriteString("\n")
	b.WriteString(sectionStyle.Render("This Week\n" + m.renderWeeklyGraph()))
	b.WriteString("\n")
	b.WriteString(sectionStyle.Render("Leaderboard\n" + m.renderLeaderboard()))
	b.WriteString("\n")

	if m.filtering {
		b.WriteString(helpStyle.Render("filter: " + m.filter + "█  (enter to keep, esc to clear)"))
	} else {
		b.WriteString(helpStyle.Render("r: refresh • /: find player • q: quit"))
	}
	return b.String()
}

func (m Model) renderMinutesGraph() string {
	values := m.snapshot.Charts.Minutes
	if max64(values) == 0 {
		return "No activity in the last 20 minutes"
	}
	return barStyle.Render(Sparkline(values))
}

func (m Model) renderHourlyGraph() string {
	if m.snapshot == nil {
		return "No data"
	}
	hours := m.snapshot.Charts.Hours
	if max64(hours) == 0 {
		return "No activity today"
	}
	var labels strings.Builder
	for h := 0; h < len(hours); h += 6 {
		labels.WriteString(fmt.Sprintf("%-6d", h))
	}
	return barStyle.Render(Sparkline(hours)) + "\n" + labelStyle.Render(labels.String())
}

func (m Model) renderWeeklyGraph() string {
	if len(m.history) == 0 {
		return "No data"
	}
	values := make([]int64, len(m.history))
	for i, d := range m.history {
		values[i] = d.Keystrokes
	}
	if max64(values) == 0 {
		return "No activity this week"
	}

	var rows []string
	rows = append(rows, barStyle.Render(Sparkline(values)))
	for _, d := range m.history {
		rows = append(rows, fmt.Sprintf("%s  %s", labelStyle.Render(d.Date), formatNumber(d.Keystrokes)))
	}
	return strings.Join(rows, "\n")
}

func (m Model) renderLeaderboard() string {
	if len(m.entries) == 0 {
		return "Log in with `keyrace login` to join the race"
	}
	ranked := leaderboard.FilterEntries(m.entries, m.filter)
	if len(ranked) == 0 {
		return "No players match " + fmt.Sprintf("%q", m.filter)
	}
	if len(ranked) > leaderboardRows {
		ranked = ranked[:leaderboardRows]
	}
	var rows []string
	for _, r := range ranked {
		line := fmt.Sprintf("%2d. @%-20s %s", r.Rank+1, r.Username, r.ScoreString(r.Rank))
		if r.Rank == 0 {
			line = leaderStyle.Render(line)
		}
		rows = append(rows, line)
	}
	return strings.Join(rows, "\n")
}

// Sparkline scales values onto the bar glyphs. Non-zero values get at least the second glyph.
func Sparkline(values []int64) string {
	maxVal := max64(values)
	var b strings.Builder
	for _, v := range values {
		idx := 0
		if maxVal > 0 && v > 0 {
			idx = int(v * int64(len(bars)-1) / maxVal)
			if idx == 0 {
				idx = 1
			}
		}
		b.WriteRune(bars[idx])
	}
	return b.String()
}

// topKeys lists the most pressed printable characters, busiest first.
func topKeys(c *counter.DailyCounters, n int) string {
	type keyCount struct {
		key   byte
		count int64
	}
	var counts []keyCount
	for k := 33; k < 127; k++ {
		if c.Keys[k] > 0 {
			counts = append(counts, keyCount{byte(k), c.Keys[k]})
		}
	}
	if len(counts) == 0 {
		return "-"
	}
	sort.SliceStable(counts, func(i, j int) bool { return counts[i].count > counts[j].count })
	if len(counts) > n {
		counts = counts[:n]
	}
	parts := make([]string, len(counts))
	for i, kc := range counts {
		parts[i] = fmt.Sprintf("%c %s", kc.key, formatNumber(kc.count))
	}
	return strings.Join(parts, "  ")
}

func max64(values []int64) int64 {
	var m int64
	for _, v := range values {
		if v > m {
			m = v
		}
	}
	return m
}

func formatNumber(n int64) string {
	switch {
	case n >= 1000000:
		return fmt.Sprintf("%.1fM", float64(n)/1000000)
	case n >= 1000:
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	default:
		return fmt.Sprintf("%d", n)
	}
}
