package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/betbot/iqblitz/pkg/sdk/iqoption"
)

const watchRows = 15

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	columnStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("245"))

	upStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("2"))

	downStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1"))

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

// candleRow is one line of the watch table.
type candleRow struct {
	From                           int64
	Open, High, Low, Close, Volume float64
}

func rowFromCandle(c iqoption.Candle) candleRow {
	return candleRow{From: c.From, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume}
}

func rowFromTick(t iqoption.CandleTick) candleRow {
	return candleRow{From: t.From, Open: t.Open, High: t.High, Low: t.Low, Close: t.Close, Volume: t.Volume}
}

// candleMsg carries one live candle update into the program.
type candleMsg iqoption.CandleTick

// watchModel renders a rolling candle table for one active and interval.
type watchModel struct {
	activeID int64
	interval int
	rows     []candleRow
	updates  int
	lastAt   time.Time
	now      func() time.Time
}

func newWatchModel(activeID int64, interval int, history []iqoption.Candle) watchModel {
	m := watchModel{activeID: activeID, interval: interval, now: time.Now}
	for _, c := range history {
		m.rows = append(m.rows, rowFromCandle(c))
	}
	m.trim()
	return m
}

func (m watchModel) Init() tea.Cmd { return nil }

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		}
	case candleMsg:
		m.upsert(rowFromTick(iqoption.CandleTick(msg)))
		m.updates++
		m.lastAt = m.now()
	}
	return m, nil
}

// upsert replaces the row of the live interval or appends a new one. The
// table stays ordered by interval start.
func (m *watchModel) upsert(r candleRow) {
	for i := len(m.rows) - 1; i >= 0; i-- {
		switch {
		case m.rows[i].From == r.From:
			m.rows[i] = r
			return
		case m.rows[i].From < r.From:
			m.rows = append(m.rows[:i+1], append([]candleRow{r}, m.rows[i+1:]...)...)
			m.trim()
			return
		}
	}
	m.rows = append([]candleRow{r}, m.rows...)
	m.trim()
}

func (m *watchModel) trim() {
	if n := len(m.rows); n > watchRows {
		m.rows = append([]candleRow(nil), m.rows[n-watchRows:]...)
	}
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("active %d  %ds candles", m.activeID, m.interval)))
	b.WriteString("\n\n")

	var table strings.Builder
	table.WriteString(columnStyle.Render(fmt.Sprintf("%-8s %12s %12s %12s %12s %10s", "time", "open", "high", "low", "close", "volume")))
	for _, r := range m.rows {
		style := upStyle
		if r.Close < r.Open {
			style = downStyle
		}
		table.WriteString("\n")
		table.WriteString(fmt.Sprintf("%-8s %12.6f %12.6f %12.6f ",
			time.Unix(r.From, 0).Format("15:04:05"), r.Open, r.High, r.Low))
		table.WriteString(style.Render(fmt.Sprintf("%12.6f", r.Close)))
		table.WriteString(fmt.Sprintf(" %10.0f", r.Volume))
	}
	if len(m.rows) == 0 {
		table.WriteString("\nwaiting for candles...")
	}
	b.WriteString(borderStyle.Render(table.String()))
	b.WriteString("\n")

	last := "never"
	if !m.lastAt.IsZero() {
		last = m.lastAt.Format("15:04:05")
	}
	b.WriteString(footerStyle.Render(fmt.Sprintf("%d updates, last %s  (q to quit)", m.updates, last)))
	b.WriteString("\n")
	return b.String()
}
