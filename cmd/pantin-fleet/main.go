// Package main provides pantin-fleet, a terminal dashboard that polls a
// running pantin instance's /fleet endpoint and renders pool occupancy
// and per-host request stats live.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const pollInterval = 2 * time.Second

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	valueStyle = lipgloss.NewStyle().Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	headerCell = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252")).Padding(0, 1)
	bodyCell   = lipgloss.NewStyle().Padding(0, 1)
)

// poolStats mirrors types.PoolStatsSnapshot's JSON shape without importing
// the module's internal packages from a cmd binary.
type poolStats struct {
	LiveCount  int64 `json:"live_count"`
	IdleCount  int64 `json:"idle_count"`
	LeaseCount int64 `json:"leased_count"`
	Acquired   int64 `json:"acquired"`
	Released   int64 `json:"released"`
	Recycled   int64 `json:"recycled"`
	Discarded  int64 `json:"discarded"`
	Errors     int64 `json:"errors"`
}

type hostStats struct {
	RequestCount int64  `json:"requestCount"`
	SuccessCount int64  `json:"successCount"`
	ErrorCount   int64  `json:"errorCount"`
	AvgLatencyMs int64  `json:"avgLatencyMs"`
	Host         string `json:"-"`
}

type fleetSnapshot struct {
	Pool  poolStats            `json:"pool"`
	Hosts map[string]hostStats `json:"hosts"`
}

type fleetMsg struct {
	snapshot *fleetSnapshot
	err      error
}

type model struct {
	url      string
	snapshot *fleetSnapshot
	err      error
	width    int
}

func newModel(url string) model {
	return model{url: url}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(pollOnce(m.url), tickEvery(pollInterval))
}

func pollOnce(url string) tea.Cmd {
	return func() tea.Msg {
		client := http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(url)
		if err != nil {
			return fleetMsg{err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fleetMsg{err: fmt.Errorf("fleet endpoint returned %s", resp.Status)}
		}

		var snapshot fleetSnapshot
		if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
			return fleetMsg{err: err}
		}
		return fleetMsg{snapshot: &snapshot}
	}
}

func tickEvery(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

type tickMsg struct{}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		return m, tea.Batch(pollOnce(m.url), tickEvery(pollInterval))
	case fleetMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			m.snapshot = msg.snapshot
		}
	}
	return m, nil
}

func (m model) View() string {
	out := titleStyle.Render("pantin fleet") + "  " + labelStyle.Render(m.url) + "\n\n"

	if m.err != nil {
		out += errStyle.Render(fmt.Sprintf("poll failed: %v", m.err)) + "\n"
	}

	if m.snapshot == nil {
		out += labelStyle.Render("waiting for first sample...") + "\n"
		return out + "\n" + labelStyle.Render("press q to quit")
	}

	p := m.snapshot.Pool
	out += fmt.Sprintf(
		"%s %s  %s %s  %s %s  %s %s\n",
		labelStyle.Render("live:"), valueStyle.Render(fmt.Sprint(p.LiveCount)),
		labelStyle.Render("idle:"), valueStyle.Render(fmt.Sprint(p.IdleCount)),
		labelStyle.Render("leased:"), valueStyle.Render(fmt.Sprint(p.LeaseCount)),
		labelStyle.Render("errors:"), valueStyle.Render(fmt.Sprint(p.Errors)),
	)
	out += fmt.Sprintf(
		"%s %s  %s %s  %s %s\n\n",
		labelStyle.Render("acquired:"), valueStyle.Render(fmt.Sprint(p.Acquired)),
		labelStyle.Render("recycled:"), valueStyle.Render(fmt.Sprint(p.Recycled)),
		labelStyle.Render("discarded:"), valueStyle.Render(fmt.Sprint(p.Discarded)),
	)

	out += headerCell.Render("HOST") + headerCell.Render("REQS") + headerCell.Render("OK") +
		headerCell.Render("ERR") + headerCell.Render("AVG MS") + "\n"

	hosts := make([]hostStats, 0, len(m.snapshot.Hosts))
	for host, hs := range m.snapshot.Hosts {
		hs.Host = host
		hosts = append(hosts, hs)
	}
	sort.Slice(hosts, func(i, j int) bool { return hosts[i].RequestCount > hosts[j].RequestCount })

	for _, hs := range hosts {
		out += bodyCell.Render(hs.Host) + bodyCell.Render(fmt.Sprint(hs.RequestCount)) +
			bodyCell.Render(fmt.Sprint(hs.SuccessCount)) + bodyCell.Render(fmt.Sprint(hs.ErrorCount)) +
			bodyCell.Render(fmt.Sprint(hs.AvgLatencyMs)) + "\n"
	}

	out += "\n" + labelStyle.Render("press q to quit")
	return out
}

func main() {
	addr := flag.String("addr", "http://localhost:4242", "base address of the pantin instance to watch")
	flag.Parse()

	url := *addr + "/fleet"

	p := tea.NewProgram(newModel(url))
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "pantin-fleet:", err)
		os.Exit(1)
	}
}
