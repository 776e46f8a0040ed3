package main

import (
	"fmt"
	"strings"
	"time"

	"swarm/pkg/simulation"
	"swarm/pkg/types"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	primaryColor   = lipgloss.Color("#FF79C6") // Pink
	secondaryColor = lipgloss.Color("#8BE9FD") // Cyan
	accentColor    = lipgloss.Color("#50FA7B") // Green
	warningColor   = lipgloss.Color("#FFB86C") // Orange
	dangerColor    = lipgloss.Color("#FF5555") // Red
	mutedColor     = lipgloss.Color("#6272A4") // Comment
	bgLightColor   = lipgloss.Color("#44475A") // Current Line
	fgColor        = lipgloss.Color("#F8F8F2") // Foreground

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(1, 2)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(secondaryColor).
			Background(bgLightColor).
			Padding(0, 1)

	rowStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(fgColor)
)

type fileStatus int

const (
	statusComplete fileStatus = iota
	statusPartial
	statusUnknown
)

func (s fileStatus) render() string {
	switch s {
	case statusComplete:
		return lipgloss.NewStyle().Foreground(accentColor).Render("COMPLETE")
	case statusPartial:
		return lipgloss.NewStyle().Foreground(warningColor).Render("PARTIAL")
	default:
		return lipgloss.NewStyle().Foreground(dangerColor).Render("UNKNOWN")
	}
}

func classify(got, expected []types.ChunkHash) fileStatus {
	if expected == nil {
		return statusUnknown
	}
	if len(got) == len(expected) {
		return statusComplete
	}
	return statusPartial
}

// renderSummary shows, for every peer and wanted file, how much of the
// file was acquired.
func renderSummary(scenario simulation.Scenario, result *simulation.Result) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(bgLightColor)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return rowStyle
		})

	t.Headers("PEER", "FILE", "CHUNKS", "STATUS", "PROGRESS")

	complete, total := 0, 0
	for i, input := range scenario.Inputs {
		rank := types.NodeID(i + 1)
		for _, name := range input.Wanted {
			file, _ := result.File(rank, name)
			expected := result.Expected(name)
			status := classify(file.Chunks, expected)

			total++
			if status == statusComplete {
				complete++
			}

			percent := 0.0
			if len(expected) > 0 {
				percent = float64(len(file.Chunks)) * 100 / float64(len(expected))
			} else if status == statusComplete {
				percent = 100
			}

			t.Row(
				rank.String(),
				string(name),
				fmt.Sprintf("%d/%d", len(file.Chunks), len(expected)),
				status.render(),
				renderMiniBar(percent, 12),
			)
		}
	}

	header := fmt.Sprintf("run %s  peers %d  files %d/%d complete  %s",
		result.RunID, result.Peers(), complete, total, result.Elapsed.Round(time.Millisecond))

	content := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("SWARM SUMMARY"),
		mutedStyle.Render(header),
		t.Render(),
	)
	return panelStyle.Render(content)
}

func renderMiniBar(percent float64, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	filled := int(float64(width) * percent / 100)
	empty := width - filled

	return lipgloss.NewStyle().Foreground(lipgloss.Color("#42c767")).Render(strings.Repeat("▪", filled)) +
		lipgloss.NewStyle().Foreground(lipgloss.Color("#333333")).Render(strings.Repeat("·", empty))
}
