package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/evan-idocoding/peon/rt/task"
)

const (
	colorText    lipgloss.Color = "#cdd6f4"
	colorSubtext lipgloss.Color = "#a6adc8"
	colorOverlay lipgloss.Color = "#6c7086"
	colorFocus   lipgloss.Color = "#b4befe"
	colorGreen   lipgloss.Color = "#a6e3a1"
	colorYellow  lipgloss.Color = "#f9e2af"
	colorRed     lipgloss.Color = "#f38ba8"
	colorPeach   lipgloss.Color = "#fab387"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorFocus)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorText)
	dimStyle    = lipgloss.NewStyle().Foreground(colorOverlay)
	subStyle    = lipgloss.NewStyle().Foreground(colorSubtext)
	cursorStyle = lipgloss.NewStyle().Bold(true).Foreground(colorFocus)
	noticeStyle = lipgloss.NewStyle().Foreground(colorYellow)
	barStyle    = lipgloss.NewStyle().Foreground(colorGreen)

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorOverlay).
			Padding(0, 1)
	focusedPaneStyle = paneStyle.BorderForeground(colorFocus)
	rejectStyle      = lipgloss.NewStyle().
				Border(lipgloss.NormalBorder()).
				BorderForeground(colorRed).
				Foreground(colorRed).
				Padding(0, 1)
)

const barWidth = 20

func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("peon"))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  %d type(s)", len(m.types))))
	b.WriteString("\n\n")

	types := m.renderTypes()
	tasks := m.renderTasks()
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, types, " ", tasks))
	b.WriteString("\n")

	if m.rejected != nil {
		b.WriteString(rejectStyle.Render(renderRejection(m.rejected)))
		b.WriteString("\n")
	}
	if m.notice != "" {
		b.WriteString(noticeStyle.Render(m.notice))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(headerStyle.Render("Events"))
	b.WriteString("\n")
	if len(m.events) == 0 {
		b.WriteString(dimStyle.Render("  (none yet)"))
		b.WriteString("\n")
	}
	for _, line := range m.events {
		b.WriteString(subStyle.Render("  " + line))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("↑/↓ move • tab switch pane • enter submit • 1-9 quick submit • c cancel • q quit"))
	b.WriteString("\n")
	return b.String()
}

func (m *Model) renderTypes() string {
	lines := []string{headerStyle.Render("Task types")}
	if len(m.types) == 0 {
		lines = append(lines, dimStyle.Render("(none registered)"))
	}
	for i, spec := range m.types {
		marker := "  "
		name := spec.Name
		if m.focus == paneTypes && i == m.typeCursor {
			marker = cursorStyle.Render("> ")
			name = cursorStyle.Render(name)
		}
		line := fmt.Sprintf("%s%d %s %s", marker, i+1, name, dimStyle.Render("["+spec.Policy.String()+"]"))
		lines = append(lines, line)
		if spec.Description != "" {
			lines = append(lines, "    "+subStyle.Render(spec.Description))
		}
	}
	style := paneStyle
	if m.focus == paneTypes {
		style = focusedPaneStyle
	}
	return style.Render(strings.Join(lines, "\n"))
}

func (m *Model) renderTasks() string {
	lines := []string{headerStyle.Render("Active tasks")}
	active := m.o.Active()
	if len(active) == 0 {
		lines = append(lines, dimStyle.Render("(idle)"))
	}
	for i, t := range active {
		info := t.Info()
		marker := "  "
		if m.focus == paneTasks && i == m.taskCursor {
			marker = cursorStyle.Render("> ")
		}
		lines = append(lines, fmt.Sprintf("%s%s %s %s", marker, info.Name, dimStyle.Render(shortID(info.ID)), stateStyle(info.State).Render(info.State.String())))
		lines = append(lines, "    "+progressBar(info.Progress, info.Total)+" "+progressText(info.Progress, info.Total))
		lines = append(lines, "    "+subStyle.Render(timing(info)))
		if info.Status != "" {
			lines = append(lines, "    "+subStyle.Render(info.Status))
		}
	}
	style := paneStyle
	if m.focus == paneTasks {
		style = focusedPaneStyle
	}
	return style.Render(strings.Join(lines, "\n"))
}

func renderRejection(r *Rejection) string {
	return fmt.Sprintf("%s was not started: blocked by %s %s (%s)",
		r.Type, r.Blocking.Name, shortID(r.Blocking.ID), r.Blocking.State)
}

func stateStyle(s task.State) lipgloss.Style {
	switch s {
	case task.StateActive:
		return lipgloss.NewStyle().Foreground(colorGreen)
	case task.StateCancelled:
		return lipgloss.NewStyle().Foreground(colorPeach)
	case task.StateFailed, task.StateException:
		return lipgloss.NewStyle().Foreground(colorRed)
	default:
		return subStyle
	}
}

func progressBar(progress, total int) string {
	if total <= 0 {
		return dimStyle.Render("[" + strings.Repeat("·", barWidth) + "]")
	}
	filled := progress * barWidth / total
	if filled > barWidth {
		filled = barWidth
	}
	return "[" + barStyle.Render(strings.Repeat("█", filled)) + dimStyle.Render(strings.Repeat("·", barWidth-filled)) + "]"
}

func progressText(progress, total int) string {
	if total == task.TotalUnknown {
		return fmt.Sprintf("%d/?", progress)
	}
	return fmt.Sprintf("%d/%d", progress, total)
}

func timing(info task.Info) string {
	s := "elapsed " + info.Elapsed.Truncate(100*time.Millisecond).String()
	if info.RemainingKnown {
		s += " • eta " + info.Remaining.Truncate(100*time.Millisecond).String()
	}
	return s
}
