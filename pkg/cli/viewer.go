/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/carverauto/novacomm/pkg/models"
)

const otaBarWidth = 10

// FrameMsg carries one received frame into the program.
type FrameMsg Frame

// DisconnectedMsg reports that the stream ended.
type DisconnectedMsg struct{ Err error }

// Viewer is the bubbletea model of the live node table.
type Viewer struct {
	source   string
	frames   <-chan tea.Msg
	table    *NodeTable
	styles   styles
	keys     KeyMap
	help     help.Model
	bar      progress.Model
	lastErr  error
	closed   bool
	lastSeen time.Time
}

// NewViewer builds a viewer reading messages from frames. source is shown
// in the title.
func NewViewer(source string, frames <-chan tea.Msg) *Viewer {
	return &Viewer{
		source: source,
		frames: frames,
		table:  NewNodeTable(),
		styles: newStyles(),
		keys:   DefaultKeyMap(),
		help:   help.New(),
		bar: progress.New(
			progress.WithSolidFill(draculaYellow),
			progress.WithWidth(otaBarWidth),
			progress.WithoutPercentage(),
		),
	}
}

// Table exposes the folded state.
func (v *Viewer) Table() *NodeTable {
	return v.table
}

func (v *Viewer) Init() tea.Cmd {
	return v.next()
}

func (v *Viewer) next() tea.Cmd {
	if v.frames == nil {
		return nil
	}

	return func() tea.Msg {
		msg, ok := <-v.frames
		if !ok {
			return DisconnectedMsg{}
		}

		return msg
	}
}

func (v *Viewer) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, v.keys.Quit):
			return v, tea.Quit
		case key.Matches(msg, v.keys.ClearError):
			v.lastErr = nil
		}

		return v, nil
	case tea.WindowSizeMsg:
		v.help.Width = msg.Width

		return v, nil
	case FrameMsg:
		if err := v.table.Apply(Frame(msg)); err != nil {
			v.lastErr = err
		}

		v.lastSeen = msg.Timestamp

		return v, v.next()
	case DisconnectedMsg:
		v.closed = true
		if msg.Err != nil {
			v.lastErr = msg.Err
		}

		return v, nil
	}

	return v, nil
}

func (v *Viewer) View() string {
	var b strings.Builder

	title := fmt.Sprintf("NovaComm mesh  %s  %d events", v.source, v.table.Events())
	if !v.lastSeen.IsZero() {
		title += "  last " + v.lastSeen.Local().Format(time.TimeOnly)
	}

	b.WriteString(v.styles.title.Render(title))
	b.WriteString("\n\n")

	header := fmt.Sprintf("%-24s %-8s %8s %7s %6s %5s %-20s",
		"NODE", "STATUS", "PACKETS", "RSSI", "SNR", "AI", "OTA")
	b.WriteString(v.styles.header.Render(header))
	b.WriteString("\n")

	rows := v.table.Rows()
	if len(rows) == 0 {
		b.WriteString(v.styles.help.Render("waiting for nodes..."))
		b.WriteString("\n")
	}

	for _, r := range rows {
		b.WriteString(v.renderRow(r))
		b.WriteString("\n")
	}

	b.WriteString("\n")

	if v.lastErr != nil {
		b.WriteString(v.styles.err.Render("last error: " + v.lastErr.Error()))
		b.WriteString("\n")
	}

	if v.closed {
		b.WriteString(v.styles.help.Render("stream closed  "))
	}

	b.WriteString(v.help.View(v.keys))

	return v.styles.app.Align(lipgloss.Left).Render(b.String())
}

func (v *Viewer) renderRow(r Row) string {
	name := truncate(r.Node.Name, 24)

	statusStyle := v.styles.offline
	if r.Node.Status == models.NodeStatusOnline {
		statusStyle = v.styles.online
	}

	status := string(r.Node.Status)
	if status == "" {
		status = "-"
	}

	line := fmt.Sprintf("%-24s %s %8d %7.1f %6.1f %5d %s",
		name,
		statusStyle.Render(fmt.Sprintf("%-8s", status)),
		r.Packets,
		r.LastRSSI,
		r.LastSNR,
		r.Inferences,
		v.renderOTA(r.OTA),
	)

	return v.styles.cell.Render(line)
}

func (v *Viewer) renderOTA(task *models.OTATask) string {
	if task == nil {
		return "-"
	}

	text := fmt.Sprintf("%s %s %3.0f%% %s",
		task.FirmwareVersion, task.Status, task.Progress, v.bar.ViewAs(task.Progress/100))

	switch task.Status {
	case models.OTAStatusFailed:
		return v.styles.failed.Render(text)
	case models.OTAStatusCompleted:
		return v.styles.online.Render(text)
	case models.OTAStatusPending, models.OTAStatusInProgress:
		return v.styles.progress.Render(text)
	}

	return text
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}

	return string(r[:n-1]) + "…"
}
