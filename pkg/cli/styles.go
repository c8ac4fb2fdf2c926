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

// Package cli renders the live node table of the stream client.
package cli

import "github.com/charmbracelet/lipgloss"

// Dracula theme colors.
const (
	draculaForeground = "#F8F8F2"
	draculaCyan       = "#8BE9FD"
	draculaGreen      = "#50FA7B"
	draculaOrange     = "#FFB86C"
	draculaPink       = "#FF79C6"
	draculaPurple     = "#BD93F9"
	draculaRed        = "#FF5555"
	draculaYellow     = "#F1FA8C"
	draculaComment    = "#6272A4"
)

type styles struct {
	title, header, cell, online, offline, progress, failed, help, err, app lipgloss.Style
}

func newStyles() styles {
	return styles{
		title: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaPink)).
			Bold(true),
		header: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaPurple)).
			Bold(true),
		cell: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaForeground)),
		online: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaGreen)),
		offline: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaComment)),
		progress: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaYellow)),
		failed: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaRed)),
		help: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaComment)),
		err: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaOrange)),
		app: lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(draculaCyan)),
	}
}
