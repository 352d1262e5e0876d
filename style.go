package main

import "github.com/charmbracelet/lipgloss"

var (
	keyword = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#04B575")).
		Render

	helpText = lipgloss.NewStyle().
		Width(78).
		Padding(0, 0, 0, 2).
		Render
)
