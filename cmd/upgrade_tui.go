// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/vrctl/pkg/firmware"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
)

// Messages
type upgradeProgressMsg firmware.Progress
type upgradeFinishedMsg upgradeResult

// upgradeModel shows a running firmware upload.
type upgradeModel struct {
	file       string
	kind       firmware.Kind
	bar        progress.Model
	last       firmware.Progress
	cancel     context.CancelFunc
	cancelling bool
	finished   *upgradeResult
	width      int
}

func newUpgradeModel(file string, kind firmware.Kind, cancel context.CancelFunc) upgradeModel {
	return upgradeModel{
		file:   file,
		kind:   kind,
		bar:    progress.New(progress.WithDefaultGradient()),
		cancel: cancel,
		width:  80,
	}
}

func (m upgradeModel) Init() tea.Cmd {
	return nil
}

func (m upgradeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			// The loader stops at the next record; wait for it to report.
			if !m.cancelling {
				m.cancelling = true
				m.cancel()
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = msg.Width - 4
		if m.bar.Width > 72 {
			m.bar.Width = 72
		}

	case upgradeProgressMsg:
		m.last = firmware.Progress(msg)

	case upgradeFinishedMsg:
		r := upgradeResult(msg)
		m.finished = &r
		return m, tea.Quit
	}

	return m, nil
}

func (m upgradeModel) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("VRCTL - FIRMWARE UPGRADE"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("Image: %s | Loader: %s | Do not power off the controller", m.file, m.kind)))
	s.WriteString("\n\n")

	var body strings.Builder
	phase := m.last.Phase
	if phase == "" {
		phase = "starting"
	}
	body.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		labelStyle.Render("Phase:"), valueStyle.Render(phase),
		labelStyle.Render("Records:"), valueStyle.Render(fmt.Sprintf("%d/%d", m.last.Current, m.last.Total)),
		labelStyle.Render("Elapsed:"), valueStyle.Render(m.last.Elapsed.Round(time.Second).String()),
	))
	if m.last.Warnings > 0 {
		body.WriteString(warningStyle.Render(fmt.Sprintf("%d records skipped or rejected", m.last.Warnings)))
		body.WriteString("\n")
	}
	body.WriteString("\n")
	body.WriteString(m.bar.ViewAs(m.last.Fraction()))

	s.WriteString(boxStyle.Render(body.String()))
	s.WriteString("\n")

	switch {
	case m.finished != nil && m.finished.err != nil:
		s.WriteString(errorStyle.Render("✗ " + m.finished.err.Error()))
	case m.finished != nil:
		s.WriteString(valueStyle.Render("✓ Done"))
	case m.cancelling:
		s.WriteString(warningStyle.Render("⏳ Stopping after the current record..."))
	default:
		s.WriteString(headerStyle.Render("Press 'q' to abort (the controller will need reflashing)"))
	}
	s.WriteString("\n")
	return s.String()
}

// runUpgradeTUI runs the upload with a progress bar. Firmware log output is
// suppressed while the TUI owns the terminal; warnings are returned in the
// result instead.
func runUpgradeTUI(ctx context.Context, s *session, img *firmware.Image, file string) (firmware.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newUpgradeModel(file, img.Kind, cancel))

	done := startUpgrade(ctx, s, img, firmware.WithProgressCallback(func(pr firmware.Progress) {
		p.Send(upgradeProgressMsg(pr))
	}))
	finished := make(chan upgradeResult, 1)
	go func() {
		r := <-done
		finished <- r
		p.Send(upgradeFinishedMsg(r))
	}()

	_, tuiErr := p.Run()
	if tuiErr != nil {
		cancel()
	}
	r := <-finished
	if r.err == nil && tuiErr != nil {
		return r.result, errors.Wrap(tuiErr, "TUI error")
	}
	return r.result, r.err
}
