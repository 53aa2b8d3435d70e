// Package tui renders upload progress for the interactive send command.
package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// progressMsg reports bytes sent so far during an upload.
type progressMsg struct {
	sent  int
	total int
}

// doneMsg signals the upload finished, successfully or not.
type doneMsg struct {
	err error
}

type uploadModel struct {
	progress    progress.Model
	description string
	sent        int
	total       int
	done        bool
	err         error
	updates     <-chan tea.Msg
}

func newUploadModel(description string, updates <-chan tea.Msg) uploadModel {
	p := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(40),
	)
	return uploadModel{
		progress:    p,
		description: description,
		updates:     updates,
	}
}

func waitForUpdate(updates <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-updates
	}
}

func (m uploadModel) Init() tea.Cmd {
	return waitForUpdate(m.updates)
}

func (m uploadModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.done = true
			m.err = fmt.Errorf("interrupted")
			return m, tea.Quit
		}
		return m, nil
	case progressMsg:
		m.sent = msg.sent
		m.total = msg.total
		return m, waitForUpdate(m.updates)
	case doneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m uploadModel) View() string {
	descStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	percent := 0.0
	if m.total > 0 {
		percent = float64(m.sent) / float64(m.total)
	}

	view := descStyle.Render(m.description) + "\n" + m.progress.ViewAs(percent) + "\n"
	if m.done {
		if m.err != nil {
			view += lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("failed: "+m.err.Error()) + "\n"
		} else {
			view += lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("done") + "\n"
		}
	}
	return view
}

// RunUpload runs fn under a progress display. fn receives a progress
// callback compatible with uploader.Options.Progress and runs in its own
// goroutine while the display owns the terminal.
func RunUpload(description string, fn func(progress func(sent, total int)) error) error {
	updates := make(chan tea.Msg, 16)

	go func() {
		err := fn(func(sent, total int) {
			select {
			case updates <- progressMsg{sent: sent, total: total}:
			default:
				// Rendering lags behind the transfer; skip the frame.
			}
		})
		updates <- doneMsg{err: err}
	}()

	final, err := tea.NewProgram(newUploadModel(description, updates)).Run()
	if err != nil {
		return fmt.Errorf("running progress display: %w", err)
	}
	if m, ok := final.(uploadModel); ok && m.err != nil {
		return m.err
	}
	return nil
}
