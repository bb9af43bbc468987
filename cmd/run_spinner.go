package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/bnema/crawlpool/internal/domain"
)

type runDoneMsg struct {
	report domain.RunReport
	err    error
}

type runSpinnerModel struct {
	spinner spinner.Model
	label   string
	run     tea.Cmd
	report  domain.RunReport
	err     error
	done    bool
}

func newRunSpinnerModel(label string, run tea.Cmd) runSpinnerModel {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("69"))),
	)

	return runSpinnerModel{
		spinner: s,
		label:   label,
		run:     run,
	}
}

func (m runSpinnerModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.run)
}

func (m runSpinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case runDoneMsg:
		m.done = true
		m.report = msg.report
		m.err = msg.err
		return m, tea.Quit
	default:
		return m, nil
	}
}

func (m runSpinnerModel) View() string {
	if m.done {
		return ""
	}

	return fmt.Sprintf("%s %s", m.spinner.View(), m.label)
}

// runWithSpinner shows a spinner on output until run returns. Signals are left
// to the caller's context so an interrupted run still yields its report.
func runWithSpinner(ctx context.Context, output io.Writer, label string, run func(context.Context) (domain.RunReport, error)) (domain.RunReport, error) {
	runCmd := func() tea.Msg {
		report, err := run(ctx)
		return runDoneMsg{report: report, err: err}
	}

	p := tea.NewProgram(
		newRunSpinnerModel(label, runCmd),
		tea.WithInput(nil),
		tea.WithOutput(output),
		tea.WithoutSignalHandler(),
	)

	finalModel, err := p.Run()
	if err != nil {
		return domain.RunReport{}, err
	}

	result, ok := finalModel.(runSpinnerModel)
	if !ok {
		return domain.RunReport{}, fmt.Errorf("unexpected final spinner model type %T", finalModel)
	}

	return result.report, result.err
}
