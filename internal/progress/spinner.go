// Package progress reports terminal progress for long-running repository
// operations: commits hashing many files, clones, and git fetches.
package progress

import (
	"os"

	"github.com/pterm/pterm"

	"github.com/r3/r3/internal/termcolor"
)

// Spinner displays an animated status line on stderr while a long-running
// operation is in progress. It is only displayed when stderr is a TTY; in
// non-interactive environments (piped output, CI, scripted commits) it is
// silent.
type Spinner struct {
	msg         string
	printer     *pterm.SpinnerPrinter
	interactive bool
}

// New creates a Spinner that will display msg alongside the animation.
func New(msg string) *Spinner {
	return &Spinner{
		msg:         msg,
		interactive: termcolor.IsTerminal(os.Stderr.Fd()),
	}
}

// Start begins the spinner animation.
func (s *Spinner) Start() {
	if !s.interactive {
		return
	}
	p, err := pterm.DefaultSpinner.WithWriter(os.Stderr).Start(s.msg)
	if err != nil {
		return
	}
	s.printer = p
}

// Stop halts the spinner animation and clears the line.
func (s *Spinner) Stop() {
	if s.printer == nil {
		return
	}
	_ = s.printer.Stop()
}

// UpdateText changes the message shown alongside the animation, used to
// report per-file hashing or fetch progress without restarting the spinner.
func (s *Spinner) UpdateText(msg string) {
	s.msg = msg
	if s.printer != nil {
		s.printer.UpdateText(msg)
	}
}

// Bar renders a determinate progress bar for operations with a known total,
// such as hashing a fixed set of staged files.
func Bar(title string, total int) (*pterm.ProgressbarPrinter, error) {
	return pterm.DefaultProgressbar.WithTotal(total).WithTitle(title).WithWriter(os.Stderr).Start()
}
