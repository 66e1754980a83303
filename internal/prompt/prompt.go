// Package prompt asks the user for values on a terminal.
package prompt

import (
	"errors"
	"io"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/x/term"
)

// ErrAborted is returned when the user cancels a prompt.
var ErrAborted = huh.ErrUserAborted

// Prompter collects input from the user.
type Prompter interface {
	// Input asks for a required value. Secret input is not echoed.
	Input(title string, secret bool) (string, error)

	// Confirm asks a yes/no question. Dangerous questions note that the
	// action cannot be undone.
	Confirm(title string, dangerous bool) (bool, error)
}

// Detect returns a terminal prompter when both in and out are terminals,
// and nil otherwise.
func Detect(in io.Reader, out io.Writer) Prompter {
	if !isTerminal(in) || !isTerminal(out) {
		return nil
	}
	return &Huh{In: in, Out: out}
}

func isTerminal(v any) bool {
	f, ok := v.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(f.Fd())
}

// Huh prompts with huh forms rendered on Out.
type Huh struct {
	In  io.Reader
	Out io.Writer
}

func (h *Huh) run(field huh.Field) error {
	return huh.NewForm(huh.NewGroup(field)).
		WithShowHelp(false).
		WithInput(h.In).
		WithOutput(h.Out).
		Run()
}

// Input shows a required text input prompt.
func (h *Huh) Input(title string, secret bool) (string, error) {
	var result string
	input := huh.NewInput().
		Title(title).
		Value(&result).
		Validate(func(s string) error {
			if s == "" {
				return errors.New("this field is required")
			}
			return nil
		})
	if secret {
		input = input.EchoMode(huh.EchoModePassword)
	}
	err := h.run(input)
	return result, err
}

// Confirm shows a yes/no confirmation prompt.
func (h *Huh) Confirm(title string, dangerous bool) (bool, error) {
	var result bool
	confirm := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&result)
	if dangerous {
		confirm = confirm.
			Description("This action cannot be undone.").
			Affirmative("Yes, I'm sure").
			Negative("Cancel")
	}
	if err := h.run(confirm); err != nil {
		return false, err
	}
	return result, nil
}
