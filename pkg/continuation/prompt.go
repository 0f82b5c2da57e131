package continuation

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
)

// Prompter asks the operator to confirm an action
type Prompter interface {
	Confirm(ctx context.Context, title, description string) (bool, error)
}

// NewPrompter returns a huh prompt on a terminal and a line prompt otherwise
func NewPrompter(assumeYes bool) Prompter {
	if assumeYes {
		return AlwaysYes{}
	}
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return &LinePrompter{In: os.Stdin, Out: os.Stdout}
	}
	return HuhPrompter{}
}

// AlwaysYes confirms without asking
type AlwaysYes struct{}

func (AlwaysYes) Confirm(context.Context, string, string) (bool, error) { return true, nil }

// HuhPrompter renders an interactive confirmation
type HuhPrompter struct{}

func (HuhPrompter) Confirm(ctx context.Context, title, description string) (bool, error) {
	confirmed := true
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Description(description).
				Affirmative("Yes").
				Negative("No").
				Value(&confirmed),
		),
	).RunWithContext(ctx)
	if err != nil {
		return false, err
	}
	return confirmed, nil
}

// LinePrompter reads answers line by line. An empty answer or end of input confirms.
type LinePrompter struct {
	In  io.Reader
	Out io.Writer

	reader *bufio.Reader
}

const (
	promptChoices = `[Y] Yes  [N] No  [?] Help (default is "Y"): `
	promptHelp    = "Y - Continue with the installation and restart the system\n" +
		"N - Cancel the installation\n" +
		"? - Display this help message\n"
)

func (p *LinePrompter) Confirm(ctx context.Context, title, description string) (bool, error) {
	if p.reader == nil {
		p.reader = bufio.NewReader(p.In)
	}

	fmt.Fprintln(p.Out, title)
	if description != "" {
		fmt.Fprintln(p.Out, description)
	}
	fmt.Fprintln(p.Out)

	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		fmt.Fprint(p.Out, promptChoices)

		line, err := p.reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return false, err
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "", "y", "yes":
			fmt.Fprintln(p.Out, "Yes")
			return true, nil
		case "n", "no":
			fmt.Fprintln(p.Out, "No")
			return false, nil
		case "?", "h", "help":
			fmt.Fprint(p.Out, "\n"+promptHelp+"\n")
		}

		// Unrecognised input at end of stream takes the default
		if err == io.EOF {
			return true, nil
		}
	}
}
