package review

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/sourcegraph/go-diff/diff"
)

// ErrUnknownViewer is returned by NewViewer for an unsupported name.
var ErrUnknownViewer = errors.New("unknown diff viewer")

// Viewer shows the difference between an original file and its staged copy.
type Viewer interface {
	View(ctx context.Context, original, staged string) error
}

// NewViewer returns the viewer called name: "terminal" (also "auto"),
// "git" or "code" (also "vscode"). Terminal output goes to out.
func NewViewer(name string, out io.Writer) (Viewer, error) {
	switch strings.ToLower(name) {
	case "", "auto", "terminal":
		return NewTerminalViewer(out), nil
	case "git":
		return &CommandViewer{Name: "git", Args: []string{"--no-pager", "diff", "--no-index", "--"}, Out: out, okExit: 1}, nil
	case "code", "vscode":
		return &CommandViewer{Name: "code", Args: []string{"-d"}, Out: out}, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownViewer, name)
}

// TerminalViewer prints a unified diff, coloured when out is a terminal.
type TerminalViewer struct {
	out     io.Writer
	header  lipgloss.Style
	hunk    lipgloss.Style
	added   lipgloss.Style
	removed lipgloss.Style
	context lipgloss.Style
}

// NewTerminalViewer returns a TerminalViewer writing to out. Colour support
// is detected from out.
func NewTerminalViewer(out io.Writer) *TerminalViewer {
	r := lipgloss.NewRenderer(out)
	return &TerminalViewer{
		out:     out,
		header:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		hunk:    r.NewStyle().Foreground(lipgloss.Color("141")),
		added:   r.NewStyle().Foreground(lipgloss.Color("42")),
		removed: r.NewStyle().Foreground(lipgloss.Color("196")),
		context: r.NewStyle().Foreground(lipgloss.Color("252")),
	}
}

// View renders the diff of original against staged.
func (v *TerminalViewer) View(_ context.Context, original, staged string) error {
	a, err := os.ReadFile(original)
	if err != nil {
		return err
	}
	b, err := os.ReadFile(staged)
	if err != nil {
		return err
	}

	fd, err := Diff(original, staged, a, b)
	if err != nil {
		return err
	}
	if fd == nil {
		_, _ = fmt.Fprintln(v.out, v.context.Render("no changes"))
		return nil
	}
	_, err = io.WriteString(v.out, v.render(fd))
	return err
}

// Diff computes the unified diff of a and b. It returns nil when they are
// equal.
func Diff(fromName, toName string, a, b []byte) (*diff.FileDiff, error) {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(a)),
		B:        difflib.SplitLines(string(b)),
		FromFile: fromName,
		ToFile:   toName,
		Context:  3,
	})
	if err != nil {
		return nil, fmt.Errorf("computing diff: %w", err)
	}
	if text == "" {
		return nil, nil
	}
	fd, err := diff.ParseFileDiff([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("parsing diff: %w", err)
	}
	return fd, nil
}

// LineStats counts the added and removed lines of fd.
func LineStats(fd *diff.FileDiff) (added, removed int) {
	for _, h := range fd.Hunks {
		for _, line := range bytes.Split(h.Body, []byte("\n")) {
			if len(line) == 0 {
				continue
			}
			switch line[0] {
			case '+':
				added++
			case '-':
				removed++
			}
		}
	}
	return added, removed
}

func (v *TerminalViewer) render(fd *diff.FileDiff) string {
	var b strings.Builder

	added, removed := LineStats(fd)
	b.WriteString(v.header.Render(fd.NewName))
	b.WriteString("  ")
	b.WriteString(v.added.Render(fmt.Sprintf("+%d", added)))
	b.WriteString(" ")
	b.WriteString(v.removed.Render(fmt.Sprintf("-%d", removed)))
	b.WriteString("\n")

	for _, h := range fd.Hunks {
		header := fmt.Sprintf("@@ -%d,%d +%d,%d @@", h.OrigStartLine, h.OrigLines, h.NewStartLine, h.NewLines)
		b.WriteString(v.hunk.Render(header))
		b.WriteString("\n")

		body := strings.TrimSuffix(string(h.Body), "\n")
		for _, line := range strings.Split(body, "\n") {
			style := v.context
			if line != "" {
				switch line[0] {
				case '+':
					style = v.added
				case '-':
					style = v.removed
				}
			}
			b.WriteString(style.Render(line))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// CommandViewer hands both paths to an external program.
type CommandViewer struct {
	Name string
	Args []string
	Out  io.Writer

	// okExit is a non-zero exit status that still means success, such as
	// git diff reporting that the files differ.
	okExit int
}

// View runs the command with original and staged appended to its arguments.
func (v *CommandViewer) View(ctx context.Context, original, staged string) error {
	args := append(append([]string{}, v.Args...), original, staged)
	cmd := exec.CommandContext(ctx, v.Name, args...)
	cmd.Stdout = v.Out
	cmd.Stderr = v.Out

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && v.okExit != 0 && exitErr.ExitCode() == v.okExit {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", v.Name, err)
	}
	return nil
}
