// Package review walks staged files, shows each diff and applies or
// discards the staged copy according to the user's answer.
package review

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/phobologic/docpatch/internal/stage"
)

// Summary is the outcome of a review.
type Summary struct {
	Accepted []string
	Rejected []string
	// Skipped files keep their staged copy for a later review.
	Skipped []string
}

// Reviewer drives a batch review.
type Reviewer struct {
	fs          *stage.FileSystem
	viewer      Viewer
	in          *bufio.Reader
	out         io.Writer
	interactive bool
}

// New returns a Reviewer that reads answers from in and writes prompts to
// out. When interactive is false diffs are shown and every file is skipped.
func New(fs *stage.FileSystem, viewer Viewer, in io.Reader, out io.Writer, interactive bool) *Reviewer {
	return &Reviewer{
		fs:          fs,
		viewer:      viewer,
		in:          bufio.NewReader(in),
		out:         out,
		interactive: interactive,
	}
}

type answer int

const (
	answerNo answer = iota
	answerYes
	answerQuit
)

// Review shows every staged file in path order. An accepted file replaces
// its original (which is backed up); a rejected file's staged copy is
// discarded. Answering "q" or closing the input skips the remaining files.
func (r *Reviewer) Review(ctx context.Context) (Summary, error) {
	var sum Summary

	files, err := r.fs.Staged()
	if err != nil {
		return sum, fmt.Errorf("listing staged files: %w", err)
	}
	if len(files) == 0 {
		_, _ = fmt.Fprintln(r.out, "No staged files to review.")
		return sum, nil
	}

	quit := false
	for _, rel := range files {
		if quit || ctx.Err() != nil {
			sum.Skipped = append(sum.Skipped, rel)
			continue
		}

		_, _ = fmt.Fprintf(r.out, "\nReviewing %s...\n", rel)
		if err := r.viewer.View(ctx, r.fs.OriginalPath(rel), r.fs.StagedPath(rel)); err != nil {
			return sum, fmt.Errorf("viewing %s: %w", rel, err)
		}

		if !r.interactive {
			sum.Skipped = append(sum.Skipped, rel)
			continue
		}

		ans, err := r.ask(rel)
		if err != nil {
			return sum, err
		}
		switch ans {
		case answerYes:
			if err := r.fs.Apply(rel); err != nil {
				return sum, err
			}
			slog.Debug("accepted", "file", rel)
			sum.Accepted = append(sum.Accepted, rel)
		case answerNo:
			if err := r.fs.Discard(rel); err != nil {
				return sum, err
			}
			slog.Debug("rejected", "file", rel)
			sum.Rejected = append(sum.Rejected, rel)
		case answerQuit:
			quit = true
			sum.Skipped = append(sum.Skipped, rel)
		}
	}

	_, _ = fmt.Fprintf(r.out, "\nReview complete: %d accepted, %d rejected", len(sum.Accepted), len(sum.Rejected))
	if len(sum.Skipped) > 0 {
		_, _ = fmt.Fprintf(r.out, ", %d skipped", len(sum.Skipped))
	}
	_, _ = fmt.Fprintln(r.out)
	return sum, nil
}

func (r *Reviewer) ask(rel string) (answer, error) {
	for {
		_, _ = fmt.Fprintf(r.out, "Accept changes to %s? [y/n/q] ", rel)
		line, err := r.in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return answerQuit, fmt.Errorf("reading answer: %w", err)
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return answerYes, nil
		case "n", "no":
			return answerNo, nil
		case "q", "quit":
			return answerQuit, nil
		}
		if errors.Is(err, io.EOF) {
			_, _ = fmt.Fprintln(r.out)
			return answerQuit, nil
		}
	}
}
