// Package prompt builds the per-file model prompts: developer instructions
// for a documentation style plus the module source wrapped with the list of
// objects it defines.
package prompt

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"github.com/phobologic/docpatch/internal/model"
)

//go:embed templates/*.txt
var embedded embed.FS

// ErrUnknownStyle is returned when no template exists for a doc style.
var ErrUnknownStyle = errors.New("unknown doc style")

// Templates looks up developer instructions by doc style name.
type Templates interface {
	Get(style string) (string, error)
}

// FSTemplates reads "<style>.txt" files from a file system.
type FSTemplates struct {
	fsys fs.FS
}

// NewTemplates returns a template repository rooted at fsys.
func NewTemplates(fsys fs.FS) *FSTemplates {
	return &FSTemplates{fsys: fsys}
}

// Builtin returns the templates compiled into the binary.
func Builtin() *FSTemplates {
	sub, err := fs.Sub(embedded, "templates")
	if err != nil {
		panic(err)
	}
	return NewTemplates(sub)
}

// Get returns the template text for style.
func (t *FSTemplates) Get(style string) (string, error) {
	data, err := fs.ReadFile(t.fsys, style+".txt")
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w %q", ErrUnknownStyle, style)
	}
	if err != nil {
		return "", fmt.Errorf("reading %s template: %w", style, err)
	}
	return string(data), nil
}

// Prompt is the model input for a single module.
type Prompt struct {
	Path         string
	Instructions string
	Input        string
}

// Builder renders prompts for one doc style. It is safe for concurrent use.
type Builder struct {
	instructions func() (string, error)
}

// NewBuilder returns a Builder using templates for style. The template is
// looked up once, on first use.
func NewBuilder(templates Templates, style string) *Builder {
	return &Builder{
		instructions: sync.OnceValues(func() (string, error) {
			return templates.Get(style)
		}),
	}
}

// Instructions returns the developer instructions for the builder's style.
func (b *Builder) Instructions() (string, error) {
	return b.instructions()
}

// Build returns the prompt for m.
func (b *Builder) Build(m model.SourceModule) (Prompt, error) {
	instructions, err := b.Instructions()
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{
		Path:         m.Path,
		Instructions: instructions,
		Input:        Render(m.Path, m.Objects, m.Code),
	}, nil
}

// Render wraps code with a header listing the qualified names of objs:
//
//	### Objects in <path>:
//	  <qualname>
//	  ...
//
//	BEGIN <path>
//	<code>
//	END <path>
func Render(path string, objs []model.Object, code []byte) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### Objects in %s:\n", path)
	for _, o := range objs {
		fmt.Fprintf(&b, "  %s\n", o.Qualname)
	}
	fmt.Fprintf(&b, "\nBEGIN %s\n", path)
	b.Write(code)
	if len(code) > 0 && code[len(code)-1] != '\n' {
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "END %s", path)
	return b.String()
}
