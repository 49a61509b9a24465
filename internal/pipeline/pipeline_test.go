package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/phobologic/docpatch/internal/discover"
	"github.com/phobologic/docpatch/internal/generate"
	"github.com/phobologic/docpatch/internal/model"
	"github.com/phobologic/docpatch/internal/patch"
	"github.com/phobologic/docpatch/internal/prompt"
	"github.com/phobologic/docpatch/internal/stage"
)

// fakeClient answers with the payload registered for the file named in the
// prompt's BEGIN line.
type fakeClient struct {
	mu       sync.Mutex
	payloads map[string]string
	errs     map[string]error
	calls    []string
}

func (f *fakeClient) Request(_ context.Context, instructions, input string) ([]byte, error) {
	path := ""
	for _, line := range strings.Split(input, "\n") {
		if strings.HasPrefix(line, "BEGIN ") {
			path = strings.TrimPrefix(line, "BEGIN ")
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, path)
	f.mu.Unlock()

	if instructions != "instructions" {
		return nil, errors.New("unexpected instructions")
	}
	if err := f.errs[path]; err != nil {
		return nil, err
	}
	payload, ok := f.payloads[path]
	if !ok {
		return []byte(`{"function_edits": [], "class_edits": []}`), nil
	}
	return []byte(payload), nil
}

func (f *fakeClient) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newPipeline(t *testing.T, root string, client *fakeClient, opts Options) *Pipeline {
	t.Helper()
	templates := prompt.NewTemplates(fstest.MapFS{"numpy.txt": {Data: []byte("instructions")}})
	return New(stage.New(root), prompt.NewBuilder(templates, "numpy"), generate.New(client), opts, nil)
}

func writeFiles(t *testing.T, root string, files map[string]string) []discover.FileEntry {
	t.Helper()
	var entries []discover.FileEntry
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		entries = append(entries, discover.FileEntry{Path: rel, Language: "python"})
	}
	return entries
}

func entries(paths ...string) []discover.FileEntry {
	out := make([]discover.FileEntry, len(paths))
	for i, p := range paths {
		out[i] = discover.FileEntry{Path: p, Language: "python"}
	}
	return out
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRun(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"a.py":     "def foo(x):\n    pass\n",
		"pkg/b.py": "class A:\n    def m(self, x):\n        return x\n",
		"c.py":     "X = 1\n",
		"d.py":     "def f():\n    pass\n",
		"e.py":     "def broken(:\n",
		"f.py":     "def g():\n    pass\n",
	})
	client := &fakeClient{
		payloads: map[string]string{
			"a.py":     `{"function_edits": [{"qualname": "foo", "docstring": "Do something", "signature": null}], "class_edits": []}`,
			"pkg/b.py": `{"function_edits": [], "class_edits": [{"qualname": "A", "docstring": "A class.", "method_edits": [
				{"qualname": "A.m", "docstring": null, "signature": "(self, x: int) -> int"}]}]}`,
			"d.py": `{"function_edits": [{"qualname": "f", "docstring": null, "signature": "def f(:"}], "class_edits": []}`,
			"f.py": `{"function_edits": [{"qualname": "gone", "docstring": "x", "signature": null}], "class_edits": []}`,
		},
	}

	files := entries("a.py", "pkg/b.py", "c.py", "d.py", "e.py", "f.py")
	reports, err := newPipeline(t, root, client, Options{Concurrency: 3}).Run(context.Background(), files)
	require.NoError(t, err)
	require.Len(t, reports, len(files))

	for i, r := range reports {
		assert.Equal(t, files[i].Path, r.Path)
	}

	fs := stage.New(root)

	assert.Equal(t, model.StatusPatched, reports[0].Status)
	assert.Equal(t, []string{"foo"}, reports[0].Applied)
	assert.Equal(t, "def foo(x):\n    \"\"\"Do something\"\"\"\n    pass\n", readFile(t, fs.StagedPath("a.py")))
	assert.Equal(t, "def foo(x):\n    pass\n", readFile(t, fs.OriginalPath("a.py")))

	assert.Equal(t, model.StatusPatched, reports[1].Status)
	assert.Equal(t, []string{"A", "A.m"}, reports[1].Applied)
	assert.Equal(t, "class A:\n    \"\"\"A class.\"\"\"\n    def m(self, x: int) -> int:\n        return x\n",
		readFile(t, fs.StagedPath(filepath.Join("pkg", "b.py"))))

	assert.Equal(t, model.StatusUnchanged, reports[2].Status, "no definitions")

	assert.Equal(t, model.StatusFailed, reports[3].Status)
	assert.Contains(t, reports[3].Detail, "unparseable signature")
	assert.NoFileExists(t, fs.StagedPath("d.py"))

	assert.Equal(t, model.StatusFailed, reports[4].Status)
	assert.Contains(t, reports[4].Detail, "does not parse")

	assert.Equal(t, model.StatusUnchanged, reports[5].Status)
	assert.Equal(t, []string{"gone"}, reports[5].Stale)
	assert.NoFileExists(t, fs.StagedPath("f.py"))

	assert.ElementsMatch(t, []string{"a.py", "pkg/b.py", "d.py", "f.py"}, client.called(),
		"files without definitions or with syntax errors never reach the model")
}

func TestRunClientErrorDoesNotStopBatch(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"a.py": "def a():\n    pass\n",
		"b.py": "def b():\n    pass\n",
	})
	client := &fakeClient{
		errs: map[string]error{"a.py": errors.New("rate limited")},
		payloads: map[string]string{
			"b.py": `{"function_edits": [{"qualname": "b", "docstring": "B.", "signature": null}], "class_edits": []}`,
		},
	}

	reports, err := newPipeline(t, root, client, Options{Concurrency: 2}).Run(context.Background(), entries("a.py", "b.py"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, reports[0].Status)
	assert.Equal(t, "rate limited", reports[0].Detail)
	assert.Equal(t, model.StatusPatched, reports[1].Status)
}

func TestRunInvalidPayload(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.py": "def a():\n    pass\n"})
	client := &fakeClient{payloads: map[string]string{"a.py": `{"function_edits": [{"qualname": "a", "extra": true}]}`}}

	reports, err := newPipeline(t, root, client, Options{}).Run(context.Background(), entries("a.py"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, reports[0].Status)
	assert.Contains(t, reports[0].Detail, generate.ErrInvalidPayload.Error())
}

func TestRunDuplicates(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.py": "def f():\n    return 1\n\ndef f():\n    return 2\n"})
	client := &fakeClient{payloads: map[string]string{
		"a.py": `{"function_edits": [{"qualname": "f", "docstring": "First.", "signature": null}], "class_edits": []}`,
	}}

	reports, err := newPipeline(t, root, client, Options{}).Run(context.Background(), entries("a.py"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusPatched, reports[0].Status)
	assert.Equal(t, []string{"f"}, reports[0].Duplicates)
	assert.Equal(t, "def f():\n    \"\"\"First.\"\"\"\n    return 1\n\ndef f():\n    return 2\n",
		readFile(t, stage.New(root).StagedPath("a.py")))
}

func TestRunSkipsFreshAndOversizedFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"fresh.py": "def f():\n    pass\n",
		"big.py":   "def big():\n    pass\n" + strings.Repeat("# padding\n", 20),
	})
	fs := stage.New(root)
	require.NoError(t, fs.Stage("fresh.py", []byte("staged\n")))
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(fs.StagedPath("fresh.py"), later, later))

	client := &fakeClient{}
	reports, err := newPipeline(t, root, client, Options{MaxFileSize: 100}).Run(context.Background(), entries("fresh.py", "big.py"))
	require.NoError(t, err)

	assert.Equal(t, model.StatusSkipped, reports[0].Status)
	assert.Equal(t, "staged copy is up to date", reports[0].Detail)
	assert.Equal(t, model.StatusSkipped, reports[1].Status)
	assert.Equal(t, "larger than 100 bytes", reports[1].Detail)
	assert.Empty(t, client.called())

	reports, err = newPipeline(t, root, client, Options{MaxFileSize: 100, Force: true}).Run(context.Background(), entries("fresh.py"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnchanged, reports[0].Status)
	assert.Equal(t, []string{"fresh.py"}, client.called())
}

func TestRunCancelled(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	files := writeFiles(t, root, map[string]string{
		"a.py": "def a():\n    pass\n",
		"b.py": "def b():\n    pass\n",
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &fakeClient{}
	reports, err := newPipeline(t, root, client, Options{Concurrency: 2}).Run(ctx, files)
	require.NoError(t, err)
	for _, r := range reports {
		assert.Equal(t, model.StatusSkipped, r.Status)
		assert.Equal(t, "cancelled", r.Detail)
	}
	assert.Empty(t, client.called())
}

func TestRunUnknownStyle(t *testing.T) {
	t.Parallel()

	p := New(stage.New(t.TempDir()), prompt.NewBuilder(prompt.Builtin(), "nope"), generate.New(&fakeClient{}), Options{}, nil)
	_, err := p.Run(context.Background(), entries("a.py"))
	require.ErrorIs(t, err, prompt.ErrUnknownStyle)
}

func TestRunEmpty(t *testing.T) {
	t.Parallel()

	reports, err := newPipeline(t, t.TempDir(), &fakeClient{}, Options{}).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestObjects(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"a.py": "class A:\n    def m(self): ...\n",
		"b.py": "def f(x: int) -> int:\n    return x\n",
		"c.py": "def (:\n",
	})

	modules, err := Objects(context.Background(), root, entries("a.py", "b.py", "c.py"), 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, patch.ErrParse)
	assert.Contains(t, err.Error(), "c.py")

	require.Len(t, modules, 3)
	assert.Equal(t, "a.py", modules[0].Path)
	require.Len(t, modules[0].Objects, 2)
	assert.Equal(t, "A.m", modules[0].Objects[1].Qualname)
	assert.Equal(t, model.Method, modules[0].Objects[1].Kind)

	require.Len(t, modules[1].Objects, 1)
	assert.Equal(t, "f(x: int) -> int", modules[1].Objects[0].Signature)

	assert.Empty(t, modules[2].Objects)
}

func TestLimiter(t *testing.T) {
	t.Parallel()

	assert.Equal(t, rate.Inf, newLimiter(0).Limit())
	l := newLimiter(120)
	assert.InDelta(t, 2.0, float64(l.Limit()), 1e-9)
	assert.Equal(t, 1, l.Burst())
}
