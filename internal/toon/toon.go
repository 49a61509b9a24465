// Package toon implements TOON (Token-Oriented Object Notation) encoding.
package toon

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/phobologic/docpatch/internal/model"
)

var (
	needsQuoting = regexp.MustCompile(`[,:"\\{}\[\]]`)
	looksNumeric = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?$`)
	keywords     = map[string]struct{}{
		"true":  {},
		"false": {},
		"null":  {},
	}
)

// EncodeObjects lists the addressable objects of each module.
func EncodeObjects(project string, modules []model.ModuleObjects) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("project: %s", encodeValue(project)))

	var rows [][]string
	for i := range modules {
		m := &modules[i]
		for j := range m.Objects {
			o := &m.Objects[j]
			rows = append(rows, []string{
				m.Path,
				o.Qualname,
				string(o.Kind),
				fmt.Sprintf("%d", o.Line),
				o.Signature,
			})
		}
	}
	parts = append(parts, formatTabular("objects", []string{"file", "qualname", "kind", "line", "signature"}, rows))

	return strings.Join(parts, "\n")
}

// EncodeReport summarises an update run: totals per status, one row per
// file, and the stale or duplicate names the model produced.
func EncodeReport(project string, reports []model.FileReport) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("project: %s", encodeValue(project)))

	counts := map[model.FileStatus]int{}
	for i := range reports {
		counts[reports[i].Status]++
	}
	parts = append(parts, formatTabular("summary",
		[]string{"files", "patched", "unchanged", "skipped", "failed"},
		[][]string{{
			fmt.Sprintf("%d", len(reports)),
			fmt.Sprintf("%d", counts[model.StatusPatched]),
			fmt.Sprintf("%d", counts[model.StatusUnchanged]),
			fmt.Sprintf("%d", counts[model.StatusSkipped]),
			fmt.Sprintf("%d", counts[model.StatusFailed]),
		}}))

	var fileRows [][]string
	for i := range reports {
		r := &reports[i]
		fileRows = append(fileRows, []string{
			r.Path,
			string(r.Status),
			fmt.Sprintf("%d", len(r.Applied)),
			r.Detail,
		})
	}
	parts = append(parts, formatTabular("files", []string{"path", "status", "applied", "detail"}, fileRows))

	var warnRows [][]string
	for i := range reports {
		r := &reports[i]
		for _, name := range r.Stale {
			warnRows = append(warnRows, []string{r.Path, name, "stale"})
		}
		for _, name := range r.Duplicates {
			warnRows = append(warnRows, []string{r.Path, name, "duplicate"})
		}
	}
	if len(warnRows) > 0 {
		parts = append(parts, formatTabular("warnings", []string{"file", "qualname", "reason"}, warnRows))
	}

	return strings.Join(parts, "\n")
}

func formatTabular(name string, columns []string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{%s}:", name, len(rows), strings.Join(columns, ","))
	for _, row := range rows {
		encoded := make([]string, len(row))
		for i, cell := range row {
			encoded[i] = encodeValue(cell)
		}
		fmt.Fprintf(&b, "\n  %s", strings.Join(encoded, ","))
	}
	return b.String()
}

func encodeValue(value string) string {
	if value == "" {
		return `""`
	}

	if value != strings.TrimSpace(value) {
		return quote(value)
	}

	if strings.ContainsAny(value, "\n\r\t") {
		return quote(value)
	}

	if _, ok := keywords[strings.ToLower(value)]; ok {
		return quote(value)
	}

	if looksNumeric.MatchString(value) {
		return value
	}

	if needsQuoting.MatchString(value) {
		return quote(value)
	}

	if strings.HasPrefix(value, "-") {
		return quote(value)
	}

	return value
}

func quote(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	escaped = strings.ReplaceAll(escaped, "\r", `\r`)
	escaped = strings.ReplaceAll(escaped, "\t", `\t`)
	return `"` + escaped + `"`
}
