// Package generate turns a prompt into a validated model.ModuleEdit.
package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/phobologic/docpatch/internal/llm"
	"github.com/phobologic/docpatch/internal/model"
	"github.com/phobologic/docpatch/internal/prompt"
)

// ErrInvalidPayload is returned when a model response does not decode into
// a valid edit payload.
var ErrInvalidPayload = errors.New("invalid edit payload")

var qualnameRe = regexp.MustCompile(`^[\p{L}_][\p{L}\p{N}_]*(?:\.[\p{L}_][\p{L}\p{N}_]*)*$`)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	_ = validate.RegisterValidation("qualname", func(fl validator.FieldLevel) bool {
		return qualnameRe.MatchString(fl.Field().String())
	})
	validate.RegisterStructValidation(validateClassEdit, model.ClassEdit{})
}

// validateClassEdit requires every method edit to be addressed inside its
// class.
func validateClassEdit(sl validator.StructLevel) {
	ce := sl.Current().Interface().(model.ClassEdit)
	for i, m := range ce.MethodEdits {
		if !strings.HasPrefix(m.Qualname, ce.Qualname+".") {
			sl.ReportError(m.Qualname, fmt.Sprintf("MethodEdits[%d].Qualname", i), "Qualname", "methodof", ce.Qualname)
		}
	}
}

// Decode parses a model response. Unknown fields are rejected. A method
// edit given by its bare name is qualified with its class name before the
// payload is validated.
func Decode(data []byte) (model.ModuleEdit, error) {
	var me model.ModuleEdit
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&me); err != nil {
		return model.ModuleEdit{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return model.ModuleEdit{}, fmt.Errorf("%w: trailing data after JSON object", ErrInvalidPayload)
	}

	for i := range me.ClassEdits {
		ce := &me.ClassEdits[i]
		for j := range ce.MethodEdits {
			m := &ce.MethodEdits[j]
			if m.Qualname != "" && !strings.Contains(m.Qualname, ".") {
				m.Qualname = ce.Qualname + "." + m.Qualname
			}
		}
	}

	if err := Validate(me); err != nil {
		return model.ModuleEdit{}, err
	}
	return me, nil
}

// Validate checks me against the payload rules.
func Validate(me model.ModuleEdit) error {
	err := validate.Struct(me)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "ModuleEdit.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "qualname":
		return fmt.Sprintf("%s %q is not a dotted identifier", field, fe.Value())
	case "methodof":
		return fmt.Sprintf("%s %q is not a method of %s", field, fe.Value(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s", field, fe.Tag())
}

// Generator requests edits from a model client.
type Generator struct {
	client llm.Client
}

// New returns a Generator backed by client.
func New(client llm.Client) *Generator {
	return &Generator{client: client}
}

// Generate sends p to the model and returns the decoded edits. Client
// errors are returned unchanged.
func (g *Generator) Generate(ctx context.Context, p prompt.Prompt) (model.ModuleEdit, error) {
	raw, err := g.client.Request(ctx, p.Instructions, p.Input)
	if err != nil {
		return model.ModuleEdit{}, err
	}
	me, err := Decode(raw)
	if err != nil {
		return model.ModuleEdit{}, fmt.Errorf("%s: %w", p.Path, err)
	}
	return me, nil
}
