// Package templating provides the default TemplateEvaluator: rendering of
// "{{ expr }}" placeholders against a hierarchical noetl.Value scope. The
// engine never interprets expressions itself; it only composes scopes and
// calls through this interface, so a deployment can swap in a different
// evaluator (e.g. a real Jinja2 bridge) without touching the engine.
package templating

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PaesslerAG/gval"
	"github.com/PaesslerAG/jsonpath"

	"github.com/noetl/core/internal/domain/noetl"
)

// Evaluator is the collaborator the engine depends on to render templates
// and predicate expressions. Implementations must be safe for concurrent use.
type Evaluator interface {
	// Render evaluates a "{{ expr }}" template against scope. A template
	// that is exactly one placeholder returns the expression's native
	// Value (preserving type); a template with surrounding text or
	// multiple placeholders returns a String with each substituted.
	Render(template string, scope noetl.Value) (noetl.Value, error)
	// Truthy renders template and reports noetl.Value.Truthy() of the
	// result. Used for `when` and `retry.on_success.while` evaluation.
	Truthy(template string, scope noetl.Value) (bool, error)
}

var placeholderRe = regexp.MustCompile(`\{\{\s*(.*?)\s*\}\}`)

// GvalEvaluator implements Evaluator using PaesslerAG/gval with the jsonpath
// extension, so expressions may use both arithmetic/boolean operators and
// `$.foo.bar`-style JSONPath lookups against the scope.
type GvalEvaluator struct {
	lang gval.Language
}

// NewGvalEvaluator builds an Evaluator with jsonpath support layered onto
// gval's full expression language.
func NewGvalEvaluator() *GvalEvaluator {
	return &GvalEvaluator{lang: gval.Full(jsonpath.Language())}
}

func (e *GvalEvaluator) Render(template string, scope noetl.Value) (noetl.Value, error) {
	matches := placeholderRe.FindAllStringSubmatchIndex(template, -1)
	if len(matches) == 0 {
		return noetl.String(template), nil
	}
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(template) {
		expr := template[matches[0][2]:matches[0][3]]
		return e.eval(expr, scope)
	}
	var sb strings.Builder
	last := 0
	for _, m := range matches {
		sb.WriteString(template[last:m[0]])
		expr := template[m[2]:m[3]]
		val, err := e.eval(expr, scope)
		if err != nil {
			return noetl.Null(), err
		}
		sb.WriteString(val.String())
		last = m[1]
	}
	sb.WriteString(template[last:])
	return noetl.String(sb.String()), nil
}

func (e *GvalEvaluator) Truthy(template string, scope noetl.Value) (bool, error) {
	trimmed := strings.TrimSpace(template)
	if trimmed == "" {
		return true, nil
	}
	val, err := e.Render(template, scope)
	if err != nil {
		return false, err
	}
	return val.Truthy(), nil
}

func (e *GvalEvaluator) eval(expr string, scope noetl.Value) (noetl.Value, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return noetl.Null(), nil
	}
	eval, err := e.lang.NewEvaluable(expr)
	if err != nil {
		return noetl.Null(), fmt.Errorf("templating: parse %q: %w", expr, err)
	}
	result, err := eval(context.Background(), scope.Native())
	if err != nil {
		return noetl.Null(), fmt.Errorf("templating: eval %q: %w", expr, err)
	}
	return noetl.FromNative(result), nil
}
