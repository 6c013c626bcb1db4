package watch

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/alfredjeanlab/gpuctl/internal/model"
)

// ErrInvalidFilter is returned when a predicate expression does not compile.
var ErrInvalidFilter = errors.New("invalid filter expression")

// Predicate is a compiled CEL expression over the variables
//
//	record  the record's public JSON object (map)
//	kind    the record kind, e.g. "worker"
//
// An empty expression matches everything.
type Predicate struct {
	expr string
	prog cel.Program
}

// CompilePredicate parses and type-checks expr.
func CompilePredicate(expr string) (*Predicate, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return &Predicate{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("record", cel.DynType),
		cel.Variable("kind", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, iss.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("%w: expression must be boolean, got %s", ErrInvalidFilter, out)
	}
	prog, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	return &Predicate{expr: expr, prog: prog}, nil
}

// String returns the source expression.
func (p *Predicate) String() string { return p.expr }

// Match evaluates the predicate against rec. Evaluation errors, such as a
// reference to an absent attribute, count as no match.
func (p *Predicate) Match(rec model.Record) bool {
	if p == nil || p.prog == nil {
		return true
	}
	data, err := json.Marshal(model.PublicView(rec))
	if err != nil {
		return false
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return false
	}
	out, _, err := p.prog.Eval(map[string]any{
		"record": obj,
		"kind":   string(rec.Kind()),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// Filter decides which events a session forwards.
type Filter struct {
	Fields      map[string]string
	FuzzyFields map[string]string
	Predicate   *Predicate
}

// Match reports whether rec passes. A nil record (heartbeat payload) always
// passes.
func (f *Filter) Match(rec model.Record) bool {
	if rec == nil {
		return true
	}
	return model.MatchFields(rec, f.Fields) &&
		model.MatchFuzzyFields(rec, f.FuzzyFields) &&
		f.Predicate.Match(rec)
}
