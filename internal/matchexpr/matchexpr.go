// Package matchexpr implements the boolean match expressions that rules and
// stored credentials use to select targets.
//
// Expressions read target metadata and nothing else:
//
//	target.alias == 'com.example.Main' && target.labels.env != 'dev'
//	/^service:jmx:rmi/.test(target.connectUrl)
//	target.annotations.cryostat['PORT'] == 9091
//
// A comparison that references a missing label or annotation is false,
// regardless of the operator.
package matchexpr

import (
	"errors"
	"fmt"
	"sync"

	"evalgo.org/flightdeck/models"
)

// ErrInvalidExpression is returned for expressions that fail to parse, are
// not boolean, or use disallowed syntax.
var ErrInvalidExpression = fmt.Errorf("%w: invalid match expression", models.ErrInvalid)

// Expression is a compiled match expression. It is safe for concurrent use.
type Expression struct {
	src  string
	root node
}

// Compile parses and type-checks src.
func Compile(src string) (*Expression, error) {
	root, err := parse(src)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %s", ErrInvalidExpression, src, err)
	}
	return &Expression{src: src, root: root}, nil
}

// String returns the source text.
func (e *Expression) String() string {
	return e.src
}

// Matches evaluates the expression against t.
func (e *Expression) Matches(t models.Target) bool {
	return eval(e.root, &t).b
}

// Evaluator compiles expressions once and caches them by source text.
// The rule engine and the credential resolver share one instance.
type Evaluator struct {
	cache sync.Map // string -> *Expression
}

// NewEvaluator creates an evaluator with an empty cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Compile returns the cached compiled form of src.
func (ev *Evaluator) Compile(src string) (*Expression, error) {
	if cached, ok := ev.cache.Load(src); ok {
		return cached.(*Expression), nil
	}
	expr, err := Compile(src)
	if err != nil {
		return nil, err
	}
	actual, _ := ev.cache.LoadOrStore(src, expr)
	return actual.(*Expression), nil
}

// Validate reports whether src is an acceptable expression.
func (ev *Evaluator) Validate(src string) error {
	_, err := ev.Compile(src)
	return err
}

// Evaluate compiles src (using the cache) and evaluates it against t.
func (ev *Evaluator) Evaluate(src string, t models.Target) (bool, error) {
	expr, err := ev.Compile(src)
	if err != nil {
		return false, err
	}
	return expr.Matches(t), nil
}

// Filter returns the targets that src matches, preserving order.
func (ev *Evaluator) Filter(src string, targets []models.Target) ([]models.Target, error) {
	expr, err := ev.Compile(src)
	if err != nil {
		return nil, err
	}
	out := make([]models.Target, 0, len(targets))
	for _, t := range targets {
		if expr.Matches(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

// IsInvalid reports whether err is an expression validation error.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidExpression)
}
