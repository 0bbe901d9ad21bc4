// Package errors provides categorized errors for the edge. An EnhancedError
// carries the component that raised it, a category used for metrics and
// telemetry, and free-form context.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Category groups errors by the subsystem concern that produced them.
type Category string

const (
	CategoryNetwork       Category = "network"
	CategoryCache         Category = "cache"
	CategoryValidation    Category = "validation"
	CategoryConfiguration Category = "configuration"
	CategoryPush          Category = "push"
	CategoryLifecycle     Category = "lifecycle"
	CategoryGeneric       Category = "generic"
)

// EnhancedError wraps an error with component, category and context.
type EnhancedError struct {
	Err       error
	component string
	category  Category
	context   map[string]any
}

func (e *EnhancedError) Error() string {
	if len(e.context) == 0 {
		return e.Err.Error()
	}
	keys := make([]string, 0, len(e.context))
	for k := range e.context {
		keys = append(keys, k)
	}
	parts := make([]string, 0, len(keys))
	slices.Sort(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, e.context[k]))
	}
	return fmt.Sprintf("%s (%s)", e.Err.Error(), strings.Join(parts, ", "))
}

func (e *EnhancedError) Unwrap() error { return e.Err }

// Component returns the component that raised the error.
func (e *EnhancedError) Component() string { return e.component }

// Category returns the error category.
func (e *EnhancedError) Category() Category { return e.category }

// Context returns a copy of the error context.
func (e *EnhancedError) Context() map[string]any {
	out := make(map[string]any, len(e.context))
	maps.Copy(out, e.context)
	return out
}

// Builder assembles an EnhancedError.
type Builder struct {
	err *EnhancedError
}

// New starts building an enhanced error around err.
func New(err error) *Builder {
	if err == nil {
		err = stderrors.New("unknown error")
	}
	return &Builder{err: &EnhancedError{Err: err, category: CategoryGeneric, context: map[string]any{}}}
}

// Newf starts building an enhanced error from a format string.
func Newf(format string, args ...any) *Builder {
	return New(fmt.Errorf(format, args...))
}

func (b *Builder) Component(c string) *Builder {
	b.err.component = c
	return b
}

func (b *Builder) Category(c Category) *Builder {
	b.err.category = c
	return b
}

func (b *Builder) Context(key string, value any) *Builder {
	b.err.context[key] = value
	return b
}

// Build returns the assembled error.
func (b *Builder) Build() error {
	return b.err
}

// CategoryOf returns the category of the first EnhancedError in err's chain.
func CategoryOf(err error) Category {
	var ee *EnhancedError
	if stderrors.As(err, &ee) {
		return ee.category
	}
	return CategoryGeneric
}

func Is(err, target error) bool     { return stderrors.Is(err, target) }
func As(err error, target any) bool { return stderrors.As(err, target) }
func Join(errs ...error) error      { return stderrors.Join(errs...) }

// NewStd creates a plain error, for sentinel values.
func NewStd(text string) error { return stderrors.New(text) }
