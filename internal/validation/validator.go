// Package validation checks API request bodies.
//
// Struct constraints are declared with go-playground/validator tags. Besides
// the built-in tags the validator knows:
//   - rulename: a rule name, after whitespace normalization, is identifier-safe
//   - eventspec: an event specifier of the form template=<name>,type=<TYPE>
//   - httpurl: an absolute http or https URI
//
// Usage:
//
//	v := validation.New()
//	result := v.Struct(&req)
//	if !result.Valid {
//	    for _, e := range result.Errors {
//	        fmt.Printf("%s: %s\n", e.Field, e.Message)
//	    }
//	}
package validation

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"evalgo.org/flightdeck/models"
)

// Validator validates request structs.
type Validator struct {
	structValidator *validator.Validate
}

// ValidationError is a single field failure.
type ValidationError struct {
	// Field is the JSON name of the failing field
	Field string `json:"field"`

	// Message describes why the validation failed
	Message string `json:"message"`

	// Value is the invalid value (optional)
	Value interface{} `json:"value,omitempty"`
}

// ValidationResult is the outcome of validating one struct.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Error is returned by Validate. It wraps models.ErrInvalid.
type Error struct {
	Errors []ValidationError
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *Error) Unwrap() error {
	return models.ErrInvalid
}

// New creates a Validator with the custom tags registered.
func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(jsonFieldName)
	_ = v.RegisterValidation("rulename", func(fl validator.FieldLevel) bool {
		return models.ValidRuleName(models.NormalizeRuleName(fl.Field().String()))
	})
	_ = v.RegisterValidation("eventspec", func(fl validator.FieldLevel) bool {
		_, err := models.ParseEventSpecifier(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("httpurl", func(fl validator.FieldLevel) bool {
		u, err := url.ParseRequestURI(strings.TrimSpace(fl.Field().String()))
		return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
	})
	return &Validator{structValidator: v}
}

// Struct validates s and collects every field failure.
func (v *Validator) Struct(s interface{}) *ValidationResult {
	err := v.structValidator.Struct(s)
	if err == nil {
		return &ValidationResult{Valid: true}
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ValidationResult{
			Valid:  false,
			Errors: []ValidationError{{Field: "document", Message: err.Error()}},
		}
	}
	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   fieldPath(fe),
			Message: message(fe),
			Value:   displayValue(fe),
		})
	}
	return &ValidationResult{Valid: false, Errors: out}
}

// Validate implements echo.Validator.
func (v *Validator) Validate(i interface{}) error {
	result := v.Struct(i)
	if result.Valid {
		return nil
	}
	return &Error{Errors: result.Errors}
}

// fieldPath drops the root struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "rulename":
		return "must contain only letters, digits, underscores and whitespace"
	case "eventspec":
		return "must have the form template=<name>,type=<TARGET|CUSTOM>"
	case "httpurl":
		return "must be an absolute http or https URI"
	}
	return fmt.Sprintf("failed %q validation", fe.Tag())
}

// displayValue omits values that may be secrets.
func displayValue(fe validator.FieldError) interface{} {
	if strings.EqualFold(fe.Field(), "password") {
		return nil
	}
	switch fe.Kind() {
	case reflect.String, reflect.Int, reflect.Int64, reflect.Bool:
		if fe.Tag() == "required" {
			return nil
		}
		return fe.Value()
	}
	return nil
}

func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return f.Name
	}
	return name
}
