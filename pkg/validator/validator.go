// Package validator wraps go-playground/validator/v10 with the custom
// tags the Complex Alert Cache needs to catch invalid alert data before
// it ever reaches an evaluator (spec §7's "Invalid alert data" kind).
// Grounded on the teacher's pkg/validator, trimmed from its CRUD-request
// tag set (coin_symbol/alert_type/plan) down to the three this read-only
// engine actually checks: timeframe, finite, alertsymbol.
package validator

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	govalidator "github.com/go-playground/validator/v10"

	"github.com/weqory/alertengine/internal/model"
)

// symbolPattern matches the bare alphanumeric symbols this engine deals
// in (e.g. "BTCUSDT"); no separators, no lowercase requirement since
// adapter.NormalizeSymbol upper-cases before anything reaches the cache.
var symbolPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// Validator validates domain structs against the tags registered below.
type Validator struct {
	validate *govalidator.Validate
}

// New builds a Validator with the engine's custom tags registered.
func New() *Validator {
	v := govalidator.New()

	v.RegisterValidation("timeframe", func(fl govalidator.FieldLevel) bool {
		return model.Timeframe(fl.Field().String()).Valid()
	})

	v.RegisterValidation("finite", func(fl govalidator.FieldLevel) bool {
		f := fl.Field().Float()
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	})

	v.RegisterValidation("alertsymbol", func(fl govalidator.FieldLevel) bool {
		return symbolPattern.MatchString(fl.Field().String())
	})

	return &Validator{validate: v}
}

// ValidationError is a single field failure.
type ValidationError struct {
	Field string
	Tag   string
	Value interface{}
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s failed %s validation", e.Field, e.Tag)
}

// ValidationErrors is every field failure from one Validate call.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, fe := range e {
		msgs[i] = fe.Error()
	}
	return strings.Join(msgs, "; ")
}

// Reasons returns the failing tag names (e.g. "finite", "timeframe"), so
// a caller can translate a validation failure into a metric label
// without reaching into the go-playground type itself.
func (e ValidationErrors) Reasons() []string {
	out := make([]string, len(e))
	for i, fe := range e {
		out[i] = fe.Tag
	}
	return out
}

// Validate validates s against its `validate:"..."` struct tags.
func (v *Validator) Validate(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	verrs, ok := err.(govalidator.ValidationErrors)
	if !ok {
		return err
	}
	out := make(ValidationErrors, len(verrs))
	for i, fe := range verrs {
		out[i] = ValidationError{Field: fe.Field(), Tag: fe.Tag(), Value: fe.Value()}
	}
	return out
}

// ValidateVar validates a single value against an ad-hoc tag string.
func (v *Validator) ValidateVar(field interface{}, tag string) error {
	if err := v.validate.Var(field, tag); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}
