package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// bodyField is the key used for problems with the document as a whole
const bodyField = "body"

// Errors maps a JSON field path to the rule it failed
type Errors map[string]string

// Error implements error
func (e Errors) Error() string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f, e[f]))
	}
	return strings.Join(parts, "; ")
}

// Validator validates structs tagged with `validate`
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new validator reporting fields by their JSON names
func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{validate: v}
}

// Validate validates a struct.
// Rule violations are returned as Errors so callers can log them as data.
func (v *Validator) Validate(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	out := make(Errors, len(fieldErrs))
	for _, fe := range fieldErrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		out[fieldPath(fe.Namespace())] = rule
	}
	return out
}

// DecodeJSON unmarshals data into dst and validates the result.
// Both malformed JSON and rule violations are reported as Errors.
func (v *Validator) DecodeJSON(data []byte, dst interface{}) error {
	if len(data) == 0 {
		return Errors{bodyField: "required"}
	}

	if err := json.Unmarshal(data, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			field := typeErr.Field
			if field == "" {
				field = bodyField
			}
			return Errors{field: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value)}
		}
		return Errors{bodyField: err.Error()}
	}

	return v.Validate(dst)
}

// fieldPath drops the root struct name from a validator namespace
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
