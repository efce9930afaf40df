// Package validation provides request validation for the SecureWatch API.
//
// Struct validation runs through gin's binding engine (go-playground
// validator); RegisterValidators adds the domain tags used by request
// types, and FromBindingError turns the engine's errors into the field list
// returned in 400 responses.
package validation

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

// identityRegex matches user identifiers: letters, digits and _ - . @
var identityRegex = regexp.MustCompile(`^[A-Za-z0-9_.@-]+$`)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidIdentity checks if s is a usable user identifier.
func IsValidIdentity(s string) bool {
	return len(s) <= 128 && identityRegex.MatchString(s)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// Identity checks a user identifier.
func Identity(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidIdentity(value) {
			return &ValidationError{Field: field, Message: "may contain only letters, digits, '_', '-', '.' and '@'"}
		}
		return nil
	}
}

// tagValidator checks single values against the same built-in tags the
// binding engine uses.
var tagValidator = validator.New()

// Email checks an optional email address.
func Email(field, value string) func() *ValidationError {
	return optionalTag(field, value, "email", "must be a valid email address")
}

// IP checks an optional IPv4 or IPv6 address.
func IP(field, value string) func() *ValidationError {
	return optionalTag(field, value, "ip", "must be a valid IP address")
}

func optionalTag(field, value, tag, msg string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if err := tagValidator.Var(value, tag); err != nil {
			return &ValidationError{Field: field, Message: msg}
		}
		return nil
	}
}

// FiniteValues checks a non-empty vector of finite numbers.
func FiniteValues(field string, values []float64) func() *ValidationError {
	return func() *ValidationError {
		if len(values) == 0 {
			return &ValidationError{Field: field, Message: "must not be empty"}
		}
		if !allFinite(values) {
			return &ValidationError{Field: field, Message: "must contain only finite numbers"}
		}
		return nil
	}
}

// FiniteRows checks that every row is non-empty and finite. An empty
// matrix is allowed.
func FiniteRows(field string, rows [][]float64) func() *ValidationError {
	return func() *ValidationError {
		for i, row := range rows {
			if len(row) == 0 || !allFinite(row) {
				return &ValidationError{
					Field:   fmt.Sprintf("%s[%d]", field, i),
					Message: "must be a non-empty row of finite numbers",
				}
			}
		}
		return nil
	}
}

func allFinite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

var registerOnce sync.Once

// RegisterValidators installs the finite, finite_rows and identity tags on
// gin's validator and makes field errors use JSON names. Safe to call more
// than once.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})
		_ = v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
			return finiteField(fl.Field())
		})
		_ = v.RegisterValidation("finite_rows", func(fl validator.FieldLevel) bool {
			f := fl.Field()
			if f.Kind() != reflect.Slice {
				return false
			}
			for i := range f.Len() {
				row := f.Index(i)
				if row.Len() == 0 || !finiteField(row) {
					return false
				}
			}
			return true
		})
		_ = v.RegisterValidation("identity", func(fl validator.FieldLevel) bool {
			return IsValidIdentity(fl.Field().String())
		})
	})
}

func finiteField(f reflect.Value) bool {
	switch f.Kind() {
	case reflect.Float32, reflect.Float64:
		x := f.Float()
		return !math.IsNaN(x) && !math.IsInf(x, 0)
	case reflect.Slice, reflect.Array:
		for i := range f.Len() {
			if !finiteField(f.Index(i)) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// FromBindingError converts an error from gin's ShouldBind* into field
// errors. Malformed bodies become a single "body" error.
func FromBindingError(err error) ValidationErrors {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ValidationErrors{{Field: "body", Message: "malformed request body"}}
	}
	out := make(ValidationErrors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{Field: fe.Field(), Message: message(fe)})
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must have at least %s element(s)", fe.Param())
		}
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return "must be at most " + fe.Param()
	case "email":
		return "must be a valid email address"
	case "ip":
		return "must be a valid IP address"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "finite":
		return "must contain only finite numbers"
	case "finite_rows":
		return "every row must be non-empty and finite"
	case "identity":
		return "may contain only letters, digits, '_', '-', '.' and '@'"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
