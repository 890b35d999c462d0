// Package validation registers TBEG's custom struct-tag validators for
// marker-argument formats, validates pipeline.Config, and translates
// validator failures into tbegerr.Error values whose Kind follows the
// failed rule (MarkerValidation when no rule-specific Kind applies).
package validation

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jogakdal/tbeg/pkg/tbegerr"
)

var (
	v *validator.Validate

	a1CellRe     = regexp.MustCompile(`^[A-Za-z]+[0-9]+$`)
	namedRangeRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_. ]{0,63}$`)
	identifierRe = regexp.MustCompile(`^\w+$`)
	sizeSpecRe   = regexp.MustCompile(`^(fit|original|-?\d+:-?\d+)$`)
)

// Validator returns a singleton validator with TBEG's custom marker-argument
// rules registered.
func Validator() *validator.Validate {
	if v != nil {
		return v
	}
	v = validator.New()

	// filepath_ext: an Excel-family extension for template/output paths.
	_ = v.RegisterValidation("filepath_ext", func(fl validator.FieldLevel) bool {
		s := strings.ToLower(strings.TrimSpace(fl.Field().String()))
		if s == "" {
			return false
		}
		for _, ext := range []string{".xlsx", ".xlsm", ".xltx", ".xltm"} {
			if strings.HasSuffix(s, ext) {
				return true
			}
		}
		return false
	})

	// a1orname: a `range` marker parameter — an A1:A1 style
	// range, optionally sheet-qualified, or a named range identifier.
	_ = v.RegisterValidation("a1orname", func(fl validator.FieldLevel) bool {
		s := strings.TrimSpace(fl.Field().String())
		if s == "" {
			return false
		}
		if i := strings.LastIndex(s, "!"); i >= 0 {
			s = s[i+1:]
		}
		if strings.Contains(s, ":") {
			parts := strings.SplitN(s, ":", 2)
			return len(parts) == 2 && a1CellRe.MatchString(parts[0]) && a1CellRe.MatchString(parts[1])
		}
		return namedRangeRe.MatchString(s)
	})

	// identifier: a bare `\w+` name — variable, collection, item_variable.
	_ = v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return identifierRe.MatchString(fl.Field().String())
	})

	// direction: the repeat marker's DOWN/RIGHT axis.
	_ = v.RegisterValidation("direction", func(fl validator.FieldLevel) bool {
		s := strings.ToUpper(strings.TrimSpace(fl.Field().String()))
		return s == "" || s == "DOWN" || s == "RIGHT"
	})

	// sizespec: the image `size` parameter — fit|original|W:H.
	_ = v.RegisterValidation("sizespec", func(fl validator.FieldLevel) bool {
		s := strings.ToLower(strings.TrimSpace(fl.Field().String()))
		return s == "" || sizeSpecRe.MatchString(s)
	})

	return v
}

// ValidateStruct validates s against its `validate` tags and, on the first
// failure, returns a *tbegerr.Error with Kind MarkerValidation describing
// which field and rule failed. Returns nil when s is valid.
func ValidateStruct(s any) error {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}
	ve, ok := err.(validator.ValidationErrors)
	if !ok || len(ve) == 0 {
		return tbegerr.New(tbegerr.MarkerValidation, "invalid inputs").WithCause(err)
	}
	fe := ve[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return tbegerr.Wrapf(tbegerr.MissingRequiredParam, "%s is required", field)
	case "filepath_ext":
		return tbegerr.Wrapf(tbegerr.InvalidParameterValue, "%s must be an Excel file (.xlsx, .xlsm, .xltx, .xltm)", field)
	case "a1orname":
		return tbegerr.Wrapf(tbegerr.InvalidRangeFormat, "%s is not a valid A1 range or named range", field)
	case "identifier":
		return tbegerr.Wrapf(tbegerr.InvalidParameterValue, "%s must match \\w+", field)
	case "direction":
		return tbegerr.Wrapf(tbegerr.InvalidParameterValue, "%s must be DOWN or RIGHT", field)
	case "sizespec":
		return tbegerr.Wrapf(tbegerr.InvalidParameterValue, "%s must be fit, original, or W:H", field)
	case "oneof":
		return tbegerr.Wrapf(tbegerr.InvalidParameterValue, "%s must be one of: %s", field, fe.Param())
	default:
		return tbegerr.Wrapf(tbegerr.MarkerValidation, "invalid %s", field)
	}
}
