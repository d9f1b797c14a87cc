// Package input loads and validates the JSON input document.
package input

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mohammed-shakir/analytics-datacube/internal/core/model"
)

var ErrInvalid = errors.New("invalid input")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
		_, err := model.ParseDate(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("indicator", func(fl validator.FieldLevel) bool {
		_, err := model.ParseIndicator(fl.Field().String())
		return err == nil
	})
	return v
}

// Load reads the document at path.
func Load(path string) (model.Input, error) {
	if strings.TrimSpace(path) == "" {
		return model.Input{}, fmt.Errorf("%w: no input path", ErrInvalid)
	}
	f, err := os.Open(path)
	if err != nil {
		return model.Input{}, fmt.Errorf("open input: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Decode(f)
}

func Decode(r io.Reader) (model.Input, error) {
	var in model.Input
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return model.Input{}, fmt.Errorf("%w: decode json: %v", ErrInvalid, err)
	}
	if err := Validate(in); err != nil {
		return model.Input{}, err
	}
	return in, nil
}

func Validate(in model.Input) error {
	return ValidateStruct(in)
}

// ValidateStruct validates any struct carrying input tags and reports every
// failing field by its JSON path.
func ValidateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	path := fe.Namespace()
	if _, rest, ok := strings.Cut(path, "."); ok {
		path = rest
	}
	switch fe.Tag() {
	case "required":
		return path + " is required"
	case "isodate":
		return fmt.Sprintf("%s: %q is not a valid date (want YYYY-MM-DD or RFC3339)", path, fe.Value())
	case "indicator":
		return fmt.Sprintf("%s: unknown indicator %q (want one of %s)", path, fe.Value(), indicatorList())
	case "min":
		return fmt.Sprintf("%s must have at least %s item(s)", path, fe.Param())
	}
	return fmt.Sprintf("%s failed %s", path, fe.Tag())
}

func indicatorList() string {
	inds := model.Indicators()
	names := make([]string, len(inds))
	for i, ind := range inds {
		names[i] = string(ind)
	}
	return strings.Join(names, ", ")
}
