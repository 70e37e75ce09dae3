// Package validate wraps go-playground/validator with the tags used by the
// configuration structs, e.g.
//
//	type Output struct {
//		Format string `yaml:"format" validate:"imageformat"`
//	}
package validate

import (
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	validatorInst *validator.Validate
)

// ImageFormats lists the export formats accepted by the imageformat tag
var ImageFormats = []string{"png", "jpg", "jpeg", "tif", "tiff"}

func get() *validator.Validate {
	validatorOnce.Do(func() {
		validatorInst = validator.New(validator.WithRequiredStructEnabled())
		validatorInst.RegisterValidation("imageformat", func(fl validator.FieldLevel) bool {
			f := strings.ToLower(strings.TrimPrefix(fl.Field().String(), "."))
			for _, ok := range ImageFormats {
				if f == ok {
					return true
				}
			}
			return false
		})
	})
	return validatorInst
}

// Struct validates a struct using the shared validator instance.
func Struct(v any) error {
	return get().Struct(v)
}

// Var validates a single variable against the provided tag constraints.
func Var(field any, tag string) error {
	return get().Var(field, tag)
}
