package handler

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/iliyamo/dorm-reservation/internal/model"
	"github.com/iliyamo/dorm-reservation/internal/utils"
)

// Validator adapts go-playground/validator to echo.Validator and registers
// the dormitory specific tags.
type Validator struct {
	v *validator.Validate
}

// NewValidator builds the validator used by e.Validator.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report json field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return utils.ValidPhone(fl.Field().String())
	})
	_ = v.RegisterValidation("strong_password", func(fl validator.FieldLevel) bool {
		return utils.StrongPassword(fl.Field().String())
	})
	_ = v.RegisterValidation("national_id", func(fl validator.FieldLevel) bool {
		return utils.ValidateNationalID(fl.Field().String())
	})
	_ = v.RegisterValidation("room_capacity", func(fl validator.FieldLevel) bool {
		return model.ValidCapacity(int(fl.Field().Int()))
	})
	return &Validator{v: v}
}

// Validate implements echo.Validator.
func (cv *Validator) Validate(i any) error {
	return cv.v.Struct(i)
}

// fieldErrors flattens validation errors into field -> failed tag.
func fieldErrors(err error) map[string]string {
	out := map[string]string{}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out["_"] = err.Error()
		return out
	}
	for _, fe := range verrs {
		out[fe.Field()] = fe.Tag()
	}
	return out
}
