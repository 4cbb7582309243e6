package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/yourorg/clinicops/internal/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	// bcrypt rejects inputs longer than maxPasswordLength bytes; max= counts runes.
	_ = v.RegisterValidation("bcryptlen", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= maxPasswordLength
	})
	return v
}

// validateInput checks struct tags and converts the first failure into an
// InvalidRequest error.
func validateInput(in interface{}) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domain.InvalidRequest(err.Error())
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return domain.InvalidRequest(fmt.Sprintf("%s is required", fe.Field()))
	case "min":
		return domain.InvalidRequest(fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param()))
	case "max":
		return domain.InvalidRequest(fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
	case "bcryptlen":
		return domain.InvalidRequest(fmt.Sprintf("%s must be at most %d bytes", fe.Field(), maxPasswordLength))
	case "oneof":
		return domain.InvalidRequest(fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param()))
	default:
		return domain.InvalidRequest(fmt.Sprintf("%s must satisfy %s constraint", fe.Field(), fe.Tag()))
	}
}
