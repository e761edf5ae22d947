// Package validation checks request structs with go-playground/validator.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/social-trends-api/internal/model"
	"github.com/social-trends-api/internal/tier"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator. Field names in errors are the json
// tag names, and two extra tags are registered: "tier" and "key_source".
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})

		_ = validate.RegisterValidation("tier", func(fl validator.FieldLevel) bool {
			_, err := tier.Parse(fl.Field().String())
			return err == nil
		})
		_ = validate.RegisterValidation("key_source", func(fl validator.FieldLevel) bool {
			switch model.APIKeySource(fl.Field().String()) {
			case model.SourceDirect, model.SourceInstant, model.SourceRapidAPI, model.SourceAdmin:
				return true
			}
			return false
		})
	})
	return validate
}

// Struct validates s and returns an error whose message lists every failing
// field in request terms ("email must be a valid email address").
func Struct(s interface{}) error {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		messages = append(messages, translate(fe))
	}
	return errors.New(strings.Join(messages, "; "))
}

// Email normalizes and checks an email address.
func Email(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := Validator().Var(email, "required,email,max=254"); err != nil {
		return "", fmt.Errorf("email must be a valid email address")
	}
	return email, nil
}

func translate(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "tier":
		return fmt.Sprintf("%s must be one of: free, developer, business, enterprise", field)
	case "key_source":
		return fmt.Sprintf("%s must be one of: direct, instant, rapidapi, admin", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "required_if":
		return fmt.Sprintf("%s is required for this source", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
