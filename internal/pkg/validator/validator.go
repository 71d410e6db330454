package validator

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator instance
var validate *validator.Validate

// Known paid actions; kept in sync with the gate cost table.
var paidActions = []string{"create_list", "create_todo", "complete_pomodoro", "generate_image"}

func init() {
	validate = validator.New()

	// Use JSON tag names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	registerCustomValidations()
}

func registerCustomValidations() {
	validate.RegisterValidation("paid_action", func(fl validator.FieldLevel) bool {
		action := fl.Field().String()
		if action == "" {
			return true
		}
		for _, a := range paidActions {
			if action == a {
				return true
			}
		}
		return false
	})

	validate.RegisterValidation("webhook_status", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "", "received", "processed", "failed", "ignored":
			return true
		}
		return false
	})
}

// Validate validates a struct and returns a map of field errors
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"_": err.Error()}
	}

	errors := make(map[string]string)
	for _, err := range verrs {
		field := err.Field()
		switch err.Tag() {
		case "required":
			errors[field] = "This field is required"
		case "min":
			errors[field] = "Value is too short (min: " + err.Param() + ")"
		case "max":
			errors[field] = "Value is too long (max: " + err.Param() + ")"
		case "gt":
			errors[field] = "Value must be greater than " + err.Param()
		case "gte":
			errors[field] = "Value must be at least " + err.Param()
		case "lte":
			errors[field] = "Value must be at most " + err.Param()
		case "paid_action":
			errors[field] = "Unknown action. Must be: " + strings.Join(paidActions, ", ")
		case "webhook_status":
			errors[field] = "Invalid status. Must be: received, processed, failed, or ignored"
		default:
			errors[field] = "Invalid value"
		}
	}

	return errors
}

// ValidateVar validates a single variable
func ValidateVar(field interface{}, tag string) error {
	return validate.Var(field, tag)
}
