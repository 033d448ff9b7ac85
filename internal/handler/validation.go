package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/videotranslator/api/internal/service"
)

// NewValidator returns a validator with the "language" tag bound to the catalog
func NewValidator(languages *service.LanguageService) *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("language", func(fl validator.FieldLevel) bool {
		return languages.Supports(fl.Field().String())
	})
	return v
}

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
