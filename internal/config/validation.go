package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate checks struct tags and the rules that span sections
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if !cfg.Repository.InMemory && cfg.Repository.Path == "" {
		return fmt.Errorf("repository: path is required unless in_memory is set")
	}

	switch cfg.Content.Type {
	case "s3":
		if cfg.Content.Bucket == "" {
			return fmt.Errorf("content: bucket is required for the s3 store")
		}
	case "filesystem":
		if !cfg.Repository.InMemory && cfg.Content.Path == "" {
			return fmt.Errorf("content: path is required for the filesystem store")
		}
	}

	if cfg.Retry.MaxDelay > 0 && cfg.Retry.MaxDelay < cfg.Retry.BaseDelay {
		return fmt.Errorf("retry: max_delay (%s) is shorter than base_delay (%s)", cfg.Retry.MaxDelay, cfg.Retry.BaseDelay)
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		// Return the first validation error with context
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
