package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks a configuration against the struct-level validation
// tags. It is called by Load after defaults are applied, and may be
// called directly on hand-built configurations.
func Validate(cfg *Config) error {
	validate := validator.New()

	if err := validate.Struct(cfg); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok {
			for _, fieldErr := range errs {
				return fmt.Errorf("invalid config field %s: failed %q constraint",
					fieldErr.Namespace(), fieldErr.Tag())
			}
		}
		return fmt.Errorf("config validation error: %w", err)
	}
	return nil
}
