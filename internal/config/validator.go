package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers gateway-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	// jwt_algorithms: validates a CSV algorithm allowlist (non-empty, no "none")
	if err := v.RegisterValidation("jwt_algorithms", validateJWTAlgorithms); err != nil {
		return fmt.Errorf("failed to register jwt_algorithms validator: %w", err)
	}
	return nil
}

// validateJWTAlgorithms validates the allowed_algorithms field.
// The list must contain at least one algorithm and must never contain "none",
// in any casing.
func validateJWTAlgorithms(fl validator.FieldLevel) bool {
	items := splitCSV(fl.Field().String())
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		if strings.EqualFold(item, "none") {
			return false
		}
	}
	return true
}

// splitCSV splits a comma-separated list, trimming whitespace and dropping
// empty items.
func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

// AllowedAlgorithmList returns the parsed algorithm allowlist, normalized to
// upper case.
func (j JWTConfig) AllowedAlgorithmList() []string {
	items := splitCSV(j.AllowedAlgorithms)
	normalized := make([]string, 0, len(items))
	for _, item := range items {
		normalized = append(normalized, strings.ToUpper(item))
	}
	return normalized
}

// AllowedAPIVersionList returns the parsed api-version allowlist. Matching is
// case-sensitive, so values are returned as configured.
func (j JWTConfig) AllowedAPIVersionList() []string {
	return splitCSV(j.AllowedAPIVersions)
}

// Validate validates the Config using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	// Create validator with required struct enabled
	v := validator.New(validator.WithRequiredStructEnabled())

	// Register custom validators
	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	// Run struct validation (tags)
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	// Cross-field validation: configured algorithm must be allowlisted
	if err := c.validateAlgorithmMembership(); err != nil {
		return err
	}

	// Cross-field validation: secrets required outside dev mode
	if err := c.validateSecrets(); err != nil {
		return err
	}

	return nil
}

// validateAlgorithmMembership ensures jwt.algorithm is a member of
// jwt.allowed_algorithms.
func (c *Config) validateAlgorithmMembership() error {
	algorithm := strings.ToUpper(c.JWT.Algorithm)
	for _, allowed := range c.JWT.AllowedAlgorithmList() {
		if algorithm == allowed {
			return nil
		}
	}
	return fmt.Errorf("jwt: algorithm %q is not in allowed_algorithms %q", c.JWT.Algorithm, c.JWT.AllowedAlgorithms)
}

// validateSecrets ensures the signing secret and gateway shared secret are
// configured. Dev mode fills both via SetDevDefaults, so this only fires for
// production deployments missing required environment.
func (c *Config) validateSecrets() error {
	if c.JWT.SecretKey == "" {
		return errors.New("jwt: secret_key is required (set JWT_SECRET_KEY)")
	}
	if c.Gateway.SharedSecret == "" {
		return errors.New("gateway: shared_secret is required (set TOOL_GATEWAY_SHARED_SECRET)")
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			msg := formatSingleValidationError(e)
			messages = append(messages, msg)
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "jwt_algorithms":
		return fmt.Sprintf("%s must list at least one algorithm and must not contain 'none'", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
