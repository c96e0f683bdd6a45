package auth

import "fmt"

// InvalidTokenError reports a bearer token that failed validation for any
// reason other than expiry: bad signature, malformed payload, disallowed
// algorithm, missing required claim, bad issuer or audience, implausible
// timestamps, or an unsupported api version.
type InvalidTokenError struct {
	Message string
}

func (e *InvalidTokenError) Error() string {
	if e.Message == "" {
		return "Invalid JWT token"
	}
	return e.Message
}

// Code returns the stable error symbol used in HTTP bodies and audit rows.
func (e *InvalidTokenError) Code() string { return "InvalidTokenError" }

// ExpiredTokenError reports a token whose expiry lies beyond the clock-skew
// tolerance.
type ExpiredTokenError struct {
	Message string
}

func (e *ExpiredTokenError) Error() string {
	if e.Message == "" {
		return "JWT token has expired"
	}
	return e.Message
}

// Code returns the stable error symbol used in HTTP bodies and audit rows.
func (e *ExpiredTokenError) Code() string { return "ExpiredTokenError" }

// ToolNotAllowedError reports a user attempting to invoke a tool outside
// their allowances.
type ToolNotAllowedError struct {
	ToolName string
	UserID   string
}

func (e *ToolNotAllowedError) Error() string {
	return fmt.Sprintf("User '%s' is not authorized to use tool '%s'", e.UserID, e.ToolName)
}

// Code returns the stable error symbol used in HTTP bodies and audit rows.
func (e *ToolNotAllowedError) Code() string { return "TOOL_NOT_ALLOWED" }

// AdminRequiredError reports a non-admin user reaching an admin-only surface.
type AdminRequiredError struct{}

func (e *AdminRequiredError) Error() string { return "Admin role required for this operation" }

// Code returns the stable error symbol used in HTTP bodies and audit rows.
func (e *AdminRequiredError) Code() string { return "admin_required" }
