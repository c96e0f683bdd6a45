package auth

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/toolgate/toolgate/internal/config"
)

// Validator verifies bearer tokens and extracts UserClaims.
//
// Signature and algorithm checks are delegated to golang-jwt with a strict
// method allowlist; lifetime, issuer, audience, max-age, and api-version
// checks are applied explicitly so the clock-skew rules are under our
// control rather than the library's leeway handling.
type Validator struct {
	cfg             config.JWTConfig
	allowedAlgs     []string
	allowedVersions []string
	parser          *jwt.Parser

	// now is swapped in tests to pin the clock.
	now func() time.Time
}

// NewValidator builds a Validator from the JWT configuration.
func NewValidator(cfg config.JWTConfig) *Validator {
	allowed := cfg.AllowedAlgorithmList()
	return &Validator{
		cfg:             cfg,
		allowedAlgs:     allowed,
		allowedVersions: cfg.AllowedAPIVersionList(),
		parser: jwt.NewParser(
			jwt.WithValidMethods(allowed),
			jwt.WithoutClaimsValidation(),
		),
		now: time.Now,
	}
}

// Validate verifies a bearer token string and returns the extracted claims.
// It returns *ExpiredTokenError when the token is past its expiry beyond the
// skew tolerance, and *InvalidTokenError for every other failure.
func (v *Validator) Validate(tokenString string) (*UserClaims, error) {
	payload, err := v.decode(tokenString)
	if err != nil {
		return nil, err
	}
	return v.extractClaims(payload)
}

// decode parses the token, verifies the signature, and applies the lifetime
// and claim-presence rules.
func (v *Validator) decode(tokenString string) (jwt.MapClaims, error) {
	if v.cfg.Issuer == "" || v.cfg.Audience == "" {
		return nil, &InvalidTokenError{Message: "JWT issuer/audience not configured"}
	}
	if err := v.checkAlgorithmConfig(); err != nil {
		return nil, err
	}

	payload := jwt.MapClaims{}
	token, err := v.parser.ParseWithClaims(tokenString, payload, v.keyfunc)
	if err != nil {
		return nil, &InvalidTokenError{Message: "Invalid JWT token: " + err.Error()}
	}
	if !token.Valid {
		return nil, &InvalidTokenError{Message: "Invalid JWT token"}
	}

	expTS, err := requiredIntClaim(payload, v.cfg.ExpClaim)
	if err != nil {
		return nil, err
	}

	if err := v.checkIssuerAudience(payload); err != nil {
		return nil, err
	}

	nowTS := v.now().Unix()
	skew := int64(v.cfg.ClockSkewSeconds)
	if skew < 0 {
		skew = 0
	}

	if nowTS-skew > expTS {
		return nil, &ExpiredTokenError{Message: "JWT token has expired"}
	}

	if notBefore, ok := payload["nbf"]; ok {
		nbfTS, convErr := coerceInt(notBefore, "nbf")
		if convErr != nil {
			return nil, convErr
		}
		if nowTS+skew < nbfTS {
			return nil, &InvalidTokenError{Message: "JWT token not yet valid"}
		}
	}

	if v.cfg.MaxTokenAgeMinutes > 0 {
		issuedAt, err := requiredIntClaim(payload, v.cfg.IATClaim)
		if err != nil {
			return nil, err
		}
		if issuedAt > nowTS+skew {
			return nil, &InvalidTokenError{
				Message: fmt.Sprintf("JWT token has invalid '%s' claim", v.cfg.IATClaim),
			}
		}
		maxAgeSeconds := int64(v.cfg.MaxTokenAgeMinutes) * 60
		if nowTS-skew > issuedAt+maxAgeSeconds {
			return nil, &InvalidTokenError{Message: "JWT token too old"}
		}
	}

	if len(v.allowedVersions) > 0 {
		version, ok := payload[v.cfg.APIVersionClaim]
		if !ok || version == nil {
			return nil, &InvalidTokenError{
				Message: fmt.Sprintf("JWT token missing required '%s' claim", v.cfg.APIVersionClaim),
			}
		}
		if !containsString(v.allowedVersions, stringifyClaim(version)) {
			return nil, &InvalidTokenError{Message: "JWT token has unsupported api version"}
		}
	}

	return payload, nil
}

// checkAlgorithmConfig re-validates the allowlist at use time so a validator
// constructed from a bad configuration fails closed instead of accepting
// arbitrary methods.
func (v *Validator) checkAlgorithmConfig() error {
	if len(v.allowedAlgs) == 0 {
		return &InvalidTokenError{Message: "JWT allowed algorithms misconfigured"}
	}
	for _, alg := range v.allowedAlgs {
		if alg == "NONE" {
			return &InvalidTokenError{Message: "JWT allowed algorithms misconfigured"}
		}
	}
	if !containsString(v.allowedAlgs, strings.ToUpper(v.cfg.Algorithm)) {
		return &InvalidTokenError{Message: "JWT algorithm not in allowed list"}
	}
	return nil
}

// keyfunc returns the HMAC secret. Only HMAC-family methods are supported;
// asymmetric tokens are rejected here even if allowlisted.
func (v *Validator) keyfunc(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
	}
	return []byte(v.cfg.SecretKey), nil
}

// checkIssuerAudience enforces presence and exact match of iss and aud.
func (v *Validator) checkIssuerAudience(payload jwt.MapClaims) error {
	issuer, ok := payload["iss"]
	if !ok || issuer == nil {
		return &InvalidTokenError{Message: "JWT token missing required 'iss' claim"}
	}
	if issStr, ok := issuer.(string); !ok || issStr != v.cfg.Issuer {
		return &InvalidTokenError{Message: "Invalid JWT token: Invalid issuer"}
	}

	audience, ok := payload["aud"]
	if !ok || audience == nil {
		return &InvalidTokenError{Message: "JWT token missing required 'aud' claim"}
	}
	if !audienceMatches(audience, v.cfg.Audience) {
		return &InvalidTokenError{Message: "Invalid JWT token: Invalid audience"}
	}
	return nil
}

// audienceMatches handles both the string and string-list forms of aud.
func audienceMatches(raw any, want string) bool {
	switch aud := raw.(type) {
	case string:
		return aud == want
	case []any:
		for _, item := range aud {
			if s, ok := item.(string); ok && s == want {
				return true
			}
		}
	case []string:
		for _, s := range aud {
			if s == want {
				return true
			}
		}
	}
	return false
}

// extractClaims maps the decoded payload onto UserClaims.
func (v *Validator) extractClaims(payload jwt.MapClaims) (*UserClaims, error) {
	userIDClaim := v.cfg.UserIDClaim
	userID, err := optionalStringClaim(payload, userIDClaim)
	if err != nil {
		return nil, err
	}
	if userID == "" && userIDClaim == "sub" {
		userID, err = optionalStringClaim(payload, "user_id")
		if err != nil {
			return nil, err
		}
	}
	if userID == "" {
		return nil, &InvalidTokenError{Message: "JWT token missing required 'sub' or 'user_id' claim"}
	}

	email, err := optionalStringClaim(payload, "email")
	if err != nil {
		return nil, err
	}

	roles, err := stringListClaim(payload, "roles")
	if err != nil {
		return nil, err
	}
	groups, err := stringListClaim(payload, "groups")
	if err != nil {
		return nil, err
	}

	tenantClaim := v.cfg.TenantClaim
	workspace, err := optionalStringClaim(payload, tenantClaim)
	if err != nil {
		return nil, err
	}
	if workspace == "" {
		// "workspace" and "tenant" are accepted as alternates of each other.
		switch tenantClaim {
		case "workspace":
			workspace, err = optionalStringClaim(payload, "tenant")
		case "tenant":
			workspace, err = optionalStringClaim(payload, "workspace")
		}
		if err != nil {
			return nil, err
		}
	}

	claims := &UserClaims{
		UserID:    userID,
		Email:     email,
		Roles:     roles,
		Groups:    groups,
		Workspace: workspace,
		Extra:     extraClaims(payload, v.consumedClaimNames()),
	}
	return claims, nil
}

// consumedClaimNames lists payload keys mapped onto UserClaims fields or
// verified during decode; everything else lands in Extra.
func (v *Validator) consumedClaimNames() map[string]struct{} {
	consumed := map[string]struct{}{
		"iss": {}, "aud": {}, "nbf": {},
		"email": {}, "roles": {}, "groups": {},
		"workspace": {}, "tenant": {},
		v.cfg.UserIDClaim: {}, "user_id": {},
		v.cfg.ExpClaim:        {},
		v.cfg.IATClaim:        {},
		v.cfg.TenantClaim:     {},
		v.cfg.APIVersionClaim: {},
	}
	return consumed
}

func extraClaims(payload jwt.MapClaims, consumed map[string]struct{}) map[string]any {
	var extra map[string]any
	for key, value := range payload {
		if _, ok := consumed[key]; ok {
			continue
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[key] = value
	}
	return extra
}

// requiredIntClaim reads a claim that must be present and coercible to an
// integer timestamp.
func requiredIntClaim(payload jwt.MapClaims, name string) (int64, error) {
	value, ok := payload[name]
	if !ok || value == nil {
		return 0, &InvalidTokenError{
			Message: fmt.Sprintf("JWT token missing required '%s' claim", name),
		}
	}
	return coerceInt(value, name)
}

// coerceInt converts the JSON forms a numeric claim may arrive in.
func coerceInt(value any, name string) (int64, error) {
	switch n := value.(type) {
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err == nil {
			return parsed, nil
		}
	}
	return 0, &InvalidTokenError{
		Message: fmt.Sprintf("JWT token has invalid '%s' claim", name),
	}
}

// optionalStringClaim reads a claim that must be a string when present.
func optionalStringClaim(payload jwt.MapClaims, name string) (string, error) {
	if name == "" {
		return "", nil
	}
	value, ok := payload[name]
	if !ok || value == nil {
		return "", nil
	}
	s, ok := value.(string)
	if !ok {
		return "", &InvalidTokenError{
			Message: fmt.Sprintf("Failed to parse JWT claims: '%s' claim is not a string", name),
		}
	}
	return s, nil
}

// stringListClaim reads a claim that must be a list of strings when present.
func stringListClaim(payload jwt.MapClaims, name string) ([]string, error) {
	value, ok := payload[name]
	if !ok || value == nil {
		return nil, nil
	}
	items, ok := value.([]any)
	if !ok {
		return nil, &InvalidTokenError{
			Message: fmt.Sprintf("Failed to parse JWT claims: '%s' claim is not a list", name),
		}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, &InvalidTokenError{
				Message: fmt.Sprintf("Failed to parse JWT claims: '%s' claim is not a list of strings", name),
			}
		}
		out = append(out, s)
	}
	return out, nil
}

func containsString(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}

// stringifyClaim renders an api-version claim for case-sensitive comparison.
func stringifyClaim(value any) string {
	switch s := value.(type) {
	case string:
		return s
	case float64:
		// JSON numbers arrive as float64; render integral values without
		// a fraction so v=1 matches "1".
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(value)
	}
}
