package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MintOptions configure a development token.
type MintOptions struct {
	UserID    string
	Email     string
	Roles     []string
	Groups    []string
	Workspace string
	// APIVersion overrides the api-version claim. When empty and the
	// validator has an allowlist, the first allowed version is used.
	APIVersion string
	// TTL is the token lifetime. Defaults to 30 minutes.
	TTL time.Duration
	// IssuedAt overrides the iat claim. Zero means now.
	IssuedAt time.Time
	// ExpiresAt overrides the exp claim. Zero means IssuedAt + TTL.
	ExpiresAt time.Time
}

// Mint signs a development token with the configured claim names. It exists
// for the token CLI command and for tests; production tokens come from an
// external issuer.
func (v *Validator) Mint(opts MintOptions) (string, error) {
	if opts.UserID == "" {
		return "", fmt.Errorf("mint: user id is required")
	}
	if v.cfg.SecretKey == "" {
		return "", fmt.Errorf("mint: signing secret is not configured")
	}

	method := jwt.GetSigningMethod(strings.ToUpper(v.cfg.Algorithm))
	if method == nil {
		return "", fmt.Errorf("mint: unknown signing algorithm %q", v.cfg.Algorithm)
	}
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return "", fmt.Errorf("mint: only HMAC algorithms are supported, got %q", v.cfg.Algorithm)
	}

	ttl := opts.TTL
	if ttl == 0 {
		ttl = 30 * time.Minute
	}
	issuedAt := opts.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = v.now()
	}
	expiresAt := opts.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = issuedAt.Add(ttl)
	}

	email := opts.Email
	if email == "" {
		email = opts.UserID + "@example.com"
	}

	roles := opts.Roles
	if roles == nil {
		roles = []string{}
	}
	groups := opts.Groups
	if groups == nil {
		groups = []string{}
	}

	payload := jwt.MapClaims{
		v.cfg.UserIDClaim: opts.UserID,
		"iss":             v.cfg.Issuer,
		"aud":             v.cfg.Audience,
		"email":           email,
		"roles":           roles,
		"groups":          groups,
		v.cfg.IATClaim:    issuedAt.Unix(),
		v.cfg.ExpClaim:    expiresAt.Unix(),
	}
	if opts.Workspace != "" {
		payload[v.cfg.TenantClaim] = opts.Workspace
	}

	version := opts.APIVersion
	if version == "" && len(v.allowedVersions) > 0 {
		version = v.allowedVersions[0]
	}
	if version != "" {
		payload[v.cfg.APIVersionClaim] = version
	}

	token := jwt.NewWithClaims(method, payload)
	return token.SignedString([]byte(v.cfg.SecretKey))
}
