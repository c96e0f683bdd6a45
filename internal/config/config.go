// Package config provides configuration types for the tool gateway.
//
// Configuration is resolved from an optional YAML file plus environment
// variables. The canonical deployment surface is the environment: every
// nested key can be set with a TOOLGATE_ prefixed variable, and the
// well-known names (JWT_SECRET_KEY, TOOL_GATEWAY_SHARED_SECRET,
// DATABASE_URL, ...) are bound without any prefix so existing deployments
// keep working.
package config

// Config is the top-level configuration for the tool gateway.
type Config struct {
	// App configures the HTTP listener and application identity.
	App AppConfig `yaml:"app" mapstructure:"app"`

	// JWT configures bearer-token validation.
	JWT JWTConfig `yaml:"jwt" mapstructure:"jwt"`

	// Database configures the persistence layer. When URL is empty the
	// gateway runs on in-memory stores with a JSONL audit sink.
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Gateway configures the backend proxy (shared secret, payload cap,
	// per-call timeout).
	Gateway GatewayConfig `yaml:"gateway" mapstructure:"gateway"`

	// RateLimit configures the per-user and per-tool token buckets.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// Registry configures the tool catalog sync and snapshot cache.
	Registry RegistryConfig `yaml:"registry" mapstructure:"registry"`

	// Policy configures the authorization ruleset file.
	Policy PolicyConfig `yaml:"policy" mapstructure:"policy"`

	// Audit configures the buffered audit writer.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Tracing configures optional OpenTelemetry span export.
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`

	// DevMode enables development defaults (generated secrets, debug logging).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// AppConfig configures the HTTP server and application identity.
type AppConfig struct {
	// Name is the application name reported by /health and MCP serverInfo.
	// Defaults to "MCP Gateway".
	Name string `yaml:"name" mapstructure:"name"`

	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8080").
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// BaseURL is the externally visible base URL used in the SSE endpoint
	// announcement (e.g., "https://gateway.example.com"). When empty the
	// URL is derived from the incoming request.
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// FilesDir is the root directory served by /files/{user_id}/{filename}.
	// Defaults to "files".
	FilesDir string `yaml:"files_dir" mapstructure:"files_dir"`
}

// JWTConfig configures bearer-token validation.
// Claim names are configurable so the gateway can consume tokens minted by
// issuers with non-standard layouts.
type JWTConfig struct {
	// SecretKey is the HMAC signing secret. Required outside dev mode.
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`

	// Algorithm is the expected signing algorithm. Defaults to "HS256".
	// Must be a member of AllowedAlgorithms.
	Algorithm string `yaml:"algorithm" mapstructure:"algorithm"`

	// AllowedAlgorithms is a comma-separated allowlist of signing
	// algorithms. Must be non-empty and must not contain "none".
	// Defaults to "HS256".
	AllowedAlgorithms string `yaml:"allowed_algorithms" mapstructure:"allowed_algorithms" validate:"required,jwt_algorithms"`

	// Issuer is the required "iss" claim value. Validation fails closed
	// when unset.
	Issuer string `yaml:"issuer" mapstructure:"issuer"`

	// Audience is the required "aud" claim value. Validation fails closed
	// when unset.
	Audience string `yaml:"audience" mapstructure:"audience"`

	// MaxTokenAgeMinutes rejects tokens whose issued-at is older than this
	// many minutes. 0 disables the check.
	MaxTokenAgeMinutes int `yaml:"max_token_age_minutes" mapstructure:"max_token_age_minutes" validate:"omitempty,min=0"`

	// ClockSkewSeconds is the symmetric clock-skew tolerance applied to
	// exp, nbf, and iat checks. Defaults to 30.
	ClockSkewSeconds int `yaml:"clock_skew_seconds" mapstructure:"clock_skew_seconds" validate:"omitempty,min=0"`

	// UserIDClaim names the claim carrying the user identifier.
	// Defaults to "sub"; when set to "sub", "user_id" is tried as fallback.
	UserIDClaim string `yaml:"user_id_claim" mapstructure:"user_id_claim"`

	// ExpClaim names the expiry claim. Defaults to "exp".
	ExpClaim string `yaml:"exp_claim" mapstructure:"exp_claim"`

	// IATClaim names the issued-at claim. Defaults to "iat".
	IATClaim string `yaml:"iat_claim" mapstructure:"iat_claim"`

	// TenantClaim names the workspace/tenant claim. Defaults to
	// "workspace"; "workspace" and "tenant" are tried as alternates of
	// each other.
	TenantClaim string `yaml:"tenant_claim" mapstructure:"tenant_claim"`

	// APIVersionClaim names the api-version claim. Defaults to "v".
	APIVersionClaim string `yaml:"api_version_claim" mapstructure:"api_version_claim"`

	// AllowedAPIVersions is a comma-separated list of accepted api-version
	// claim values. Empty disables the check.
	AllowedAPIVersions string `yaml:"allowed_api_versions" mapstructure:"allowed_api_versions"`
}

// DatabaseConfig configures the SQL persistence layer.
type DatabaseConfig struct {
	// URL is the database connection string. Scheme selects the driver:
	// "postgres://" uses PostgreSQL, "sqlite://" or a plain file path uses
	// SQLite. Empty runs the gateway on in-memory stores.
	URL string `yaml:"url" mapstructure:"url"`
}

// GatewayConfig configures the backend proxy.
type GatewayConfig struct {
	// SharedSecret is sent to backends in X-Gateway-Auth. Required outside
	// dev mode; the proxy fails closed when empty.
	SharedSecret string `yaml:"shared_secret" mapstructure:"shared_secret"`

	// MaxPayloadBytes caps the serialized size of tool-call arguments.
	// Defaults to 1 MiB.
	MaxPayloadBytes int `yaml:"max_payload_bytes" mapstructure:"max_payload_bytes" validate:"omitempty,min=1"`

	// BackendTimeout is the per-call timeout for backend requests
	// (e.g., "30s"). Defaults to "30s".
	BackendTimeout string `yaml:"backend_timeout" mapstructure:"backend_timeout" validate:"omitempty"`
}

// RateLimitConfig configures the token-bucket rate limiter.
// The user bucket is generous; the per-tool bucket is stricter.
type RateLimitConfig struct {
	// UserRequestsPerMinute is the refill rate of the per-user bucket.
	// Defaults to 1000.
	UserRequestsPerMinute int `yaml:"user_requests_per_minute" mapstructure:"user_requests_per_minute" validate:"omitempty,min=1"`

	// UserBurstSize is the capacity of the per-user bucket. Defaults to 2000.
	UserBurstSize int `yaml:"user_burst_size" mapstructure:"user_burst_size" validate:"omitempty,min=1"`

	// ToolRequestsPerMinute is the refill rate of the per-user-per-tool
	// bucket. Defaults to 100.
	ToolRequestsPerMinute int `yaml:"tool_requests_per_minute" mapstructure:"tool_requests_per_minute" validate:"omitempty,min=1"`

	// ToolBurstSize is the capacity of the per-user-per-tool bucket.
	// Defaults to 200.
	ToolBurstSize int `yaml:"tool_burst_size" mapstructure:"tool_burst_size" validate:"omitempty,min=1"`

	// CleanupInterval is how often the sweeper reaps stale buckets
	// (e.g., "5m"). Defaults to "5m".
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval" validate:"omitempty"`

	// MaxIdle is how long a bucket may sit unused before the sweeper drops
	// it (e.g., "10m"). Defaults to "10m".
	MaxIdle string `yaml:"max_idle" mapstructure:"max_idle" validate:"omitempty"`
}

// RegistryConfig configures the tool catalog sync and snapshot cache.
type RegistryConfig struct {
	// CatalogPath is the YAML tool catalog synchronized at startup.
	// A missing file yields an empty registry (logged at warn).
	// Defaults to "config/tools.yaml".
	CatalogPath string `yaml:"catalog_path" mapstructure:"catalog_path"`

	// CacheTTL is the lifetime of cached registry snapshots (e.g., "5m").
	// Defaults to "5m".
	CacheTTL string `yaml:"cache_ttl" mapstructure:"cache_ttl" validate:"omitempty"`
}

// PolicyConfig configures the authorization ruleset.
type PolicyConfig struct {
	// Path is the YAML policy file. A missing file yields the default
	// deny-all ruleset. Defaults to "config/policy.yaml".
	Path string `yaml:"path" mapstructure:"path"`
}

// AuditConfig configures the buffered audit writer and the JSONL sink.
type AuditConfig struct {
	// ChannelSize is the buffer size for the audit channel.
	// Larger values handle burst traffic better but use more memory.
	// Defaults to 1000.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`

	// BatchSize is the number of records to batch before writing.
	// Defaults to 100.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`

	// FlushInterval is how often to flush pending records (e.g., "1s").
	// Defaults to "1s".
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty"`

	// SendTimeout is how long to block when the channel is full
	// (e.g., "100ms", "0"). "0" drops immediately. Defaults to "100ms".
	SendTimeout string `yaml:"send_timeout" mapstructure:"send_timeout" validate:"omitempty"`

	// WarningThreshold is the channel-depth percentage (0-100) at which a
	// rate-limited warning is logged. 0 disables. Defaults to 80.
	WarningThreshold int `yaml:"warning_threshold" mapstructure:"warning_threshold" validate:"omitempty,min=0,max=100"`

	// FileDir is the directory for the JSONL audit sink, used when no
	// database is configured. Defaults to "audit-logs".
	FileDir string `yaml:"file_dir" mapstructure:"file_dir"`

	// RetentionDays is the number of days JSONL audit files are kept.
	// Defaults to 7.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days" validate:"omitempty,min=1"`

	// MaxFileSizeMB is the rotation threshold per JSONL audit file.
	// Defaults to 100.
	MaxFileSizeMB int `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb" validate:"omitempty,min=1"`

	// CacheSize is the number of recent records the JSONL sink keeps in
	// memory for admin queries. Defaults to 1000.
	CacheSize int `yaml:"cache_size" mapstructure:"cache_size" validate:"omitempty,min=1"`
}

// TracingConfig configures OpenTelemetry span export.
type TracingConfig struct {
	// Enabled turns on stdout span export. Defaults to false.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// SetDevDefaults applies permissive defaults for development mode.
// This allows running toolgate with no environment at all.
// These defaults are applied BEFORE validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	if c.JWT.SecretKey == "" {
		c.JWT.SecretKey = "dev-secret-key-not-for-production"
	}
	if c.JWT.Issuer == "" {
		c.JWT.Issuer = "toolgate-dev"
	}
	if c.JWT.Audience == "" {
		c.JWT.Audience = "toolgate"
	}
	if c.Gateway.SharedSecret == "" {
		c.Gateway.SharedSecret = "dev-gateway-secret"
	}
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// App defaults. Bind to localhost only; users who need network access
	// must explicitly set http_addr: ":8080" or "0.0.0.0:8080".
	if c.App.Name == "" {
		c.App.Name = "MCP Gateway"
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = "127.0.0.1:8080"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.FilesDir == "" {
		c.App.FilesDir = "files"
	}

	// JWT defaults
	if c.JWT.Algorithm == "" {
		c.JWT.Algorithm = "HS256"
	}
	if c.JWT.AllowedAlgorithms == "" {
		c.JWT.AllowedAlgorithms = "HS256"
	}
	if c.JWT.ClockSkewSeconds == 0 {
		c.JWT.ClockSkewSeconds = 30
	}
	if c.JWT.UserIDClaim == "" {
		c.JWT.UserIDClaim = "sub"
	}
	if c.JWT.ExpClaim == "" {
		c.JWT.ExpClaim = "exp"
	}
	if c.JWT.IATClaim == "" {
		c.JWT.IATClaim = "iat"
	}
	if c.JWT.TenantClaim == "" {
		c.JWT.TenantClaim = "workspace"
	}
	if c.JWT.APIVersionClaim == "" {
		c.JWT.APIVersionClaim = "v"
	}

	// Gateway defaults
	if c.Gateway.MaxPayloadBytes == 0 {
		c.Gateway.MaxPayloadBytes = 1 << 20
	}
	if c.Gateway.BackendTimeout == "" {
		c.Gateway.BackendTimeout = "30s"
	}

	// Rate limit defaults: generous per-user, stricter per-tool.
	if c.RateLimit.UserRequestsPerMinute == 0 {
		c.RateLimit.UserRequestsPerMinute = 1000
	}
	if c.RateLimit.UserBurstSize == 0 {
		c.RateLimit.UserBurstSize = 2000
	}
	if c.RateLimit.ToolRequestsPerMinute == 0 {
		c.RateLimit.ToolRequestsPerMinute = 100
	}
	if c.RateLimit.ToolBurstSize == 0 {
		c.RateLimit.ToolBurstSize = 200
	}
	if c.RateLimit.CleanupInterval == "" {
		c.RateLimit.CleanupInterval = "5m"
	}
	if c.RateLimit.MaxIdle == "" {
		c.RateLimit.MaxIdle = "10m"
	}

	// Registry defaults
	if c.Registry.CatalogPath == "" {
		c.Registry.CatalogPath = "config/tools.yaml"
	}
	if c.Registry.CacheTTL == "" {
		c.Registry.CacheTTL = "5m"
	}

	// Policy defaults
	if c.Policy.Path == "" {
		c.Policy.Path = "config/policy.yaml"
	}

	// Audit defaults
	if c.Audit.ChannelSize == 0 {
		c.Audit.ChannelSize = 1000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval == "" {
		c.Audit.FlushInterval = "1s"
	}
	if c.Audit.SendTimeout == "" {
		c.Audit.SendTimeout = "100ms"
	}
	if c.Audit.WarningThreshold == 0 {
		c.Audit.WarningThreshold = 80
	}
	if c.Audit.FileDir == "" {
		c.Audit.FileDir = "audit-logs"
	}
	if c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = 7
	}
	if c.Audit.MaxFileSizeMB == 0 {
		c.Audit.MaxFileSizeMB = 100
	}
	if c.Audit.CacheSize == 0 {
		c.Audit.CacheSize = 1000
	}
}
