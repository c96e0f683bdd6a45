package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for toolgate.yaml/.yml in standard locations.
// The search requires an explicit YAML extension to avoid matching the binary itself,
// which Viper's built-in SetConfigName would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location.
		// Set name/type without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("toolgate")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: TOOLGATE_APP_HTTP_ADDR
	viper.SetEnvPrefix("TOOLGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Bind nested keys for env var support
	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a toolgate config file
// with an explicit YAML extension (.yaml or .yml). This prevents Viper from
// matching the binary "toolgate" (no extension) in the current directory.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".toolgate"),
	}
	if runtime.GOOS == "windows" {
		// %ProgramData%\toolgate (typically C:\ProgramData\toolgate)
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "toolgate"))
		}
	} else {
		paths = append(paths, "/etc/toolgate")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for toolgate.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "toolgate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds all config keys for environment variable support.
// Each key is bound to its TOOLGATE_ prefixed name first; keys that have a
// historical unprefixed name (JWT_SECRET_KEY, TOOL_GATEWAY_SHARED_SECRET,
// DATABASE_URL, ...) carry it as a second alias so deployments configured
// for the original service keep working unchanged.
func bindNestedEnvKeys() {
	// App config
	_ = viper.BindEnv("app.name", "TOOLGATE_APP_NAME", "APP_NAME")
	_ = viper.BindEnv("app.http_addr")
	_ = viper.BindEnv("app.base_url")
	_ = viper.BindEnv("app.log_level", "TOOLGATE_APP_LOG_LEVEL", "MCP_LOG_LEVEL")
	_ = viper.BindEnv("app.files_dir")

	// JWT config: canonical unprefixed names are first-class
	_ = viper.BindEnv("jwt.secret_key", "TOOLGATE_JWT_SECRET_KEY", "JWT_SECRET_KEY")
	_ = viper.BindEnv("jwt.algorithm", "TOOLGATE_JWT_ALGORITHM", "JWT_ALGORITHM")
	_ = viper.BindEnv("jwt.allowed_algorithms", "TOOLGATE_JWT_ALLOWED_ALGORITHMS", "JWT_ALLOWED_ALGORITHMS")
	_ = viper.BindEnv("jwt.issuer", "TOOLGATE_JWT_ISSUER", "JWT_ISSUER")
	_ = viper.BindEnv("jwt.audience", "TOOLGATE_JWT_AUDIENCE", "JWT_AUDIENCE")
	_ = viper.BindEnv("jwt.max_token_age_minutes", "TOOLGATE_JWT_MAX_TOKEN_AGE_MINUTES", "JWT_MAX_TOKEN_AGE_MINUTES")
	_ = viper.BindEnv("jwt.clock_skew_seconds", "TOOLGATE_JWT_CLOCK_SKEW_SECONDS", "JWT_CLOCK_SKEW_SECONDS")
	_ = viper.BindEnv("jwt.user_id_claim", "TOOLGATE_JWT_USER_ID_CLAIM", "JWT_USER_ID_CLAIM")
	_ = viper.BindEnv("jwt.exp_claim", "TOOLGATE_JWT_EXP_CLAIM", "JWT_EXP_CLAIM")
	_ = viper.BindEnv("jwt.iat_claim", "TOOLGATE_JWT_IAT_CLAIM", "JWT_IAT_CLAIM")
	_ = viper.BindEnv("jwt.tenant_claim", "TOOLGATE_JWT_TENANT_CLAIM", "JWT_TENANT_CLAIM")
	_ = viper.BindEnv("jwt.api_version_claim", "TOOLGATE_JWT_API_VERSION_CLAIM", "JWT_API_VERSION_CLAIM")
	_ = viper.BindEnv("jwt.allowed_api_versions", "TOOLGATE_JWT_ALLOWED_API_VERSIONS", "JWT_ALLOWED_API_VERSIONS")

	// Database config
	_ = viper.BindEnv("database.url", "TOOLGATE_DATABASE_URL", "DATABASE_URL")

	// Gateway config
	_ = viper.BindEnv("gateway.shared_secret", "TOOLGATE_GATEWAY_SHARED_SECRET", "TOOL_GATEWAY_SHARED_SECRET")
	_ = viper.BindEnv("gateway.max_payload_bytes")
	_ = viper.BindEnv("gateway.backend_timeout")

	// Rate limit config
	_ = viper.BindEnv("rate_limit.user_requests_per_minute")
	_ = viper.BindEnv("rate_limit.user_burst_size")
	_ = viper.BindEnv("rate_limit.tool_requests_per_minute")
	_ = viper.BindEnv("rate_limit.tool_burst_size")
	_ = viper.BindEnv("rate_limit.cleanup_interval")
	_ = viper.BindEnv("rate_limit.max_idle")

	// Registry config
	_ = viper.BindEnv("registry.catalog_path")
	_ = viper.BindEnv("registry.cache_ttl")

	// Policy config
	_ = viper.BindEnv("policy.path")

	// Audit config
	_ = viper.BindEnv("audit.channel_size")
	_ = viper.BindEnv("audit.batch_size")
	_ = viper.BindEnv("audit.flush_interval")
	_ = viper.BindEnv("audit.send_timeout")
	_ = viper.BindEnv("audit.warning_threshold")
	_ = viper.BindEnv("audit.file_dir")
	_ = viper.BindEnv("audit.retention_days")
	_ = viper.BindEnv("audit.max_file_size_mb")
	_ = viper.BindEnv("audit.cache_size")

	// Tracing config
	_ = viper.BindEnv("tracing.enabled")

	// Dev mode
	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the Config.
// Note: Caller should apply any CLI flag overrides (e.g. --dev), then call
// cfg.SetDevDefaults() and cfg.Validate() to complete initialization.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars only
		// This allows running with pure environment variable configuration
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply default values for optional fields
	cfg.SetDefaults()

	// In dev mode, apply permissive defaults before validation
	cfg.SetDevDefaults()

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
