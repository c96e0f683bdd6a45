package policy

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"

	"github.com/toolgate/toolgate/internal/domain/auth"
)

// Engine holds the active ruleset and answers permission questions for the
// gateway. The ruleset is swapped atomically on reload; readers never see a
// partially parsed document.
type Engine struct {
	path   string
	logger *slog.Logger

	mu          sync.RWMutex
	ruleset     *Ruleset
	fingerprint uint64
}

// NewEngine creates an engine backed by the policy file at path. Call Load
// before serving traffic.
func NewEngine(path string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		path:    path,
		logger:  logger,
		ruleset: DefaultRuleset(),
	}
}

// Load reads the policy file and installs the parsed ruleset. A missing
// file installs the deny-all default so the gateway fails closed.
func (e *Engine) Load() error {
	rs, sum, err := LoadRuleset(e.path)
	if err != nil {
		return err
	}
	if sum == 0 {
		e.logger.Warn("policy file not found, denying all tool access",
			slog.String("path", e.path))
	} else {
		e.logger.Info("policy loaded",
			slog.String("path", e.path),
			slog.Int("roles", len(rs.Roles)),
			slog.Int("workspaces", len(rs.Workspaces)),
			slog.Int("tool_gates", len(rs.Tools)),
			slog.String("fingerprint", fmt.Sprintf("%016x", sum)))
	}

	e.mu.Lock()
	e.ruleset = rs
	e.fingerprint = sum
	e.mu.Unlock()
	return nil
}

// Reload re-reads the policy file and installs the result only when its
// content changed. Unchanged files are skipped via the content fingerprint.
func (e *Engine) Reload() error {
	rs, sum, err := LoadRuleset(e.path)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if sum == e.fingerprint {
		e.logger.Debug("policy unchanged, reload skipped",
			slog.String("path", e.path))
		return nil
	}
	e.ruleset = rs
	e.fingerprint = sum
	e.logger.Info("policy reloaded",
		slog.String("path", e.path),
		slog.String("fingerprint", fmt.Sprintf("%016x", sum)))
	return nil
}

// Ruleset returns the active ruleset. Callers must treat it as read-only.
func (e *Engine) Ruleset() *Ruleset {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ruleset
}

// Fingerprint returns the content hash of the active policy file, zero when
// no file was found.
func (e *Engine) Fingerprint() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fingerprint
}

// AllowedTools derives the allowance set for the claims under the active
// ruleset.
func (e *Engine) AllowedTools(claims auth.UserClaims) map[string]struct{} {
	return e.Ruleset().AllowedTools(claims)
}

// CheckToolPermission reports whether the user may invoke the tool under
// the active ruleset.
func (e *Engine) CheckToolPermission(claims auth.UserClaims, toolName string) bool {
	return e.Ruleset().CheckToolPermission(claims, toolName)
}

// EnforceToolPermission is CheckToolPermission with a typed failure.
func (e *Engine) EnforceToolPermission(claims auth.UserClaims, toolName string) error {
	return e.Ruleset().EnforceToolPermission(claims, toolName)
}

// LoadRuleset reads and parses the policy file at path. A missing file
// yields the deny-all default with a zero fingerprint; any other read or
// parse failure is returned.
func LoadRuleset(path string) (*Ruleset, uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultRuleset(), 0, nil
		}
		return nil, 0, fmt.Errorf("read policy file %s: %w", path, err)
	}

	var rs Ruleset
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, 0, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	rs.applyDefaults()
	return &rs, xxhash.Sum64(data), nil
}
