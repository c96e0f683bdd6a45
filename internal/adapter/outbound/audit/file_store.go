// Package audit provides file-backed audit persistence: JSON Lines output
// with daily rotation, size caps, retention cleanup, a ring cache of recent
// records, and filtered queries for the admin surface.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/toolgate/toolgate/internal/domain/audit"
)

// auditFilePattern matches trail filenames: audit-YYYY-MM-DD.log, with an
// optional -N suffix for size rotations within a day.
var auditFilePattern = regexp.MustCompile(`^audit-(\d{4}-\d{2}-\d{2})(?:-(\d+))?\.log$`)

// auditFileInfo is one parsed trail filename.
type auditFileInfo struct {
	name   string
	date   string
	suffix int
}

// parseAuditFilename splits a trail filename into date and rotation suffix.
func parseAuditFilename(name string) (auditFileInfo, bool) {
	matches := auditFilePattern.FindStringSubmatch(name)
	if matches == nil {
		return auditFileInfo{}, false
	}

	info := auditFileInfo{name: name, date: matches[1]}
	if matches[2] != "" {
		n, err := strconv.Atoi(matches[2])
		if err != nil {
			return auditFileInfo{}, false
		}
		info.suffix = n
	}
	return info, true
}

// sortAuditFiles orders trail files chronologically: by date, then by
// rotation suffix within the date.
func sortAuditFiles(files []auditFileInfo) {
	sort.Slice(files, func(i, j int) bool {
		if files[i].date != files[j].date {
			return files[i].date < files[j].date
		}
		return files[i].suffix < files[j].suffix
	})
}

// AuditFileConfig configures the file-backed audit store.
type AuditFileConfig struct {
	// Dir is where trail files live.
	Dir string
	// RetentionDays is how long rotated files are kept (default 7).
	RetentionDays int
	// MaxFileSizeMB caps one file before a size rotation (default 100).
	MaxFileSizeMB int
	// CacheSize is the number of recent records held in memory (default 1000).
	CacheSize int
}

// FileAuditStore implements audit.AuditStore and audit.AuditQueryStore on
// the local filesystem. One record is one JSON line; files rotate on date
// change and on size; a background loop enforces retention hourly.
type FileAuditStore struct {
	dir           string
	maxFileSize   int64
	retentionDays int

	mu            sync.Mutex
	currentFile   *os.File
	currentDate   string
	currentSize   int64
	currentSuffix int
	closed        bool

	cache  *recentCache
	logger *slog.Logger
	cancel context.CancelFunc
}

// NewFileAuditStore opens today's trail file, creating the directory if
// needed, runs retention cleanup, warms the cache from the newest file on
// disk, and starts the hourly cleanup loop.
func NewFileAuditStore(cfg AuditFileConfig, logger *slog.Logger) (*FileAuditStore, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 100
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}

	// The trail holds user IDs and tool arguments metadata; keep it
	// owner-only.
	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &FileAuditStore{
		dir:           cfg.Dir,
		maxFileSize:   int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		retentionDays: cfg.RetentionDays,
		cache:         newRecentCache(cfg.CacheSize),
		logger:        logger,
		cancel:        cancel,
	}

	today := time.Now().UTC().Format("2006-01-02")
	if err := s.openCurrentFile(today); err != nil {
		cancel()
		return nil, fmt.Errorf("open audit file: %w", err)
	}

	s.runCleanup()
	s.warmCache()

	go s.cleanupLoop(ctx)

	return s, nil
}

// Append writes records as JSON lines to the current trail file, rotating
// on date change or when the size cap is reached.
func (s *FileAuditStore) Append(ctx context.Context, records ...audit.AuditRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		dateStr := rec.Timestamp.UTC().Format("2006-01-02")
		if dateStr != s.currentDate {
			if err := s.rotateDateLocked(dateStr); err != nil {
				return fmt.Errorf("date rotation: %w", err)
			}
		}
		if s.currentSize >= s.maxFileSize {
			if err := s.rotateSizeLocked(); err != nil {
				return fmt.Errorf("size rotation: %w", err)
			}
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal audit record: %w", err)
		}
		n, err := s.currentFile.Write(append(data, '\n'))
		if err != nil {
			return fmt.Errorf("write audit record: %w", err)
		}
		s.currentSize += int64(n)

		s.cache.Add(rec)
	}
	return nil
}

// Flush syncs the current file to disk.
func (s *FileAuditStore) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentFile != nil {
		return s.currentFile.Sync()
	}
	return nil
}

// Close stops the cleanup loop and closes the current file. Safe to call
// more than once.
func (s *FileAuditStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()

	if s.currentFile != nil {
		_ = s.currentFile.Sync()
		err := s.currentFile.Close()
		s.currentFile = nil
		return err
	}
	return nil
}

// GetRecent returns the last n records from the in-memory cache, newest
// first. It never touches the disk.
func (s *FileAuditStore) GetRecent(n int) []audit.AuditRecord {
	return s.cache.Recent(n)
}

// Query scans the trail files chronologically and returns one page of
// matching records, newest first, plus the total match count. Lines still
// being written by a concurrent Append are skipped.
func (s *FileAuditStore) Query(ctx context.Context, filter audit.Filter) ([]audit.AuditRecord, int64, error) {
	filter = filter.Normalize()

	var matched []audit.AuditRecord
	for _, info := range s.listFiles() {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		err := s.scanFile(info.name, func(rec audit.AuditRecord) {
			if filter.Matches(rec) {
				matched = append(matched, rec)
			}
		})
		if err != nil {
			return nil, 0, fmt.Errorf("scan %s: %w", info.name, err)
		}
	}

	// matched is oldest first; the page walks it backward.
	result := make([]audit.AuditRecord, 0, filter.Limit)
	for i := len(matched) - 1 - filter.Offset; i >= 0 && len(result) < filter.Limit; i-- {
		result = append(result, matched[i])
	}
	return result, int64(len(matched)), nil
}

// openCurrentFile opens or creates the trail file for the given date,
// resuming the highest rotation suffix already on disk.
func (s *FileAuditStore) openCurrentFile(dateStr string) error {
	suffix := s.findHighestSuffix(dateStr)

	f, size, err := s.openFile(dateStr, suffix)
	if err != nil {
		return err
	}

	s.currentFile = f
	s.currentDate = dateStr
	s.currentSize = size
	s.currentSuffix = suffix
	return nil
}

// findHighestSuffix returns the largest rotation suffix on disk for a date,
// or 0 when the date has no files yet.
func (s *FileAuditStore) findHighestSuffix(dateStr string) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}

	highest := 0
	for _, e := range entries {
		info, ok := parseAuditFilename(e.Name())
		if !ok || info.date != dateStr {
			continue
		}
		if info.suffix > highest {
			highest = info.suffix
		}
	}
	return highest
}

// openFile opens one trail file for appending and reports its size.
func (s *FileAuditStore) openFile(dateStr string, suffix int) (*os.File, int64, error) {
	filename := buildFilename(dateStr, suffix)
	path := filepath.Join(s.dir, filename)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, 0, fmt.Errorf("open file %s: %w", filename, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat file %s: %w", filename, err)
	}
	return f, info.Size(), nil
}

// buildFilename renders the trail filename for a date and rotation suffix.
func buildFilename(dateStr string, suffix int) string {
	if suffix == 0 {
		return fmt.Sprintf("audit-%s.log", dateStr)
	}
	return fmt.Sprintf("audit-%s-%d.log", dateStr, suffix)
}

// rotateDateLocked switches to the file for a new date. Callers hold s.mu.
func (s *FileAuditStore) rotateDateLocked(dateStr string) error {
	if s.currentFile != nil {
		_ = s.currentFile.Sync()
		_ = s.currentFile.Close()
		s.currentFile = nil
	}

	s.currentSuffix = 0
	s.currentSize = 0
	s.currentDate = dateStr

	f, size, err := s.openFile(dateStr, 0)
	if err != nil {
		return err
	}
	s.currentFile = f
	s.currentSize = size
	return nil
}

// rotateSizeLocked moves to the next rotation suffix within the current
// date. Callers hold s.mu.
func (s *FileAuditStore) rotateSizeLocked() error {
	if s.currentFile != nil {
		_ = s.currentFile.Sync()
		_ = s.currentFile.Close()
		s.currentFile = nil
	}

	s.currentSuffix++
	s.currentSize = 0

	f, size, err := s.openFile(s.currentDate, s.currentSuffix)
	if err != nil {
		return err
	}
	s.currentFile = f
	s.currentSize = size
	return nil
}

// listFiles returns every trail file in the directory, oldest first.
func (s *FileAuditStore) listFiles() []auditFileInfo {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}

	var files []auditFileInfo
	for _, e := range entries {
		if info, ok := parseAuditFilename(e.Name()); ok {
			files = append(files, info)
		}
	}
	sortAuditFiles(files)
	return files
}

// scanFile streams one trail file's records through fn. Empty and
// unparsable lines are skipped; a torn final line from an in-flight append
// falls in the unparsable bucket.
func (s *FileAuditStore) scanFile(name string, fn func(audit.AuditRecord)) error {
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec audit.AuditRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			s.logger.Warn("audit scan: skipping malformed line", "file", name, "error", err)
			continue
		}
		fn(rec)
	}
	return scanner.Err()
}

// runCleanup deletes trail files whose date is past the retention window.
func (s *FileAuditStore) runCleanup() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Error("audit cleanup: failed to read directory", "dir", s.dir, "error", err)
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
	deleted := 0

	for _, e := range entries {
		info, ok := parseAuditFilename(e.Name())
		if !ok {
			continue
		}
		fileDate, err := time.Parse("2006-01-02", info.date)
		if err != nil {
			continue
		}
		if fileDate.Before(cutoff) {
			path := filepath.Join(s.dir, e.Name())
			if err := os.Remove(path); err != nil {
				s.logger.Error("audit cleanup: failed to delete file", "file", e.Name(), "error", err)
			} else {
				deleted++
			}
		}
	}

	if deleted > 0 {
		s.logger.Info("audit cleanup completed", "deleted", deleted)
	}
}

// cleanupLoop enforces retention every hour until the store closes.
func (s *FileAuditStore) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCleanup()
		}
	}
}

// warmCache fills the recent-records cache from the newest non-empty trail
// file, so GetRecent works across restarts.
func (s *FileAuditStore) warmCache() {
	newest := s.findNewestFile()
	if newest == "" {
		return
	}

	var records []audit.AuditRecord
	err := s.scanFile(newest, func(rec audit.AuditRecord) {
		records = append(records, rec)
	})
	if err != nil {
		s.logger.Error("audit cache: error reading file", "file", newest, "error", err)
	}

	start := 0
	if len(records) > s.cache.size {
		start = len(records) - s.cache.size
	}
	// Chronological adds leave the newest record on top of the cache.
	for _, rec := range records[start:] {
		s.cache.Add(rec)
	}
}

// findNewestFile returns the newest non-empty trail filename, or "".
func (s *FileAuditStore) findNewestFile() string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return ""
	}

	var files []auditFileInfo
	for _, e := range entries {
		info, ok := parseAuditFilename(e.Name())
		if !ok {
			continue
		}
		finfo, err := e.Info()
		if err != nil || finfo.Size() == 0 {
			continue
		}
		files = append(files, info)
	}
	if len(files) == 0 {
		return ""
	}

	sortAuditFiles(files)
	return files[len(files)-1].name
}

// Compile-time interface verification.
var (
	_ audit.AuditStore      = (*FileAuditStore)(nil)
	_ audit.AuditQueryStore = (*FileAuditStore)(nil)
)

// recentCache is a fixed-size ring of the latest audit records, serving
// GetRecent without disk reads.
type recentCache struct {
	mu      sync.RWMutex
	entries []audit.AuditRecord
	size    int
	head    int
	count   int
}

func newRecentCache(size int) *recentCache {
	if size <= 0 {
		size = 1000
	}
	return &recentCache{
		entries: make([]audit.AuditRecord, size),
		size:    size,
	}
}

// Add inserts a record, evicting the oldest when full.
func (c *recentCache) Add(rec audit.AuditRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[c.head] = rec
	c.head = (c.head + 1) % c.size
	if c.count < c.size {
		c.count++
	}
}

// Recent returns up to n records, newest first.
func (c *recentCache) Recent(n int) []audit.AuditRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if n <= 0 || c.count == 0 {
		return nil
	}
	if n > c.count {
		n = c.count
	}

	result := make([]audit.AuditRecord, n)
	for i := 0; i < n; i++ {
		// head is the next write slot, so head-1 holds the newest record.
		idx := (c.head - 1 - i + c.size) % c.size
		result[i] = c.entries[idx]
	}
	return result
}

// Len reports how many records the cache holds.
func (c *recentCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.count
}
