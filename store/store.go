// Package store keeps the registry of imported configurations.
//
// Entries live in memory and are mirrored to a YAML index so imports survive
// restarts. OpenVPN configurations are additionally written to their own
// .ovpn file, because the external executable can only read a path.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kingzvpn/client/common"
	"github.com/kingzvpn/client/detect"
)

// Config is an imported configuration.
// It is never mutated after creation except for a single FilePath assignment.
type Config struct {
	// ID is a unique identifier (UUID format).
	ID string `json:"id" yaml:"id"`
	// Name is a human-readable name.
	Name string `json:"name" yaml:"name"`
	// Protocol is the classified protocol kind.
	Protocol detect.Kind `json:"protocol" yaml:"protocol"`
	// RawContent is the configuration text as imported.
	RawContent string `json:"raw_content" yaml:"raw_content"`
	// SourceURL is where the configuration was downloaded from, if anywhere.
	SourceURL string `json:"source_url,omitempty" yaml:"source_url,omitempty"`
	// ImportedAt is the import timestamp.
	ImportedAt time.Time `json:"imported_at" yaml:"imported_at"`
	// FilePath is the persisted .ovpn file for file-based protocols.
	FilePath string `json:"file_path,omitempty" yaml:"file_path,omitempty"`
}

// RawImport is the unvalidated input to Add.
type RawImport struct {
	Name       string
	Protocol   string
	RawContent string
	SourceURL  string
	ImportedAt time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithWarningHandler receives non-fatal problems such as a failed file write.
func WithWarningHandler(fn func(msg string)) Option {
	return func(s *Store) { s.onWarning = fn }
}

// WithRetention sets the age after which unreferenced config files are swept.
func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store manages imported configurations.
type Store struct {
	mu         sync.RWMutex
	configs    []*Config
	configsDir string
	indexFile  string
	retention  time.Duration
	onWarning  func(msg string)
	now        func() time.Time
}

// New creates a Store persisting its index at indexFile and OpenVPN files
// under configsDir. Existing entries are loaded.
func New(indexFile, configsDir string, opts ...Option) (*Store, error) {
	if err := common.EnsureDir(configsDir); err != nil {
		return nil, fmt.Errorf("failed to create configs directory: %w", err)
	}
	if err := common.EnsureDir(filepath.Dir(indexFile)); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &Store{
		configs:    make([]*Config, 0),
		configsDir: configsDir,
		indexFile:  indexFile,
		retention:  common.RetentionPeriod,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.load(); err != nil {
		return nil, fmt.Errorf("failed to load configs: %w", err)
	}

	return s, nil
}

// ConfigsDir returns the directory holding persisted files.
func (s *Store) ConfigsDir() string {
	return s.configsDir
}

// load reads the index. A missing index means no configs yet.
func (s *Store) load() error {
	data, err := os.ReadFile(s.indexFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read index file: %w", err)
	}

	var loaded []*Config
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("failed to parse index file: %w", err)
	}

	for _, cfg := range loaded {
		if cfg == nil || cfg.ID == "" || cfg.Protocol == detect.Unknown {
			common.LogWarn("Skipping malformed index entry")
			continue
		}
		s.configs = append(s.configs, cfg)
	}
	return nil
}

// save persists the index. Callers must hold mu.
func (s *Store) save() error {
	data, err := yaml.Marshal(&s.configs)
	if err != nil {
		return fmt.Errorf("failed to serialize configs: %w", err)
	}

	tmp := s.indexFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write index file: %w", err)
	}
	if err := os.Rename(tmp, s.indexFile); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace index file: %w", err)
	}
	return nil
}

// Add validates and inserts a new configuration. Insertion is all-or-nothing:
// a duplicate, a validation failure or an index write failure leaves the
// store unchanged.
func (s *Store) Add(raw RawImport) (*Config, error) {
	cfg, err := s.normalize(raw)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.findDuplicate(cfg); existing != nil {
		return nil, &common.DuplicateError{ExistingID: existing.ID, ExistingName: existing.Name}
	}

	cfg.ID = common.GenerateID()

	if cfg.Protocol.FileBased() {
		path, err := s.writeConfigFile(cfg)
		if err != nil {
			s.warn(fmt.Sprintf("Failed to persist %q: %v", cfg.Name, err))
		} else {
			cfg.FilePath = path
		}
	}

	s.configs = append(s.configs, cfg)
	if err := s.save(); err != nil {
		s.configs = s.configs[:len(s.configs)-1]
		if cfg.FilePath != "" {
			_ = os.Remove(cfg.FilePath)
		}
		return nil, err
	}

	common.LogInfo("Imported %s config %q (%s)", cfg.Protocol, cfg.Name, common.ShortID(cfg.ID))
	return cfg, nil
}

func (s *Store) normalize(raw RawImport) (*Config, error) {
	name := strings.TrimSpace(raw.Name)
	if name == "" {
		return nil, &common.ValidationError{Field: "name", Reason: "is required"}
	}
	if strings.TrimSpace(raw.RawContent) == "" {
		return nil, &common.ValidationError{Field: "raw_content", Reason: "is required"}
	}
	if strings.TrimSpace(raw.Protocol) == "" {
		return nil, &common.ValidationError{Field: "protocol", Reason: "is required"}
	}
	kind := detect.ParseKind(raw.Protocol)
	if kind == detect.Unknown {
		return nil, &common.ValidationError{Field: "protocol", Reason: fmt.Sprintf("unrecognized protocol %q", raw.Protocol)}
	}

	importedAt := raw.ImportedAt
	if importedAt.IsZero() {
		importedAt = s.now()
	}

	return &Config{
		Name:       name,
		Protocol:   kind,
		RawContent: raw.RawContent,
		SourceURL:  strings.TrimSpace(raw.SourceURL),
		ImportedAt: importedAt,
	}, nil
}

// findDuplicate applies the duplicate rule: same protocol and the same
// source URL when both have one, otherwise the same raw content.
func (s *Store) findDuplicate(cfg *Config) *Config {
	for _, existing := range s.configs {
		if existing.Protocol != cfg.Protocol {
			continue
		}
		if existing.SourceURL != "" && cfg.SourceURL != "" {
			if existing.SourceURL == cfg.SourceURL {
				return existing
			}
			continue
		}
		if existing.RawContent == cfg.RawContent {
			return existing
		}
	}
	return nil
}

// writeConfigFile writes <sanitized-name>_<unix>.ovpn, adding a counter when
// the name is already taken.
func (s *Store) writeConfigFile(cfg *Config) (string, error) {
	base := fmt.Sprintf("%s_%d", common.SanitizeFileName(cfg.Name), s.now().Unix())
	path := filepath.Join(s.configsDir, base+common.OpenVPNExtension)
	for n := 1; common.FileExists(path); n++ {
		path = filepath.Join(s.configsDir, fmt.Sprintf("%s_%d%s", base, n, common.OpenVPNExtension))
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return "", err
	}
	if _, err := f.WriteString(cfg.RawContent); err != nil {
		f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// Persist writes the file for a file-based config whose earlier write failed.
// Configs already returned to callers are never modified: the stored entry
// is replaced by an updated copy.
func (s *Store) Persist(id string) (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, cfg := range s.configs {
		if cfg.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, common.ErrConfigNotFound
	}
	cfg := s.configs[idx]
	if cfg.FilePath != "" || !cfg.Protocol.FileBased() {
		return cfg, nil
	}

	path, err := s.writeConfigFile(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to persist config file: %w", err)
	}
	updated := *cfg
	updated.FilePath = path
	s.configs[idx] = &updated
	if err := s.save(); err != nil {
		common.LogWarn("Failed to record file path for %s: %v", common.ShortID(id), err)
	}
	return &updated, nil
}

// Remove deletes the entry. Its file stays on disk until swept.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, cfg := range s.configs {
		if cfg.ID == id {
			s.configs = append(s.configs[:i], s.configs[i+1:]...)
			if err := s.save(); err != nil {
				s.configs = append(s.configs[:i], append([]*Config{cfg}, s.configs[i:]...)...)
				return err
			}
			return nil
		}
	}
	return common.ErrConfigNotFound
}

// Purge deletes the entry and its file.
func (s *Store) Purge(id string) error {
	cfg, err := s.Get(id)
	if err != nil {
		return err
	}
	if err := s.Remove(id); err != nil {
		return err
	}
	if cfg.FilePath != "" {
		if err := os.Remove(cfg.FilePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove config file: %w", err)
		}
	}
	return nil
}

// Get retrieves a config by ID.
func (s *Store) Get(id string) (*Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if cfg := s.get(id); cfg != nil {
		return cfg, nil
	}
	return nil, common.ErrConfigNotFound
}

func (s *Store) get(id string) *Config {
	for _, cfg := range s.configs {
		if cfg.ID == id {
			return cfg
		}
	}
	return nil
}

// Find resolves a reference that may be an ID, an ID prefix or a name.
func (s *Store) Find(ref string) (*Config, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, common.ErrConfigNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if cfg := s.get(ref); cfg != nil {
		return cfg, nil
	}

	var match *Config
	for _, cfg := range s.configs {
		if strings.EqualFold(cfg.Name, ref) {
			return cfg, nil
		}
		if strings.HasPrefix(cfg.ID, ref) {
			if match != nil {
				return nil, fmt.Errorf("ambiguous config reference %q", ref)
			}
			match = cfg
		}
	}
	if match != nil {
		return match, nil
	}
	return nil, common.ErrConfigNotFound
}

// List returns all configs ordered by import time.
func (s *Store) List() []*Config {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Config, len(s.configs))
	copy(out, s.configs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ImportedAt.Before(out[j].ImportedAt)
	})
	return out
}

// Len returns the number of stored configs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.configs)
}

// Validate re-checks the config's structure for its protocol, catching
// stale or hand-edited entries before a launch.
func (s *Store) Validate(cfg *Config) bool {
	if cfg == nil {
		return false
	}
	content := cfg.RawContent
	if cfg.FilePath != "" {
		if data, err := os.ReadFile(cfg.FilePath); err == nil {
			content = string(data)
		}
	}
	return detect.Matches(cfg.Protocol, content)
}

// Sweep removes .ovpn files older than the retention period that no stored
// config references. It returns the number of files removed.
func (s *Store) Sweep() (int, error) {
	s.mu.RLock()
	live := make(map[string]struct{}, len(s.configs))
	for _, cfg := range s.configs {
		if cfg.FilePath != "" {
			live[filepath.Clean(cfg.FilePath)] = struct{}{}
		}
	}
	s.mu.RUnlock()

	entries, err := os.ReadDir(s.configsDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read configs directory: %w", err)
	}

	cutoff := s.now().Add(-s.retention)
	removed := 0
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), common.OpenVPNExtension) {
			continue
		}
		path := filepath.Join(s.configsDir, entry.Name())
		if _, ok := live[filepath.Clean(path)]; ok {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		common.LogInfo("Retention sweep removed %d config file(s)", removed)
	}
	return removed, errors.Join(errs...)
}

func (s *Store) warn(msg string) {
	common.LogWarn("%s", msg)
	if s.onWarning != nil {
		s.onWarning(msg)
	}
}
