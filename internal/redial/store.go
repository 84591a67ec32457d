package redial

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/nbassil/dialdispatch/internal/domain"
)

// Store persists redial records and the compliance blocklist.
type Store interface {
	// Load returns all records from the current and immediately-preceding
	// monthly partitions, plus the blocklist.
	Load(now time.Time) (map[string]*domain.RedialRecord, map[string]bool, error)
	Save(rec *domain.RedialRecord) error
	Delete(rec *domain.RedialRecord) error
	SaveBlocklist(numbers []string) error
}

const blocklistFile = "blocklist.json"

// FileStore keeps one JSON partition file per calendar month. A record's
// partition is fixed by its creation month and never migrates. Every write
// rewrites the whole partition through a temp file + rename, so a crash can
// never leave a truncated partition behind.
type FileStore struct {
	dir        string
	logger     *slog.Logger
	partitions map[string]map[string]*domain.RedialRecord
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("redial store: mkdir %s: %w", dir, err)
	}
	return &FileStore{
		dir:        dir,
		logger:     logger,
		partitions: make(map[string]map[string]*domain.RedialRecord),
	}, nil
}

// partitionKey is the file-naming month for a record creation time.
func partitionKey(created time.Time) string {
	return created.UTC().Format("2006-01")
}

func (s *FileStore) partitionPath(key string) string {
	return filepath.Join(s.dir, "redial-"+key+".json")
}

// Load reads the current and previous month partitions. A partition that
// fails to parse is skipped and logged — startup must not be blocked by one
// corrupted file.
func (s *FileStore) Load(now time.Time) (map[string]*domain.RedialRecord, map[string]bool, error) {
	keys := []string{
		partitionKey(now.AddDate(0, -1, 0)),
		partitionKey(now),
	}
	out := make(map[string]*domain.RedialRecord)
	for _, key := range keys {
		part, err := s.readPartition(key)
		if err != nil {
			s.logger.Error("skipping corrupted redial partition",
				slog.String("partition", key),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.partitions[key] = part
		for phone, rec := range part {
			out[phone] = rec
		}
	}

	blocklist, err := s.readBlocklist()
	if err != nil {
		s.logger.Error("skipping corrupted blocklist", slog.String("error", err.Error()))
		blocklist = make(map[string]bool)
	}
	return out, blocklist, nil
}

// Save writes the record into its creation-month partition and rewrites that
// partition atomically.
func (s *FileStore) Save(rec *domain.RedialRecord) error {
	key := partitionKey(rec.CreatedAt)
	part, err := s.loadedPartition(key)
	if err != nil {
		return err
	}
	part[rec.Phone] = rec.Clone()
	return s.writePartition(key, part)
}

// Delete removes the record from its partition and rewrites it.
func (s *FileStore) Delete(rec *domain.RedialRecord) error {
	key := partitionKey(rec.CreatedAt)
	part, err := s.loadedPartition(key)
	if err != nil {
		return err
	}
	delete(part, rec.Phone)
	return s.writePartition(key, part)
}

// SaveBlocklist atomically rewrites the blocklist file.
func (s *FileStore) SaveBlocklist(numbers []string) error {
	sort.Strings(numbers)
	return s.atomicWrite(filepath.Join(s.dir, blocklistFile), numbers)
}

// loadedPartition returns the in-memory partition map, reading it from disk
// on first touch (a record may belong to a partition older than the two
// loaded at startup).
func (s *FileStore) loadedPartition(key string) (map[string]*domain.RedialRecord, error) {
	if part, ok := s.partitions[key]; ok {
		return part, nil
	}
	part, err := s.readPartition(key)
	if err != nil {
		return nil, fmt.Errorf("redial store: read partition %s: %w", key, err)
	}
	s.partitions[key] = part
	return part, nil
}

func (s *FileStore) readPartition(key string) (map[string]*domain.RedialRecord, error) {
	data, err := os.ReadFile(s.partitionPath(key))
	if os.IsNotExist(err) {
		return make(map[string]*domain.RedialRecord), nil
	}
	if err != nil {
		return nil, err
	}
	part := make(map[string]*domain.RedialRecord)
	if err := json.Unmarshal(data, &part); err != nil {
		return nil, err
	}
	return part, nil
}

func (s *FileStore) writePartition(key string, part map[string]*domain.RedialRecord) error {
	return s.atomicWrite(s.partitionPath(key), part)
}

func (s *FileStore) readBlocklist() (map[string]bool, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, blocklistFile))
	if os.IsNotExist(err) {
		return make(map[string]bool), nil
	}
	if err != nil {
		return nil, err
	}
	var numbers []string
	if err := json.Unmarshal(data, &numbers); err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(numbers))
	for _, n := range numbers {
		out[n] = true
	}
	return out, nil
}

// atomicWrite marshals v and writes it via temp-then-rename.
func (s *FileStore) atomicWrite(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("redial store: marshal %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("redial store: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("redial store: write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("redial store: close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("redial store: rename to %s: %w", path, err)
	}
	return nil
}
