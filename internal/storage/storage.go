package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/koruapp/koru/internal/models"
)

// ErrNotFound is returned when a ritual document does not exist.
var ErrNotFound = errors.New("ritual not found")

// ErrInvalidID is returned for identifiers that could escape the storage
// directories. Callers map it to a client error, never a server one.
var ErrInvalidID = errors.New("invalid identifier")

// AudioExtensions is the closed set of artifact encodings: "mp3" for
// compressed provider output, "wav" for uncompressed.
var AudioExtensions = []string{"mp3", "wav"}

// TempRitualID is the pseudo ritual id under which ad-hoc synthesis results
// are kept until the janitor prunes them.
const TempRitualID = "temp"

// Store persists ritual documents and per-segment audio artifacts on disk.
//
//	<root>/rituals/<ritualID>.json
//	<root>/audio/<ritualID>/<segmentID>.<ext>
//	<root>/locks/<ritualID>.lock
//
// Artifact existence on disk, not any in-document flag, is the source of
// truth for whether a segment has been synthesized.
type Store struct {
	ritualsDir string
	audioDir   string
	locksDir   string
}

func New(root string) (*Store, error) {
	s := &Store{
		ritualsDir: filepath.Join(root, "rituals"),
		audioDir:   filepath.Join(root, "audio"),
		locksDir:   filepath.Join(root, "locks"),
	}

	for _, dir := range []string{s.ritualsDir, s.audioDir, s.locksDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage dir %s: %w", dir, err)
		}
	}

	return s, nil
}

// SaveRitual writes the whole document. The write goes through a temp file
// and a rename so a concurrent reader of the same id never observes a
// partially written document.
func (s *Store) SaveRitual(ritual *models.Ritual) error {
	if err := validID(ritual.ID); err != nil {
		return err
	}

	data, err := json.MarshalIndent(ritual, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ritual %s: %w", ritual.ID, err)
	}

	finalPath := filepath.Join(s.ritualsDir, ritual.ID+".json")
	tmpPath := finalPath + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write ritual %s: %w", ritual.ID, err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to persist ritual %s: %w", ritual.ID, err)
	}

	return nil
}

// LoadRitual reads a document by id. Returns ErrNotFound when absent.
func (s *Store) LoadRitual(ritualID string) (*models.Ritual, error) {
	if err := validID(ritualID); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.ritualsDir, ritualID+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read ritual %s: %w", ritualID, err)
	}

	var ritual models.Ritual
	if err := json.Unmarshal(data, &ritual); err != nil {
		return nil, fmt.Errorf("failed to parse ritual %s: %w", ritualID, err)
	}

	return &ritual, nil
}

// ListRituals returns all readable ritual documents, newest first. Files
// that fail to parse are skipped rather than failing the whole listing.
func (s *Store) ListRituals() ([]models.Ritual, error) {
	entries, err := os.ReadDir(s.ritualsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read rituals dir: %w", err)
	}

	rituals := make([]models.Ritual, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.ritualsDir, entry.Name()))
		if err != nil {
			log.Printf("[Storage] Skipping unreadable ritual file %s: %v", entry.Name(), err)
			continue
		}

		var ritual models.Ritual
		if err := json.Unmarshal(data, &ritual); err != nil {
			log.Printf("[Storage] Skipping invalid ritual file %s: %v", entry.Name(), err)
			continue
		}

		rituals = append(rituals, ritual)
	}

	sort.Slice(rituals, func(i, j int) bool {
		return rituals[i].CreatedAt > rituals[j].CreatedAt
	})

	return rituals, nil
}

// DeleteRitual removes the document and every audio artifact under its id,
// so no orphaned audio remains.
func (s *Store) DeleteRitual(ritualID string) error {
	if err := validID(ritualID); err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(s.ritualsDir, ritualID+".json")); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete ritual %s: %w", ritualID, err)
	}

	if err := os.RemoveAll(filepath.Join(s.audioDir, ritualID)); err != nil {
		return fmt.Errorf("failed to delete audio for ritual %s: %w", ritualID, err)
	}

	return nil
}

// AudioExists reports whether an artifact exists for (ritualID, segmentID)
// under any supported encoding.
func (s *Store) AudioExists(ritualID, segmentID string) bool {
	for _, ext := range AudioExtensions {
		path := filepath.Join(s.audioDir, ritualID, segmentID+"."+ext)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return true
		}
	}
	return false
}

// SaveAudio writes an artifact and returns the URL path clients use to
// fetch it. Saving the same (ritualID, segmentID, ext) again overwrites:
// last write wins.
func (s *Store) SaveAudio(ritualID, segmentID string, audio []byte, ext string) (string, error) {
	if err := validID(ritualID); err != nil {
		return "", err
	}
	if err := validID(segmentID); err != nil {
		return "", err
	}

	dir := filepath.Join(s.audioDir, ritualID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create audio dir for ritual %s: %w", ritualID, err)
	}

	filename := segmentID + "." + ext
	if err := os.WriteFile(filepath.Join(dir, filename), audio, 0o644); err != nil {
		return "", fmt.Errorf("failed to write audio %s/%s: %w", ritualID, filename, err)
	}

	return fmt.Sprintf("/api/audio/%s/%s", ritualID, filename), nil
}

// AudioFilePath resolves a request path like (ritualID, "seg.mp3") to the
// on-disk artifact location. Returns ErrNotFound when the file is absent.
func (s *Store) AudioFilePath(ritualID, filename string) (string, error) {
	if err := validID(ritualID); err != nil {
		return "", err
	}
	if filename != filepath.Base(filename) || strings.HasPrefix(filename, ".") {
		return "", fmt.Errorf("invalid audio filename %q", filename)
	}

	path := filepath.Join(s.audioDir, ritualID, filename)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", ErrNotFound
	}

	return path, nil
}

// LockPath returns the advisory lock file location for a ritual id, used to
// serialize concurrent audio generation runs against the same document. The
// id is validated here because the caller creates the lock file before any
// other storage call gets a chance to reject it.
func (s *Store) LockPath(ritualID string) (string, error) {
	if err := validID(ritualID); err != nil {
		return "", err
	}
	return filepath.Join(s.locksDir, ritualID+".lock"), nil
}

// PruneTempAudio deletes ad-hoc synthesis artifacts older than maxAge and
// returns the number of files removed.
func (s *Store) PruneTempAudio(maxAge time.Duration) (int, error) {
	dir := filepath.Join(s.audioDir, TempRitualID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read temp audio dir: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	pruned := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
				log.Printf("[Storage] Failed to prune temp audio %s: %v", entry.Name(), err)
				continue
			}
			pruned++
		}
	}

	return pruned, nil
}

// validID rejects identifiers that could escape the storage directories.
func validID(id string) error {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}
