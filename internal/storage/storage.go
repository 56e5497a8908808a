package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bdougie/framesearch/internal/models"
)

// MetadataFile is the snapshot written next to the frame images.
const MetadataFile = "metadata.json"

// ErrNoSnapshot means no frame metadata has been written yet.
var ErrNoSnapshot = errors.New("frame metadata not found")

// Snapshot maps frame id to its record.
type Snapshot map[string]models.Frame

// SortedIDs returns the snapshot ids in ascending order.
func (s Snapshot) SortedIDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FrameStore writes frame images to disk and accumulates their records until
// the run is finalized.
type FrameStore struct {
	dir    string
	mu     sync.Mutex
	frames Snapshot
}

// NewFrameStore creates the frames directory if needed.
func NewFrameStore(dir string) (*FrameStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create frames directory '%s': %w", dir, err)
	}
	return &FrameStore{dir: dir, frames: Snapshot{}}, nil
}

func (s *FrameStore) Dir() string { return s.dir }

// PersistFrame writes the encoded image as rec.Filename and keeps the record.
func (s *FrameStore) PersistFrame(image []byte, rec models.Frame) error {
	if rec.ID == "" || rec.Filename == "" {
		return fmt.Errorf("frame record needs an id and a filename")
	}
	if filepath.Base(rec.Filename) != rec.Filename {
		return fmt.Errorf("invalid frame filename '%s'", rec.Filename)
	}

	if err := os.WriteFile(filepath.Join(s.dir, rec.Filename), image, 0644); err != nil {
		return fmt.Errorf("failed to save frame '%s': %w", rec.Filename, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames[rec.ID] = rec
	return nil
}

// SetCaption attaches a caption to a frame persisted in this run.
func (s *FrameStore) SetCaption(id, caption string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.frames[id]
	if !ok {
		return fmt.Errorf("unknown frame id %s", id)
	}
	rec.Caption = caption
	s.frames[id] = rec
	return nil
}

// Discard forgets the given frames and deletes their image files. Unknown
// ids are ignored.
func (s *FrameStore) Discard(ids []string) error {
	s.mu.Lock()
	var files []string
	for _, id := range ids {
		if rec, ok := s.frames[id]; ok {
			files = append(files, rec.Filename)
			delete(s.frames, id)
		}
	}
	s.mu.Unlock()

	var errs []error
	for _, name := range files {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("failed to remove frame '%s': %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Len is the number of records accumulated so far.
func (s *FrameStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// Finalize replaces metadata.json with every accumulated record and returns a
// copy of them. The file is swapped in with a rename so readers never see a
// partial snapshot.
func (s *FrameStore) Finalize() (Snapshot, error) {
	s.mu.Lock()
	snapshot := make(Snapshot, len(s.frames))
	for id, f := range s.frames {
		snapshot[id] = f
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame metadata: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, MetadataFile+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write metadata file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to sync metadata file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close metadata file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, MetadataFile)); err != nil {
		return nil, fmt.Errorf("failed to replace metadata file: %w", err)
	}

	return snapshot, nil
}

// LoadSnapshot reads metadata.json from dir. A missing file is an empty
// snapshot.
func LoadSnapshot(dir string) (Snapshot, error) {
	snapshot, err := ReadSnapshot(dir)
	if errors.Is(err, ErrNoSnapshot) {
		return Snapshot{}, nil
	}
	return snapshot, err
}

// ReadSnapshot is LoadSnapshot for callers that need the file to exist; a
// missing file is ErrNoSnapshot.
func ReadSnapshot(dir string) (Snapshot, error) {
	path := filepath.Join(dir, MetadataFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w at %s", ErrNoSnapshot, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read frame metadata: %w", err)
	}

	snapshot := Snapshot{}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode frame metadata: %w", err)
	}
	return snapshot, nil
}
