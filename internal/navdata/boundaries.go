package navdata

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jlefkoff/VATSIM-EDST-API/internal/geodesy"
)

// ErrBoundaryNotFound is returned when no boundary file exists for an ARTCC
var ErrBoundaryNotFound = errors.New("boundary not found")

// Boundaries loads ARTCC boundary files from a directory on first use.
// Files are named <artcc>.geojson with a lower-case ARTCC identifier.
type Boundaries struct {
	dir   string
	mu    sync.Mutex
	cache map[string]*boundaryEntry
}

type boundaryEntry struct {
	raw      []byte
	boundary *geodesy.Boundary
}

// NewBoundaries creates a boundary loader rooted at dir
func NewBoundaries(dir string) *Boundaries {
	return &Boundaries{
		dir:   dir,
		cache: make(map[string]*boundaryEntry),
	}
}

// Get returns the parsed boundary of an ARTCC
func (b *Boundaries) Get(artcc string) (*geodesy.Boundary, error) {
	e, err := b.load(artcc)
	if err != nil {
		return nil, err
	}
	return e.boundary, nil
}

// Raw returns the boundary file contents of an ARTCC
func (b *Boundaries) Raw(artcc string) ([]byte, error) {
	e, err := b.load(artcc)
	if err != nil {
		return nil, err
	}
	return e.raw, nil
}

// Add registers a boundary from GeoJSON data, replacing any cached entry
func (b *Boundaries) Add(artcc string, data []byte) error {
	boundary, err := geodesy.ParseBoundary(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache[strings.ToLower(artcc)] = &boundaryEntry{raw: data, boundary: boundary}
	return nil
}

func (b *Boundaries) load(artcc string) (*boundaryEntry, error) {
	key := strings.ToLower(strings.TrimSpace(artcc))
	if key == "" || strings.ContainsAny(key, `/\.`) {
		return nil, fmt.Errorf("%w: %q", ErrBoundaryNotFound, artcc)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.cache[key]; ok {
		return e, nil
	}
	if b.dir == "" {
		return nil, fmt.Errorf("%w: %s", ErrBoundaryNotFound, key)
	}

	data, err := os.ReadFile(filepath.Join(b.dir, key+".geojson"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrBoundaryNotFound, key)
		}
		return nil, fmt.Errorf("failed to read boundary %s: %w", key, err)
	}

	boundary, err := geodesy.ParseBoundary(data)
	if err != nil {
		return nil, fmt.Errorf("boundary %s: %w", key, err)
	}

	e := &boundaryEntry{raw: data, boundary: boundary}
	b.cache[key] = e
	return e, nil
}
