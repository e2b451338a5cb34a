package manifest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/ecp/blobstore"
	"github.com/hupe1980/ecp/codec"
)

const (
	ManifestFileName = "MANIFEST"
	CurrentFileName  = "CURRENT"
	// CurrentVersion is the version of the manifest format.
	CurrentVersion = 1
)

// Manifest describes a persisted index at a specific point in time.
type Manifest struct {
	Version   int       `json:"version"`
	ID        uint64    `json:"id"`
	BuildID   string    `json:"build_id"`
	CreatedAt time.Time `json:"created_at"`

	Dim               int    `json:"dim"`
	Metric            string `json:"metric"`
	Levels            int    `json:"levels"`
	NodeSize          int    `json:"node_size"`
	TargetClusterSize int    `json:"target_cluster_size"`
	TotalItems        int    `json:"total_items"`
	TotalClusters     int    `json:"total_clusters"`

	DType       string `json:"dtype"`
	Compression string `json:"compression"`
	Selection   string `json:"selection"`

	Representatives RepresentativesInfo `json:"representatives"`
	// Assigned is set once every item has been written to a leaf.
	Assigned bool `json:"assigned"`
}

// RepresentativesInfo names the arrays holding the selected representatives.
type RepresentativesInfo struct {
	IDs        string `json:"ids"`
	Embeddings string `json:"embeddings"`
}

// Name returns the blob name of manifest version id.
func Name(id uint64) string {
	return fmt.Sprintf("%s-%06d.json", ManifestFileName, id)
}

// Store manages the manifest blobs and atomic updates.
type Store struct {
	store blobstore.BlobStore
	codec codec.Codec
	mu    sync.Mutex
}

// NewStore creates a new manifest store. A nil codec selects codec.Default.
func NewStore(store blobstore.BlobStore, c codec.Codec) *Store {
	if c == nil {
		c = codec.Default
	}
	return &Store{store: store, codec: c}
}

// Load loads the current manifest.
func (s *Store) Load(ctx context.Context) (*Manifest, error) {
	return s.LoadVersion(ctx, 0)
}

// LoadVersion loads a specific version ID. 0 means latest.
func (s *Store) LoadVersion(ctx context.Context, versionID uint64) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := Name(versionID)
	if versionID == 0 {
		content, err := blobstore.ReadAll(ctx, s.store, CurrentFileName)
		if err != nil {
			if errors.Is(err, blobstore.ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		name = strings.TrimSpace(string(content))
	}
	return s.read(ctx, name)
}

func (s *Store) read(ctx context.Context, name string) (*Manifest, error) {
	content, err := blobstore.ReadAll(ctx, s.store, name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to open manifest %s: %w", name, err)
	}

	m := &Manifest{}
	if err := s.codec.Unmarshal(content, m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", name, err)
	}
	if m.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: %d (expected %d)", ErrIncompatibleVersion, m.Version, CurrentVersion)
	}
	return m, nil
}

// ListVersions returns the IDs of all manifest versions, oldest first.
func (s *Store) ListVersions(ctx context.Context) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.store.List(ctx, ManifestFileName+"-")
	if err != nil {
		return nil, err
	}
	var ids []uint64
	for _, name := range names {
		digits, ok := strings.CutSuffix(strings.TrimPrefix(name, ManifestFileName+"-"), ".json")
		if !ok {
			continue
		}
		id, err := strconv.ParseUint(digits, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// Save writes m as the next version and points CURRENT at it.
// m.ID is advanced to the new version.
func (s *Store) Save(ctx context.Context, m *Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.Version = CurrentVersion
	m.ID++
	m.CreatedAt = time.Now()

	data, err := s.codec.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	filename := Name(m.ID)
	if err := s.store.Put(ctx, filename, data); err != nil {
		return err
	}
	return s.store.Put(ctx, CurrentFileName, []byte(filename))
}

// DeleteVersion deletes the manifest blob for the given version.
func (s *Store) DeleteVersion(ctx context.Context, versionID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.store.Delete(ctx, Name(versionID))
}
