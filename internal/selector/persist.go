package selector

import (
	"context"
	"fmt"

	"github.com/hupe1980/ecp/internal/arraystore"
	"github.com/hupe1980/ecp/internal/errs"
)

// Default array names of a saved representative set.
const (
	DefaultIDsName        = "clst_item_ids"
	DefaultEmbeddingsName = "clst_embeddings"
)

// Save writes the set as two named arrays, replacing existing ones.
// Empty names fall back to the defaults.
func Save(ctx context.Context, store *arraystore.Store, set *Set, idsName, embName string, dt arraystore.DType) error {
	if set.Len() == 0 {
		return fmt.Errorf("%w: no representatives to save", errs.ErrPreconditionNotMet)
	}
	idsName, embName = names(idsName, embName)
	if err := store.PutUint32(ctx, idsName, set.IDs); err != nil {
		return fmt.Errorf("save representative ids: %w", err)
	}
	if err := store.PutFloat32(ctx, embName, set.Embeddings, set.Dim, dt); err != nil {
		return fmt.Errorf("save representative embeddings: %w", err)
	}
	return nil
}

// Load reads a set written by Save.
func Load(ctx context.Context, store *arraystore.Store, idsName, embName string) (*Set, error) {
	idsName, embName = names(idsName, embName)
	ids, err := store.ReadUint32(ctx, idsName)
	if err != nil {
		return nil, fmt.Errorf("load representative ids: %w", err)
	}
	emb, dim, err := store.ReadFloat32(ctx, embName)
	if err != nil {
		return nil, fmt.Errorf("load representative embeddings: %w", err)
	}
	return &Set{IDs: ids, Embeddings: emb, Dim: dim}, nil
}

func names(idsName, embName string) (string, string) {
	if idsName == "" {
		idsName = DefaultIDsName
	}
	if embName == "" {
		embName = DefaultEmbeddingsName
	}
	return idsName, embName
}
