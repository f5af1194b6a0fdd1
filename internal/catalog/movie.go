package catalog

import (
	"context"

	"github.com/RebootGod/catalogsync/internal/bulksync"
)

type MovieStrategy struct {
	provider Provider
	store    MovieStore
}

func (s *MovieStrategy) Exists(ctx context.Context, id int64) (bool, error) {
	ok, err := s.store.ExistsByTMDBID(ctx, id)
	return ok, storeError(err)
}

func (s *MovieStrategy) Fetch(ctx context.Context, id int64) (bulksync.Metadata, error) {
	m, err := s.provider.GetMovie(ctx, id)
	if err != nil {
		return nil, providerError(err)
	}
	return m, nil
}

func (s *MovieStrategy) Persist(ctx context.Context, id int64, md bulksync.Metadata) (string, error) {
	m, err := asMatch(md)
	if err != nil {
		return "", err
	}
	if _, err := s.store.UpsertFromMetadata(ctx, id, m); err != nil {
		return "", storeError(err)
	}
	return m.DisplayTitle(), nil
}
