package catalog

import (
	"context"

	"github.com/RebootGod/catalogsync/internal/bulksync"
)

type SeriesStrategy struct {
	provider Provider
	store    SeriesStore
}

func (s *SeriesStrategy) Exists(ctx context.Context, id int64) (bool, error) {
	ok, err := s.store.ExistsByTMDBID(ctx, id)
	return ok, storeError(err)
}

func (s *SeriesStrategy) Fetch(ctx context.Context, id int64) (bulksync.Metadata, error) {
	m, err := s.provider.GetSeries(ctx, id)
	if err != nil {
		return nil, providerError(err)
	}
	return m, nil
}

func (s *SeriesStrategy) Persist(ctx context.Context, id int64, md bulksync.Metadata) (string, error) {
	m, err := asMatch(md)
	if err != nil {
		return "", err
	}
	if _, err := s.store.UpsertFromMetadata(ctx, id, m); err != nil {
		return "", storeError(err)
	}
	return m.DisplayTitle(), nil
}
