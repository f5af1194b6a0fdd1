package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/RebootGod/catalogsync/internal/bulksync"
	"github.com/RebootGod/catalogsync/internal/metadata"
	"github.com/RebootGod/catalogsync/internal/models"
)

// GenericStrategy handles ids of unknown kind: an id already present in
// either table is skipped, otherwise it is looked up as a movie first and
// as a series when TMDB has no such movie.
type GenericStrategy struct {
	movies *MovieStrategy
	series *SeriesStrategy
}

func (s *GenericStrategy) Exists(ctx context.Context, id int64) (bool, error) {
	ok, err := s.movies.Exists(ctx, id)
	if err != nil || ok {
		return ok, err
	}
	return s.series.Exists(ctx, id)
}

func (s *GenericStrategy) Fetch(ctx context.Context, id int64) (bulksync.Metadata, error) {
	md, err := s.movies.Fetch(ctx, id)
	if err == nil {
		return md, nil
	}
	if !errors.Is(err, metadata.ErrNotFound) {
		return nil, err
	}
	md, err = s.series.Fetch(ctx, id)
	if errors.Is(err, metadata.ErrNotFound) {
		return nil, fmt.Errorf("no movie or series with id %d: %w", id, err)
	}
	return md, err
}

func (s *GenericStrategy) Persist(ctx context.Context, id int64, md bulksync.Metadata) (string, error) {
	m, err := asMatch(md)
	if err != nil {
		return "", err
	}
	switch m.Kind {
	case models.KindSeries:
		return s.series.Persist(ctx, id, m)
	case models.KindMovie:
		return s.movies.Persist(ctx, id, m)
	}
	return "", fmt.Errorf("unknown media kind %q", m.Kind)
}
