// Package catalog binds the sync engine to the TMDB client and the
// Postgres catalog, one strategy per entity type.
package catalog

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"

	"github.com/RebootGod/catalogsync/internal/bulksync"
	"github.com/RebootGod/catalogsync/internal/metadata"
	"github.com/RebootGod/catalogsync/internal/models"
)

// Provider is the subset of the TMDB client the strategies call.
type Provider interface {
	GetMovie(ctx context.Context, id int64) (*models.MetadataMatch, error)
	GetSeries(ctx context.Context, id int64) (*models.MetadataMatch, error)
}

type MovieStore interface {
	ExistsByTMDBID(ctx context.Context, tmdbID int64) (bool, error)
	UpsertFromMetadata(ctx context.Context, tmdbID int64, m *models.MetadataMatch) (*models.Movie, error)
}

type SeriesStore interface {
	ExistsByTMDBID(ctx context.Context, tmdbID int64) (bool, error)
	UpsertFromMetadata(ctx context.Context, tmdbID int64, m *models.MetadataMatch) (*models.Series, error)
}

// NewStrategies returns the strategy set for every supported entity type.
func NewStrategies(provider Provider, movies MovieStore, series SeriesStore) bulksync.Strategies {
	ms := &MovieStrategy{provider: provider, store: movies}
	ss := &SeriesStrategy{provider: provider, store: series}
	return bulksync.Strategies{
		bulksync.EntityMovie:   ms,
		bulksync.EntitySeries:  ss,
		bulksync.EntityGeneric: &GenericStrategy{movies: ms, series: ss},
	}
}

// providerError maps TMDB client errors onto the engine's classes.
func providerError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, metadata.ErrUnauthorized), errors.Is(err, metadata.ErrNotConfigured):
		return bulksync.Fatal(err)
	case metadata.IsTransient(err):
		return bulksync.Unavailable(err)
	}
	return err
}

// storeError marks lost database connections as unavailable.
func storeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return bulksync.Unavailable(err)
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return bulksync.Unavailable(err)
	}
	var pqErr *pq.Error
	// class 08: connection exception, 57P: operator intervention
	if errors.As(err, &pqErr) && (pqErr.Code.Class() == "08" || pqErr.Code.Class() == "57") {
		return bulksync.Unavailable(err)
	}
	return err
}

func asMatch(md bulksync.Metadata) (*models.MetadataMatch, error) {
	m, ok := md.(*models.MetadataMatch)
	if !ok || m == nil {
		return nil, fmt.Errorf("unexpected metadata type %T", md)
	}
	return m, nil
}
