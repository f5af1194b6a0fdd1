package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/RebootGod/catalogsync/internal/models"
)

type SeriesRepository struct {
	db *sql.DB
}

func NewSeriesRepository(db *sql.DB) *SeriesRepository {
	return &SeriesRepository{db: db}
}

func (r *SeriesRepository) ExistsByTMDBID(ctx context.Context, tmdbID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM series WHERE tmdb_id = $1)`, tmdbID).Scan(&exists)
	return exists, err
}

func (r *SeriesRepository) UpsertFromMetadata(ctx context.Context, tmdbID int64, m *models.MetadataMatch) (*models.Series, error) {
	s := &models.Series{
		ID:            uuid.New(),
		TMDBID:        tmdbID,
		Title:         m.Title,
		OriginalTitle: m.OriginalTitle,
		Year:          m.Year,
		FirstAirDate:  m.ReleaseDate,
		Overview:      m.Description,
		PosterURL:     m.PosterURL,
		BackdropURL:   m.BackdropURL,
		Rating:        m.Rating,
		Genres:        m.Genres,
		IMDBId:        nullIfEmpty(m.IMDBId),
		ContentRating: m.ContentRating,
		SeasonCount:   m.SeasonCount,
		EpisodeCount:  m.EpisodeCount,
		Status:        m.Status,
	}
	if s.Genres == nil {
		s.Genres = []string{}
	}

	query := `
		INSERT INTO series (id, tmdb_id, title, original_title, year, first_air_date, overview,
			poster_url, backdrop_url, rating, genres, imdb_id, content_rating, season_count, episode_count, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (tmdb_id) DO UPDATE SET
			title = EXCLUDED.title,
			original_title = EXCLUDED.original_title,
			year = EXCLUDED.year,
			first_air_date = EXCLUDED.first_air_date,
			overview = EXCLUDED.overview,
			poster_url = EXCLUDED.poster_url,
			backdrop_url = EXCLUDED.backdrop_url,
			rating = EXCLUDED.rating,
			genres = EXCLUDED.genres,
			imdb_id = EXCLUDED.imdb_id,
			content_rating = EXCLUDED.content_rating,
			season_count = EXCLUDED.season_count,
			episode_count = EXCLUDED.episode_count,
			status = EXCLUDED.status,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query,
		s.ID, s.TMDBID, s.Title, s.OriginalTitle, s.Year, s.FirstAirDate, s.Overview,
		s.PosterURL, s.BackdropURL, s.Rating, pq.Array(s.Genres), s.IMDBId, s.ContentRating,
		s.SeasonCount, s.EpisodeCount, s.Status,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert series %d: %w", tmdbID, err)
	}
	return s, nil
}

