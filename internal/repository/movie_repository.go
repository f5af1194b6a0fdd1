package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/RebootGod/catalogsync/internal/models"
)

type MovieRepository struct {
	db *sql.DB
}

func NewMovieRepository(db *sql.DB) *MovieRepository {
	return &MovieRepository{db: db}
}

func (r *MovieRepository) ExistsByTMDBID(ctx context.Context, tmdbID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM movies WHERE tmdb_id = $1)`, tmdbID).Scan(&exists)
	return exists, err
}

// UpsertFromMetadata inserts the movie or refreshes every provider field of
// the existing row with the same tmdb_id.
func (r *MovieRepository) UpsertFromMetadata(ctx context.Context, tmdbID int64, m *models.MetadataMatch) (*models.Movie, error) {
	mv := &models.Movie{
		ID:            uuid.New(),
		TMDBID:        tmdbID,
		Title:         m.Title,
		OriginalTitle: m.OriginalTitle,
		Year:          m.Year,
		ReleaseDate:   m.ReleaseDate,
		Overview:      m.Description,
		Tagline:       m.Tagline,
		PosterURL:     m.PosterURL,
		BackdropURL:   m.BackdropURL,
		Rating:        m.Rating,
		Genres:        m.Genres,
		IMDBId:        nullIfEmpty(m.IMDBId),
		ContentRating: m.ContentRating,
		Runtime:       m.Runtime,
	}
	if mv.Genres == nil {
		mv.Genres = []string{}
	}

	query := `
		INSERT INTO movies (id, tmdb_id, title, original_title, year, release_date, overview, tagline,
			poster_url, backdrop_url, rating, genres, imdb_id, content_rating, runtime)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (tmdb_id) DO UPDATE SET
			title = EXCLUDED.title,
			original_title = EXCLUDED.original_title,
			year = EXCLUDED.year,
			release_date = EXCLUDED.release_date,
			overview = EXCLUDED.overview,
			tagline = EXCLUDED.tagline,
			poster_url = EXCLUDED.poster_url,
			backdrop_url = EXCLUDED.backdrop_url,
			rating = EXCLUDED.rating,
			genres = EXCLUDED.genres,
			imdb_id = EXCLUDED.imdb_id,
			content_rating = EXCLUDED.content_rating,
			runtime = EXCLUDED.runtime,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query,
		mv.ID, mv.TMDBID, mv.Title, mv.OriginalTitle, mv.Year, mv.ReleaseDate, mv.Overview, mv.Tagline,
		mv.PosterURL, mv.BackdropURL, mv.Rating, pq.Array(mv.Genres), mv.IMDBId, mv.ContentRating, mv.Runtime,
	).Scan(&mv.ID, &mv.CreatedAt, &mv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert movie %d: %w", tmdbID, err)
	}
	return mv, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
