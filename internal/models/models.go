package models

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ──────────────────── Enums ────────────────────

// MediaKind tells movies and TV series apart in provider responses.
type MediaKind string

const (
	KindMovie  MediaKind = "movie"
	KindSeries MediaKind = "tv"
)

// ──────────────────── Catalog ────────────────────

type Movie struct {
	ID            uuid.UUID `json:"id" db:"id"`
	TMDBID        int64     `json:"tmdb_id" db:"tmdb_id"`
	Title         string    `json:"title" db:"title"`
	OriginalTitle *string   `json:"original_title,omitempty" db:"original_title"`
	Year          *int      `json:"year,omitempty" db:"year"`
	ReleaseDate   *string   `json:"release_date,omitempty" db:"release_date"`
	Overview      *string   `json:"overview,omitempty" db:"overview"`
	Tagline       *string   `json:"tagline,omitempty" db:"tagline"`
	PosterURL     *string   `json:"poster_url,omitempty" db:"poster_url"`
	BackdropURL   *string   `json:"backdrop_url,omitempty" db:"backdrop_url"`
	Rating        *float64  `json:"rating,omitempty" db:"rating"`
	Genres        []string  `json:"genres" db:"genres"`
	IMDBId        *string   `json:"imdb_id,omitempty" db:"imdb_id"`
	ContentRating *string   `json:"content_rating,omitempty" db:"content_rating"`
	Runtime       *int      `json:"runtime,omitempty" db:"runtime"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

type Series struct {
	ID            uuid.UUID `json:"id" db:"id"`
	TMDBID        int64     `json:"tmdb_id" db:"tmdb_id"`
	Title         string    `json:"title" db:"title"`
	OriginalTitle *string   `json:"original_title,omitempty" db:"original_title"`
	Year          *int      `json:"year,omitempty" db:"year"`
	FirstAirDate  *string   `json:"first_air_date,omitempty" db:"first_air_date"`
	Overview      *string   `json:"overview,omitempty" db:"overview"`
	PosterURL     *string   `json:"poster_url,omitempty" db:"poster_url"`
	BackdropURL   *string   `json:"backdrop_url,omitempty" db:"backdrop_url"`
	Rating        *float64  `json:"rating,omitempty" db:"rating"`
	Genres        []string  `json:"genres" db:"genres"`
	IMDBId        *string   `json:"imdb_id,omitempty" db:"imdb_id"`
	ContentRating *string   `json:"content_rating,omitempty" db:"content_rating"`
	SeasonCount   *int      `json:"season_count,omitempty" db:"season_count"`
	EpisodeCount  *int      `json:"episode_count,omitempty" db:"episode_count"`
	Status        *string   `json:"status,omitempty" db:"status"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// ──────────────────── Job History ────────────────────

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// JobRecord is the durable audit row of one sync run. Live progress lives
// in the progress store; this row outlives it.
type JobRecord struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	ProgressKey  string     `json:"progress_key" db:"progress_key"`
	EntityType   string     `json:"entity_type" db:"entity_type"`
	Total        int        `json:"total" db:"total"`
	Status       JobStatus  `json:"status" db:"status"`
	Success      int        `json:"success" db:"success"`
	Failed       int        `json:"failed" db:"failed"`
	Skipped      int        `json:"skipped" db:"skipped"`
	ErrorMessage *string    `json:"error_message,omitempty" db:"error_message"`
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// ──────────────────── Metadata Match ────────────────────

type MetadataMatch struct {
	Source        string    `json:"source"`
	Kind          MediaKind `json:"kind"`
	ExternalID    string    `json:"external_id"`
	Title         string    `json:"title"`
	OriginalTitle *string   `json:"original_title,omitempty"`
	Year          *int      `json:"year,omitempty"`
	ReleaseDate   *string   `json:"release_date,omitempty"`
	Description   *string   `json:"description,omitempty"`
	Tagline       *string   `json:"tagline,omitempty"`
	PosterURL     *string   `json:"poster_url,omitempty"`
	BackdropURL   *string   `json:"backdrop_url,omitempty"`
	Rating        *float64  `json:"rating,omitempty"`
	Genres        []string  `json:"genres,omitempty"`
	IMDBId        string    `json:"imdb_id,omitempty"`
	ContentRating *string   `json:"content_rating,omitempty"`
	Runtime       *int      `json:"runtime,omitempty"`
	SeasonCount   *int      `json:"season_count,omitempty"`
	EpisodeCount  *int      `json:"episode_count,omitempty"`
	Status        *string   `json:"status,omitempty"`
}

// DisplayTitle is the title used in logs and progress messages.
func (m *MetadataMatch) DisplayTitle() string {
	if m.Year != nil && *m.Year > 0 {
		return m.Title + " (" + strconv.Itoa(*m.Year) + ")"
	}
	return m.Title
}
