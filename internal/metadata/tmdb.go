package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/RebootGod/catalogsync/internal/models"
)

const (
	DefaultTMDBBaseURL = "https://api.themoviedb.org/3"

	posterBase   = "https://image.tmdb.org/t/p/w500"
	backdropBase = "https://image.tmdb.org/t/p/w1280"

	maxAttempts   = 3
	maxRetryAfter = 30 * time.Second
)

var (
	ErrNotFound      = errors.New("tmdb: not found")
	ErrUnauthorized  = errors.New("tmdb: unauthorized")
	ErrNotConfigured = errors.New("tmdb: API key not configured")
)

// StatusError is an unexpected HTTP status from TMDB.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("tmdb: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("tmdb: unexpected status %d: %s", e.StatusCode, e.Body)
}

// IsTransient reports whether err is worth retrying later: rate limiting,
// server errors and network failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var ue *url.Error
	return errors.As(err, &ue)
}

type TMDBClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewTMDBClient builds a client limited to rps requests per second. A blank
// baseURL selects the public API.
func NewTMDBClient(apiKey, baseURL string, rps float64, burst int) *TMDBClient {
	if baseURL == "" {
		baseURL = DefaultTMDBBaseURL
	}
	if rps <= 0 {
		rps = 4
	}
	if burst < 1 {
		burst = 1
	}
	return &TMDBClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		sleep:   sleepCtx,
	}
}

func (c *TMDBClient) Name() string { return "tmdb" }

// ──────── release dates / content rating helpers ────────

type tmdbReleaseDateCountry struct {
	ISO31661     string             `json:"iso_3166_1"`
	ReleaseDates []tmdbReleaseEntry `json:"release_dates"`
}

type tmdbReleaseEntry struct {
	Certification string `json:"certification"`
	Type          int    `json:"type"`
}

type tmdbContentRating struct {
	ISO31661 string `json:"iso_3166_1"`
	Rating   string `json:"rating"`
}

type tmdbGenre struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// extractUSCertification returns the first non-empty US certification.
func extractUSCertification(countries []tmdbReleaseDateCountry) *string {
	for _, c := range countries {
		if c.ISO31661 != "US" {
			continue
		}
		for _, rd := range c.ReleaseDates {
			if rd.Certification != "" {
				cert := rd.Certification
				return &cert
			}
		}
	}
	return nil
}

func extractUSRating(ratings []tmdbContentRating) *string {
	for _, r := range ratings {
		if r.ISO31661 == "US" && r.Rating != "" {
			rating := r.Rating
			return &rating
		}
	}
	return nil
}

// ──────────────────── Details ────────────────────

// GetMovie fetches one movie by TMDB id.
func (c *TMDBClient) GetMovie(ctx context.Context, id int64) (*models.MetadataMatch, error) {
	var r struct {
		ID            int64       `json:"id"`
		Title         string      `json:"title"`
		OriginalTitle string      `json:"original_title"`
		Overview      string      `json:"overview"`
		Tagline       string      `json:"tagline"`
		PosterPath    string      `json:"poster_path"`
		BackdropPath  string      `json:"backdrop_path"`
		ReleaseDate   string      `json:"release_date"`
		VoteAverage   float64     `json:"vote_average"`
		IMDBId        string      `json:"imdb_id"`
		Runtime       int         `json:"runtime"`
		Genres        []tmdbGenre `json:"genres"`
		ReleaseDates  struct {
			Results []tmdbReleaseDateCountry `json:"results"`
		} `json:"release_dates"`
	}
	if err := c.get(ctx, fmt.Sprintf("/movie/%d", id), "release_dates", &r); err != nil {
		return nil, fmt.Errorf("movie %d: %w", id, err)
	}

	m := &models.MetadataMatch{
		Source:        "tmdb",
		Kind:          models.KindMovie,
		ExternalID:    strconv.FormatInt(r.ID, 10),
		Title:         r.Title,
		OriginalTitle: differentOrNil(r.OriginalTitle, r.Title),
		Year:          yearOf(r.ReleaseDate),
		ReleaseDate:   nonEmpty(r.ReleaseDate),
		Description:   nonEmpty(r.Overview),
		Tagline:       nonEmpty(r.Tagline),
		PosterURL:     imageURL(posterBase, r.PosterPath),
		BackdropURL:   imageURL(backdropBase, r.BackdropPath),
		Rating:        &r.VoteAverage,
		Genres:        genreNames(r.Genres),
		IMDBId:        r.IMDBId,
		ContentRating: extractUSCertification(r.ReleaseDates.Results),
	}
	if r.Runtime > 0 {
		m.Runtime = &r.Runtime
	}
	return m, nil
}

// GetSeries fetches one TV series by TMDB id, including external ids for
// the IMDB id.
func (c *TMDBClient) GetSeries(ctx context.Context, id int64) (*models.MetadataMatch, error) {
	var r struct {
		ID               int64       `json:"id"`
		Name             string      `json:"name"`
		OriginalName     string      `json:"original_name"`
		Overview         string      `json:"overview"`
		PosterPath       string      `json:"poster_path"`
		BackdropPath     string      `json:"backdrop_path"`
		FirstAirDate     string      `json:"first_air_date"`
		VoteAverage      float64     `json:"vote_average"`
		Status           string      `json:"status"`
		NumberOfSeasons  int         `json:"number_of_seasons"`
		NumberOfEpisodes int         `json:"number_of_episodes"`
		Genres           []tmdbGenre `json:"genres"`
		ExternalIDs      struct {
			IMDBId string `json:"imdb_id"`
		} `json:"external_ids"`
		ContentRatings struct {
			Results []tmdbContentRating `json:"results"`
		} `json:"content_ratings"`
	}
	if err := c.get(ctx, fmt.Sprintf("/tv/%d", id), "external_ids,content_ratings", &r); err != nil {
		return nil, fmt.Errorf("series %d: %w", id, err)
	}

	m := &models.MetadataMatch{
		Source:        "tmdb",
		Kind:          models.KindSeries,
		ExternalID:    strconv.FormatInt(r.ID, 10),
		Title:         r.Name,
		OriginalTitle: differentOrNil(r.OriginalName, r.Name),
		Year:          yearOf(r.FirstAirDate),
		ReleaseDate:   nonEmpty(r.FirstAirDate),
		Description:   nonEmpty(r.Overview),
		PosterURL:     imageURL(posterBase, r.PosterPath),
		BackdropURL:   imageURL(backdropBase, r.BackdropPath),
		Rating:        &r.VoteAverage,
		Genres:        genreNames(r.Genres),
		IMDBId:        r.ExternalIDs.IMDBId,
		ContentRating: extractUSRating(r.ContentRatings.Results),
		Status:        nonEmpty(r.Status),
	}
	if r.NumberOfSeasons > 0 {
		m.SeasonCount = &r.NumberOfSeasons
	}
	if r.NumberOfEpisodes > 0 {
		m.EpisodeCount = &r.NumberOfEpisodes
	}
	return m, nil
}

// get performs a rate-limited GET and decodes the body into out. 429
// responses are retried honoring Retry-After.
func (c *TMDBClient) get(ctx context.Context, path, appendTo string, out any) error {
	if c.apiKey == "" {
		return ErrNotConfigured
	}

	q := url.Values{}
	q.Set("api_key", c.apiKey)
	if appendTo != "" {
		q.Set("append_to_response", appendTo)
	}
	reqURL := c.baseURL + path + "?" + q.Encode()

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("tmdb request: %w", c.redact(err, path))
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := retryAfter(resp.Header.Get("Retry-After"), attempt)
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = &StatusError{StatusCode: resp.StatusCode}
			if attempt == maxAttempts-1 {
				break
			}
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		err = decodeResponse(resp, out)
		resp.Body.Close()
		return err
	}
	return lastErr
}

// redact drops the query string, and with it the API key, from the URL a
// transport error carries.
func (c *TMDBClient) redact(err error, path string) error {
	var ue *url.Error
	if !errors.As(err, &ue) {
		return err
	}
	return &url.Error{Op: ue.Op, URL: c.baseURL + path, Err: ue.Err}
}

func decodeResponse(resp *http.Response, out any) error {
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode tmdb response: %w", err)
	}
	return nil
}

// retryAfter reads a Retry-After header in seconds, falling back to
// exponential backoff.
func retryAfter(header string, attempt int) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs >= 0 {
		d := time.Duration(secs) * time.Second
		if d > maxRetryAfter {
			d = maxRetryAfter
		}
		return d
	}
	return time.Duration(1<<uint(attempt)) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func yearOf(date string) *int {
	if len(date) < 4 {
		return nil
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil || y <= 0 {
		return nil
	}
	return &y
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func differentOrNil(s, other string) *string {
	if s == "" || s == other {
		return nil
	}
	return &s
}

func imageURL(base, path string) *string {
	if path == "" {
		return nil
	}
	u := base + path
	return &u
}

func genreNames(genres []tmdbGenre) []string {
	names := make([]string, 0, len(genres))
	for _, g := range genres {
		names = append(names, g.Name)
	}
	return names
}
