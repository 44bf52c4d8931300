package games

import (
	"context"
)

// Aggregates behind GET /api/stats/*. ReleaseYear is denormalized at
// write time so year grouping stays portable across sqlite and postgres.

type YearCount struct {
	Year  int   `json:"year"`
	Count int64 `json:"count"`
}

func (r *Repo) GamesPerYear(ctx context.Context) ([]YearCount, error) {
	var out []YearCount
	err := r.db.WithContext(ctx).Model(&Game{}).
		Select("release_year AS year, COUNT(*) AS count").
		Where("release_year > 0").
		Group("release_year").Order("release_year").
		Scan(&out).Error
	return out, err
}

type GenreRating struct {
	Genre     string  `json:"genre"`
	AvgRating float64 `json:"avg_rating"`
	Count     int64   `json:"count"`
}

func (r *Repo) AvgRatingByGenre(ctx context.Context) ([]GenreRating, error) {
	var out []GenreRating
	err := r.db.WithContext(ctx).Table("genres").
		Select("genres.name AS genre, AVG(games.rating) AS avg_rating, COUNT(games.id) AS count").
		Joins("JOIN game_genres ON game_genres.genre_id = genres.id").
		Joins("JOIN games ON games.id = game_genres.game_id").
		Where("games.rating IS NOT NULL").
		Group("genres.name").Order("avg_rating DESC").
		Scan(&out).Error
	return out, err
}

type RatingBucket struct {
	Bucket int   `json:"bucket"`
	Count  int64 `json:"count"`
}

// RatingDistribution buckets ratings by their integer part (0..5).
func (r *Repo) RatingDistribution(ctx context.Context) ([]RatingBucket, error) {
	var out []RatingBucket
	err := r.db.WithContext(ctx).Model(&Game{}).
		Select("CAST(rating AS INTEGER) AS bucket, COUNT(*) AS count").
		Where("rating IS NOT NULL").
		Group("bucket").Order("bucket").
		Scan(&out).Error
	return out, err
}

type NamedCount struct {
	Name  string `json:"name"`
	Slug  string `json:"slug"`
	Count int64  `json:"count"`
}

func (r *Repo) TopGenres(ctx context.Context, limit int) ([]NamedCount, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []NamedCount
	err := r.db.WithContext(ctx).Table("genres").
		Select("genres.name AS name, genres.slug AS slug, COUNT(game_genres.game_id) AS count").
		Joins("JOIN game_genres ON game_genres.genre_id = genres.id").
		Group("genres.id").Order("count DESC").Limit(limit).
		Scan(&out).Error
	return out, err
}

func (r *Repo) TopPlatforms(ctx context.Context, limit int) ([]NamedCount, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []NamedCount
	err := r.db.WithContext(ctx).Table("platforms").
		Select("platforms.name AS name, platforms.slug AS slug, COUNT(game_platforms.game_id) AS count").
		Joins("JOIN game_platforms ON game_platforms.platform_id = platforms.id").
		Group("platforms.id").Order("count DESC").Limit(limit).
		Scan(&out).Error
	return out, err
}
