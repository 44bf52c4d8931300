package games

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/gameinsight/gameinsight/internal/catalog"
)

// Repo provides GORM-based persistence for games and their linked
// attribute sets.
type Repo struct{ db *gorm.DB }

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Game{}, &Genre{}, &Platform{}, &Store{}, &Tag{})
}

func NewRepo(db *gorm.DB) *Repo { return &Repo{db: db} }

// GetBySlug returns nil, nil when no game carries the slug.
func (r *Repo) GetBySlug(ctx context.Context, slug string) (*Game, error) {
	var g Game
	err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *Repo) Get(ctx context.Context, id uint) (*Game, error) {
	var g Game
	err := r.db.WithContext(ctx).
		Preload("Genres").Preload("Platforms").Preload("Stores").Preload("Tags").
		First(&g, id).Error
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// CreateFromRecord inserts a full game row with all attribute linkage.
// A concurrent insert of the same slug is not an error: the unique index
// wins and the existing row is returned with created=false.
func (r *Repo) CreateFromRecord(ctx context.Context, rec *catalog.Record) (*Game, bool, error) {
	g := fromRecord(rec)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if g.Genres, err = upsertGenres(tx, rec.Genres); err != nil {
			return err
		}
		if g.Platforms, err = upsertPlatforms(tx, rec.Platforms()); err != nil {
			return err
		}
		if g.Stores, err = upsertStores(tx, rec.Stores()); err != nil {
			return err
		}
		if g.Tags, err = upsertTags(tx, rec.Tags); err != nil {
			return err
		}
		return tx.Create(g).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		existing, gerr := r.GetBySlug(ctx, rec.Slug)
		if gerr != nil {
			return nil, false, gerr
		}
		if existing == nil {
			return nil, false, fmt.Errorf("games: duplicate on insert but slug %q absent", rec.Slug)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return g, true, nil
}

// UpdateFromRecord refreshes the mutable fields of an existing row and
// replaces its attribute link sets with the freshly fetched ones.
func (r *Repo) UpdateFromRecord(ctx context.Context, g *Game, rec *catalog.Record) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		g.Rating = rec.Rating
		g.RatingsCount = rec.RatingsCount
		g.Metacritic = rec.Metacritic
		g.Playtime = rec.Playtime
		if len(rec.RawRatings) > 0 {
			g.Ratings = datatypes.JSON(rec.RawRatings)
		}
		if err := tx.Model(g).Select("rating", "ratings_count", "metacritic", "playtime", "ratings", "updated_at").Updates(map[string]any{
			"rating":        g.Rating,
			"ratings_count": g.RatingsCount,
			"metacritic":    g.Metacritic,
			"playtime":      g.Playtime,
			"ratings":       g.Ratings,
		}).Error; err != nil {
			return err
		}
		genres, err := upsertGenres(tx, rec.Genres)
		if err != nil {
			return err
		}
		if err := tx.Model(g).Association("Genres").Replace(genres); err != nil {
			return err
		}
		platforms, err := upsertPlatforms(tx, rec.Platforms())
		if err != nil {
			return err
		}
		if err := tx.Model(g).Association("Platforms").Replace(platforms); err != nil {
			return err
		}
		stores, err := upsertStores(tx, rec.Stores())
		if err != nil {
			return err
		}
		if err := tx.Model(g).Association("Stores").Replace(stores); err != nil {
			return err
		}
		tags, err := upsertTags(tx, rec.Tags)
		if err != nil {
			return err
		}
		return tx.Model(g).Association("Tags").Replace(tags)
	})
}

func fromRecord(rec *catalog.Record) *Game {
	g := &Game{
		ExternalID:      rec.ID,
		Slug:            rec.Slug,
		Name:            rec.Name,
		Rating:          rec.Rating,
		RatingsCount:    rec.RatingsCount,
		Metacritic:      rec.Metacritic,
		Playtime:        rec.Playtime,
		BackgroundImage: rec.BackgroundImage,
		Clip:            rec.ClipURL(),
	}
	if len(rec.RawRatings) > 0 {
		g.Ratings = datatypes.JSON(rec.RawRatings)
	}
	if rec.Released != "" {
		if t, err := time.Parse("2006-01-02", rec.Released); err == nil {
			g.Released = &t
			g.ReleaseYear = t.Year()
		}
	}
	return g
}

// Attribute upserts: find-or-create by slug. A lost race on the unique
// index is resolved by re-reading the winner's row.

func upsertGenres(tx *gorm.DB, refs []catalog.Ref) ([]Genre, error) {
	out := make([]Genre, 0, len(refs))
	for _, ref := range refs {
		if ref.Slug == "" {
			continue
		}
		var g Genre
		err := tx.Where(Genre{Slug: ref.Slug}).Attrs(Genre{ExternalID: ref.ID, Name: ref.Name}).FirstOrCreate(&g).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			err = tx.Where("slug = ?", ref.Slug).First(&g).Error
		}
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func upsertPlatforms(tx *gorm.DB, refs []catalog.Ref) ([]Platform, error) {
	out := make([]Platform, 0, len(refs))
	for _, ref := range refs {
		if ref.Slug == "" {
			continue
		}
		var p Platform
		err := tx.Where(Platform{Slug: ref.Slug}).Attrs(Platform{ExternalID: ref.ID, Name: ref.Name}).FirstOrCreate(&p).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			err = tx.Where("slug = ?", ref.Slug).First(&p).Error
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func upsertStores(tx *gorm.DB, refs []catalog.Ref) ([]Store, error) {
	out := make([]Store, 0, len(refs))
	for _, ref := range refs {
		if ref.Slug == "" {
			continue
		}
		var s Store
		err := tx.Where(Store{Slug: ref.Slug}).Attrs(Store{ExternalID: ref.ID, Name: ref.Name}).FirstOrCreate(&s).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			err = tx.Where("slug = ?", ref.Slug).First(&s).Error
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func upsertTags(tx *gorm.DB, refs []catalog.Ref) ([]Tag, error) {
	out := make([]Tag, 0, len(refs))
	for _, ref := range refs {
		if ref.Slug == "" {
			continue
		}
		var t Tag
		err := tx.Where(Tag{Slug: ref.Slug}).Attrs(Tag{ExternalID: ref.ID, Name: ref.Name}).FirstOrCreate(&t).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			err = tx.Where("slug = ?", ref.Slug).First(&t).Error
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Filter is the query surface for GET /api/games.
type Filter struct {
	Genre     string
	Platform  string
	Year      int
	Search    string
	SortBy    string // name|released|rating|metacritic
	SortOrder string // asc|desc
	Page      int
	PageSize  int
}

var sortColumns = map[string]string{
	"name":       "games.name",
	"released":   "games.released",
	"rating":     "games.rating",
	"metacritic": "games.metacritic",
}

// List applies filters, sorting and pagination and returns the page plus
// the total row count for that filter.
func (r *Repo) List(ctx context.Context, f Filter) ([]*Game, int64, error) {
	q := r.db.WithContext(ctx).Model(&Game{})
	if f.Genre != "" {
		q = q.Joins("JOIN game_genres ON game_genres.game_id = games.id").
			Joins("JOIN genres ON genres.id = game_genres.genre_id").
			Where("genres.slug = ?", f.Genre)
	}
	if f.Platform != "" {
		q = q.Joins("JOIN game_platforms ON game_platforms.game_id = games.id").
			Joins("JOIN platforms ON platforms.id = game_platforms.platform_id").
			Where("platforms.slug = ?", f.Platform)
	}
	if f.Year > 0 {
		q = q.Where("games.release_year = ?", f.Year)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		q = q.Where("games.name LIKE ?", "%"+s+"%")
	}
	var total int64
	if err := q.Distinct("games.id").Count(&total).Error; err != nil {
		return nil, 0, err
	}
	col, ok := sortColumns[f.SortBy]
	if !ok {
		col = "games.name"
	}
	dir := "ASC"
	if strings.EqualFold(f.SortOrder, "desc") {
		dir = "DESC"
	}
	if f.PageSize <= 0 {
		f.PageSize = 20
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	var arr []*Game
	err := q.Distinct("games.*").
		Order(fmt.Sprintf("%s %s", col, dir)).
		Limit(f.PageSize).Offset((f.Page - 1) * f.PageSize).
		Preload("Genres").Preload("Platforms").
		Find(&arr).Error
	if err != nil {
		return nil, 0, err
	}
	return arr, total, nil
}

func (r *Repo) ListGenres(ctx context.Context) ([]*Genre, error) {
	var arr []*Genre
	if err := r.db.WithContext(ctx).Order("name").Find(&arr).Error; err != nil {
		return nil, err
	}
	return arr, nil
}

func (r *Repo) ListPlatforms(ctx context.Context) ([]*Platform, error) {
	var arr []*Platform
	if err := r.db.WithContext(ctx).Order("name").Find(&arr).Error; err != nil {
		return nil, err
	}
	return arr, nil
}
