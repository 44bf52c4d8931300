package games

import (
	"time"

	"gorm.io/datatypes"
)

// Game is the DB model for a catalog game. Slug is the natural key used
// for ingestion idempotence; ExternalID is the catalog's numeric id.
type Game struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	ExternalID      int64          `gorm:"uniqueIndex;not null" json:"external_id"`
	Slug            string         `gorm:"uniqueIndex;size:255;not null" json:"slug"`
	Name            string         `gorm:"index;size:255" json:"name"`
	Released        *time.Time     `json:"released"`
	ReleaseYear     int            `gorm:"index" json:"release_year"`
	Rating          *float64       `json:"rating"`
	RatingsCount    int            `json:"ratings_count"`
	Metacritic      *int           `json:"metacritic"`
	Playtime        int            `json:"playtime"`
	BackgroundImage string         `gorm:"size:512" json:"background_image"`
	Clip            string         `gorm:"size:512" json:"clip,omitempty"`
	Ratings         datatypes.JSON `json:"ratings,omitempty"` // per-score breakdown as the catalog reports it
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`

	Genres    []Genre    `gorm:"many2many:game_genres" json:"genres,omitempty"`
	Platforms []Platform `gorm:"many2many:game_platforms" json:"platforms,omitempty"`
	Stores    []Store    `gorm:"many2many:game_stores" json:"stores,omitempty"`
	Tags      []Tag      `gorm:"many2many:game_tags" json:"tags,omitempty"`
}

// Attribute sets share the same shape: externally assigned id plus a
// unique slug. They are linked many-to-many and never duplicated.

type Genre struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	ExternalID int64  `gorm:"index" json:"external_id"`
	Name       string `gorm:"size:128" json:"name"`
	Slug       string `gorm:"uniqueIndex;size:128;not null" json:"slug"`
}

type Platform struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	ExternalID int64  `gorm:"index" json:"external_id"`
	Name       string `gorm:"size:128" json:"name"`
	Slug       string `gorm:"uniqueIndex;size:128;not null" json:"slug"`
}

type Store struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	ExternalID int64  `gorm:"index" json:"external_id"`
	Name       string `gorm:"size:128" json:"name"`
	Slug       string `gorm:"uniqueIndex;size:128;not null" json:"slug"`
}

type Tag struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	ExternalID int64  `gorm:"index" json:"external_id"`
	Name       string `gorm:"size:128" json:"name"`
	Slug       string `gorm:"uniqueIndex;size:128;not null" json:"slug"`
}

func (Game) TableName() string     { return "games" }
func (Genre) TableName() string    { return "genres" }
func (Platform) TableName() string { return "platforms" }
func (Store) TableName() string    { return "stores" }
func (Tag) TableName() string      { return "tags" }
