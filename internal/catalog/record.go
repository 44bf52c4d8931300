package catalog

import "encoding/json"

// Ref is an attribute reference (genre, store, tag, platform) as the
// catalog returns it on a game listing.
type Ref struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// The catalog nests platforms and stores one level deeper than genres/tags.

type platformWrap struct {
	Platform Ref `json:"platform"`
}

type storeWrap struct {
	Store Ref `json:"store"`
}

type clip struct {
	Clip string `json:"clip"`
}

// Record is one game as returned by the catalog's /games listing.
type Record struct {
	ID              int64    `json:"id"`
	Slug            string   `json:"slug"`
	Name            string   `json:"name"`
	Released        string   `json:"released"` // YYYY-MM-DD, may be empty
	Rating          *float64 `json:"rating"`
	RatingsCount    int      `json:"ratings_count"`
	Metacritic      *int     `json:"metacritic"`
	Playtime        int      `json:"playtime"`
	BackgroundImage string   `json:"background_image"`

	// RawRatings keeps the per-score breakdown opaque; it is persisted
	// verbatim, never interpreted.
	RawRatings json.RawMessage `json:"ratings,omitempty"`

	RawClip      *clip          `json:"clip"`
	Genres       []Ref          `json:"genres"`
	Tags         []Ref          `json:"tags"`
	RawPlatforms []platformWrap `json:"platforms"`
	RawStores    []storeWrap    `json:"stores"`
}

// Platforms unwraps the nested platform refs.
func (r *Record) Platforms() []Ref {
	out := make([]Ref, 0, len(r.RawPlatforms))
	for _, w := range r.RawPlatforms {
		out = append(out, w.Platform)
	}
	return out
}

// Stores unwraps the nested store refs.
func (r *Record) Stores() []Ref {
	out := make([]Ref, 0, len(r.RawStores))
	for _, w := range r.RawStores {
		out = append(out, w.Store)
	}
	return out
}

// ClipURL returns the trailer clip URL when the catalog provided one.
func (r *Record) ClipURL() string {
	if r.RawClip == nil {
		return ""
	}
	return r.RawClip.Clip
}
