package httpserver

import (
	"errors"
	"net/http"
	"strconv"

	gin "github.com/gin-gonic/gin"
	"gorm.io/gorm"

	games "github.com/gameinsight/gameinsight/internal/repo/gorm/games"
)

func (s *Server) registerGameRoutes(r *gin.Engine) {
	api := r.Group("/api")
	api.GET("/games", s.listGames)
	api.GET("/games/:slug", s.getGame)
	api.GET("/genres", s.listGenres)
	api.GET("/platforms", s.listPlatforms)

	stats := api.Group("/stats")
	stats.GET("/games-per-year", s.statsGamesPerYear)
	stats.GET("/avg-rating-by-genre", s.statsAvgRatingByGenre)
	stats.GET("/rating-distribution", s.statsRatingDistribution)
	stats.GET("/top-genres", s.statsTopGenres)
	stats.GET("/top-platforms", s.statsTopPlatforms)
}

func (s *Server) listGames(c *gin.Context) {
	f := games.Filter{
		Genre:     c.Query("genre"),
		Platform:  c.Query("platform"),
		Search:    c.Query("search"),
		SortBy:    c.DefaultQuery("sort_by", "name"),
		SortOrder: c.DefaultQuery("sort_order", "asc"),
	}
	if v := c.Query("year"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.respondError(c, http.StatusBadRequest, "bad_request", "year must be an integer")
			return
		}
		f.Year = n
	}
	f.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	f.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if f.PageSize > 100 {
		f.PageSize = 100
	}

	arr, total, err := s.games.List(c, f)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if arr == nil {
		arr = []*games.Game{}
	}
	c.JSON(http.StatusOK, gin.H{
		"count":     total,
		"page":      f.Page,
		"page_size": f.PageSize,
		"results":   arr,
	})
}

// getGame resolves by numeric id or slug.
func (s *Server) getGame(c *gin.Context) {
	key := c.Param("slug")
	var g *games.Game
	var err error
	if id, convErr := strconv.ParseUint(key, 10, 32); convErr == nil {
		g, err = s.games.Get(c, uint(id))
		if err != nil && errors.Is(err, gorm.ErrRecordNotFound) {
			g, err = nil, nil
		}
	} else {
		g, err = s.games.GetBySlug(c, key)
	}
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if g == nil {
		s.respondError(c, http.StatusNotFound, "not_found", "game not found")
		return
	}
	c.JSON(http.StatusOK, g)
}

func (s *Server) listGenres(c *gin.Context) {
	arr, err := s.games.ListGenres(c)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": arr})
}

func (s *Server) listPlatforms(c *gin.Context) {
	arr, err := s.games.ListPlatforms(c)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": arr})
}

func (s *Server) statsGamesPerYear(c *gin.Context) {
	arr, err := s.games.GamesPerYear(c)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": arr})
}

func (s *Server) statsAvgRatingByGenre(c *gin.Context) {
	arr, err := s.games.AvgRatingByGenre(c)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": arr})
}

func (s *Server) statsRatingDistribution(c *gin.Context) {
	arr, err := s.games.RatingDistribution(c)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": arr})
}

func (s *Server) statsTopGenres(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	arr, err := s.games.TopGenres(c, limit)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": arr})
}

func (s *Server) statsTopPlatforms(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	arr, err := s.games.TopPlatforms(c, limit)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": arr})
}
