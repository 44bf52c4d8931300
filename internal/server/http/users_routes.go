package httpserver

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"
	"gorm.io/gorm"

	usersgorm "github.com/gameinsight/gameinsight/internal/repo/gorm/users"
)

func (s *Server) registerUserRoutes(r *gin.Engine) {
	api := r.Group("/api")
	api.POST("/users", s.createUser)
	api.POST("/auth/login", s.login)
	api.GET("/users/:id/favorites", s.listFavorites)
	api.POST("/users/:id/favorites/:game_id", s.addFavorite)
	api.DELETE("/users/:id/favorites/:game_id", s.removeFavorite)
}

type userView struct {
	ID        uint      `json:"id"`
	Email     string    `json:"email"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func viewOfUser(u *usersgorm.UserRecord) userView {
	return userView{ID: u.ID, Email: u.Email, Active: u.Active, CreatedAt: u.CreatedAt}
}

type credentials struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) createUser(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, "bad_request", "email and password are required")
		return
	}
	if !strings.Contains(req.Email, "@") {
		s.respondError(c, http.StatusBadRequest, "bad_request", "invalid email address")
		return
	}
	if len(req.Password) < 8 {
		s.respondError(c, http.StatusBadRequest, "bad_request", "password must be at least 8 characters")
		return
	}
	u, err := s.users.Create(c, req.Email, req.Password)
	if errors.Is(err, usersgorm.ErrEmailTaken) {
		s.respondError(c, http.StatusConflict, "email_taken", "email already registered")
		return
	}
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	c.JSON(http.StatusCreated, viewOfUser(u))
}

func (s *Server) login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, "bad_request", "email and password are required")
		return
	}
	u, err := s.users.Authenticate(c, req.Email, req.Password)
	if errors.Is(err, usersgorm.ErrInvalidCredentials) {
		s.respondError(c, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
		return
	}
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	c.JSON(http.StatusOK, viewOfUser(u))
}

func (s *Server) userIDParam(c *gin.Context) (uint, bool) {
	n, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		s.respondError(c, http.StatusBadRequest, "bad_request", "user id must be an integer")
		return 0, false
	}
	return uint(n), true
}

func (s *Server) listFavorites(c *gin.Context) {
	uid, ok := s.userIDParam(c)
	if !ok {
		return
	}
	arr, err := s.users.ListFavorites(c, uid)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.respondError(c, http.StatusNotFound, "not_found", "user not found")
		return
	}
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": arr})
}

func (s *Server) addFavorite(c *gin.Context) {
	uid, ok := s.userIDParam(c)
	if !ok {
		return
	}
	gid, err := strconv.ParseUint(c.Param("game_id"), 10, 32)
	if err != nil {
		s.respondError(c, http.StatusBadRequest, "bad_request", "game id must be an integer")
		return
	}
	err = s.users.AddFavorite(c, uid, uint(gid))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.respondError(c, http.StatusNotFound, "not_found", "user or game not found")
		return
	}
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) removeFavorite(c *gin.Context) {
	uid, ok := s.userIDParam(c)
	if !ok {
		return
	}
	gid, err := strconv.ParseUint(c.Param("game_id"), 10, 32)
	if err != nil {
		s.respondError(c, http.StatusBadRequest, "bad_request", "game id must be an integer")
		return
	}
	err = s.users.RemoveFavorite(c, uid, uint(gid))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.respondError(c, http.StatusNotFound, "not_found", "user or game not found")
		return
	}
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
