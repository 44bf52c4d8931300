// Package httpserver is the REST surface: games catalog queries, stats,
// users and favorites, plus the task/schedule control API.
package httpserver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"

	"github.com/gameinsight/gameinsight/internal/queue"
	games "github.com/gameinsight/gameinsight/internal/repo/gorm/games"
	usersgorm "github.com/gameinsight/gameinsight/internal/repo/gorm/users"
	"github.com/gameinsight/gameinsight/internal/scheduler"
)

// QueueControl is the queue surface the task API needs; *queue.Client
// implements it, tests substitute a fake.
type QueueControl interface {
	Status(ctx context.Context, id string) (*queue.Status, error)
	Revoke(ctx context.Context, id string) error
	Jobs(ctx context.Context) ([]queue.JobView, error)
	PingWorkers(ctx context.Context) ([]queue.WorkerInfo, error)
	Broadcast(ctx context.Context, command string) (int64, error)
}

type Server struct {
	games   *games.Repo
	users   *usersgorm.Repo
	sched   *scheduler.Scheduler
	qc      QueueControl
	httpSrv *http.Server
}

func NewServer(gamesRepo *games.Repo, usersRepo *usersgorm.Repo, sched *scheduler.Scheduler, qc QueueControl) *Server {
	return &Server{games: gamesRepo, users: usersRepo, sched: sched, qc: qc}
}

func (s *Server) ginEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.ginReqID(), s.ginCORS(), s.ginLogger())

	r.GET("/health", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })
	r.GET("/healthz", func(c *gin.Context) { c.String(200, "ok") })

	s.registerGameRoutes(r)
	s.registerUserRoutes(r)
	s.registerTaskRoutes(r)
	return r
}

func (s *Server) ginCORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		w := c.Writer
		req := c.Request
		// Read config from env; safe defaults for dev
		allowOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOW_ORIGINS"))
		allowHeaders := strings.TrimSpace(os.Getenv("CORS_ALLOW_HEADERS"))
		allowMethods := strings.TrimSpace(os.Getenv("CORS_ALLOW_METHODS"))
		if allowHeaders == "" {
			allowHeaders = "Content-Type, Authorization"
		}
		if allowMethods == "" {
			allowMethods = "GET, POST, PUT, DELETE, OPTIONS"
		}
		originHdr := req.Header.Get("Origin")
		if allowOrigins == "" || allowOrigins == "*" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			allowed := map[string]struct{}{}
			for _, o := range strings.Split(allowOrigins, ",") {
				if o = strings.TrimSpace(o); o != "" {
					allowed[o] = struct{}{}
				}
			}
			if _, ok := allowed[originHdr]; ok && originHdr != "" {
				w.Header().Set("Access-Control-Allow-Origin", originHdr)
				w.Header().Add("Vary", "Origin")
			}
		}
		w.Header().Set("Access-Control-Allow-Headers", allowHeaders)
		w.Header().Set("Access-Control-Allow-Methods", allowMethods)
		if req.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		c.Next()
	}
}

// ginReqID injects/propagates an X-Request-ID for traceability.
func (s *Server) ginReqID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.Request.Header.Get("X-Request-ID")
		if strings.TrimSpace(rid) == "" {
			b := make([]byte, 16)
			if _, err := rand.Read(b); err == nil {
				rid = hex.EncodeToString(b)
			} else {
				rid = fmt.Sprintf("%d", time.Now().UnixNano())
			}
		}
		c.Set("reqid", rid)
		c.Writer.Header().Set("X-Request-ID", rid)
		c.Next()
	}
}

func (s *Server) ginLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		dur := time.Since(start)
		lvl := slog.LevelInfo
		st := c.Writer.Status()
		if st >= 500 {
			lvl = slog.LevelError
		} else if st >= 400 {
			lvl = slog.LevelWarn
		}
		rid, _ := c.Get("reqid")
		slog.Log(c, lvl, "http",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", st,
			"bytes", c.Writer.Size(),
			"remote", c.ClientIP(),
			"reqid", rid,
			"dur_ms", dur.Milliseconds(),
		)
	}
}

// respondError sends the unified JSON error body.
func (s *Server) respondError(c *gin.Context, status int, code, message string) {
	type errBody struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	}
	rid, _ := c.Get("reqid")
	c.JSON(status, errBody{Code: code, Message: message, RequestID: fmt.Sprint(rid)})
}

func (s *Server) ListenAndServe(addr string) error {
	log.Printf("http api listening on %s", addr)
	s.httpSrv = &http.Server{Addr: addr, Handler: s.ginEngine()}
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}
