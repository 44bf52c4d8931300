package httpserver

import (
	"errors"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"github.com/gameinsight/gameinsight/internal/queue"
	"github.com/gameinsight/gameinsight/internal/scheduler"
)

func (s *Server) registerTaskRoutes(r *gin.Engine) {
	api := r.Group("/api/tasks")

	api.GET("", s.listTasks)
	api.POST("", s.createTask)
	api.GET("/functions/available", s.listFunctions)
	api.GET("/queue/jobs", s.queueJobs)
	api.POST("/queue/jobs/:id/revoke", s.revokeTask)
	api.GET("/queue/ping", s.pingWorkers)
	api.POST("/queue/broadcast", s.broadcast)
	api.GET("/results/:id", s.taskResult)
	api.GET("/:id", s.getTask)
	api.PUT("/:id", s.modifyTask)
	api.DELETE("/:id", s.removeTask)
	api.POST("/:id/pause", s.pauseTask)
	api.POST("/:id/resume", s.resumeTask)
	api.POST("/:id/execute", s.executeTask)
}

func (s *Server) listTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"results": s.sched.List()})
}

func (s *Server) createTask(c *gin.Context) {
	var cfg scheduler.TaskConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		s.respondError(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := s.sched.Add(cfg); err != nil {
		s.respondError(c, http.StatusBadRequest, "invalid_config", err.Error())
		return
	}
	v, err := s.sched.Get(cfg.ID)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	c.JSON(http.StatusCreated, v)
}

func (s *Server) getTask(c *gin.Context) {
	v, err := s.sched.Get(c.Param("id"))
	if errors.Is(err, scheduler.ErrNotFound) {
		s.respondError(c, http.StatusNotFound, "not_found", "task not found")
		return
	}
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	c.JSON(http.StatusOK, v)
}

// modifyTask merges the request body over the existing config and applies
// the result atomically: an invalid change leaves the old schedule intact.
func (s *Server) modifyTask(c *gin.Context) {
	id := c.Param("id")
	cfg, err := s.sched.Config(id)
	if errors.Is(err, scheduler.ErrNotFound) {
		s.respondError(c, http.StatusNotFound, "not_found", "task not found")
		return
	}
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if err := c.ShouldBindJSON(cfg); err != nil {
		s.respondError(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	cfg.ID = id
	if err := s.sched.Modify(id, *cfg); err != nil {
		if errors.Is(err, scheduler.ErrNotFound) {
			s.respondError(c, http.StatusNotFound, "not_found", "task not found")
			return
		}
		s.respondError(c, http.StatusBadRequest, "invalid_config", err.Error())
		return
	}
	v, err := s.sched.Get(id)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) removeTask(c *gin.Context) {
	if err := s.sched.Remove(c.Param("id")); err != nil {
		s.respondError(c, http.StatusNotFound, "not_found", "task not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) pauseTask(c *gin.Context) {
	if err := s.sched.Pause(c.Param("id")); err != nil {
		s.respondError(c, http.StatusNotFound, "not_found", "task not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

func (s *Server) resumeTask(c *gin.Context) {
	if err := s.sched.Resume(c.Param("id")); err != nil {
		s.respondError(c, http.StatusNotFound, "not_found", "task not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resumed"})
}

// executeTask submits the task's function to the queue immediately,
// independent of its schedule.
func (s *Server) executeTask(c *gin.Context) {
	taskID, err := s.sched.ExecuteNow(c, c.Param("id"))
	if errors.Is(err, scheduler.ErrNotFound) {
		s.respondError(c, http.StatusNotFound, "not_found", "task not found")
		return
	}
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": taskID, "state": queue.StatePending})
}

func (s *Server) listFunctions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"functions": s.sched.FunctionNames()})
}

func (s *Server) queueJobs(c *gin.Context) {
	jobs, err := s.qc.Jobs(c)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if jobs == nil {
		jobs = []queue.JobView{}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (s *Server) pingWorkers(c *gin.Context) {
	workers, err := s.qc.PingWorkers(c)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if workers == nil {
		workers = []queue.WorkerInfo{}
	}
	c.JSON(http.StatusOK, gin.H{"workers": workers})
}

func (s *Server) broadcast(c *gin.Context) {
	var req struct {
		Command string `json:"command" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, "bad_request", "command is required")
		return
	}
	n, err := s.qc.Broadcast(c, req.Command)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"receivers": n})
}

func (s *Server) taskResult(c *gin.Context) {
	st, err := s.qc.Status(c, c.Param("id"))
	if errors.Is(err, queue.ErrNotFound) {
		s.respondError(c, http.StatusNotFound, "not_found", "task result not found")
		return
	}
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) revokeTask(c *gin.Context) {
	err := s.qc.Revoke(c, c.Param("id"))
	if errors.Is(err, queue.ErrNotFound) {
		s.respondError(c, http.StatusNotFound, "not_found", "task not found")
		return
	}
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}
