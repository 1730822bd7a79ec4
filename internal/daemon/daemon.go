// Package daemon exposes the HTTP API: job submission and inspection,
// artifact retrieval, and a websocket stream of per-job progress events.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"redub/internal/config"
	"redub/internal/fetch"
	"redub/internal/jobs"
	"redub/internal/logging"
	"redub/internal/progress"
	"redub/internal/segments"
	"redub/internal/services"
	"redub/internal/workflow"
)

// Server hosts the job API.
type Server struct {
	cfg     *config.Config
	store   *jobs.Store
	manager *workflow.Manager
	hub     *progress.Hub
	log     *slog.Logger
	engine  *gin.Engine

	launchCtx context.Context
}

// New assembles the HTTP server. launchCtx bounds the lifetime of jobs
// started through the API.
func New(launchCtx context.Context, cfg *config.Config, store *jobs.Store, manager *workflow.Manager, hub *progress.Hub, log *slog.Logger) *Server {
	if log == nil {
		log = logging.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		cfg:       cfg,
		store:     store,
		manager:   manager,
		hub:       hub,
		log:       log,
		engine:    engine,
		launchCtx: launchCtx,
	}
	s.routes()
	return s
}

// Handler returns the underlying HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves the API until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Paths.APIBind,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info("api listening", logging.String("bind", s.cfg.Paths.APIBind))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) routes() {
	api := s.engine.Group("/api")
	api.GET("/health", s.handleHealth)
	api.POST("/jobs", s.handleUpload)
	api.POST("/jobs/url", s.handleSubmitURL)
	api.GET("/jobs", s.handleList)
	api.GET("/jobs/:id", s.handleGet)
	api.DELETE("/jobs/:id", s.handleDelete)
	api.GET("/jobs/:id/audio/:track", s.handleAudio)
	api.GET("/jobs/:id/segments", s.handleSegments)
	api.GET("/jobs/:id/timeline", s.handleTimeline)

	s.engine.GET("/ws/:id", s.handleWebsocket)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleUpload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'file' required"})
		return
	}

	inputDir := s.cfg.InputDir()
	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		s.fail(c, err)
		return
	}
	inputPath := filepath.Join(inputDir, uuid.NewString()+filepath.Ext(file.Filename))
	if err := c.SaveUploadedFile(file, inputPath); err != nil {
		s.fail(c, err)
		return
	}

	job, err := s.createJob(file.Filename, inputPath, "")
	if err != nil {
		_ = os.Remove(inputPath)
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

type urlRequest struct {
	URL string `json:"url" binding:"required"`
}

func (s *Server) handleSubmitURL(c *gin.Context) {
	var req urlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "json field 'url' required"})
		return
	}
	if err := fetch.ValidateURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := s.createJob(filepath.Base(req.URL), "", req.URL)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

// createJob registers the job, fixes up its workdir-dependent paths, and
// hands it to the workflow manager.
func (s *Server) createJob(filename, inputPath, sourceURL string) (jobs.Job, error) {
	job, err := s.store.Create(filename, inputPath, "", sourceURL)
	if err != nil {
		return jobs.Job{}, err
	}
	workdir := s.cfg.WorkdirFor(job.ID)
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return jobs.Job{}, fmt.Errorf("create workdir: %w", err)
	}
	job, err = s.store.Update(job.ID, func(j *jobs.Job) {
		j.Workdir = workdir
		if j.SourceURL != "" {
			j.InputPath = filepath.Join(workdir, fetch.DownloadedFile)
		}
	})
	if err != nil {
		return jobs.Job{}, err
	}
	s.manager.Launch(s.launchCtx, job.ID)
	return job, nil
}

func (s *Server) handleList(c *gin.Context) {
	list, err := s.store.List()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": list})
}

func (s *Server) handleGet(c *gin.Context) {
	job, err := s.store.Get(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleDelete(c *gin.Context) {
	if err := s.store.Delete(c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id")})
}

// handleAudio serves either of the two tracks the player switches between:
// the dubbed render or the original recording.
func (s *Server) handleAudio(c *gin.Context) {
	switch c.Param("track") {
	case "dubbed":
		s.serveArtifact(c, segments.DubbedFile, "audio/wav")
	case "source":
		job, err := s.store.Get(c.Param("id"))
		if err != nil {
			s.fail(c, err)
			return
		}
		if job.InputPath == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "source audio not available"})
			return
		}
		if _, err := os.Stat(job.InputPath); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "source audio not available"})
			return
		}
		c.File(job.InputPath)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "track must be source or dubbed"})
	}
}

func (s *Server) handleSegments(c *gin.Context) {
	s.serveArtifact(c, segments.TranslationFile, "application/json")
}

func (s *Server) handleTimeline(c *gin.Context) {
	s.serveArtifact(c, segments.TimelineFile, "application/json")
}

func (s *Server) serveArtifact(c *gin.Context, name, contentType string) {
	job, err := s.store.Get(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	path := filepath.Join(job.Workdir, name)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("artifact %s not available", name)})
		return
	}
	c.Header("Content-Type", contentType)
	c.File(path)
}

// fail maps classified errors onto HTTP statuses.
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrValidation):
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": services.Details(err).Message})
}
