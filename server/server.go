// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

// Package server exposes workbook conversion and single link extraction
// over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/zumanm1/MAP-LINK-LONG-LANG/extract"
	"github.com/zumanm1/MAP-LINK-LONG-LANG/sheet"
	"github.com/zumanm1/MAP-LINK-LONG-LANG/store"
	"golang.org/x/time/rate"
)

// Config configures a Server.
type Config struct {
	Addr          string            `mapstructure:"addr"`
	UploadDir     string            `mapstructure:"upload-dir"`
	ProcessedDir  string            `mapstructure:"processed-dir"`
	MaxUploadSize int64             `mapstructure:"max-upload-size"`
	SessionTTL    time.Duration     `mapstructure:"session-ttl"`
	RateLimit     rate.Limit        `mapstructure:"-"`
	RateBurst     int               `mapstructure:"rate-burst"`
	DailyLimit    int               `mapstructure:"daily-limit"`
	UploadLimit   int               `mapstructure:"upload-per-minute"`
	ProcessLimit  int               `mapstructure:"process-per-minute"`
	Mode          extract.Mode      `mapstructure:"mode"`
	Retry         sheet.RetryPolicy `mapstructure:"retry"`
	Concurrency   int               `mapstructure:"concurrency"`
	ReportMethods bool              `mapstructure:"report-methods"`
	RequiredCols  []string          `mapstructure:"require-columns"`
}

// DefaultConfig returns the defaults: 16 MiB uploads and two hour sessions.
// Each client may make 200 requests a day and 50 an hour with bursts of 10.
// Uploads are further held to 10 a minute and process runs to 5 a minute.
func DefaultConfig() Config {
	return Config{
		Addr:          "localhost:5006",
		UploadDir:     "uploads",
		ProcessedDir:  "processed",
		MaxUploadSize: 16 << 20,
		SessionTTL:    2 * time.Hour,
		RateLimit:     rate.Every(time.Hour / 50),
		RateBurst:     10,
		DailyLimit:    200,
		UploadLimit:   10,
		ProcessLimit:  5,
		Mode:          extract.ModeSequential,
		Retry:         sheet.DefaultRetryPolicy(),
	}
}

// Server serves the HTTP API.
type Server struct {
	cfg       Config
	extractor sheet.Extractor
	sessions  SessionStore
	repo      store.Repository
	limiter   *ipLimiter
	daily     *ipLimiter
	uploads   *ipLimiter
	processes *ipLimiter
	logger    *log.Logger
	now       func() time.Time
}

// New returns a server. repo may be nil, in which case results are not
// recorded.
func New(cfg Config, e sheet.Extractor, repo store.Repository, logger *log.Logger) (*Server, error) {
	if logger == nil {
		logger = log.Default()
	}

	for _, dir := range []string{cfg.UploadDir, cfg.ProcessedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	return &Server{
		cfg:       cfg,
		extractor: e,
		sessions:  NewMemorySessions(),
		repo:      repo,
		limiter:   newIPLimiter(cfg.RateLimit, cfg.RateBurst),
		daily:     perPeriod(cfg.DailyLimit, 24*time.Hour),
		uploads:   perPeriod(cfg.UploadLimit, time.Minute),
		processes: perPeriod(cfg.ProcessLimit, time.Minute),
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Handler returns the gin engine with every route registered.
func (s *Server) Handler() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.cleanupAfter)

	r.GET("/health", s.health)

	api := r.Group("/", s.limitWith(s.daily), s.limitWith(s.limiter))
	api.POST("/upload", s.limitWith(s.uploads), s.upload)
	api.POST("/process/:session_id", s.limitWith(s.processes), s.process)
	api.GET("/download/:session_id", s.download)
	api.POST("/api/extract", s.extract)

	return r
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)

	go func() {
		s.logger.Info("listening", "addr", s.cfg.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// secureFilename reduces name to a plain file name.
func secureFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = unsafeFilenameChars.ReplaceAllString(name, "_")

	return strings.TrimLeft(name, "._")
}

func (s *Server) upload(ctx *gin.Context) {
	if ctx.Request.ContentLength > s.cfg.MaxUploadSize {
		ctx.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("file too large, limit is %d bytes", s.cfg.MaxUploadSize)})

		return
	}

	ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, s.cfg.MaxUploadSize)

	file, err := ctx.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			ctx.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})

			return
		}

		ctx.JSON(http.StatusBadRequest, gin.H{"error": "no file provided"})

		return
	}

	name := secureFilename(file.Filename)
	if name == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "no file selected"})

		return
	}

	if !strings.EqualFold(filepath.Ext(name), ".xlsx") {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid file type, only .xlsx files are accepted"})

		return
	}

	sess := &Session{
		ID:        uuid.NewString(),
		Filename:  name,
		CreatedAt: s.now(),
		status:    StatusUploaded,
	}
	sess.UploadPath = filepath.Join(s.cfg.UploadDir, sess.ID+"_"+name)

	if err := ctx.SaveUploadedFile(file, sess.UploadPath); err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store upload"})

		return
	}

	book, err := sheet.Open(sess.UploadPath)
	if err != nil {
		os.Remove(sess.UploadPath)
		ctx.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("error reading file: %v", err)})

		return
	}
	defer book.Close()

	cols, err := sheet.FindColumns(book.Header())
	if err == nil {
		err = sheet.RequireColumns(book.Header(), s.cfg.RequiredCols)
	}

	if err != nil {
		os.Remove(sess.UploadPath)
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	sess.MapColumn = book.Header()[cols.Map]
	sess.TotalRows = book.NumRows()
	s.sessions.Put(sess)

	s.logger.Info("upload", "session", sess.ID, "file", name, "rows", sess.TotalRows)

	ctx.JSON(http.StatusOK, gin.H{
		"success":    true,
		"session_id": sess.ID,
		"filename":   name,
		"columns":    book.Header(),
		"preview":    book.Preview(10),
		"total_rows": sess.TotalRows,
		"map_column": sess.MapColumn,
	})
}

func (s *Server) process(ctx *gin.Context) {
	sess, ok := s.sessions.Get(ctx.Param("session_id"))
	if !ok {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired session"})

		return
	}

	mode, err := extract.ParseMode(ctx.DefaultQuery("mode", string(s.cfg.Mode)))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	if !sess.processing.TryLock() {
		ctx.JSON(http.StatusConflict, gin.H{"error": "session is already being processed"})

		return
	}
	defer sess.processing.Unlock()

	sess.setStatus(StatusProcessing)

	summary, processedPath, err := s.processSession(ctx.Request.Context(), sess, mode)
	if err != nil {
		sess.setStatus(StatusFailed)
		s.logger.Error("processing failed", "session", sess.ID, "err", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("processing failed: %v", err)})

		return
	}

	sess.complete(processedPath, summary)

	ctx.JSON(http.StatusOK, gin.H{
		"success":      true,
		"session_id":   sess.ID,
		"mode":         mode,
		"summary":      summary,
		"download_url": "/download/" + sess.ID,
	})
}

func (s *Server) processSession(ctx context.Context, sess *Session, mode extract.Mode) (*sheet.Summary, string, error) {
	book, err := sheet.Open(sess.UploadPath)
	if err != nil {
		return nil, "", err
	}
	defer book.Close()

	p := sheet.NewProcessor(s.extractor, sheet.Options{
		Mode:          mode,
		Retry:         s.cfg.Retry,
		Concurrency:   s.cfg.Concurrency,
		ReportMethods: s.cfg.ReportMethods,
		Required:      s.cfg.RequiredCols,
		Logger:        s.logger.With("session", sess.ID),
	})

	summary, err := p.Process(ctx, book)
	if err != nil {
		return nil, "", err
	}

	processedPath := filepath.Join(s.cfg.ProcessedDir, "processed_"+sess.ID+"_"+sess.Filename)
	if err := book.SaveAs(processedPath); err != nil {
		return nil, "", err
	}

	if _, err := book.SaveSplits(processedPath, summary); err != nil {
		return nil, "", err
	}

	if s.repo != nil {
		if err := s.repo.BulkInsert(store.FromRows(sess.Filename, summary.Rows)); err != nil {
			s.logger.Warn("recording results", "session", sess.ID, "err", err)
		}
	}

	return summary, processedPath, nil
}

// insideDir reports whether path resolves to a location under dir.
func insideDir(dir, path string) bool {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}

	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}

	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (s *Server) download(ctx *gin.Context) {
	sess, ok := s.sessions.Get(ctx.Param("session_id"))
	if !ok {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired session"})

		return
	}

	status, path := sess.Status()
	if status != StatusCompleted {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "file not processed yet"})

		return
	}

	if !insideDir(s.cfg.ProcessedDir, path) {
		ctx.JSON(http.StatusForbidden, gin.H{"error": "invalid file path"})

		return
	}

	if _, err := os.Stat(path); err != nil {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "processed file not found"})

		return
	}

	ctx.FileAttachment(path, "processed_"+sess.Filename)
}

type extractRequest struct {
	URL  string `json:"url"`
	Mode string `json:"mode"`
}

func (s *Server) extract(ctx *gin.Context) {
	var req extractRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})

		return
	}

	mode, err := extract.ParseMode(req.Mode)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	res := s.extractor.Run(ctx.Request.Context(), req.URL, mode)

	if s.repo != nil {
		if err := s.repo.SaveExtraction(store.FromResult("api", res)); err != nil {
			s.logger.Warn("recording extraction", "err", err)
		}
	}

	best, ok := res.Best()
	if !ok {
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{
			"success":  false,
			"error":    "could not extract coordinates from URL",
			"mode":     mode,
			"outcomes": res.Outcomes,
		})

		return
	}

	body := gin.H{
		"success":   true,
		"mode":      mode,
		"longitude": best.Point.Lng,
		"latitude":  best.Point.Lat,
		"method":    best.Method,
	}

	if mode == extract.ModeParallel {
		body["outcomes"] = res.Outcomes
		body["agreement"] = res.Agreement()
	}

	ctx.JSON(http.StatusOK, body)
}

// cleanupAfter expires old sessions once the request is served.
func (s *Server) cleanupAfter(ctx *gin.Context) {
	ctx.Next()

	deadline := s.now().Add(-s.cfg.SessionTTL)

	for _, sess := range s.sessions.Expire(deadline) {
		paths := []string{sess.UploadPath}

		if _, processed := sess.Status(); processed != "" {
			failed, skipped := sheet.SplitPaths(processed)
			paths = append(paths, processed, failed, skipped)
		}

		for _, path := range paths {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				s.logger.Warn("removing expired file", "path", path, "err", err)
			}
		}

		s.logger.Debug("session expired", "session", sess.ID)
	}

	for _, l := range []*ipLimiter{s.limiter, s.uploads, s.processes} {
		l.prune(deadline)
	}

	s.daily.prune(s.now().Add(-24 * time.Hour))
}
