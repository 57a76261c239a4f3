package roster

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/minus-twelve/roster/types"
	"github.com/sirupsen/logrus"
)

type RateLimiter struct {
	attempts map[string]int
	times    map[string]time.Time
	mutex    sync.RWMutex
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		attempts: make(map[string]int),
		times:    make(map[string]time.Time),
	}
}

func (rl *RateLimiter) Check(key string, limit int, period time.Duration) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := time.Now()
	if last, ok := rl.times[key]; ok && now.Sub(last) < period {
		if rl.attempts[key] >= limit {
			return false
		}
		rl.attempts[key]++
	} else {
		rl.attempts[key] = 1
		rl.times[key] = now
	}
	return true
}

func (rl *RateLimiter) cleanup(maxAge time.Duration) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	now := time.Now()
	for key, last := range rl.times {
		if now.Sub(last) > maxAge {
			delete(rl.attempts, key)
			delete(rl.times, key)
		}
	}
}

// Server exposes a Directory over the same REST shape as the remote
// employee/project API so the dashboard can run without a backend.
type Server struct {
	dir         *Directory
	config      types.ServerConfig
	exportCur   types.Currency
	log         logrus.FieldLogger
	rateLimiter *RateLimiter
	engine      *gin.Engine
}

func NewServer(dir *Directory, cfg types.Config, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.Server.RatePer <= 0 {
		cfg.Server.RatePer = time.Minute
	}
	s := &Server{
		dir:         dir,
		config:      cfg.Server,
		exportCur:   cfg.Export.Currency,
		log:         log,
		rateLimiter: NewRateLimiter(),
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.logMiddleware())
	if cfg.Server.RateLimit > 0 {
		engine.Use(s.RateLimitMiddleware())
	}

	api := engine.Group("/api")
	s.routes(api.Group("/employees"), types.KindEmployee)
	s.routes(api.Group("/projects"), types.KindProject)
	s.engine = engine
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.rateLimiter.cleanup(5 * time.Minute)
			case <-done:
				return
			}
		}
	}()
	defer func() {
		close(done)
		wg.Wait()
	}()

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.config.Addr).Info("offline API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) RateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := clientIP(c.Request)
		if !s.rateLimiter.Check(ip, s.config.RateLimit, s.config.RatePer) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"message": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (s *Server) logMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		}).Debug("request")
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) routes(g *gin.RouterGroup, kind types.RecordKind) {
	g.GET("", s.list(kind))
	g.POST("", s.create(kind))
	g.GET("/stats", s.stats(kind))
	g.GET("/export.csv", s.exportCSV(kind))
	g.GET("/:id", s.get(kind))
	g.PUT("/:id", s.update(kind))
	g.DELETE("/:id", s.remove(kind))
}

func (s *Server) list(kind types.RecordKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var params types.ListParams
		if err := c.ShouldBindQuery(&params); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
		params.Kind = kind

		items, page, err := s.dir.List(c.Request.Context(), params)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": items, "pagination": page})
	}
}

func (s *Server) get(kind types.RecordKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		rec, err := s.dir.GetKind(c.Request.Context(), kind, id)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": rec})
	}
}

func (s *Server) create(kind types.RecordKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var rec types.Record
		if err := c.ShouldBindJSON(&rec); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
		rec.Kind = kind

		created, err := s.dir.Add(c.Request.Context(), rec)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"data": created, "message": "Added " + created.Name})
	}
}

func (s *Server) update(kind types.RecordKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		var rec types.Record
		if err := c.ShouldBindJSON(&rec); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
		rec.ID = id

		updated, err := s.dir.UpdateKind(c.Request.Context(), kind, rec)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": updated, "message": "Updated " + updated.Name})
	}
}

func (s *Server) remove(kind types.RecordKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		if err := s.dir.RemoveKind(c.Request.Context(), kind, id); err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "deleted"})
	}
}

func (s *Server) stats(kind types.RecordKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := s.dir.Stats(c.Request.Context(), kind)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": stats})
	}
}

func (s *Server) exportCSV(kind types.RecordKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		currency := types.Currency(strings.ToUpper(c.DefaultQuery("currency", string(s.exportCur))))
		if currency == "" {
			currency = types.USD
		}
		all, err := s.dir.GetAll(c.Request.Context())
		if err != nil {
			s.fail(c, err)
			return
		}
		items := make([]types.Record, 0, len(all))
		for _, rec := range all {
			if rec.Kind == kind {
				items = append(items, rec)
			}
		}

		c.Header("Content-Type", "text/csv; charset=utf-8")
		c.Header("Content-Disposition", `attachment; filename="`+ExportFilename(time.Now())+`"`)
		c.Status(http.StatusOK)
		if err := ExportCSV(c.Writer, items, currency); err != nil {
			s.log.WithError(err).Error("csv export failed")
		}
	}
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid id"})
		return 0, false
	}
	return id, true
}

func (s *Server) fail(c *gin.Context, err error) {
	var verr *types.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"message": verr.Error(), "errors": verr.Fields})
	case errors.Is(err, types.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": err.Error()})
	case errors.Is(err, types.ErrDuplicateKey):
		c.JSON(http.StatusConflict, gin.H{"message": err.Error()})
	case errors.Is(err, types.ErrStorageUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": err.Error()})
	default:
		s.log.WithError(err).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
	}
}
