package feed

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sudorandom/pewpew/pkg/attackmap"
)

type ServerConfig struct {
	Listen       string
	StaticDir    string
	DailyPath    string
	BoundaryPath string
	Hub          *Hub
	Gatherer     prometheus.Gatherer
	Metrics      *Metrics
	Logger       *log.Logger
}

// Server serves the map: the live stream, the daily snapshot, the country
// boundaries and the static front end, plus health and metrics endpoints.
type Server struct {
	cfg    ServerConfig
	engine *gin.Engine
	http   *http.Server
	log    *log.Logger
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{cfg: cfg, log: cfg.Logger}
	engine := gin.New()
	engine.Use(gin.Recovery(), requestID(), s.requestLogger(), s.countRequests())

	engine.GET("/"+attackmap.StreamPath, func(c *gin.Context) {
		cfg.Hub.ServeWS(c.Writer, c.Request)
	})
	engine.GET("/"+attackmap.HistoryPath, s.daily)
	engine.GET("/"+attackmap.BoundaryPath, func(c *gin.Context) {
		c.File(cfg.BoundaryPath)
	})
	engine.GET("/healthz", s.health)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	if cfg.StaticDir != "" {
		files := http.FileServer(http.Dir(cfg.StaticDir))
		engine.NoRoute(func(c *gin.Context) {
			if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
				c.AbortWithStatus(http.StatusMethodNotAllowed)
				return
			}
			files.ServeHTTP(c.Writer, c.Request)
		})
	}

	s.engine = engine
	s.http = &http.Server{
		Addr:              cfg.Listen,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// daily serves the snapshot uncached; a missing file is an empty day.
func (s *Server) daily(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	if s.cfg.DailyPath == "" {
		c.Data(http.StatusOK, "application/x-ndjson", nil)
		return
	}
	if _, err := os.Stat(s.cfg.DailyPath); errors.Is(err, fs.ErrNotExist) {
		c.Data(http.StatusOK, "application/x-ndjson", nil)
		return
	}
	c.File(s.cfg.DailyPath)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"clients": s.cfg.Hub.Count(),
	})
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("requestID", id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		requestID, _ := c.Get("requestID")
		s.log.Printf("[http] %s %s %d %s request_id=%v", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start), requestID)
	}
}

func (s *Server) countRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "static"
		}
		s.cfg.Metrics.Requests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Printf("[http] Listening on %s", s.cfg.Listen)
		errCh <- s.http.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	s.cfg.Hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
