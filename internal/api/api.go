// Package api exposes the query engine over HTTP. Every endpoint is
// stateless: each request resolves its own window, loads the matching
// hourly files and aggregates from scratch. Identical concurrent loads
// are collapsed through singleflight so a burst of dashboard refreshes
// reads each file set once.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/hfried/meshlog/internal/adhoc"
	"github.com/hfried/meshlog/internal/aggregate"
	"github.com/hfried/meshlog/internal/config"
	"github.com/hfried/meshlog/internal/export"
	"github.com/hfried/meshlog/internal/logging"
	"github.com/hfried/meshlog/internal/logstore"
	"github.com/hfried/meshlog/internal/msgquery"
)

// Options configures the API server.
type Options struct {
	// Root is the event store root directory.
	Root string

	// DefaultLabel is reported to clients listing labels.
	DefaultLabel string

	// SQL enables the ad-hoc query endpoint.
	SQL *adhoc.Service

	Logger *slog.Logger
}

// Server holds the handler state shared across requests.
type Server struct {
	opts   Options
	loads  singleflight.Group
	logger *slog.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

// New builds a Server over the store root in opts.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Component("api")
	}
	return &Server{
		opts:   opts,
		logger: logger,
	}
}

// Router assembles the gin engine with all routes and middleware.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestID())
	r.Use(s.requestLog())

	r.GET("/healthz", s.handleHealth)
	r.GET("/api/labels", s.handleLabels)
	r.GET("/api/overview", s.handleOverview)
	r.GET("/api/node", s.handleNode)
	r.GET("/api/messages", s.handleMessages)
	r.GET("/api/export.parquet", s.handleExport)
	r.POST("/api/sql", s.handleSQL)
	return r
}

// requestID assigns every request a uuid, echoed in the X-Request-Id
// header and threaded through the request context for log correlation.
func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-Id", id)
		c.Request = c.Request.WithContext(logging.ContextWithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", c.Writer.Header().Get("X-Request-Id"))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleLabels(c *gin.Context) {
	labels := logstore.Labels(s.root(c))

	// The configured default only counts when it exists under this root;
	// otherwise fall back to the first listed label, else empty.
	def := ""
	for _, l := range labels {
		if l == s.opts.DefaultLabel {
			def = l
			break
		}
	}
	if def == "" && len(labels) > 0 {
		def = labels[0]
	}

	c.JSON(http.StatusOK, gin.H{
		"labels":  labels,
		"default": def,
	})
}

// root resolves the store root for a request. A root query parameter
// overrides the configured default; this is a local diagnostic surface,
// pointing it at another directory is part of the contract.
func (s *Server) root(c *gin.Context) string {
	if r := c.Query("root"); r != "" {
		return r
	}
	return s.opts.Root
}

func (s *Server) handleOverview(c *gin.Context) {
	label, win, ok := s.windowParams(c)
	if !ok {
		return
	}
	b, err := s.load(s.root(c), label, win)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: fmt.Sprintf("load window: %v", err)})
		return
	}
	enc, apps := filterParams(c)
	c.JSON(http.StatusOK, aggregate.BuildOverview(b, enc, apps))
}

func (s *Server) handleNode(c *gin.Context) {
	label, win, ok := s.windowParams(c)
	if !ok {
		return
	}
	nodeID := c.Query("node_id")
	if nodeID == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "node_id parameter required"})
		return
	}
	b, err := s.load(s.root(c), label, win)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: fmt.Sprintf("load window: %v", err)})
		return
	}
	enc, apps := filterParams(c)
	c.JSON(http.StatusOK, aggregate.BuildNodeDetail(b, nodeID, enc, apps))
}

func (s *Server) handleMessages(c *gin.Context) {
	label, win, ok := s.windowParams(c)
	if !ok {
		return
	}
	b, err := s.load(s.root(c), label, win)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: fmt.Sprintf("load window: %v", err)})
		return
	}
	enc, apps := filterParams(c)
	opts := msgquery.Options{
		IncludeEncrypted: enc,
		Apps:             apps,
		FromID:           c.Query("from"),
		ToID:             c.Query("to"),
		DMOnly:           c.Query("dm") == "1",
		TextContains:     c.Query("q"),
		Limit:            intParam(c, "limit", msgquery.DefaultLimit),
	}
	// An explicit caller identity wins over the one derived from snapshots.
	opts.MyNodeID = c.Query("my")
	if opts.MyNodeID == "" {
		opts.MyNodeID = b.MyNodeID
	}
	c.JSON(http.StatusOK, msgquery.Build(b, opts))
}

func (s *Server) handleExport(c *gin.Context) {
	label, win, ok := s.windowParams(c)
	if !ok {
		return
	}
	b, err := s.load(s.root(c), label, win)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: fmt.Sprintf("load window: %v", err)})
		return
	}
	enc, apps := filterParams(c)
	msgs := aggregate.Filter(b.Messages, enc, apps)

	c.Header("Content-Type", "application/octet-stream")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", label+".parquet"))
	if err := export.WriteMessages(c.Writer, msgs); err != nil {
		logging.WithContext(c.Request.Context()).Error("write parquet export", "error", err, "label", label)
	}
}

type sqlRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleSQL(c *gin.Context) {
	if s.opts.SQL == nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: "sql endpoint disabled"})
		return
	}
	label := c.Query("label")
	if label == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "label parameter required"})
		return
	}
	var req sqlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "query required"})
		return
	}
	res, err := s.opts.SQL.QueryLabel(c.Request.Context(), s.root(c), label, req.Query)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

// windowParams resolves the label and window selection common to every
// read endpoint. On a client error it writes the 400 itself and returns
// ok=false.
func (s *Server) windowParams(c *gin.Context) (string, logstore.Window, bool) {
	label := c.Query("label")
	if label == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "label parameter required"})
		return "", logstore.Window{}, false
	}
	c.Request = c.Request.WithContext(logging.ContextWithLabel(c.Request.Context(), label))

	mode := c.DefaultQuery("mode", string(logstore.WindowHours))
	switch logstore.WindowMode(mode) {
	case logstore.WindowHours:
		return label, logstore.Window{
			Mode:  logstore.WindowHours,
			Hours: intParam(c, "hours", 1),
		}, true
	case logstore.WindowLastFile:
		return label, logstore.Window{Mode: logstore.WindowLastFile}, true
	default:
		c.JSON(http.StatusBadRequest, errorResponse{Error: "mode must be hours or lastfile"})
		return "", logstore.Window{}, false
	}
}

// filterParams reads the shared encryption and app filters. Encrypted
// traffic is included unless enc=0.
func filterParams(c *gin.Context) (bool, []string) {
	enc := c.DefaultQuery("enc", "1") == "1"
	var apps []string
	if raw := c.Query("apps"); raw != "" {
		for _, a := range strings.Split(raw, ",") {
			if a = strings.TrimSpace(a); a != "" {
				apps = append(apps, a)
			}
		}
	}
	return enc, apps
}

func intParam(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// load collapses identical concurrent window loads into one read. The
// key covers everything that shapes the file set; results are not
// cached beyond the in-flight call, so the contract stays stateless.
func (s *Server) load(root, label string, win logstore.Window) (*logstore.Bundle, error) {
	key := fmt.Sprintf("%s|%s|%s|%d", root, label, win.Mode, win.Hours)
	v, err, _ := s.loads.Do(key, func() (any, error) {
		store := &logstore.Store{Root: root, Logger: s.logger}
		return store.Load(label, win)
	})
	if err != nil {
		return nil, err
	}
	b, ok := v.(*logstore.Bundle)
	if !ok {
		return nil, errors.New("unexpected load result")
	}
	return b, nil
}

// FromConfig builds server options from the daemon config.
func FromConfig(cfg *config.Config, sql *adhoc.Service) Options {
	return Options{
		Root:         cfg.LogRoot,
		DefaultLabel: cfg.Query.DefaultLabel,
		SQL:          sql,
	}
}
