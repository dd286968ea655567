// Package admin serves the authoring console: flow and block CRUD, start
// triggers and delivery modes, post-flow actions, broadcasts, subscriber
// analytics, and the XLSX export. The console is the only writer of
// authoring data; the bot process only reads it.
package admin

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/flowkeeper/flowkeeper/internal/store"
)

//go:embed templates/*.html
var templatesFS embed.FS

const (
	// DefaultAddr is the default console listen address.
	DefaultAddr = ":8080"
	// DefaultMediaDir is where uploaded media lands when no directory is
	// configured.
	DefaultMediaDir = "media"

	shutdownTimeout = 5 * time.Second
	uploadMemoryCap = 32 << 20
)

// Server is the authoring console HTTP server.
type Server struct {
	store    store.Store
	engine   *gin.Engine
	addr     string
	mediaDir string
}

// Option configures the console server.
type Option func(*Server)

// WithAddr sets the listen address, e.g. ":8080".
func WithAddr(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// WithMediaDir sets the directory uploads are written to and served from
// under /media.
func WithMediaDir(dir string) Option {
	return func(s *Server) {
		if dir != "" {
			s.mediaDir = dir
		}
	}
}

// NewServer builds the console router against the given store. The media
// directory is created if missing.
func NewServer(st store.Store, opts ...Option) (*Server, error) {
	s := &Server{
		store:    st,
		addr:     DefaultAddr,
		mediaDir: DefaultMediaDir,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(s.mediaDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}

	tmpl, err := template.New("console").Funcs(template.FuncMap{
		"utc": utcTimestamp,
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse console templates: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.MaxMultipartMemory = uploadMemoryCap
	engine.SetHTMLTemplate(tmpl)
	engine.Static("/media", s.mediaDir)
	s.registerRoutes(engine)
	s.engine = engine
	return s, nil
}

// Engine exposes the underlying router, mainly for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// registerRoutes lays out the console. Static segments live under the
// plural prefixes and parameters under the singular ones so the radix
// router never sees a static route next to a wildcard.
func (s *Server) registerRoutes(r *gin.Engine) {
	r.GET("/healthcheck", s.handleHealthCheck)
	r.GET("/", s.handleIndex)

	r.GET("/flows/new", func(c *gin.Context) { c.Redirect(http.StatusFound, "/") })
	r.POST("/flows/new", s.handleCreateFlow)
	r.GET("/flow/:flow", s.handleFlowPage)
	r.POST("/flow/:flow/delete", s.handleDeleteFlow)
	r.POST("/flow/:flow/up", s.handleMoveFlow("up"))
	r.POST("/flow/:flow/down", s.handleMoveFlow("down"))
	r.POST("/flow/:flow/trigger", s.handleSaveTrigger)
	r.POST("/flow/:flow/trigger/delete", s.handleDeleteTrigger)
	r.POST("/flow/:flow/action", s.handleCreateAction)
	r.POST("/action/:id/delete", s.handleDeleteAction)

	r.GET("/blocks/new", s.handleNewBlock)
	r.POST("/blocks/save", s.handleSaveBlock)
	r.GET("/block/:id/edit", s.handleEditBlock)
	r.POST("/block/:id/delete", s.handleDeleteBlock)
	r.POST("/block/:id/up", s.handleMoveBlock(-1))
	r.POST("/block/:id/down", s.handleMoveBlock(1))

	r.POST("/broadcast", s.handleBroadcast)
	r.GET("/export/users.xlsx", s.handleExportUsers)
}

func (s *Server) handleHealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Run seeds a fresh database, then serves until ctx is cancelled and the
// listener has drained.
func (s *Server) Run(ctx context.Context) error {
	if err := s.SeedIfEmpty(); err != nil {
		slog.Warn("Admin.Run: starter seed failed", "error", err)
	}

	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.engine,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Admin.Run: console listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("console server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("Admin.Run: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("console shutdown failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}
