// Package renderer is the local bridge between the agent and whatever draws
// the screen. A renderer connects over a websocket, is told what to show and
// reports back when playback ends or fails.
package renderer

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/marquee-signage/marquee/internal/mediacache"
	"github.com/marquee-signage/marquee/internal/models"
	"github.com/marquee-signage/marquee/internal/playback"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
)

// MediaSource serves cached media by key.
type MediaSource interface {
	Open(key string) (*os.File, models.CacheEntry, error)
}

type Options struct {
	Logger *zap.SugaredLogger
	Media  MediaSource
	// Status returns the JSON document served on /status.
	Status func() interface{}
	// OnEvent receives playback events reported by renderers.
	OnEvent        func(zone string, token uint64, event playback.Event)
	AllowedOrigins []string
}

// Bridge implements playback.Player by pushing shows to every connected
// renderer.
type Bridge struct {
	logger   *zap.SugaredLogger
	options  Options
	hub      *hub
	upgrader websocket.Upgrader
	router   *gin.Engine
}

var _ playback.Player = &Bridge{}

func New(o Options) *Bridge {
	b := &Bridge{
		logger:  o.Logger,
		options: o,
		hub:     newHub(o.Logger, o.OnEvent),
	}
	b.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     b.checkOrigin,
	}
	b.router = b.newRouter()
	return b
}

// SetOnEvent replaces the event handler. It must be called before renderers
// connect.
func (b *Bridge) SetOnEvent(fn func(zone string, token uint64, event playback.Event)) {
	b.hub.onEvent = fn
}

func (b *Bridge) Show(show playback.Show) {
	b.hub.show(show)
}

func (b *Bridge) Clear(zone string) {
	b.hub.clear(zone)
}

// SetScreen changes the screen state. Unchanged screens are not resent.
func (b *Bridge) SetScreen(screen Screen) {
	b.hub.setScreen(screen)
}

// Renderers returns the number of connected renderers.
func (b *Bridge) Renderers() int {
	return b.hub.count()
}

func (b *Bridge) Handler() http.Handler {
	return b.router
}

// Serve listens on addr until ctx is done.
func (b *Bridge) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           b.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	b.logger.Infof("Renderer bridge listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (b *Bridge) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || strings.HasSuffix(origin, "://"+r.Host) {
		return true
	}
	for _, allowed := range b.options.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (b *Bridge) newRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	loggerMiddleware := ginzap.GinzapWithConfig(b.logger.Desugar(), &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/metrics", "/status"},
	})
	r.Use(ginzap.RecoveryWithZap(b.logger.Desugar(), true))
	r.Use(loggerMiddleware)
	if len(b.options.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: b.options.AllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodHead},
			MaxAge:       12 * time.Hour,
		}))
	}
	newPrometheus().Use(r)

	r.GET("/", b.index)
	r.GET("/ws", b.serveWs)
	r.GET("/media/:key", b.media)
	r.HEAD("/media/:key", b.media)
	r.GET("/status", b.status)
	return r
}

func (b *Bridge) serveWs(c *gin.Context) {
	conn, err := b.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		b.logger.Debugf("Websocket upgrade failed: %v", err)
		return
	}
	cl := &client{
		id:     uuid.NewString(),
		conn:   conn,
		hub:    b.hub,
		logger: b.logger,
		send:   make(chan []byte, sendBuffer),
	}
	b.hub.register(cl)
	go cl.writePump()
	go cl.readPump()
}

func (b *Bridge) media(c *gin.Context) {
	if b.options.Media == nil {
		c.Status(http.StatusNotFound)
		return
	}
	f, entry, err := b.options.Media.Open(c.Param("key"))
	if err != nil {
		if !errors.Is(err, mediacache.ErrNotFound) {
			b.logger.Warnf("Failed to open cached media %s: %v", c.Param("key"), err)
		}
		c.JSON(http.StatusNotFound, models.BaseError{Error: "not cached"})
		return
	}
	defer func() { _ = f.Close() }()
	if entry.ContentType != "" {
		c.Header("Content-Type", entry.ContentType)
	}
	c.Header("Cache-Control", "no-cache")
	http.ServeContent(c.Writer, c.Request, entry.Key, entry.LastReferencedAt, f)
}

func (b *Bridge) status(c *gin.Context) {
	if b.options.Status == nil {
		c.JSON(http.StatusOK, gin.H{"renderers": b.hub.count()})
		return
	}
	c.JSON(http.StatusOK, b.options.Status())
}

func newPrometheus() *ginprometheus.Prometheus {
	p := ginprometheus.NewPrometheus("marquee_renderer")
	p.ReqCntURLLabelMappingFn = func(c *gin.Context) string {
		url := c.Request.URL.Path
		for _, p := range c.Params {
			if p.Key == "key" {
				url = strings.Replace(url, p.Value, ":key", 1)
				break
			}
		}
		return url
	}
	return p
}
