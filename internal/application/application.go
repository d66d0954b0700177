package application

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/eugenenazirov/minimal-api/internal/api"
	"github.com/eugenenazirov/minimal-api/internal/config"
	"github.com/eugenenazirov/minimal-api/internal/logging"
)

// App encapsulates the application dependencies and HTTP server.
type App struct {
	handler *api.Handler
	router  http.Handler
	logger  *zap.Logger
	server  *http.Server
}

// New initializes the application from the provided configuration. Handlers
// obtain their loggers from loggers; logger receives server and access logs.
func New(cfg config.Config, loggers *logging.Factory, opts ...api.HandlerOption) (*App, error) {
	if loggers == nil {
		return nil, errors.New("logger factory is required")
	}
	logger := loggers.Base()

	handler := api.NewHandler(loggers, opts...)
	router := api.NewRouter(handler, logger,
		api.WithLogging(cfg.EnableRequestLogging),
		api.WithDocs(cfg.IsDevelopment()),
	)

	return &App{
		handler: handler,
		router:  router,
		logger:  logger,
		server:  NewServer(cfg, router),
	}, nil
}

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	addr := cfg.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// Start binds the listening socket and serves in a goroutine. A bind failure
// is returned before any request can be accepted.
func (a *App) Start() error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return err
	}
	return a.Serve(ln)
}

// Serve accepts connections on ln in a goroutine.
func (a *App) Serve(ln net.Listener) error {
	go func() {
		a.logger.Info("server listening", zap.String("addr", ln.Addr().String()))
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server error", zap.Error(err))
		}
	}()
	return nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.router
}

// Server returns the HTTP server instance for shutdown handling.
func (a *App) Server() *http.Server {
	return a.server
}
