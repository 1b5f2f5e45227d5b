// Package server exposes the model store and job runner over HTTP.
package server

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gonum.org/v1/gonum/mat"

	"github.com/revit3d/WebEnsemble/pkg/errors"
	"github.com/revit3d/WebEnsemble/pkg/log"
	"github.com/revit3d/WebEnsemble/service/storage"
	"github.com/revit3d/WebEnsemble/service/tasks"
)

// ServiceName is reported to the tracing middleware.
const ServiceName = "webensemble"

// Store is the record persistence the handlers use.
type Store interface {
	Create(ctx context.Context, rec *storage.Record) error
	Get(ctx context.Context, id string) (*storage.Record, error)
	Update(ctx context.Context, id string, fn func(*storage.Record) error) (*storage.Record, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]storage.Record, error)
}

// Runner executes fits and predictions.
type Runner interface {
	Submit(ctx context.Context, id string, notify tasks.Notifier) error
	Predict(ctx context.Context, id string, data io.Reader) (*mat.VecDense, error)
}

// Options configure a Server.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// DataDir receives uploaded datasets, one directory per model.
	DataDir string
	// MaxUploadBytes bounds the in-memory part of a multipart upload.
	MaxUploadBytes int64
	// Registry collects the HTTP metrics and is served on /metrics. Nil means a fresh registry.
	Registry *prometheus.Registry
	Logger   log.Logger
}

// Server is the HTTP front end.
type Server struct {
	opts    Options
	store   Store
	runner  Runner
	logger  log.Logger
	metrics *httpMetrics
	router  *gin.Engine
}

// New builds the router.
func New(opts Options, store Store, runner Runner) *Server {
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 32 << 20
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.GetLoggerWithName("server")
	}
	s := &Server{
		opts:    opts,
		store:   store,
		runner:  runner,
		logger:  logger,
		metrics: newHTTPMetrics(opts.Registry),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = s.opts.MaxUploadBytes
	r.Use(gin.Recovery(), otelgin.Middleware(ServiceName), s.observe())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Registry, promhttp.HandlerOpts{})))

	r.GET("/models", s.listModels)
	r.POST("/model/random_forest", s.createModel)
	r.POST("/model/gradient_boosting", s.createModel)
	r.GET("/model/fit", s.fitChannel)
	r.PUT("/model/fit/:id", s.uploadDatasets)
	r.POST("/model/predict/:id", s.predict)
	r.GET("/model/predict/:id", s.predict)
	r.GET("/model/:id", s.getModel)
	r.GET("/model/:id/loss", s.lossPlot)
	r.DELETE("/model/:id", s.deleteModel)
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "serve")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serve")
	}
	return nil
}
