package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/jurisearch/config"
	"github.com/meghashyamc/jurisearch/db/kvdb"
	"github.com/meghashyamc/jurisearch/db/searchdb"
	"github.com/meghashyamc/jurisearch/logger"
	"github.com/meghashyamc/jurisearch/services/documents"
	"github.com/meghashyamc/jurisearch/services/extraction/setup"
	"github.com/meghashyamc/jurisearch/services/search"
	"github.com/meghashyamc/jurisearch/validation"
)

const shutdownTimeout = 10 * time.Second

type server struct {
	cfg        *config.Config
	router     *gin.Engine
	httpServer *http.Server
	kvdb       kvdb.DB
	searchdb   searchdb.DB
	documents  *documents.Service
	search     *search.Service
	validator  *validation.Validator
	logger     logger.Logger
}

// Run serves the HTTP API until ctx is cancelled or the process receives
// an interrupt, then shuts down gracefully.
func Run(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	s := &server{
		cfg:    cfg,
		logger: logger.New(cfg.GetLogLevel()),
	}
	if err := s.setupDependencies(ctx); err != nil {
		return err
	}
	s.setupRouter()

	errC := make(chan error, 1)
	s.setupHTTPServer(errC)

	return s.waitForShutdown(ctx, errC)
}

func (s *server) setupDependencies(ctx context.Context) error {
	var err error
	s.kvdb, err = kvdb.New(s.logger, s.cfg)
	if err != nil {
		s.logger.Error("error creating kvDB", "err", err.Error())
		return err
	}
	s.searchdb, err = searchdb.New(s.logger, s.cfg)
	if err != nil {
		s.logger.Error("error creating searchDB", "err", err.Error())
		s.kvdb.Close()
		return err
	}
	s.validator, err = validation.New(s.logger)
	if err != nil {
		s.logger.Error("error creating validator", "err", err.Error())
		s.closeStores()
		return err
	}

	pipeline := setup.NewPipeline(s.logger, s.cfg)
	s.documents = documents.New(ctx, s.logger, s.kvdb, pipeline, s.searchdb, documents.OptionsFromConfig(s.cfg))
	s.search = search.New(s.logger, s.documents.Store(), s.cfg.IncludePlaceholdersInSearch())

	return nil
}

func (s *server) setupRouter() {
	router := newRouter()

	router.Use(loggingMiddleware(s.logger))

	setupRoutes(router, s.logger, s.documents, s.search, s.validator, s.cfg.GetPageSize())

	s.router = router
}

func (s *server) setupHTTPServer(errC chan<- error) {

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%s", s.cfg.GetPort()),
		Handler: s.router.Handler(),
	}
	go func() {
		s.logger.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", "err", err.Error())
			errC <- err
		}
	}()
}

func (s *server) waitForShutdown(ctx context.Context, errC <-chan error) error {
	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errC:
	}

	s.logger.Info("starting to shut down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("error shutting down http server", "err", err.Error())
		serveErr = errors.Join(serveErr, err)
	}
	s.closeStores()

	if serveErr != nil {
		return serveErr
	}
	s.logger.Info("shut down http server successfully")
	return nil
}

func (s *server) closeStores() {
	if s.searchdb != nil {
		s.searchdb.Close()
	}
	if s.kvdb != nil {
		s.kvdb.Close()
	}
}
