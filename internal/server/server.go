package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/r2browser/r2browser/internal/cache"
	"github.com/r2browser/r2browser/internal/cloud"
	"github.com/r2browser/r2browser/internal/constants"
	"github.com/r2browser/r2browser/internal/logging"
	"github.com/r2browser/r2browser/internal/metrics"
	"github.com/r2browser/r2browser/internal/transfer"
	"github.com/r2browser/r2browser/internal/version"
)

// Server is the loopback HTTP broker.
type Server struct {
	cfg       Config
	store     cloud.ObjectStore
	cache     *cache.FolderCache
	engine    *transfer.Engine
	log       *logging.Logger
	accountID string

	httpServer   *http.Server
	startTime    time.Time
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// New assembles a broker over the given provider client, listing cache
// and transfer engine. accountID namespaces cache keys so a credential
// switch cannot serve another account's listings.
func New(cfg Config, store cloud.ObjectStore, folderCache *cache.FolderCache, engine *transfer.Engine, accountID string, log *logging.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		store:      store,
		cache:      folderCache,
		engine:     engine,
		log:        log,
		accountID:  accountID,
		shutdownCh: make(chan struct{}),
	}
	metrics.RegisterFolderCache(folderCache)
	engine.OnTerminal(s.onTransferTerminal)
	return s
}

// Run binds 127.0.0.1:<port>, announces the chosen port on stdout for
// the supervisor, and serves until ctx is cancelled or POST /shutdown
// arrives. In-flight requests get ShutdownGrace to drain.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}

	port := listener.Addr().(*net.TCPAddr).Port
	s.startTime = time.Now()
	s.httpServer = &http.Server{
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// The supervisor handshake. stdout carries exactly this line; all
	// logging goes to stderr.
	fmt.Printf("LISTENING PORT=%d\n", port)
	s.log.Info().Int("port", port).Str("version", version.Version).Msg("broker listening")

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	case <-s.shutdownCh:
	}

	s.log.Info().Msg("broker shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownGrace)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.httpServer.Close()
	}

	// Whatever is still moving gets cancelled rather than abandoned.
	engineCtx, cancelEngine := context.WithTimeout(context.Background(), constants.ShutdownGrace)
	defer cancelEngine()
	s.engine.Shutdown(engineCtx)

	return nil
}
