// Command tabbrokerd runs the tabbroker control-plane broker: it mounts
// the three WebSocket peer endpoints, the terminal REST surface, and
// starts the supporting task-board file watcher.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tabbroker/tabbroker/internal/agentsup"
	"github.com/tabbroker/tabbroker/internal/api"
	"github.com/tabbroker/tabbroker/internal/config"
	"github.com/tabbroker/tabbroker/internal/hub"
	"github.com/tabbroker/tabbroker/internal/logging"
	"github.com/tabbroker/tabbroker/internal/router"
	"github.com/tabbroker/tabbroker/internal/taskboard"
	"github.com/tabbroker/tabbroker/internal/transcript"
)

func main() {
	if err := run(); err != nil {
		logging.Default().Fatal("tabbrokerd exited", zap.Error(err))
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer log.Sync()

	h := hub.New(log, cfg.Hub.ReplayBufferCap)
	rtr := router.New(h, log, cfg.Hub.PendingDefaultTimeout())
	store := transcript.NewStore()
	sup := agentsup.New(cfg.Agent.DefaultBinary, cfg.Agent.ToolWhitelist, cfg.Agent.NamePool, log, store)

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolving working directory: %w", err)
	}
	boardDir := filepath.Join(wd, cfg.TaskBoard.DirName)
	boardPath, err := taskboard.Locate(boardDir)
	if err != nil {
		return fmt.Errorf("locating task board: %w", err)
	}

	watcher, err := taskboard.NewWatcher(boardPath, log, func(summary string) {
		h.Status.UpdateStatus("tasks", summary)
	})
	if err != nil {
		log.Warn("task board watcher unavailable", zap.Error(err))
	} else {
		defer watcher.Close()
	}

	srv := api.New(h, rtr, sup, h.Status, store, cfg, log, boardPath)

	srv.Engine.GET("/ws/pages", gin.WrapF(h.ServePages))
	srv.Engine.GET("/ws/agents", gin.WrapF(h.ServeAgents))
	srv.Engine.GET("/ws/terminals", gin.WrapF(h.ServeTerminals))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Engine,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("tabbrokerd listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("serving: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
