package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ftwallet/internal/config"
	"ftwallet/internal/engine"
	"ftwallet/internal/failover"
	"ftwallet/internal/handlers"
	"ftwallet/internal/logging"
	"ftwallet/internal/orchestrator"
	"ftwallet/internal/replication"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Role)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Recovery must finish before any traffic; a corrupt ledger refuses to
	// start rather than guessing.
	eng, err := engine.New(cfg.StateDir, cfg.Role, logger)
	if err != nil {
		logger.Fatal("state dir inaccessible", zap.Error(err))
	}
	if err := eng.Recover(); err != nil {
		logger.Fatal("recovery failed", zap.Error(err))
	}

	rpcPort := cfg.PrimaryRPCPort
	if cfg.Role == config.RoleBackup {
		rpcPort = cfg.BackupRPCPort
	}
	rpcSrv := replication.NewServer(eng, logger)
	if err := rpcSrv.Listen(fmt.Sprintf(":%d", rpcPort)); err != nil {
		logger.Fatal("rpc bind failed", zap.Error(err))
	}
	go func() {
		if err := rpcSrv.Serve(); err != nil {
			logger.Fatal("rpc server failed", zap.Error(err))
		}
	}()

	if cfg.Role == config.RoleBackup {
		runBackup(logger, rpcSrv, eng)
		return
	}
	runPrimary(cfg, logger, rpcSrv, eng)
}

// runBackup just keeps the replication server alive; the backup's engine is
// driven exclusively over RPC and never sees HTTP traffic.
func runBackup(logger *zap.Logger, rpcSrv *replication.Server, eng *engine.Engine) {
	logger.Info("backup replica running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	if err := rpcSrv.Close(); err != nil {
		logger.Warn("rpc close failed", zap.Error(err))
	}
	if err := eng.Close(); err != nil {
		logger.Warn("engine close failed", zap.Error(err))
	}
	logger.Info("backup exited")
}

func runPrimary(cfg config.Config, logger *zap.Logger, rpcSrv *replication.Server, eng *engine.Engine) {
	client := replication.NewClient(cfg.BackupRPCAddr(), cfg.ReplicateTimeout(), cfg.PingTimeout(), logger)

	fm := failover.NewManager(client, cfg.HealthInterval(), logger)
	fm.Start()

	orch := orchestrator.New(eng, client, fm, logger)
	handler := handlers.NewWalletHandler(orch)

	router := gin.Default()
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: router,
	}

	go func() {
		logger.Info("http server starting", zap.Int("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()
	handler.SetReady()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown forced", zap.Error(err))
	}

	fm.Stop()
	if err := rpcSrv.Close(); err != nil {
		logger.Warn("rpc close failed", zap.Error(err))
	}
	if err := eng.Close(); err != nil {
		logger.Warn("engine close failed", zap.Error(err))
	}
	logger.Info("primary exited")
}
