package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/plantrungnampl/realtime-board-sub000/internal/boardauth"
	"github.com/plantrungnampl/realtime-board-sub000/internal/config"
	"github.com/plantrungnampl/realtime-board-sub000/internal/logger"
	"github.com/plantrungnampl/realtime-board-sub000/internal/maintenance"
	"github.com/plantrungnampl/realtime-board-sub000/internal/projection"
	"github.com/plantrungnampl/realtime-board-sub000/internal/registry"
	"github.com/plantrungnampl/realtime-board-sub000/internal/server"
	"github.com/plantrungnampl/realtime-board-sub000/internal/store"
)

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the board engine (WebSocket rooms + REST element API)",
		RunE: func(cmd *cobra.Command, args []string) error {
			initial, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := logger.Init(initial.LogLevel, initial.LogFile); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			log := logger.Log

			watcher, err := config.NewWatcher(configPath, log)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			defer watcher.Close()
			cfg := watcher.Current()

			privKey, err := boardauth.ParseECKeyFromEnv(os.Getenv("BOARDENGINE_JWT_KEY"))
			if err != nil {
				return err
			}

			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			reg := registry.New(st, log)
			roles := boardauth.NewRoleLookup(st.DB())
			connLimit := boardauth.NewConnectionLimiter(cfg.ConnRateLimitPerSec, cfg.ConnRateLimitBurst)
			ipLimit := boardauth.NewIPRateLimiter(cfg.IPRateLimitPerSec, cfg.IPRateLimitBurst)

			srv := server.New(server.Deps{
				Registry:    reg,
				Store:       st,
				Roles:       roles,
				PublicKey:   &privKey.PublicKey,
				ConnLimiter: connLimit,
				IPLimiter:   ipLimit,
				Log:         log,
			})

			sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithCancel(sigCtx)
			defer cancel()

			var loops sync.WaitGroup
			loops.Add(2)
			go func() { defer loops.Done(); maintenance.NewLoop(reg, st, log).Run(ctx) }()
			go func() { defer loops.Done(); projection.NewLoop(reg, st, log).Run(ctx) }()

			httpSrv := &http.Server{
				Addr:    cfg.ListenAddr,
				Handler: srv,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info("boardengine listening", "addr", httpSrv.Addr)
				errCh <- httpSrv.ListenAndServe()
			}()

			select {
			case <-sigCtx.Done():
				log.Info("shutting down")
				shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancelShutdown()
				err := httpSrv.Shutdown(shutdownCtx)
				cancel()
				loops.Wait()
				return err
			case err := <-errCh:
				cancel()
				loops.Wait()
				if err == http.ErrServerClosed {
					return nil
				}
				return err
			}
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "board.yaml", "path to the engine's YAML config file")
	return cmd
}
