package workflowservice

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	service "tableside/internal/app/workflowservice"
	"tableside/internal/shared/config"
	"tableside/internal/shared/logger"
	pg "tableside/internal/shared/postgres"
)

// Run wires the workflow admin/resolver service and blocks until ctx is
// cancelled or a terminal error occurs.
func Run(ctx context.Context, port int) error {
	log := logger.NewLogger("workflow-service")

	_ = godotenv.Load()

	cfg, err := config.LoadFromFile("config/config.yaml")
	if err != nil {
		log.Error(ctx, "config_load_failed", "Failed to load configuration", err)
		return err
	}

	pool, err := pg.NewPool(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "db_connection_failed", "Failed to initialize Postgres pool", err)
		return err
	}
	defer pool.Close()

	uow := pg.NewUnitOfWork(pool)
	svc := service.New(uow, pg.NewWorkflowRepo(), log)
	handler := service.NewHTTPHandler(svc, log)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	log.Info(ctx, "service_started",
		fmt.Sprintf("Workflow Service started on port %d", port),
		map[string]any{"port": port},
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
