// Package main запускает интеграцию The Modern Milkman: периодическое обновление,
// публикацию сущностей в Home Assistant и HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/modernmilkman/internal/config"
	"github.com/mmeshcher/modernmilkman/internal/handler"
	"github.com/mmeshcher/modernmilkman/internal/hass"
	"github.com/mmeshcher/modernmilkman/internal/middleware"
	"github.com/mmeshcher/modernmilkman/internal/model"
	"github.com/mmeshcher/modernmilkman/internal/repository"
	"github.com/mmeshcher/modernmilkman/internal/scheduler"
	"github.com/mmeshcher/modernmilkman/internal/service"
	"github.com/mmeshcher/modernmilkman/internal/setup"
	"github.com/mmeshcher/modernmilkman/internal/tmm"
)

// store объединяет контракты хранилища, нужные сервису и сценарию настройки.
type store interface {
	service.Repository
	setup.Store
}

func main() {
	logger, _ := zap.NewProduction()

	cfg, err := config.Parse()
	if err != nil {
		logger.Sugar().Fatalw("configuration error", "error", err.Error())
	}
	if cfg.LogLevel == "debug" {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	repo, err := openStore(cfg, logger)
	if err != nil {
		sugar.Fatalw("config store initialization error", "error", err.Error())
	}
	defer repo.Close()

	vendor := tmm.NewClient(cfg.APIURL)

	var hassClient *hass.Client
	if cfg.HassURL != "" {
		hassClient = hass.NewClient(cfg.HassURL, cfg.HassToken, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Setup || cfg.Options {
		if err := runSetup(ctx, cfg, repo, vendor, hassClient, logger); err != nil {
			sugar.Fatalw("setup failed", "error", err.Error())
		}
		return
	}

	var host service.Host
	if hassClient != nil {
		host = hassClient
	}

	svc := service.NewService(repo, vendor, host, logger)
	defer svc.Stop()

	if err := svc.Start(ctx); err != nil {
		if errors.Is(err, service.ErrNotConfigured) {
			sugar.Fatalw("integration is not configured, run with -setup first", "store", storeName(cfg))
		}
		sugar.Fatalw("integration start error", "error", err.Error())
	}

	sched := scheduler.New(logger)
	if err := sched.Add(cfg.RefreshSchedule, "refresh", func(ctx context.Context) error {
		_, err := svc.Refresh(ctx)
		return err
	}); err != nil {
		sugar.Fatalw("scheduler configuration error", "error", err.Error())
	}

	authMiddleware := middleware.NewAuthMiddleware(cfg.APIToken)
	h := handler.NewHandler(svc, logger, authMiddleware)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Обновление по расписанию
	g.Go(func() error {
		return sched.Run(ctx)
	})

	// Перезагрузка при изменении файла конфигурации
	if fileRepo, ok := repo.(*repository.FileRepository); ok {
		g.Go(func() error {
			return fileRepo.Watch(ctx, func(entry model.ConfigEntry) {
				if err := svc.Reload(ctx, entry); err != nil {
					sugar.Warnw("reload after config change failed", "error", err.Error())
				}
			})
		})
	}

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting modernmilkman server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

func openStore(cfg *config.Config, logger *zap.Logger) (store, error) {
	if cfg.DatabaseURI != "" {
		return repository.NewPostgresRepository(cfg.DatabaseURI, model.Domain)
	}
	return repository.NewFileRepository(cfg.ConfigFile, model.Domain, logger.Named("store"))
}

func storeName(cfg *config.Config) string {
	if cfg.DatabaseURI != "" {
		return "postgres"
	}
	return cfg.ConfigFile
}

func runSetup(ctx context.Context, cfg *config.Config, repo store, vendor *tmm.Client, hassClient *hass.Client, logger *zap.Logger) error {
	var lister setup.CalendarLister
	if hassClient != nil {
		lister = hassClient
	}

	flow := setup.NewFlow(repo, vendor, lister, logger)

	var (
		res setup.Result
		err error
	)
	if cfg.Options {
		res, err = flow.UpdateOptions(ctx, cfg.CalendarList())
	} else {
		res, err = flow.Run(ctx, setup.Input{
			Username:  cfg.Username,
			Password:  cfg.Password,
			Calendars: cfg.CalendarList(),
		})
	}
	if err != nil {
		return err
	}

	switch {
	case res.AbortReason != "":
		logger.Info("setup aborted", zap.String("reason", res.AbortReason))
		return nil
	case len(res.Errors) > 0:
		return fmt.Errorf("invalid input: %v", res.Errors)
	default:
		logger.Info("setup finished", zap.String("title", res.Entry.Title), zap.String("store", storeName(cfg)))
		return nil
	}
}
