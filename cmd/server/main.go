package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/iota-uz/worktrack/migrations"
	analyticscontrollers "github.com/iota-uz/worktrack/modules/analytics/presentation/controllers"
	analyticssvc "github.com/iota-uz/worktrack/modules/analytics/services"
	hierarchypersistence "github.com/iota-uz/worktrack/modules/hierarchy/infrastructure/persistence"
	hierarchycontrollers "github.com/iota-uz/worktrack/modules/hierarchy/presentation/controllers"
	hierarchysvc "github.com/iota-uz/worktrack/modules/hierarchy/services"
	notificationpersistence "github.com/iota-uz/worktrack/modules/notification/infrastructure/persistence"
	notificationcontrollers "github.com/iota-uz/worktrack/modules/notification/presentation/controllers"
	notificationsvc "github.com/iota-uz/worktrack/modules/notification/services"
	taskpersistence "github.com/iota-uz/worktrack/modules/task/infrastructure/persistence"
	taskcontrollers "github.com/iota-uz/worktrack/modules/task/presentation/controllers"
	tasksvc "github.com/iota-uz/worktrack/modules/task/services"
	"github.com/iota-uz/worktrack/pkg/composables"
	"github.com/iota-uz/worktrack/pkg/configuration"
	"github.com/iota-uz/worktrack/pkg/eventbus"
	"github.com/iota-uz/worktrack/pkg/metrics"
	"github.com/iota-uz/worktrack/pkg/middleware"
	"github.com/iota-uz/worktrack/pkg/server"
)

// hierarchyPort bridges the hierarchy service into the dependent
// modules' port interfaces. The pointer is filled after construction to
// break the hierarchy <-> task wiring cycle.
type hierarchyPort struct {
	svc *hierarchysvc.HierarchyService
}

func (p *hierarchyPort) DepartmentOf(ctx context.Context, subdepartmentID int64) (int64, error) {
	departmentID, err := p.svc.DepartmentOf(ctx, subdepartmentID)
	if errors.Is(err, hierarchysvc.ErrNotFound) {
		return 0, tasksvc.ErrNotFound
	}
	return departmentID, err
}

func (p *hierarchyPort) DescendantIDs(ctx context.Context, subdepartmentID int64) ([]int64, error) {
	return p.svc.DescendantIDs(ctx, subdepartmentID)
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			configuration.Use().Unload()
			log.Println(r)
			debug.PrintStack()
			os.Exit(1)
		}
	}()

	conf := configuration.Use()
	logger := conf.Logger()
	bus := eventbus.NewEventPublisher(logger)

	var (
		hierarchyRepo hierarchysvc.Repository
		taskRepo      tasksvc.Repository
		noteStore     notificationsvc.Store
		pool          *pgxpool.Pool
	)

	switch conf.Database.Driver {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var err error
		pool, err = pgxpool.New(ctx, conf.Database.Opts)
		if err != nil {
			panic(err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			panic(err)
		}
		if err := runMigrations(conf.Database.Opts); err != nil {
			panic(err)
		}
		hierarchyRepo = hierarchypersistence.NewPGRepository()
		taskRepo = taskpersistence.NewPGRepository()
		noteStore = notificationpersistence.NewPGStore()
	case "memory":
		hierarchyRepo = hierarchypersistence.NewMemoryRepository()
		taskRepo = taskpersistence.NewMemoryRepository()
		noteStore = notificationpersistence.NewMemoryStore()
		logger.Warn("running with the in-memory store; data will not survive a restart")
	}

	hPort := &hierarchyPort{}
	taskService := tasksvc.NewTaskService(taskRepo, hPort, bus)
	hierarchyService := hierarchysvc.NewHierarchyService(hierarchyRepo, taskService)
	hPort.svc = hierarchyService
	analyticsService := analyticssvc.NewAnalyticsService(taskService, hPort)

	// Notification inserts run detached from the request, so they need a
	// context of their own that can still reach the database.
	deliveryCtx := context.Background()
	if pool != nil {
		deliveryCtx = composables.WithPool(deliveryCtx, pool)
	}
	notificationService := notificationsvc.NewNotificationService(deliveryCtx, noteStore, logger)
	notificationService.Register(bus)

	middlewares := []mux.MiddlewareFunc{
		middleware.RequestID(),
		middleware.RequestLogger(logger),
		middleware.Cors(conf.AllowedOrigins),
	}
	if conf.RateLimit.Enabled {
		middlewares = append(middlewares, middleware.RateLimit(conf.RateLimit.GlobalRPS))
	}
	if pool != nil {
		middlewares = append(middlewares, middleware.ProvideDB(pool))
	}

	rootControllers := []server.Controller{server.NewHealthController()}
	if conf.Prometheus.Enabled {
		rootControllers = append(rootControllers, metrics.NewPrometheusController(conf.Prometheus.Path))
	}

	srv := &server.HTTPServer{
		Middlewares:     middlewares,
		APIMiddlewares:  []mux.MiddlewareFunc{middleware.ProvidePrincipal()},
		RootControllers: rootControllers,
		APIControllers: []server.Controller{
			hierarchycontrollers.NewHierarchyController(hierarchyService),
			taskcontrollers.NewTaskController(taskService),
			analyticscontrollers.NewAnalyticsController(analyticsService),
			notificationcontrollers.NewNotificationController(notificationService),
		},
	}

	httpServer := &http.Server{
		Addr:    conf.SocketAddress,
		Handler: srv.Handler(),
	}

	go func() {
		logger.WithField("address", conf.SocketAddress).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server stopped")
		}
	}()

	stop, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-stop.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), conf.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
	notificationService.Drain()
	conf.Unload()
}

// runMigrations applies the embedded goose migrations through a
// database/sql handle; the pgx pool stays dedicated to request traffic.
func runMigrations(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, ".")
}
