package bank

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/exp/slog"

	"github.com/alovak/bankcards/internal/audit"
	"github.com/alovak/bankcards/internal/events"
	"github.com/alovak/bankcards/internal/middleware"
)

// App is the main application, it contains all the components of the
// bankcards service and is responsible for starting and stopping them.
type App struct {
	srv    *http.Server
	wg     *sync.WaitGroup
	Addr   string
	logger *slog.Logger
	config *Config

	db          *sql.DB
	consumer    *events.Consumer
	producer    *events.Producer
	closeCrypto func()
	stop        context.CancelFunc

	Services *Services
}

func NewApp(logger *slog.Logger, config *Config) *App {
	logger = logger.With(slog.String("app", "bankcards"))

	if config == nil {
		config = DefaultConfig()
	}

	return &App{
		wg:          &sync.WaitGroup{},
		logger:      logger,
		config:      config,
		closeCrypto: func() {},
	}
}

// OpenRepository picks the repository backend from cfg. The returned *sql.DB
// is nil for the in-memory backend.
func OpenRepository(ctx context.Context, cfg *Config) (*Repository, *sql.DB, error) {
	switch cfg.RepoBackend {
	case "pg":
		if cfg.DBDSN == "" {
			return nil, nil, fmt.Errorf("DB_DSN is required for pg backend")
		}
		db, err := sql.Open("postgres", cfg.DBDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxIdleConns(5)
		db.SetMaxOpenConns(10)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		return NewPGRepository(db, cfg.StatementTimeout), db, nil
	case "mem":
		if !cfg.AllowMemBackend {
			return nil, nil, fmt.Errorf("mem repository is disabled at runtime; set ALLOW_MEM_BACKEND=true only in tests")
		}
		return NewRepository(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported REPO_BACKEND=%s", cfg.RepoBackend)
	}
}

func (a *App) Start() error {
	a.logger.Info("starting app...")

	ctx, stop := context.WithCancel(context.Background())
	a.stop = stop

	repository, db, err := OpenRepository(ctx, a.config)
	if err != nil {
		return err
	}
	a.db = db
	if db != nil && a.config.MigrateOnStart {
		if err := Migrate(ctx, db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	crypto, closeCrypto, err := NewCardCrypto(a.config)
	if err != nil {
		return fmt.Errorf("card crypto: %w", err)
	}
	a.closeCrypto = closeCrypto

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	deps := Deps{
		Auditor: audit.NewLogAuditor(a.logger),
		Metrics: NewMetrics(registry),
		Logger:  a.logger,
	}

	if len(a.config.KafkaBrokers) > 0 {
		a.producer, err = events.NewProducer(a.config.KafkaBrokers, a.config.BlockTopic)
		if err != nil {
			return fmt.Errorf("kafka producer: %w", err)
		}
		deps.Publisher = a.producer
	} else {
		a.logger.Info("KAFKA_BROKERS not set; event bus disabled")
	}

	a.Services, err = NewServices(repository, crypto, a.config, deps)
	if err != nil {
		return err
	}

	if len(a.config.KafkaBrokers) > 0 {
		permanent := func(err error) bool { return KindOf(err) != ErrSystem }
		a.consumer, err = events.NewConsumer(a.logger, a.config.KafkaBrokers, a.config.KafkaGroup, map[string]events.Handler{
			a.config.IdentityTopic: events.IdentityCreatedHandler(a.logger, a.Services.Cardholders, permanent),
			a.config.BlockTopic:    events.BlockRequestedHandler(a.logger),
		})
		if err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.consumer.Run(ctx)
		}()
	}

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(middleware.NewStructuredLogger(a.logger))
	router.Use(chimw.Recoverer)

	api := NewAPI(a.Services)
	api.AppendRoutes(router)

	router.Get("/-/live", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	router.Get("/-/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := repository.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	l, err := net.Listen("tcp", a.config.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening tcp port: %w", err)
	}

	a.Addr = l.Addr().String()

	a.srv = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	a.wg.Add(1)
	go func() {
		a.logger.Info("http server started", slog.String("addr", a.Addr))

		if err := a.srv.Serve(l); err != nil {
			if err != http.ErrServerClosed {
				a.logger.Error("starting http server", "err", err)
			}

			a.logger.Info("http server stopped")
		}

		a.wg.Done()
	}()

	return nil
}

func (a *App) Shutdown() {
	a.logger.Info("shutting down app...")

	if a.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.srv.Shutdown(ctx); err != nil {
			a.logger.Error("shutting down http server", "err", err)
		}
	}
	if a.stop != nil {
		a.stop()
	}
	if a.consumer != nil {
		a.consumer.Close()
	}

	a.wg.Wait()

	if a.producer != nil {
		a.producer.Close()
	}
	a.closeCrypto()
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("closing database", "err", err)
		}
	}

	a.logger.Info("app stopped")
}
