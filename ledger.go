package jobledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	_ "modernc.org/sqlite"

	"github.com/petrijr/jobledger/internal/flowclient"
	"github.com/petrijr/jobledger/internal/jobs"
	"github.com/petrijr/jobledger/internal/persistence"
	"github.com/petrijr/jobledger/internal/tasks"
	"github.com/petrijr/jobledger/internal/workspace"
)

// Ledger wires a Store to the job callback service and the task manager.
//
// Typical usage:
//
//	cfg, _ := jobledger.LoadConfig(jobledger.ConfigOptions{})
//	ledger, err := jobledger.Open(ctx, cfg)
//	defer ledger.Close()
//	job, err := ledger.Jobs.CreateJob(ctx, "alice")
type Ledger struct {
	Jobs    *jobs.Service
	Tasks   *tasks.Manager
	Metrics *BasicMetrics

	store   Store
	closers []func() error
}

type ledgerOptions struct {
	observer  Observer
	logger    *slog.Logger
	workspace jobs.Workspace
	flows     jobs.FlowRunner
}

// Option configures a Ledger.
type Option func(*ledgerOptions)

// WithObserver adds an observer next to the built-in metrics.
func WithObserver(o Observer) Option {
	return func(opts *ledgerOptions) {
		opts.observer = o
	}
}

// WithLogger sets the logger used by every component.
func WithLogger(l *slog.Logger) Option {
	return func(opts *ledgerOptions) {
		if l != nil {
			opts.logger = l
		}
	}
}

// WithJobsRoot bootstraps job directories under root on fs.
func WithJobsRoot(fs afero.Fs, root string) Option {
	return func(opts *ledgerOptions) {
		opts.workspace = workspace.New(fs, root)
	}
}

// WithFlowEngine sets the base URL and timeouts of the workflow engine.
// Zero timeouts take the client defaults.
func WithFlowEngine(baseURL string, connectTimeout, requestTimeout time.Duration) Option {
	return func(opts *ledgerOptions) {
		opts.flows = flowclient.New(flowclient.Config{
			BaseURL:        baseURL,
			ConnectTimeout: connectTimeout,
			RequestTimeout: requestTimeout,
		})
	}
}

// New creates a Ledger over store. The caller keeps ownership of the
// store's connection; Close on the returned Ledger is a no-op.
func New(store Store, opts ...Option) *Ledger {
	o := ledgerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	metrics := &BasicMetrics{}
	observer := NewCompositeObserver(metrics, o.observer)

	svcOpts := []jobs.Option{
		jobs.WithObserver(observer),
		jobs.WithLogger(o.logger),
	}
	if o.workspace != nil {
		svcOpts = append(svcOpts, jobs.WithWorkspace(o.workspace))
	}
	if o.flows != nil {
		svcOpts = append(svcOpts, jobs.WithFlowRunner(o.flows))
	}

	return &Ledger{
		Jobs: jobs.NewService(store, svcOpts...),
		Tasks: tasks.NewManager(store,
			tasks.WithObserver(observer),
			tasks.WithLogger(o.logger),
		),
		Metrics: metrics,
		store:   store,
	}
}

// Open connects to the backend named by cfg.Store.Backend and builds a
// Ledger on it, with job directories under cfg.Jobs.Root and the flow
// engine at cfg.Flow.URL. opts are applied after those defaults. The
// Ledger owns the connection it opened; call Close to release it.
func Open(ctx context.Context, cfg *Config, opts ...Option) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, closers, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	defaults := []Option{
		WithJobsRoot(afero.NewOsFs(), cfg.Jobs.Root),
		WithFlowEngine(cfg.Flow.URL, cfg.Flow.ConnectTimeout, cfg.Flow.RequestTimeout),
	}
	l := New(store, append(defaults, opts...)...)
	l.closers = closers
	return l, nil
}

func openStore(ctx context.Context, cfg *Config) (Store, []func() error, error) {
	switch cfg.Store.Backend {
	case "memory":
		return persistence.NewInMemoryStore(), nil, nil

	case "sqlite":
		db, err := sql.Open("sqlite", cfg.Store.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		// SQLite serializes writers; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
		store, err := persistence.NewSQLiteStore(ctx, db)
		if err != nil {
			return nil, nil, errors.Join(err, db.Close())
		}
		return store, []func() error{db.Close}, nil

	case "postgres":
		db, err := sql.Open("pgx", cfg.Store.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		store, err := persistence.NewPostgresStore(ctx, db)
		if err != nil {
			return nil, nil, errors.Join(err, db.Close())
		}
		return store, []func() error{db.Close}, nil

	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Store.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, errors.Join(fmt.Errorf("ping redis: %w", err), client.Close())
		}
		return persistence.NewRedisStore(client, cfg.Store.RedisPrefix), []func() error{client.Close}, nil

	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Store.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		disconnect := func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return client.Disconnect(ctx)
		}
		store, err := persistence.NewMongoStore(ctx, client, cfg.Store.MongoDatabase)
		if err != nil {
			return nil, nil, errors.Join(err, disconnect())
		}
		return store, []func() error{disconnect}, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown store backend %q", ErrInvalidRequest, cfg.Store.Backend)
	}
}

// Store returns the backend the Ledger was built on.
func (l *Ledger) Store() Store {
	return l.store
}

// Close releases the connection opened by Open.
func (l *Ledger) Close() error {
	var errs []error
	for _, c := range l.closers {
		errs = append(errs, c())
	}
	l.closers = nil
	return errors.Join(errs...)
}
