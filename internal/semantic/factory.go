package semantic

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rs/zerolog"
)

var errNotConfigured = errors.New("graph service not configured")

type Config struct {
	URI            string
	Username       string
	Password       string
	Database       string
	ConnectTimeout time.Duration
}

type connectFunc func(ctx context.Context, cfg Config) (Runner, func(context.Context) error, error)

// Factory decides once which Index the process uses. A graph outage after
// that decision surfaces as errors from GraphIndex but never switches modes.
type Factory struct {
	cfg     Config
	log     zerolog.Logger
	connect connectFunc

	once    sync.Once
	index   Index
	graph   bool
	closeFn func(context.Context) error
}

func NewFactory(cfg Config, logger zerolog.Logger) *Factory {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	return &Factory{
		cfg:     cfg,
		log:     logger.With().Str("component", "semantic").Logger(),
		connect: connectNeo4j,
	}
}

// Index returns the memoized Index, probing the graph service on first use.
func (f *Factory) Index(ctx context.Context) Index {
	f.once.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, f.cfg.ConnectTimeout)
		defer cancel()

		runner, closeFn, err := f.connect(ctx, f.cfg)
		if err != nil {
			f.log.Warn().Err(err).Msg("graph service unavailable, semantic indexing disabled")
			f.index = NoopIndex{}
			return
		}

		f.log.Info().Str("uri", f.cfg.URI).Msg("semantic index connected")
		f.index = NewGraphIndex(runner)
		f.graph = true
		f.closeFn = closeFn
	})
	return f.index
}

// Available reports whether Index chose the graph-backed implementation.
func (f *Factory) Available() bool {
	f.Index(context.Background())
	return f.graph
}

func (f *Factory) Close(ctx context.Context) error {
	if f.closeFn == nil {
		return nil
	}
	return f.closeFn(ctx)
}

func connectNeo4j(ctx context.Context, cfg Config) (Runner, func(context.Context) error, error) {
	if cfg.URI == "" {
		return nil, nil, errNotConfigured
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, nil, err
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, nil, err
	}

	return driverRunner{driver: driver, database: cfg.Database}, driver.Close, nil
}
