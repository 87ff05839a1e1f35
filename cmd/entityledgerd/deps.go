package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/entityledger/core/internal/cachelayer"
	entityconfig "github.com/entityledger/core/internal/config"
	"github.com/entityledger/core/internal/changepoller"
	"github.com/entityledger/core/internal/editing"
	"github.com/entityledger/core/internal/eventsink"
	"github.com/entityledger/core/internal/eventsink/filesink"
	"github.com/entityledger/core/internal/eventsink/natssink"
	"github.com/entityledger/core/internal/idalloc"
	"github.com/entityledger/core/internal/metastore"
	"github.com/entityledger/core/internal/protection"
	"github.com/entityledger/core/internal/readpath"
	"github.com/entityledger/core/internal/reconciler"
	"github.com/entityledger/core/internal/snapstore"
	"github.com/entityledger/core/internal/writepipeline"
)

// deps bundles every wired component a subcommand might need, built
// once from the resolved Config. Subcommands that only need a slice of
// this (e.g. migrate only needs cfg.MetastoreDSN) skip calling build.
type deps struct {
	cfg entityconfig.Config

	meta  metastore.Gateway
	snaps snapstore.Gateway
	heads cachelayer.HeadCache
	idmap cachelayer.IDMapCache

	allocator *idalloc.Allocator
	engine    *protection.Engine
	sink      eventsink.Sink

	pipeline   *writepipeline.Pipeline
	editing    *editing.Service
	reader     *readpath.Reader
	reconciler *reconciler.Reconciler
	poller     *changepoller.Poller
}

func loadConfig() (entityconfig.Config, error) {
	l, err := entityconfig.New(configPath)
	if err != nil {
		return entityconfig.Config{}, fmt.Errorf("entityledgerd: load config: %w", err)
	}
	if configPath != "" {
		l.Watch()
	}
	return l.Current(), nil
}

// buildDeps wires the production stack: a metadata gateway against
// cfg.MetastoreDSN (Postgres via pgx by default, or MySQL via
// go-sql-driver/mysql when cfg.MetastoreDialect selects it), an S3
// client against cfg.SnapstoreURI's bucket, and either Redis or
// process-local LRU caches depending on whether cfg.RedisAddr is set.
// NATS is wired only when cfg.NATSURL is set; otherwise the event sink
// falls back to a file sink so a reconciler or poller can still run
// standalone without a broker.
func buildDeps(ctx context.Context, cfg entityconfig.Config) (*deps, error) {
	meta, err := buildMetastore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("entityledgerd: load aws config: %w", err)
	}
	s3Client := s3.NewFromConfig(awsCfg)
	snaps := snapstore.NewS3(s3Client, cfg.SnapstoreURI, 10*time.Second, 10*time.Second)

	var heads cachelayer.HeadCache
	var idmap cachelayer.IDMapCache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		heads = cachelayer.NewRedisHeadCache(rdb, 5*time.Minute)
		idmap = cachelayer.NewRedisIDMapCache(rdb, time.Hour)
	} else {
		lruHeads, err := cachelayer.NewLRUHeadCache(4096, 5*time.Minute)
		if err != nil {
			return nil, fmt.Errorf("entityledgerd: build head cache: %w", err)
		}
		lruIDMap, err := cachelayer.NewLRUIDMapCache(4096, time.Hour)
		if err != nil {
			return nil, fmt.Errorf("entityledgerd: build idmap cache: %w", err)
		}
		heads, idmap = lruHeads, lruIDMap
	}

	var sink eventsink.Sink
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			return nil, fmt.Errorf("entityledgerd: connect nats: %w", err)
		}
		js, err := nc.JetStream()
		if err != nil {
			return nil, fmt.Errorf("entityledgerd: jetstream context: %w", err)
		}
		if err := natssink.EnsureStream(js); err != nil {
			return nil, fmt.Errorf("entityledgerd: ensure stream: %w", err)
		}
		sink = natssink.New(js)
	} else {
		fs, err := filesink.New("entityledger-events.jsonl")
		if err != nil {
			return nil, fmt.Errorf("entityledgerd: build file sink: %w", err)
		}
		sink = fs
	}

	allocator := idalloc.New(meta, idalloc.WithRetryBudget(8))
	engine := protection.New()
	var checkpoint changepoller.Checkpoint = changepoller.NewMemoryCheckpoint()
	if dialect, _ := metastore.ParseDialect(cfg.MetastoreDialect); dialect != metastore.DialectMySQL {
		pool, err := pgxpool.New(ctx, cfg.MetastoreDSN)
		if err != nil {
			return nil, fmt.Errorf("entityledgerd: connect checkpoint store: %w", err)
		}
		checkpoint = changepoller.NewPostgresCheckpoint(pool)
	}

	return &deps{
		cfg:   cfg,
		meta:  meta,
		snaps: snaps,
		heads: heads,
		idmap: idmap,

		allocator: allocator,
		engine:    engine,
		sink:      sink,

		pipeline: writepipeline.New(meta, snaps, heads, idmap, allocator, engine, sink,
			writepipeline.WithMaxRetries(cfg.WriteMaxRetries),
			writepipeline.WithIOTimeout(cfg.WriteIOTimeout)),
		editing: editing.New(meta, snaps, heads, sink),
		reader:  readpath.New(meta, snaps, heads),
		reconciler: reconciler.New(meta, snaps, heads, reconciler.Config{
			AbandonmentTTL: cfg.AbandonmentTTL,
			SweepLimit:     cfg.ReconcileSweepSize,
		}),
		poller: changepoller.New(meta, snaps, sink, checkpoint, changepoller.Config{
			Interval:  cfg.PollInterval,
			BatchSize: cfg.PollBatchSize,
		}, nil),
	}, nil
}

// buildMetastore opens cfg.MetastoreDSN through the dialect cfg selects,
// defaulting to Postgres. MySQL deployments are responsible for their
// own schema provisioning; dbmigrate's goose migrations only target the
// Postgres schema (see DESIGN.md).
func buildMetastore(ctx context.Context, cfg entityconfig.Config) (metastore.Gateway, error) {
	dialect, err := metastore.ParseDialect(cfg.MetastoreDialect)
	if err != nil {
		return nil, fmt.Errorf("entityledgerd: %w", err)
	}

	switch dialect {
	case metastore.DialectMySQL:
		db, err := sql.Open("mysql", cfg.MetastoreDSN)
		if err != nil {
			return nil, fmt.Errorf("entityledgerd: connect metastore (mysql): %w", err)
		}
		return metastore.NewMySQL(db, nil), nil
	default:
		pool, err := pgxpool.New(ctx, cfg.MetastoreDSN)
		if err != nil {
			return nil, fmt.Errorf("entityledgerd: connect metastore (postgres): %w", err)
		}
		return metastore.NewPostgres(pool, nil), nil
	}
}
