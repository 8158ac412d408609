package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"docmerge/internal/attribution"
	"docmerge/internal/config"
	"docmerge/internal/decision"
	"docmerge/internal/docmodel"
	"docmerge/internal/export"
	"docmerge/internal/gdocs"
	"docmerge/internal/gitrepo"
	"docmerge/internal/merge"
	"docmerge/internal/search"
	"docmerge/internal/store"
)

// Runtime is a fully wired service plus the resources it holds open.
type Runtime struct {
	Service *Service
	closers []func()
}

// Close releases resources in reverse order of acquisition.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// Build opens the database, applies migrations and wires every backend the
// configuration names. Optional backends (Redis, Meilisearch, MinIO) degrade
// to in-process fallbacks when they cannot be reached.
func Build(ctx context.Context, cfg config.Config) (*Runtime, error) {
	rt := &Runtime{}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	rt.closers = append(rt.closers, func() { _ = db.Close() })

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		rt.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		rt.Close()
		return nil, fmt.Errorf("create repos dir: %w", err)
	}

	local := store.NewPostgresStore(db)

	var documents docmodel.Store = local
	if cfg.DocumentBackend == config.BackendGoogle {
		google, err := gdocs.New(ctx, cfg.GoogleCredentialsFile)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("google docs client: %w", err)
		}
		documents = google
	}
	log.Printf("app: document backend %s", cfg.DocumentBackend)

	annotator := attribution.New(documents, cfg.Merge.PrefixLength, cfg.Merge.ExcerptRadius)
	engine := merge.New(documents, annotator)

	var decisions decision.Store = decision.NewMemoryStore()
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := decision.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Printf("app: redis unavailable, keeping pending decisions in memory: %v", err)
		} else {
			decisions = redisStore
		}
	}
	rt.closers = append(rt.closers, func() { _ = decisions.Close() })

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		rt.closers = append(rt.closers, meili.Close)
	}
	searchService := search.NewService(meili, search.NewPgFTS(db))
	go searchService.ReindexAllFromPG(context.Background())

	var archiver export.Archiver
	if strings.TrimSpace(cfg.MinIOEndpoint) != "" {
		minioArchiver, err := export.NewMinIOArchiver(ctx, cfg.MinIOEndpoint, cfg.MinIOAccessKey, cfg.MinIOSecretKey, cfg.MinIOBucket, cfg.MinIOUseSSL)
		if err != nil {
			log.Printf("app: minio unavailable, export archiving disabled: %v", err)
		} else {
			archiver = minioArchiver
		}
	}
	exportTimeout := time.Duration(cfg.Merge.ExportTimeoutSec) * time.Second

	rt.Service = New(cfg, Deps{
		Engine:    engine,
		Documents: documents,
		Local:     local,
		History:   gitrepo.New(cfg.ReposDir),
		Search:    searchService,
		Exporter:  export.NewService(documents, archiver, exportTimeout),
		Decisions: decisions,
	})
	return rt, nil
}
