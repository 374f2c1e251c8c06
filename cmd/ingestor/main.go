package main

import (
	"bufio"
	"context"
	"database/sql"
	"os"
	"strings"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/jfinnert/bite-map/internal/adapters/extract"
	"github.com/jfinnert/bite-map/internal/adapters/geocode"
	"github.com/jfinnert/bite-map/internal/adapters/observability"
	redisad "github.com/jfinnert/bite-map/internal/adapters/redis"
	"github.com/jfinnert/bite-map/internal/app"
	"github.com/jfinnert/bite-map/internal/shared"
	mysqlrepo "github.com/jfinnert/bite-map/internal/storage/mysql"
)

func main() {
	ctx := context.Background()
	cfg := shared.Load()

	// initialize global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv)

	log.Info().
		Str("links", cfg.LinksFile).
		Int("workers", cfg.Workers).
		Msg("ingestor starting")

	tasks, err := readTasks(cfg.LinksFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read links file")
	}
	if len(tasks) == 0 {
		log.Info().Msg("nothing to ingest")
		return
	}

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("db ping ok")

	repo := mysqlrepo.New(db)
	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)

	ing := app.NewIngestService(
		repo, repo,
		extract.New(cfg.OEmbedRPS),
		geocode.New(cfg.GeocoderBase, cfg.GeocoderEmail, cfg.GeocoderRPS),
		cache,
	)
	ing.SetDedupeRadius(cfg.DedupeRadius)

	sem := semaphore.NewWeighted(int64(cfg.Workers))
	var wg sync.WaitGroup

	for _, t := range tasks {
		t := t

		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, int64(1)); err != nil {
			log.Fatal().Err(err).Msg("semaphore acquire failed")
		}

		wg.Add(1)
		go func(t app.IngestTask) {
			defer wg.Done()
			defer sem.Release(int64(1))

			id, err := ing.IngestLink(ctx, t)
			if err != nil {
				log.Warn().Str("url", t.URL).Err(err).Msg("ingest failed")
				return
			}
			log.Info().Str("url", t.URL).Int64("source_id", id).Msg("ingest ok")
		}(t)
	}

	wg.Wait()
	log.Info().Msg("ingestion completed")
}

// readTasks parses the link manifest. Each non-empty line is a video URL
// optionally followed by a tab and either "slug:<place-slug>" (attach to an
// existing place) or free text to geocode. Lines starting with # are skipped.
func readTasks(path string) ([]app.IngestTask, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var tasks []app.IngestTask
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		t := app.IngestTask{URL: line}
		if url, rest, ok := strings.Cut(line, "\t"); ok {
			t.URL = strings.TrimSpace(url)
			rest = strings.TrimSpace(rest)
			if slug, found := strings.CutPrefix(rest, "slug:"); found {
				t.PlaceSlug = slug
			} else {
				t.PlaceQuery = rest
			}
		}
		tasks = append(tasks, t)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}
