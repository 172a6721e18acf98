// Command backfill is the one-shot sibling to the projector daemon: it
// pages com.atproto.sync.listRepos, fetches each repo's current state via
// com.atproto.sync.getRepo, and replays every record through the same
// resolver and handlers the live firehose uses, to materialize a graph
// snapshot without waiting for the live tail to catch up.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bluesky-social/indigo/repo"
	"github.com/ipfs/go-cid"

	"github.com/bskyproj/firehose-projector/internal/apiclient"
	"github.com/bskyproj/firehose-projector/internal/bluesky"
	"github.com/bskyproj/firehose-projector/internal/cache"
	"github.com/bskyproj/firehose-projector/internal/firehose"
	"github.com/bskyproj/firehose-projector/internal/graphdb"
	"github.com/bskyproj/firehose-projector/internal/handlers"
	"github.com/bskyproj/firehose-projector/internal/ratelimit"
	"github.com/bskyproj/firehose-projector/internal/resolver"
)

// presenceCacheSize mirrors the daemon's cache sizing; a backfill run is
// typically shorter-lived but just as fan-out heavy per repo.
const presenceCacheSize = 200_000

// listPageSize is the repos-per-page requested from listRepos.
const listPageSize = 1000

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		relayHost       string
		graphDBEndpoint string
		graphDBBranch   string
		graphDBToken    string
		bskyAPIHost     string
		handle          string
		password        string
		startCursor     string
		onlyDID         string
	)

	flag.StringVar(&relayHost, "relay", envOrDefault("RELAY_SYNC_HOST", "https://bsky.network"), "sync host (scheme + host, no path)")
	flag.StringVar(&graphDBEndpoint, "graphdb-endpoint", os.Getenv("GRAPHDB_ENDPOINT"), "graph database base URL")
	flag.StringVar(&graphDBBranch, "graphdb-branch", envOrDefault("GRAPHDB_BRANCH", "main"), "graph database branch")
	flag.StringVar(&graphDBToken, "graphdb-token", os.Getenv("GRAPHDB_TOKEN"), "graph database auth token")
	flag.StringVar(&bskyAPIHost, "bsky-api-host", envOrDefault("BSKY_API_HOST", "https://public.api.bsky.app"), "host serving getProfile/getPost")
	flag.StringVar(&handle, "handle", os.Getenv("BLUESKY_HANDLE"), "optional handle, for hosts requiring auth")
	flag.StringVar(&password, "password", os.Getenv("BLUESKY_APP_PASSWORD"), "optional app password")
	flag.StringVar(&startCursor, "cursor", "", "listRepos cursor to resume a prior backfill from")
	flag.StringVar(&onlyDID, "did", "", "backfill a single repo by DID instead of paging the whole host")
	flag.Parse()

	if graphDBEndpoint == "" {
		return fmt.Errorf("--graphdb-endpoint (or GRAPHDB_ENDPOINT) is required")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx := context.Background()

	sync := bluesky.NewClient(relayHost)
	if handle != "" && password != "" {
		if err := sync.Login(ctx, handle, password); err != nil {
			return fmt.Errorf("login: %w", err)
		}
	}

	store := graphdb.New(graphDBEndpoint, graphDBBranch, graphDBToken)
	limiter := ratelimit.New(ctx, logger)
	api := apiclient.New(bskyAPIHost, limiter)
	userCache := cache.NewPresence(presenceCacheSize)
	postCache := cache.NewPresence(presenceCacheSize)
	res := resolver.New(store, api, userCache, postCache, logger)
	h := handlers.New(store, res, logger)

	if onlyDID != "" {
		if err := backfillRepo(ctx, sync, h, logger, onlyDID); err != nil {
			return fmt.Errorf("backfill %s: %w", onlyDID, err)
		}
		return nil
	}

	cursor := startCursor
	var totalRepos, totalFailed int
	for {
		page, err := sync.ListRepos(ctx, cursor, listPageSize)
		if err != nil {
			return fmt.Errorf("list repos (cursor %q): %w", cursor, err)
		}

		for _, r := range page.Repos {
			if !r.Active {
				continue
			}
			if err := backfillRepo(ctx, sync, h, logger, r.DID); err != nil {
				logger.Error("repo backfill failed, skipping", "did", r.DID, "error", err)
				totalFailed++
				continue
			}
			totalRepos++
		}

		logger.Info("backfill page complete", "repos_done", totalRepos, "repos_failed", totalFailed, "next_cursor", page.Cursor)

		if page.Cursor == "" || len(page.Repos) == 0 {
			break
		}
		cursor = page.Cursor
	}

	logger.Info("backfill complete", "repos_done", totalRepos, "repos_failed", totalFailed)
	return nil
}

// backfillRepo fetches did's repo as a CAR and replays every current record
// through DispatchRecord as a synthetic "create", the same handler path the
// live firehose uses for a newly observed record.
func backfillRepo(ctx context.Context, sync *bluesky.Client, h *handlers.Handlers, logger *slog.Logger, did string) error {
	start := time.Now()

	carBytes, err := sync.GetRepo(ctx, did)
	if err != nil {
		return fmt.Errorf("get repo: %w", err)
	}

	r, err := repo.ReadRepoFromCar(ctx, bytes.NewReader(carBytes))
	if err != nil {
		return fmt.Errorf("read CAR: %w", err)
	}

	var recordCount, errCount int
	err = r.ForEach(ctx, "", func(path string, _ cid.Cid) error {
		recCid, recBytes, gerr := r.GetRecordBytes(ctx, path)
		if gerr != nil {
			logger.Warn("record missing from repo blockstore, skipping", "did", did, "path", path, "error", gerr)
			return nil
		}

		uri := "at://" + did + "/" + path
		if derr := firehose.DispatchRecord(ctx, h, "create", did, uri, path, recCid.String(), *recBytes); derr != nil {
			logger.Warn("record dispatch failed, continuing", "did", did, "path", path, "error", derr)
			errCount++
			return nil
		}
		recordCount++
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk repo: %w", err)
	}

	logger.Info("repo backfilled", "did", did, "records", recordCount, "errors", errCount, "duration", time.Since(start))
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
