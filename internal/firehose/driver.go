// Package firehose subscribes to the relay's com.atproto.sync.subscribeRepos
// stream, decodes each commit's CAR block map, and dispatches per-op
// records to the record handlers, advancing a resumable cursor as it goes.
package firehose

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/cmd/relay/stream"
	"github.com/bluesky-social/indigo/cmd/relay/stream/schedulers/parallel"
	"github.com/bluesky-social/indigo/repo"
	"github.com/gorilla/websocket"

	"github.com/bskyproj/firehose-projector/internal/cursor"
	"github.com/bskyproj/firehose-projector/internal/failedqueue"
	"github.com/bskyproj/firehose-projector/internal/handlers"
	"github.com/bskyproj/firehose-projector/internal/ratelimit"
)

const (
	reconnectBackoff = 5 * time.Second
	parallelWorkers  = 50
	parallelQueueLen = 512

	throttleInterval = 15 * time.Second
	throttleHighEPS  = 350
	throttleMidEPS   = 280
	throttleHighGap  = 750 * time.Millisecond
	throttleMidGap   = 300 * time.Millisecond
)

// Driver owns the WebSocket subscription, cursor persistence, and adaptive
// throttling of the shared outbound rate limiter.
type Driver struct {
	relayHost string
	handlers  *handlers.Handlers
	cursor    *cursor.Store
	failed    *failedqueue.Queue
	limiter   *ratelimit.Limiter
	log       *slog.Logger

	eventCount atomic.Int64
	lastEPS    atomic.Int64 // events per second over the last throttle window, truncated to int64
}

// Cursor returns the last recorded sequence number, which may not have been
// flushed to disk yet.
func (d *Driver) Cursor() int64 {
	return d.cursor.Get()
}

// FailedQueueDepth returns the number of entries currently awaiting retry.
func (d *Driver) FailedQueueDepth() int {
	return d.failed.Len()
}

// EventsPerSecond returns the most recently measured firehose event rate.
func (d *Driver) EventsPerSecond() float64 {
	return float64(d.lastEPS.Load())
}

// New builds a Driver against relayHost (no scheme, e.g. "bsky.network").
func New(relayHost string, h *handlers.Handlers, cur *cursor.Store, failed *failedqueue.Queue, limiter *ratelimit.Limiter, log *slog.Logger) *Driver {
	return &Driver{relayHost: relayHost, handlers: h, cursor: cur, failed: failed, limiter: limiter, log: log}
}

// Run drains the failed-message queue, then connects and processes the
// live stream until ctx is cancelled, reconnecting on transient errors.
func (d *Driver) Run(ctx context.Context) error {
	d.drainFailedQueue(ctx)

	go d.throttleLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := d.connect(ctx); err != nil {
			d.log.Error("firehose connection error, reconnecting", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(reconnectBackoff):
			}
		}
	}
}

func (d *Driver) buildURL() string {
	u := url.URL{Scheme: "wss", Host: d.relayHost, Path: "/xrpc/com.atproto.sync.subscribeRepos"}
	if seq := d.cursor.Get(); seq > 0 {
		q := u.Query()
		q.Set("cursor", strconv.FormatInt(seq, 10))
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (d *Driver) connect(ctx context.Context) error {
	wsURL := d.buildURL()
	d.log.Info("connecting to relay", "url", wsURL)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, http.Header{
		"User-Agent": []string{"firehose-projector/0.1"},
	})
	if err != nil {
		return fmt.Errorf("firehose: dial: %w", err)
	}
	defer conn.Close()

	rsc := &stream.RepoStreamCallbacks{
		RepoCommit: func(evt *atproto.SyncSubscribeRepos_Commit) error {
			d.eventCount.Add(1)
			if err := d.processCommit(context.Background(), evt); err != nil {
				d.log.Error("commit processing failed, enqueued for retry", "repo", evt.Repo, "rev", evt.Rev, "error", err)
				d.enqueueFailedCommit(evt)
			}
			// Open question (a): cursor advances on enqueue, since the
			// failed message is durably captured either way.
			d.cursor.Set(evt.Seq)
			return nil
		},
		RepoHandle: func(evt *atproto.SyncSubscribeRepos_Handle) error {
			d.eventCount.Add(1)
			if err := d.handlers.HandleHandleUpdate(context.Background(), evt.Did, evt.Handle); err != nil {
				d.log.Error("handle update failed", "did", evt.Did, "error", err)
			}
			d.cursor.Set(evt.Seq)
			return nil
		},
		RepoIdentity: func(evt *atproto.SyncSubscribeRepos_Identity) error {
			d.eventCount.Add(1)
			if err := d.handlers.HandleIdentity(context.Background(), evt.Did); err != nil {
				d.log.Error("identity refresh failed", "did", evt.Did, "error", err)
			}
			d.cursor.Set(evt.Seq)
			return nil
		},
		RepoTombstone: func(evt *atproto.SyncSubscribeRepos_Tombstone) error {
			d.eventCount.Add(1)
			if err := d.handlers.HandleActorDelete(context.Background(), evt.Did); err != nil {
				d.log.Error("tombstone delete failed", "did", evt.Did, "error", err)
			}
			d.cursor.Set(evt.Seq)
			return nil
		},
		RepoInfo: func(evt *atproto.SyncSubscribeRepos_Info) error {
			d.log.Info("relay info message", "name", evt.Name, "message", evt.Message)
			return nil
		},
		Error: func(errf *stream.ErrorFrame) error {
			return fmt.Errorf("firehose: error frame: %s: %s", errf.Error, errf.Message)
		},
	}

	sched := parallel.NewScheduler(parallelWorkers, parallelQueueLen, conn.RemoteAddr().String(), rsc.EventHandler)
	return stream.HandleRepoStream(ctx, conn, sched, d.log)
}

// processCommit decodes the commit's CAR block map and dispatches each op
// to the matching record handler.
func (d *Driver) processCommit(ctx context.Context, evt *atproto.SyncSubscribeRepos_Commit) error {
	if len(evt.Blocks) == 0 {
		return nil
	}

	r, err := repo.ReadRepoFromCar(ctx, bytes.NewReader(evt.Blocks))
	if err != nil {
		return fmt.Errorf("read CAR: %w", err)
	}

	for _, op := range evt.Ops {
		if err := d.processOp(ctx, r, evt.Repo, op); err != nil {
			return fmt.Errorf("op %s %s: %w", op.Action, op.Path, err)
		}
	}
	return nil
}

func (d *Driver) processOp(ctx context.Context, r *repo.Repo, repoDID string, op *atproto.SyncSubscribeRepos_RepoOp) error {
	uri := "at://" + repoDID + "/" + op.Path

	switch op.Action {
	case "create", "update":
		recCid, recBytes, err := r.GetRecordBytes(ctx, op.Path)
		if err != nil {
			// the referenced block may be absent from this partial CAR; skip.
			d.log.Warn("op cid not found in block map, skipping", "uri", uri)
			return nil
		}
		return d.dispatchWrite(ctx, op.Action, repoDID, uri, op.Path, recCid.String(), recBytes)
	case "delete":
		return d.dispatchDelete(ctx, repoDID, op.Path, uri)
	default:
		d.log.Warn("unrecognized op action", "action", op.Action, "path", op.Path)
		return nil
	}
}

func (d *Driver) dispatchWrite(ctx context.Context, action, repoDID, uri, path, cidStr string, recBytes *[]byte) error {
	return DispatchRecord(ctx, d.handlers, action, repoDID, uri, path, cidStr, *recBytes)
}

// DispatchRecord unmarshals the CBOR record at path according to its
// collection and invokes the matching handler. It is shared by the live
// firehose driver (action "create"/"update") and the one-shot backfill CLI,
// which replays a repo's current state as a sequence of creates.
func DispatchRecord(ctx context.Context, h *handlers.Handlers, action, repoDID, uri, path, cidStr string, recBytes []byte) error {
	collection := collectionOf(path)

	switch collection {
	case "app.bsky.feed.post":
		if action != "create" {
			return nil
		}
		var rec bsky.FeedPost
		if err := rec.UnmarshalCBOR(bytes.NewReader(recBytes)); err != nil {
			return fmt.Errorf("unmarshal feed post: %w", err)
		}
		return h.HandlePostCreate(ctx, repoDID, uri, cidStr, &rec)
	case "app.bsky.feed.like":
		if action != "create" {
			return nil
		}
		var rec bsky.FeedLike
		if err := rec.UnmarshalCBOR(bytes.NewReader(recBytes)); err != nil {
			return fmt.Errorf("unmarshal feed like: %w", err)
		}
		return h.HandleLikeCreate(ctx, repoDID, rkeyOf(path), &rec)
	case "app.bsky.feed.repost":
		if action != "create" {
			return nil
		}
		var rec bsky.FeedRepost
		if err := rec.UnmarshalCBOR(bytes.NewReader(recBytes)); err != nil {
			return fmt.Errorf("unmarshal feed repost: %w", err)
		}
		return h.HandleRepostCreate(ctx, repoDID, rkeyOf(path), &rec)
	case "app.bsky.graph.follow":
		if action != "create" {
			return nil
		}
		var rec bsky.GraphFollow
		if err := rec.UnmarshalCBOR(bytes.NewReader(recBytes)); err != nil {
			return fmt.Errorf("unmarshal graph follow: %w", err)
		}
		return h.HandleFollowCreate(ctx, repoDID, rkeyOf(path), &rec)
	case "app.bsky.actor.profile":
		var rec bsky.ActorProfile
		if err := rec.UnmarshalCBOR(bytes.NewReader(recBytes)); err != nil {
			return fmt.Errorf("unmarshal actor profile: %w", err)
		}
		if action == "create" {
			return h.HandleActorCreate(ctx, repoDID)
		}
		return h.HandleActorUpdate(ctx, repoDID, &rec)
	default:
		return nil
	}
}

func (d *Driver) dispatchDelete(ctx context.Context, repoDID, path, uri string) error {
	rkey := rkeyOf(path)
	switch {
	case strings.HasPrefix(path, "app.bsky.feed.post"):
		return d.handlers.HandlePostDelete(ctx, uri)
	case strings.HasPrefix(path, "app.bsky.feed.like"):
		return d.handlers.HandleLikeDelete(ctx, repoDID, rkey)
	case strings.HasPrefix(path, "app.bsky.feed.repost"):
		return d.handlers.HandleRepostDelete(ctx, repoDID, rkey)
	case strings.HasPrefix(path, "app.bsky.graph.follow"):
		return d.handlers.HandleFollowDelete(ctx, repoDID, rkey)
	default:
		return nil
	}
}

func collectionOf(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[:i]
	}
	return path
}

func rkeyOf(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

func (d *Driver) enqueueFailedCommit(evt *atproto.SyncSubscribeRepos_Commit) {
	var buf bytes.Buffer
	if err := evt.MarshalCBOR(&buf); err != nil {
		d.log.Error("failed to encode commit for retry queue", "repo", evt.Repo, "rev", evt.Rev, "error", err)
		return
	}
	key := fmt.Sprintf("%s::%s", evt.Repo, evt.Rev)
	if err := d.failed.Put(key, buf.Bytes()); err != nil {
		d.log.Error("failed to persist retry entry", "key", key, "error", err)
	}
}

// drainFailedQueue replays every entry captured from a prior run before the
// live tail starts, per the startup-replay contract.
func (d *Driver) drainFailedQueue(ctx context.Context) {
	for key, entry := range d.failed.Snapshot() {
		var evt atproto.SyncSubscribeRepos_Commit
		if err := evt.UnmarshalCBOR(bytes.NewReader(entry.Message)); err != nil {
			d.log.Error("failed queue entry undecodable, discarding", "key", key, "error", err)
			_ = d.failed.Remove(key)
			continue
		}

		if err := d.processCommit(ctx, &evt); err != nil {
			exhausted, ierr := d.failed.IncrementRetry(key)
			if ierr != nil {
				d.log.Error("failed to update retry counter", "key", key, "error", ierr)
				continue
			}
			if exhausted {
				d.log.Warn("failed queue entry exhausted retries, discarding", "key", key)
				_ = d.failed.Remove(key)
			}
			continue
		}
		_ = d.failed.Remove(key)
	}
}

// throttleLoop measures events-per-second and adjusts the shared rate
// limiter's minTime to shed outbound fan-out pressure when the firehose is
// running hot.
func (d *Driver) throttleLoop(ctx context.Context) {
	ticker := time.NewTicker(throttleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := d.eventCount.Swap(0)
			eps := float64(n) / throttleInterval.Seconds()
			d.lastEPS.Store(int64(eps))
			d.log.Debug("firehose events per second", "eps", eps)

			switch {
			case eps >= throttleHighEPS:
				d.limiter.SetMinTime(throttleHighGap)
			case eps >= throttleMidEPS:
				d.limiter.SetMinTime(throttleMidGap)
			default:
				d.limiter.Baseline()
			}
		}
	}
}
