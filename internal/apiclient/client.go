// Package apiclient is the thin typed wrapper over the outbound
// getProfile/getPost XRPC calls, layered on top of the batcher, coalescer,
// and rate limiter so that dozens of concurrent resolver calls for the same
// or overlapping keys collapse into a handful of batched HTTP requests.
package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/xrpc"

	"github.com/bskyproj/firehose-projector/internal/batch"
	"github.com/bskyproj/firehose-projector/internal/coalesce"
	"github.com/bskyproj/firehose-projector/internal/ratelimit"
)

// maxBatch is the upstream's per-request cap on actors/uris.
const maxBatch = 25

// batchWindow is how long the batcher waits for more callers before
// flushing a partial batch.
const batchWindow = 1 * time.Second

// ErrNotFound marks a soft miss: the referent does not exist upstream.
// Callers treat it as "nonexistent", not as a failure. Client's own
// GetProfile/GetPost report a referent absent from the batch response as a
// nil value with a nil error rather than returning ErrNotFound.
var ErrNotFound = errors.New("apiclient: not found")

// Client exposes getProfile(did) and getPost(uri).
type Client struct {
	xrpc    *xrpc.Client
	limiter *ratelimit.Limiter

	profileCoalescer *coalesce.Coalescer
	postCoalescer    *coalesce.Coalescer

	profileBatcher *batch.Batcher[*bsky.ActorDefs_ProfileViewDetailed]
	postBatcher    *batch.Batcher[*bsky.FeedDefs_PostView]
}

// New creates a Client against host (e.g. https://public.api.bsky.app),
// sharing the given rate limiter with every other outbound caller in the
// process.
func New(host string, limiter *ratelimit.Limiter) *Client {
	c := &Client{
		xrpc:             &xrpc.Client{Client: new(http.Client), Host: host},
		limiter:          limiter,
		profileCoalescer: coalesce.New(),
		postCoalescer:    coalesce.New(),
	}
	c.profileBatcher = batch.New(maxBatch, batchWindow, c.fetchProfiles)
	c.postBatcher = batch.New(maxBatch, batchWindow, c.fetchPosts)
	return c
}

// GetProfile resolves a single DID's profile, coalescing concurrent callers
// for the same DID and batching distinct DIDs into one getProfiles call.
func (c *Client) GetProfile(ctx context.Context, did string) (*bsky.ActorDefs_ProfileViewDetailed, error) {
	return coalesce.Limit(c.profileCoalescer, did, func() (*bsky.ActorDefs_ProfileViewDetailed, error) {
		return c.profileBatcher.Add(ctx, did)
	})
}

// GetPost resolves a single post's record, coalescing and batching the
// same way GetProfile does.
func (c *Client) GetPost(ctx context.Context, uri string) (*bsky.FeedDefs_PostView, error) {
	return coalesce.Limit(c.postCoalescer, uri, func() (*bsky.FeedDefs_PostView, error) {
		return c.postBatcher.Add(ctx, uri)
	})
}

func (c *Client) fetchProfiles(ctx context.Context, dids []string) (map[string]*bsky.ActorDefs_ProfileViewDetailed, error) {
	out, err := ratelimit.Schedule(ctx, c.limiter, "getProfiles", func(ctx context.Context) (*bsky.ActorGetProfiles_Output, error) {
		resp, err := bsky.ActorGetProfiles(ctx, c.xrpc, dids)
		if err != nil {
			return nil, classifyXRPCError(err)
		}
		return resp, nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return map[string]*bsky.ActorDefs_ProfileViewDetailed{}, nil
		}
		return nil, fmt.Errorf("apiclient: getProfiles: %w", err)
	}

	result := make(map[string]*bsky.ActorDefs_ProfileViewDetailed, len(out.Profiles))
	for _, p := range out.Profiles {
		result[p.Did] = p
	}
	return result, nil
}

func (c *Client) fetchPosts(ctx context.Context, uris []string) (map[string]*bsky.FeedDefs_PostView, error) {
	out, err := ratelimit.Schedule(ctx, c.limiter, "getPosts", func(ctx context.Context) (*bsky.FeedGetPosts_Output, error) {
		resp, err := bsky.FeedGetPosts(ctx, c.xrpc, uris)
		if err != nil {
			return nil, classifyXRPCError(err)
		}
		return resp, nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return map[string]*bsky.FeedDefs_PostView{}, nil
		}
		return nil, fmt.Errorf("apiclient: getPosts: %w", err)
	}

	result := make(map[string]*bsky.FeedDefs_PostView, len(out.Posts))
	for _, p := range out.Posts {
		result[p.Uri] = p
	}
	return result, nil
}

// classifyXRPCError turns a 429 xrpc error into a ratelimit.RateLimitedError
// (so the limiter can honor the server's reset headers) and leaves every
// other error as-is; the limiter retries those with its ordinary backoff.
func classifyXRPCError(err error) error {
	var xe *xrpc.Error
	if errors.As(err, &xe) && xe.StatusCode == http.StatusTooManyRequests {
		return &ratelimit.RateLimitedError{
			StatusCode: xe.StatusCode,
			Header:     xe.Headers,
			Err:        err,
		}
	}
	return err
}
