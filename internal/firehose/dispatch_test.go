package firehose

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bskyproj/firehose-projector/internal/apiclient"
	"github.com/bskyproj/firehose-projector/internal/cache"
	"github.com/bskyproj/firehose-projector/internal/domain"
	"github.com/bskyproj/firehose-projector/internal/handlers"
	"github.com/bskyproj/firehose-projector/internal/ratelimit"
	"github.com/bskyproj/firehose-projector/internal/resolver"
)

func TestCollectionOf(t *testing.T) {
	assert.Equal(t, "app.bsky.feed.post", collectionOf("app.bsky.feed.post/3k2abc"))
	assert.Equal(t, "justrkey", collectionOf("justrkey"))
}

func TestRkeyOf(t *testing.T) {
	assert.Equal(t, "3k2abc", rkeyOf("app.bsky.feed.post/3k2abc"))
	assert.Equal(t, "justrkey", rkeyOf("justrkey"))
}

func newTestHandlers(t *testing.T, store *fakeStore) *handlers.Handlers {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	log := slog.New(slog.DiscardHandler)
	limiter := ratelimit.New(ctx, log)
	api := apiclient.New("http://127.0.0.1:0", limiter)
	res := resolver.New(store, api, cache.NewPresence(100), cache.NewPresence(100), log)
	return handlers.New(store, res, log)
}

type cborMarshaler interface {
	MarshalCBOR(w io.Writer) error
}

func marshalCBOR(t *testing.T, m cborMarshaler) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, m.MarshalCBOR(&buf))
	return buf.Bytes()
}

func TestDispatchRecordPostCreateInsertsPost(t *testing.T) {
	store := newFakeStore()
	store.users["did:plc:author"] = &domain.User{DID: "did:plc:author", Handle: "author.bsky.social"}
	h := newTestHandlers(t, store)

	rec := &bsky.FeedPost{Text: "hello firehose", CreatedAt: "2024-01-01T00:00:00Z"}
	recBytes := marshalCBOR(t, rec)

	uri := "at://did:plc:author/app.bsky.feed.post/abc123"
	err := DispatchRecord(context.Background(), h, "create", "did:plc:author", uri, "app.bsky.feed.post/abc123", "bafycid", recBytes)
	require.NoError(t, err)

	assert.Contains(t, store.posts, uri)
	assert.Equal(t, "hello firehose", store.posts[uri].Text)
}

func TestDispatchRecordLikeCreateIgnoresUpdateAction(t *testing.T) {
	store := newFakeStore()
	h := newTestHandlers(t, store)

	rec := &bsky.FeedLike{}
	recBytes := marshalCBOR(t, rec)

	err := DispatchRecord(context.Background(), h, "update", "did:plc:a", "at://did:plc:a/app.bsky.feed.like/1", "app.bsky.feed.like/1", "bafy1", recBytes)
	require.NoError(t, err)
	assert.Empty(t, store.likeEdges)
}

func TestDispatchRecordUnknownCollectionIsNoOp(t *testing.T) {
	store := newFakeStore()
	h := newTestHandlers(t, store)

	err := DispatchRecord(context.Background(), h, "create", "did:plc:a", "at://did:plc:a/app.bsky.feed.generator/1", "app.bsky.feed.generator/1", "bafy1", []byte{0xa0})
	require.NoError(t, err)
}

func TestDispatchRecordActorProfileUpdateRoutesToActorUpdate(t *testing.T) {
	store := newFakeStore()
	store.users["did:plc:a"] = &domain.User{DID: "did:plc:a", Handle: "a.bsky.social"}
	h := newTestHandlers(t, store)

	displayName := "New Name"
	rec := &bsky.ActorProfile{DisplayName: &displayName}
	recBytes := marshalCBOR(t, rec)

	err := DispatchRecord(context.Background(), h, "update", "did:plc:a", "at://did:plc:a/app.bsky.actor.profile/self", "app.bsky.actor.profile/self", "bafy1", recBytes)
	require.NoError(t, err)
	assert.Equal(t, "New Name", store.users["did:plc:a"].DisplayName)
}
