package resolver

import (
	"context"

	"github.com/bluesky-social/indigo/api/bsky"

	"github.com/bskyproj/firehose-projector/internal/apiclient"
)

// fakeAPI is a scripted profileAPI: each DID/URI maps to either a profile
// view, a post view, or neither (in which case apiclient.ErrNotFound is
// returned, the soft-miss signal resolveUser/resolvePost depend on).
type fakeAPI struct {
	profiles map[string]*bsky.ActorDefs_ProfileViewDetailed
	posts    map[string]*bsky.FeedDefs_PostView
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		profiles: make(map[string]*bsky.ActorDefs_ProfileViewDetailed),
		posts:    make(map[string]*bsky.FeedDefs_PostView),
	}
}

func (a *fakeAPI) GetProfile(ctx context.Context, did string) (*bsky.ActorDefs_ProfileViewDetailed, error) {
	p, ok := a.profiles[did]
	if !ok {
		return nil, apiclient.ErrNotFound
	}
	return p, nil
}

func (a *fakeAPI) GetPost(ctx context.Context, uri string) (*bsky.FeedDefs_PostView, error) {
	p, ok := a.posts[uri]
	if !ok {
		return nil, apiclient.ErrNotFound
	}
	return p, nil
}

func strPtr(s string) *string { return &s }
