// Package handlers maps one validated lexicon record per record kind to
// graph mutations, using a Resolver for any user/post materialization the
// mutation depends on. Every handler here is idempotent.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bluesky-social/indigo/api/bsky"

	"github.com/bskyproj/firehose-projector/internal/domain"
	"github.com/bskyproj/firehose-projector/internal/resolver"
	"github.com/bskyproj/firehose-projector/internal/textnorm"
)

// Handlers groups every record-kind handler over a shared store and
// resolver.
type Handlers struct {
	store domain.GraphStore
	res   *resolver.Resolver
	log   *slog.Logger
}

// New builds a Handlers set.
func New(store domain.GraphStore, res *resolver.Resolver, log *slog.Logger) *Handlers {
	return &Handlers{store: store, res: res, log: log}
}

// HandlePostCreate materializes the post at uri via insertPostRecord. A
// soft-miss author warns and skips rather than erroring.
func (h *Handlers) HandlePostCreate(ctx context.Context, repo, uri, cid string, record *bsky.FeedPost) error {
	post, err := h.res.InsertPostRecord(ctx, record, repo, uri, cid)
	if err != nil {
		return fmt.Errorf("handlers: post create %s: %w", uri, err)
	}
	if post == nil {
		h.log.Warn("post create soft miss", "uri", uri)
	}
	return nil
}

// HandlePostDelete removes a post by uri; the store cascades edge cleanup.
func (h *Handlers) HandlePostDelete(ctx context.Context, uri string) error {
	if err := h.store.DeletePost(ctx, uri); err != nil {
		return fmt.Errorf("handlers: post delete %s: %w", uri, err)
	}
	h.res.PurgePost(uri)
	return nil
}

// feedPostCollection is the substring a like/repost subject uri must
// contain; a like on a feed generator or other non-post record is a no-op.
const feedPostCollection = "app.bsky.feed.post"

// HandleLikeCreate resolves the liked post and the liking user, then adds
// the like edge keyed by rkey. Likes whose subject isn't a feed post
// (likes on feed generators) are skipped.
func (h *Handlers) HandleLikeCreate(ctx context.Context, repo, rkey string, record *bsky.FeedLike) error {
	if record.Subject == nil || !strings.Contains(record.Subject.Uri, feedPostCollection) {
		return nil
	}

	post, err := h.res.ResolvePost(ctx, record.Subject.Uri)
	if err != nil {
		return fmt.Errorf("handlers: like create resolve post %s: %w", record.Subject.Uri, err)
	}
	if post == nil {
		h.log.Warn("like create soft miss, subject post absent", "uri", record.Subject.Uri)
		return nil
	}

	author, err := h.res.ResolveUser(ctx, repo)
	if err != nil {
		return fmt.Errorf("handlers: like create resolve author %s: %w", repo, err)
	}
	if author == nil {
		h.log.Warn("like create soft miss, author absent", "did", repo)
		return nil
	}

	if err := h.store.AddLikeEdge(ctx, post.URI, author.DID, rkey); err != nil {
		return fmt.Errorf("handlers: add like edge %s/%s: %w", post.URI, rkey, err)
	}
	return nil
}

// HandleLikeDelete removes the like edge identified by (repo, rkey),
// wherever in the graph it currently hangs.
func (h *Handlers) HandleLikeDelete(ctx context.Context, repo, rkey string) error {
	if err := h.store.RemoveLikeEdge(ctx, repo, rkey); err != nil {
		return fmt.Errorf("handlers: remove like edge %s/%s: %w", repo, rkey, err)
	}
	return nil
}

// HandleRepostCreate resolves the reposted post and the reposting user,
// then adds the repost edge keyed by rkey.
func (h *Handlers) HandleRepostCreate(ctx context.Context, repo, rkey string, record *bsky.FeedRepost) error {
	if record.Subject == nil {
		return nil
	}

	post, err := h.res.ResolvePost(ctx, record.Subject.Uri)
	if err != nil {
		return fmt.Errorf("handlers: repost create resolve post %s: %w", record.Subject.Uri, err)
	}
	if post == nil {
		h.log.Warn("repost create soft miss, subject post absent", "uri", record.Subject.Uri)
		return nil
	}

	author, err := h.res.ResolveUser(ctx, repo)
	if err != nil {
		return fmt.Errorf("handlers: repost create resolve author %s: %w", repo, err)
	}
	if author == nil {
		h.log.Warn("repost create soft miss, author absent", "did", repo)
		return nil
	}

	if err := h.store.AddRepostEdge(ctx, post.URI, author.DID, rkey); err != nil {
		return fmt.Errorf("handlers: add repost edge %s/%s: %w", post.URI, rkey, err)
	}
	return nil
}

// HandleRepostDelete removes the repost edge identified by (repo, rkey).
func (h *Handlers) HandleRepostDelete(ctx context.Context, repo, rkey string) error {
	if err := h.store.RemoveRepostEdge(ctx, repo, rkey); err != nil {
		return fmt.Errorf("handlers: remove repost edge %s/%s: %w", repo, rkey, err)
	}
	return nil
}

// HandleFollowCreate resolves the subject and author users, then adds the
// follow edge on the subject's followers set.
func (h *Handlers) HandleFollowCreate(ctx context.Context, repo, rkey string, record *bsky.GraphFollow) error {
	subject, err := h.res.ResolveUser(ctx, record.Subject)
	if err != nil {
		return fmt.Errorf("handlers: follow create resolve subject %s: %w", record.Subject, err)
	}
	if subject == nil {
		h.log.Warn("follow create soft miss, subject absent", "did", record.Subject)
		return nil
	}

	author, err := h.res.ResolveUser(ctx, repo)
	if err != nil {
		return fmt.Errorf("handlers: follow create resolve author %s: %w", repo, err)
	}
	if author == nil {
		h.log.Warn("follow create soft miss, author absent", "did", repo)
		return nil
	}

	if err := h.store.AddFollowEdge(ctx, subject.DID, author.DID, rkey); err != nil {
		return fmt.Errorf("handlers: add follow edge %s/%s: %w", subject.DID, rkey, err)
	}
	return nil
}

// HandleFollowDelete removes the follow edge identified by (repo, rkey).
func (h *Handlers) HandleFollowDelete(ctx context.Context, repo, rkey string) error {
	if err := h.store.RemoveFollowEdge(ctx, repo, rkey); err != nil {
		return fmt.Errorf("handlers: remove follow edge %s/%s: %w", repo, rkey, err)
	}
	return nil
}

// HandleActorCreate materializes the user for repo. The firehose record
// itself carries no handle, so a user not already cached or stored is
// fetched through getProfile.
func (h *Handlers) HandleActorCreate(ctx context.Context, repo string) error {
	if _, err := h.res.ResolveUser(ctx, repo); err != nil {
		return fmt.Errorf("handlers: actor create %s: %w", repo, err)
	}
	return nil
}

// HandleActorUpdate resolves the user, then null-coalesces displayName/bio
// from the profile-update record.
func (h *Handlers) HandleActorUpdate(ctx context.Context, repo string, record *bsky.ActorProfile) error {
	user, err := h.res.ResolveUser(ctx, repo)
	if err != nil {
		return fmt.Errorf("handlers: actor update resolve %s: %w", repo, err)
	}
	if user == nil {
		h.log.Warn("actor update soft miss", "did", repo)
		return nil
	}

	var displayName, bio *string
	if record != nil {
		if record.DisplayName != nil && *record.DisplayName != "" {
			v := textnorm.String(*record.DisplayName)
			displayName = &v
		}
		if record.Description != nil && *record.Description != "" {
			v := textnorm.String(*record.Description)
			bio = &v
		}
	}

	if err := h.store.UpdateUserProfile(ctx, repo, displayName, bio); err != nil {
		return fmt.Errorf("handlers: update user profile %s: %w", repo, err)
	}
	return nil
}

// HandleIdentity treats an #identity message as a profile refresh: it is
// semantically equivalent to HandleActorUpdate with no new fields, forcing
// resolveUser to re-fetch if the user is not yet cached or stored.
func (h *Handlers) HandleIdentity(ctx context.Context, did string) error {
	return h.HandleActorUpdate(ctx, did, nil)
}

// HandleHandleUpdate resolves the user, then updates their handle to the
// normalized new value.
func (h *Handlers) HandleHandleUpdate(ctx context.Context, did, newHandle string) error {
	user, err := h.res.ResolveUser(ctx, did)
	if err != nil {
		return fmt.Errorf("handlers: handle update resolve %s: %w", did, err)
	}
	if user == nil {
		h.log.Warn("handle update soft miss", "did", did)
		return nil
	}

	if err := h.store.UpdateUserHandle(ctx, did, textnorm.String(newHandle)); err != nil {
		return fmt.Errorf("handlers: update handle %s: %w", did, err)
	}
	return nil
}

// HandleActorDelete (tombstone) deletes the user by did; the store cascades
// to delete all of that user's posts.
func (h *Handlers) HandleActorDelete(ctx context.Context, did string) error {
	if err := h.store.DeleteUser(ctx, did); err != nil {
		return fmt.Errorf("handlers: actor delete %s: %w", did, err)
	}
	h.res.PurgeUser(did)
	return nil
}
