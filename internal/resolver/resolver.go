// Package resolver materializes Users and Posts into the graph store on
// demand, reconciling the upstream's eventually-consistent handle↔did
// mapping and walking a post's parent/root/quoted chain.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bluesky-social/indigo/api/bsky"

	"github.com/bskyproj/firehose-projector/internal/apiclient"
	"github.com/bskyproj/firehose-projector/internal/cache"
	"github.com/bskyproj/firehose-projector/internal/domain"
	"github.com/bskyproj/firehose-projector/internal/graphdb"
	"github.com/bskyproj/firehose-projector/internal/textnorm"
)

// profileAPI is the outbound surface the resolver depends on. apiclient.Client
// satisfies it; tests substitute a fake to avoid driving real XRPC wire
// encoding.
type profileAPI interface {
	GetProfile(ctx context.Context, did string) (*bsky.ActorDefs_ProfileViewDetailed, error)
	GetPost(ctx context.Context, uri string) (*bsky.FeedDefs_PostView, error)
}

// Resolver wires the graph store, outbound API client, and presence caches
// together into the idempotent resolveUser/resolvePost/insertPostRecord
// operations every record handler depends on.
type Resolver struct {
	store     domain.GraphStore
	api       profileAPI
	userCache *cache.Presence
	postCache *cache.Presence
	log       *slog.Logger
}

// New builds a Resolver. userCache and postCache are independent presence
// caches keyed by did and AT-URI respectively.
func New(store domain.GraphStore, api *apiclient.Client, userCache, postCache *cache.Presence, log *slog.Logger) *Resolver {
	return &Resolver{store: store, api: api, userCache: userCache, postCache: postCache, log: log}
}

// ResolveUser materializes the User with the given did, lazily fetching and
// inserting it if absent. A (nil, nil) return means the upstream profile
// does not exist — this is a soft miss, not an error.
func (r *Resolver) ResolveUser(ctx context.Context, did string) (*domain.User, error) {
	if r.userCache.Has(did) {
		u, err := r.store.GetUserByDID(ctx, did)
		if err != nil {
			return nil, fmt.Errorf("resolver: resolve user %s: %w", did, err)
		}
		if u != nil {
			return u, nil
		}
		// cache says present but the row is gone; fall through to reinsert.
	}

	existing, err := r.store.GetUserByDID(ctx, did)
	if err != nil {
		return nil, fmt.Errorf("resolver: resolve user %s: %w", did, err)
	}
	if existing != nil {
		r.userCache.Mark(did)
		return existing, nil
	}

	profile, err := r.api.GetProfile(ctx, did)
	if err != nil {
		if errors.Is(err, apiclient.ErrNotFound) || isProfileNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolver: getProfile %s: %w", did, err)
	}
	if profile == nil {
		return nil, nil
	}

	candidate := profileToUser(did, profile)

	conflict, existingHandle, err := r.store.InsertUserUnlessHandleConflict(ctx, candidate)
	if err != nil {
		var ce *graphdb.ConflictError
		if errors.As(err, &ce) && ce.Column == "did" {
			// The insert raced on did rather than handle: a concurrent
			// resolver for the same did won, so re-select by did instead
			// of failing this one.
			reconciled, _, derr := r.store.InsertUserUnlessDIDConflict(ctx, candidate)
			if derr != nil {
				return nil, fmt.Errorf("resolver: re-resolve user %s after did race: %w", did, derr)
			}
			r.userCache.Mark(did)
			return reconciled, nil
		}
		return nil, fmt.Errorf("resolver: insert user %s: %w", did, err)
	}

	if !existingHandle {
		r.userCache.Mark(did)
		return conflict, nil
	}

	// The handle was already held by a different did: the handle has moved.
	if err := r.reconcileHandleMove(ctx, conflict.DID, candidate); err != nil {
		return nil, fmt.Errorf("resolver: reconcile handle move for %s: %w", did, err)
	}

	inserted, insertedConflict, err := r.store.InsertUserUnlessDIDConflict(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("resolver: insert user %s after handle move: %w", did, err)
	}
	if insertedConflict {
		if err := r.store.UpdateUserHandle(ctx, did, candidate.Handle); err != nil {
			return nil, fmt.Errorf("resolver: update handle for %s after did conflict: %w", did, err)
		}
	}

	r.userCache.Mark(did)
	return inserted, nil
}

// reconcileHandleMove fetches the previous owner's current profile and
// either deletes them (if they're gone too) or updates them to their
// current handle, freeing up candidate.Handle for the new owner.
func (r *Resolver) reconcileHandleMove(ctx context.Context, previousDID string, candidate *domain.User) error {
	prevProfile, err := r.api.GetProfile(ctx, previousDID)
	if err != nil {
		if errors.Is(err, apiclient.ErrNotFound) || isProfileNotFound(err) {
			return r.store.DeleteUser(ctx, previousDID)
		}
		return fmt.Errorf("getProfile for previous owner %s: %w", previousDID, err)
	}
	if prevProfile == nil {
		return r.store.DeleteUser(ctx, previousDID)
	}

	newHandle := textnorm.String(prevProfile.Handle)
	return r.store.UpdateUserHandle(ctx, previousDID, newHandle)
}

// ResolvePost materializes the Post at uri, lazily fetching and inserting
// it (along with its author) if absent. A (nil, nil) return is a soft
// miss.
func (r *Resolver) ResolvePost(ctx context.Context, uri string) (*domain.Post, error) {
	if r.postCache.Has(uri) {
		p, err := r.store.GetPostByURI(ctx, uri)
		if err != nil {
			return nil, fmt.Errorf("resolver: resolve post %s: %w", uri, err)
		}
		if p != nil {
			return p, nil
		}
	}

	existing, err := r.store.GetPostByURI(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("resolver: resolve post %s: %w", uri, err)
	}
	if existing != nil {
		r.postCache.Mark(uri)
		return existing, nil
	}

	view, err := r.api.GetPost(ctx, uri)
	if err != nil {
		if errors.Is(err, apiclient.ErrNotFound) || isPostNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolver: getPost %s: %w", uri, err)
	}
	if view == nil {
		return nil, nil
	}

	record, ok := view.Record.Val.(*bsky.FeedPost)
	if !ok || record == nil {
		return nil, fmt.Errorf("resolver: post %s record is not app.bsky.feed.post", uri)
	}
	if view.Author == nil || view.Author.Did == "" {
		return nil, fmt.Errorf("resolver: post %s missing author did", uri)
	}

	inserted, err := r.InsertPostRecord(ctx, record, view.Author.Did, uri, view.Cid)
	if err != nil {
		return nil, fmt.Errorf("resolver: materialize post %s: %w", uri, err)
	}
	if inserted == nil {
		return nil, nil
	}

	r.postCache.Mark(uri)
	return inserted, nil
}

// InsertPostRecord inserts a feed-post record authored by authorDID at uri
// (with content id cid), resolving its author and its parent/root/quoted
// chain. A (nil, nil) return means the record's author turned out to be a
// soft miss, so no row was inserted.
func (r *Resolver) InsertPostRecord(ctx context.Context, record *bsky.FeedPost, authorDID, uri, cid string) (*domain.Post, error) {
	author, err := r.ResolveUser(ctx, authorDID)
	if err != nil {
		return nil, fmt.Errorf("resolve author %s: %w", authorDID, err)
	}
	if author == nil {
		r.log.Warn("post author soft miss, skipping insert", "uri", uri, "author", authorDID)
		return nil, nil
	}

	rec := &domain.NewPostRecord{
		URI:       uri,
		CID:       cid,
		AuthorDID: authorDID,
		Text:      textnorm.String(record.Text),
		Langs:     textnorm.Slice(record.Langs),
		Tags:      textnorm.Slice(record.Tags),
		Labels:    textnorm.Slice(extractSelfLabels(record)),
	}
	if record.CreatedAt != "" {
		if t, perr := parseTimestamp(record.CreatedAt); perr == nil {
			rec.CreatedAt = t
		}
	}

	altText, embed := disambiguateEmbed(record.Embed)
	rec.AltText = textnorm.String(altText)
	if embed != nil {
		rec.Embed = &domain.Embed{
			Title:       textnorm.String(embed.Title),
			Description: textnorm.String(embed.Description),
			URI:         textnorm.String(embed.URI),
		}
	}
	if quotedURI := quotedURIFromEmbed(record.Embed); quotedURI != "" {
		if err := r.resolveChainRef(ctx, quotedURI, &rec.QuotedURI); err != nil {
			return nil, fmt.Errorf("resolve quoted %s: %w", quotedURI, err)
		}
	}

	if record.Reply != nil {
		var parentURI, rootURI string
		if record.Reply.Parent != nil {
			parentURI = record.Reply.Parent.Uri
		}
		if record.Reply.Root != nil {
			rootURI = record.Reply.Root.Uri
		}
		if parentURI != "" {
			if err := r.resolveChainRef(ctx, parentURI, &rec.ParentURI); err != nil {
				return nil, fmt.Errorf("resolve parent %s: %w", parentURI, err)
			}
		}
		if rootURI != "" {
			if rootURI == parentURI {
				rec.RootURI = rec.ParentURI
			} else if err := r.resolveChainRef(ctx, rootURI, &rec.RootURI); err != nil {
				return nil, fmt.Errorf("resolve root %s: %w", rootURI, err)
			}
		}
	}

	inserted, _, err := r.store.InsertPostUnlessConflict(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("insert post %s: %w", uri, err)
	}

	r.postCache.Mark(uri)
	return inserted, nil
}

// resolveChainRef resolves ref and, if found, assigns its uri into *dst;
// a soft miss leaves *dst at its zero value (unset reference) rather than
// failing the insert.
func (r *Resolver) resolveChainRef(ctx context.Context, ref string, dst *string) error {
	post, err := r.ResolvePost(ctx, ref)
	if err != nil {
		return err
	}
	if post == nil {
		return nil
	}
	*dst = post.URI
	return nil
}

// PurgeUser evicts did from the presence cache. Called by actor-delete so a
// subsequent reference lazily re-resolves instead of trusting a stale hit.
func (r *Resolver) PurgeUser(did string) {
	r.userCache.Purge(did)
}

// PurgePost evicts uri from the presence cache. Called by post-delete.
func (r *Resolver) PurgePost(uri string) {
	r.postCache.Purge(uri)
}

func profileToUser(did string, profile *bsky.ActorDefs_ProfileViewDetailed) *domain.User {
	displayName := profile.Handle
	if profile.DisplayName != nil && *profile.DisplayName != "" {
		displayName = *profile.DisplayName
	}
	bio := ""
	if profile.Description != nil {
		bio = *profile.Description
	}
	return &domain.User{
		DID:         did,
		Handle:      textnorm.String(profile.Handle),
		DisplayName: textnorm.String(displayName),
		Bio:         textnorm.String(bio),
	}
}

func isProfileNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "Profile not found")
}

func isPostNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "not found") || strings.Contains(msg, "could not find")
}
