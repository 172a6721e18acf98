package domain

import "context"

// GraphStore is the persistence boundary the resolver and record handlers
// are written against. It is implemented by internal/graphdb against the
// external EdgeQL-like graph database; tests implement it with an
// in-memory fake.
//
// Every mutation here is expected to be idempotent: re-applying the same
// logical operation (insert-unless-conflict, edge add as set-union, edge
// remove as set-difference, delete as no-op-if-absent) must leave the
// store in the same state as applying it once.
type GraphStore interface {
	// GetUserByDID returns the user for did, or (nil, nil) if no such user
	// exists. A non-nil error indicates an unexpected store failure.
	GetUserByDID(ctx context.Context, did string) (*User, error)

	// InsertUserUnlessHandleConflict inserts a new user unless handle is
	// already held by a different did, in which case it returns the
	// conflicting row (existing=true) instead of inserting. This is the
	// conflict-on-handle-first strategy the resolver's handle-move
	// reconciliation depends on.
	InsertUserUnlessHandleConflict(ctx context.Context, u *User) (conflict *User, existing bool, err error)

	// InsertUserUnlessDIDConflict inserts a new user unless did is already
	// present, in which case it returns the existing row. Used as the
	// fallback path when a handle-conflict resolution itself races on did.
	InsertUserUnlessDIDConflict(ctx context.Context, u *User) (conflict *User, existing bool, err error)

	// UpdateUserHandle changes an existing user's handle.
	UpdateUserHandle(ctx context.Context, did, newHandle string) error

	// UpdateUserProfile null-coalesces displayName/bio: a nil pointer leaves
	// the existing value untouched.
	UpdateUserProfile(ctx context.Context, did string, displayName, bio *string) error

	// DeleteUser removes a user by did. The store cascades to delete all of
	// that user's posts.
	DeleteUser(ctx context.Context, did string) error

	// GetPostByURI returns the post at uri, or (nil, nil) if absent.
	GetPostByURI(ctx context.Context, uri string) (*Post, error)

	// InsertPostUnlessConflict inserts a new post unless uri is already
	// present, in which case it returns the existing row.
	InsertPostUnlessConflict(ctx context.Context, rec *NewPostRecord) (post *Post, existing bool, err error)

	// DeletePost removes a post by uri. The store cascades to clear any
	// parent/root/quoted references to it and to remove edges targeting it.
	DeletePost(ctx context.Context, uri string) error

	// AddLikeEdge adds to Post.likes, keyed by (userDID, rkey) on the
	// originating like record.
	AddLikeEdge(ctx context.Context, postURI, userDID, rkey string) error

	// RemoveLikeEdge removes the likes edge whose edge property rkey
	// matches, regardless of which post it hangs off of: a delete op only
	// carries (repo, rkey), not the subject uri, so the store locates the
	// edge by its (source_did, rkey) identity instead of a known target.
	RemoveLikeEdge(ctx context.Context, userDID, rkey string) error

	// AddRepostEdge / RemoveRepostEdge maintain Post.reposts the same way.
	AddRepostEdge(ctx context.Context, postURI, userDID, rkey string) error
	RemoveRepostEdge(ctx context.Context, userDID, rkey string) error

	// AddFollowEdge / RemoveFollowEdge maintain the subject user's
	// followers set (the author is the follower, the subject is followed).
	AddFollowEdge(ctx context.Context, subjectDID, authorDID, rkey string) error
	RemoveFollowEdge(ctx context.Context, authorDID, rkey string) error
}
