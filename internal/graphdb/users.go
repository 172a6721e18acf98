package graphdb

import (
	"context"
	"fmt"

	"github.com/bskyproj/firehose-projector/internal/domain"
)

type userRow struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
	Bio         string `json:"bio"`
}

func (r userRow) toDomain() *domain.User {
	return &domain.User{DID: r.DID, Handle: r.Handle, DisplayName: r.DisplayName, Bio: r.Bio}
}

const selectUserByDID = `
select User { did, handle, displayName, bio }
filter .did = <str>$did
limit 1`

// GetUserByDID returns the user for did, or (nil, nil) if absent.
func (c *Client) GetUserByDID(ctx context.Context, did string) (*domain.User, error) {
	var rows []userRow
	if err := c.query(ctx, selectUserByDID, map[string]any{"did": did}, &rows); err != nil {
		return nil, fmt.Errorf("graphdb: get user by did: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toDomain(), nil
}

const insertUserUnlessHandleConflict = `
select (
	insert User {
		did := <str>$did,
		handle := <str>$handle,
		displayName := <str>$displayName,
		bio := <str>$bio,
	}
	unless conflict on .handle
	else (select User { did, handle, displayName, bio } filter .handle = <str>$handle)
) { did, handle, displayName, bio }`

// InsertUserUnlessHandleConflict inserts u unless its handle is already
// held, in which case the conflicting row (which may belong to a different
// did) is returned instead.
func (c *Client) InsertUserUnlessHandleConflict(ctx context.Context, u *domain.User) (*domain.User, bool, error) {
	var rows []userRow
	args := map[string]any{"did": u.DID, "handle": u.Handle, "displayName": u.DisplayName, "bio": u.Bio}
	if err := c.query(ctx, insertUserUnlessHandleConflict, args, &rows); err != nil {
		return nil, false, fmt.Errorf("graphdb: insert user unless handle conflict: %w", err)
	}
	if len(rows) == 0 {
		return nil, false, fmt.Errorf("graphdb: insert user unless handle conflict: empty result")
	}
	row := rows[0]
	if row.DID != u.DID {
		return row.toDomain(), true, nil
	}
	return row.toDomain(), false, nil
}

const insertUserUnlessDIDConflict = `
select (
	insert User {
		did := <str>$did,
		handle := <str>$handle,
		displayName := <str>$displayName,
		bio := <str>$bio,
	}
	unless conflict on .did
	else (select User { did, handle, displayName, bio } filter .did = <str>$did)
) { did, handle, displayName, bio }`

// InsertUserUnlessDIDConflict inserts u unless did is already present, in
// which case the existing row is returned.
func (c *Client) InsertUserUnlessDIDConflict(ctx context.Context, u *domain.User) (*domain.User, bool, error) {
	var rows []userRow
	args := map[string]any{"did": u.DID, "handle": u.Handle, "displayName": u.DisplayName, "bio": u.Bio}
	if err := c.query(ctx, insertUserUnlessDIDConflict, args, &rows); err != nil {
		return nil, false, fmt.Errorf("graphdb: insert user unless did conflict: %w", err)
	}
	if len(rows) == 0 {
		return nil, false, fmt.Errorf("graphdb: insert user unless did conflict: empty result")
	}
	row := rows[0]
	return row.toDomain(), row.Handle != u.Handle, nil
}

const updateUserHandle = `
update User filter .did = <str>$did
set { handle := <str>$handle }`

// UpdateUserHandle changes an existing user's handle.
func (c *Client) UpdateUserHandle(ctx context.Context, did, newHandle string) error {
	if err := c.query(ctx, updateUserHandle, map[string]any{"did": did, "handle": newHandle}, nil); err != nil {
		return fmt.Errorf("graphdb: update user handle: %w", err)
	}
	return nil
}

const updateUserProfile = `
update User filter .did = <str>$did
set {
	displayName := <str>$displayName ?? .displayName,
	bio := <str>$bio ?? .bio,
}`

// UpdateUserProfile null-coalesces displayName/bio.
func (c *Client) UpdateUserProfile(ctx context.Context, did string, displayName, bio *string) error {
	args := map[string]any{"did": did, "displayName": displayName, "bio": bio}
	if err := c.query(ctx, updateUserProfile, args, nil); err != nil {
		return fmt.Errorf("graphdb: update user profile: %w", err)
	}
	return nil
}

const deleteUser = `
delete User filter .did = <str>$did`

// DeleteUser removes a user by did. The schema's cascade-delete policy on
// Post.author takes care of the user's posts.
func (c *Client) DeleteUser(ctx context.Context, did string) error {
	if err := c.query(ctx, deleteUser, map[string]any{"did": did}, nil); err != nil {
		return fmt.Errorf("graphdb: delete user: %w", err)
	}
	return nil
}
