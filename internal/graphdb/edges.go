package graphdb

import (
	"context"
	"fmt"
)

// Edges are modeled as a multi-link with an edge property rkey, so that
// adding the same edge twice is a no-op (set union) and removing an edge
// that was never added is also a no-op (set difference against an absent
// element). A delete op only carries (repo, rkey) with no subject uri, so
// the remove queries locate the edge by its (source_did, rkey) identity
// across every candidate target rather than by a known target uri.

const addLikeEdge = `
update Post filter .uri = <str>$postUri
set {
	likes += (
		select User filter .did = <str>$userDid
	) { @rkey := <str>$rkey }
}`

// AddLikeEdge records userDID liking postURI under the given rkey.
func (c *Client) AddLikeEdge(ctx context.Context, postURI, userDID, rkey string) error {
	args := map[string]any{"postUri": postURI, "userDid": userDID, "rkey": rkey}
	if err := c.query(ctx, addLikeEdge, args, nil); err != nil {
		return fmt.Errorf("graphdb: add like edge: %w", err)
	}
	return nil
}

const removeLikeEdge = `
update Post filter .likes.did = <str>$userDid and .likes@rkey = <str>$rkey
set {
	likes -= (
		select User filter .did = <str>$userDid
	)
}`

// RemoveLikeEdge is a no-op if no like with this (userDID, rkey) identity
// is currently present.
func (c *Client) RemoveLikeEdge(ctx context.Context, userDID, rkey string) error {
	args := map[string]any{"userDid": userDID, "rkey": rkey}
	if err := c.query(ctx, removeLikeEdge, args, nil); err != nil {
		return fmt.Errorf("graphdb: remove like edge: %w", err)
	}
	return nil
}

const addRepostEdge = `
update Post filter .uri = <str>$postUri
set {
	reposts += (
		select User filter .did = <str>$userDid
	) { @rkey := <str>$rkey }
}`

// AddRepostEdge records userDID reposting postURI.
func (c *Client) AddRepostEdge(ctx context.Context, postURI, userDID, rkey string) error {
	args := map[string]any{"postUri": postURI, "userDid": userDID, "rkey": rkey}
	if err := c.query(ctx, addRepostEdge, args, nil); err != nil {
		return fmt.Errorf("graphdb: add repost edge: %w", err)
	}
	return nil
}

const removeRepostEdge = `
update Post filter .reposts.did = <str>$userDid and .reposts@rkey = <str>$rkey
set {
	reposts -= (
		select User filter .did = <str>$userDid
	)
}`

// RemoveRepostEdge is a no-op if the edge is not currently present.
func (c *Client) RemoveRepostEdge(ctx context.Context, userDID, rkey string) error {
	args := map[string]any{"userDid": userDID, "rkey": rkey}
	if err := c.query(ctx, removeRepostEdge, args, nil); err != nil {
		return fmt.Errorf("graphdb: remove repost edge: %w", err)
	}
	return nil
}

const addFollowEdge = `
update User filter .did = <str>$subjectDid
set {
	followers += (
		select User filter .did = <str>$authorDid
	) { @rkey := <str>$rkey }
}`

// AddFollowEdge records authorDID following subjectDID.
func (c *Client) AddFollowEdge(ctx context.Context, subjectDID, authorDID, rkey string) error {
	args := map[string]any{"subjectDid": subjectDID, "authorDid": authorDID, "rkey": rkey}
	if err := c.query(ctx, addFollowEdge, args, nil); err != nil {
		return fmt.Errorf("graphdb: add follow edge: %w", err)
	}
	return nil
}

const removeFollowEdge = `
update User filter .followers.did = <str>$authorDid and .followers@rkey = <str>$rkey
set {
	followers -= (
		select User filter .did = <str>$authorDid
	)
}`

// RemoveFollowEdge is a no-op if the edge is not currently present.
func (c *Client) RemoveFollowEdge(ctx context.Context, authorDID, rkey string) error {
	args := map[string]any{"authorDid": authorDID, "rkey": rkey}
	if err := c.query(ctx, removeFollowEdge, args, nil); err != nil {
		return fmt.Errorf("graphdb: remove follow edge: %w", err)
	}
	return nil
}
