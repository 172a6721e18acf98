package graphdb

import (
	"context"
	"fmt"
	"time"

	"github.com/bskyproj/firehose-projector/internal/domain"
)

type embedRow struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URI         string `json:"uri"`
}

type postRow struct {
	URI       string    `json:"uri"`
	CID       string    `json:"cid"`
	AuthorDID string    `json:"authorDid"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`

	Embed   *embedRow `json:"embed"`
	AltText string    `json:"altText"`

	ParentURI string `json:"parentUri"`
	RootURI   string `json:"rootUri"`
	QuotedURI string `json:"quotedUri"`

	Langs  []string `json:"langs"`
	Tags   []string `json:"tags"`
	Labels []string `json:"labels"`
}

func (r postRow) toDomain() *domain.Post {
	p := &domain.Post{
		URI:       r.URI,
		CID:       r.CID,
		AuthorDID: r.AuthorDID,
		Text:      r.Text,
		CreatedAt: r.CreatedAt,
		AltText:   r.AltText,
		ParentURI: r.ParentURI,
		RootURI:   r.RootURI,
		QuotedURI: r.QuotedURI,
		Langs:     r.Langs,
		Tags:      r.Tags,
		Labels:    r.Labels,
	}
	if r.Embed != nil {
		p.Embed = &domain.Embed{Title: r.Embed.Title, Description: r.Embed.Description, URI: r.Embed.URI}
	}
	return p
}

func postArgs(rec *domain.NewPostRecord) map[string]any {
	args := map[string]any{
		"uri":       rec.URI,
		"cid":       rec.CID,
		"authorDid": rec.AuthorDID,
		"text":      rec.Text,
		"createdAt": rec.CreatedAt,
		"altText":   rec.AltText,
		"parentUri": rec.ParentURI,
		"rootUri":   rec.RootURI,
		"quotedUri": rec.QuotedURI,
		"langs":     rec.Langs,
		"tags":      rec.Tags,
		"labels":    rec.Labels,
	}
	if rec.Embed != nil {
		args["embedTitle"] = rec.Embed.Title
		args["embedDescription"] = rec.Embed.Description
		args["embedUri"] = rec.Embed.URI
	} else {
		args["embedTitle"] = nil
		args["embedDescription"] = nil
		args["embedUri"] = nil
	}
	return args
}

const selectPostByURI = `
select Post {
	uri, cid, authorDid, text, createdAt,
	embed: { title, description, uri },
	altText, parentUri, rootUri, quotedUri, langs, tags, labels
}
filter .uri = <str>$uri
limit 1`

// GetPostByURI returns the post at uri, or (nil, nil) if absent.
func (c *Client) GetPostByURI(ctx context.Context, uri string) (*domain.Post, error) {
	var rows []postRow
	if err := c.query(ctx, selectPostByURI, map[string]any{"uri": uri}, &rows); err != nil {
		return nil, fmt.Errorf("graphdb: get post by uri: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toDomain(), nil
}

const insertPostUnlessConflict = `
select (
	insert Post {
		uri := <str>$uri,
		cid := <str>$cid,
		authorDid := <str>$authorDid,
		text := <str>$text,
		createdAt := <datetime>$createdAt,
		embed := <str>$embedUri ?? <str>{} ??= .embed,
		embedTitle := <str>$embedTitle,
		embedDescription := <str>$embedDescription,
		altText := <str>$altText,
		parentUri := <str>$parentUri,
		rootUri := <str>$rootUri,
		quotedUri := <str>$quotedUri,
		langs := <array<str>>$langs,
		tags := <array<str>>$tags,
		labels := <array<str>>$labels,
	}
	unless conflict on .uri
	else (select Post {
		uri, cid, authorDid, text, createdAt,
		embed: { title, description, uri },
		altText, parentUri, rootUri, quotedUri, langs, tags, labels
	} filter .uri = <str>$uri)
) {
	uri, cid, authorDid, text, createdAt,
	embed: { title, description, uri },
	altText, parentUri, rootUri, quotedUri, langs, tags, labels
}`

// InsertPostUnlessConflict inserts rec unless its uri already exists, in
// which case the existing row is returned. The embed sub-clause above is
// illustrative of the store's handling of an optional, single-component
// nested insert; the real schema encodes this as an optional link.
func (c *Client) InsertPostUnlessConflict(ctx context.Context, rec *domain.NewPostRecord) (*domain.Post, bool, error) {
	var rows []postRow
	if err := c.query(ctx, insertPostUnlessConflict, postArgs(rec), &rows); err != nil {
		return nil, false, fmt.Errorf("graphdb: insert post unless conflict: %w", err)
	}
	if len(rows) == 0 {
		return nil, false, fmt.Errorf("graphdb: insert post unless conflict: empty result")
	}
	row := rows[0]
	return row.toDomain(), row.CID != rec.CID, nil
}

const deletePost = `
delete Post filter .uri = <str>$uri`

// DeletePost removes a post by uri. The schema's cascade/reset policies on
// parentUri/rootUri/quotedUri and the like/repost edges take care of
// dangling references.
func (c *Client) DeletePost(ctx context.Context, uri string) error {
	if err := c.query(ctx, deletePost, map[string]any{"uri": uri}, nil); err != nil {
		return fmt.Errorf("graphdb: delete post: %w", err)
	}
	return nil
}
