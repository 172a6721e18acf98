// Package domain holds the graph entities this projection maintains and the
// store interface the resolver and record handlers are written against.
package domain

import "time"

// User is a projected actor: a DID-identified account with a handle and
// profile fields. did and handle are each globally unique at any quiescent
// instant; reconciling a handle collision during resolution is the
// resolver's job, not the store's.
type User struct {
	DID         string
	Handle      string
	DisplayName string
	Bio         string
}

// Embed is the normalized shape of a post's external-link embed. The other
// embed variants land elsewhere on Post: image alt text in AltText and a
// quoted post in QuotedURI. An embed with every field empty collapses to a
// nil *Embed rather than being stored.
type Embed struct {
	// External holds title/description/uri for an external-link embed.
	Title       string
	Description string
	URI         string
}

// Post is a projected feed post. Parent/Root/Quoted are AT-URIs of other
// posts and may be empty; when set they reference a Post that exists (or
// existed) at resolution time.
type Post struct {
	URI       string
	CID       string
	AuthorDID string
	Text      string
	CreatedAt time.Time

	Embed   *Embed
	AltText string

	ParentURI string
	RootURI   string
	QuotedURI string

	Langs  []string
	Tags   []string
	Labels []string
}

// NewPostRecord is the input to InsertPostUnlessConflict: everything needed
// to materialize a Post row, with the parent/root/quoted references already
// resolved by the caller (empty when the referenced post is absent).
type NewPostRecord struct {
	URI       string
	CID       string
	AuthorDID string
	Text      string
	CreatedAt time.Time

	Embed   *Embed
	AltText string

	ParentURI string
	RootURI   string
	QuotedURI string

	Langs  []string
	Tags   []string
	Labels []string
}
