package resolver

import (
	"strings"
	"time"

	"github.com/bluesky-social/indigo/api/bsky"
)

// rawEmbed is the normalized shape an embed collapses to before
// normalization is applied; a zero-value rawEmbed (all fields empty) means
// the embed is dropped entirely.
type rawEmbed struct {
	Title       string
	Description string
	URI         string
}

// disambiguateEmbed picks apart the post embed union per variant tag,
// returning the alt-text (images variant) and/or the external-link embed
// fields. Only one of the two is populated for any given post in practice.
func disambiguateEmbed(embed *bsky.FeedPost_Embed) (altText string, ext *rawEmbed) {
	if embed == nil {
		return "", nil
	}

	if embed.EmbedImages != nil {
		var alts []string
		for _, img := range embed.EmbedImages.Images {
			if img != nil && img.Alt != "" {
				alts = append(alts, img.Alt)
			}
		}
		return strings.Join(alts, "\n"), nil
	}

	if embed.EmbedExternal != nil && embed.EmbedExternal.External != nil {
		e := embed.EmbedExternal.External
		if e.Title == "" && e.Description == "" && e.Uri == "" {
			return "", nil
		}
		return "", &rawEmbed{Title: e.Title, Description: e.Description, URI: e.Uri}
	}

	return "", nil
}

// quotedURIFromEmbed extracts the quoted post's uri from either the bare
// record-embed variant or the record-with-media variant.
func quotedURIFromEmbed(embed *bsky.FeedPost_Embed) string {
	if embed == nil {
		return ""
	}
	if embed.EmbedRecord != nil && embed.EmbedRecord.Record != nil {
		return embed.EmbedRecord.Record.Uri
	}
	if embed.EmbedRecordWithMedia != nil && embed.EmbedRecordWithMedia.Record != nil && embed.EmbedRecordWithMedia.Record.Record != nil {
		return embed.EmbedRecordWithMedia.Record.Record.Uri
	}
	return ""
}

// extractSelfLabels pulls the string values out of a post's self-labels
// union, returning nil for the other label-union variants this pipeline
// does not project.
func extractSelfLabels(record *bsky.FeedPost) []string {
	if record.Labels == nil || record.Labels.LabelDefs_SelfLabels == nil {
		return nil
	}
	vals := record.Labels.LabelDefs_SelfLabels.Values
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if v != nil && v.Val != "" {
			out = append(out, v.Val)
		}
	}
	return out
}

// parseTimestamp parses a lexicon datetime string (RFC3339, as produced by
// com.atproto records) into a time.Time.
func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
