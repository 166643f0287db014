// Package vcon models virtual conversation containers (vCon): the parties of
// a conversation, its dialog segments, derived analyses, attachments and
// links to other versions of the same conversation.
//
// Every entity has a NewX constructor that enforces its local field rules
// and returns a *SchemaViolation listing each broken rule. The container
// re-runs those constructors when entities are added and when a document is
// decoded, so a persisted document that could not have been built fails to
// decode with the same messages. Cross-entity references (dialog party
// indices, analysis dialog indices) are only checked by IsValid, which
// reports every problem at once instead of stopping at the first.
//
// The encoded form omits absent fields at every level, writes timestamps as
// UTC RFC 3339 text and keeps present-but-empty sequences, so that
// BuildFromJSON(ToJSON(x)) reproduces x.
package vcon
