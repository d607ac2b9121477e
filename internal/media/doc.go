// Package media stores payloads attached to order items, deduplicated by
// content hash.
//
// Files land under
//
//	<root>/<store>/<order_ref>/<item_id>/<bucket>/<sha256[:20]><ext>
//
// where bucket is videos, images or files. A payload whose hash is already on
// disk is not written again; the new Media row points at the existing file.
// Every save also appends an entry to <item dir>/meta.json.
package media
