// Package wire implements the Jupyter messaging wire format: the message
// model, HMAC-SHA256 signing and the multipart frame layout
//
//	[identities..., "<IDS|MSG>", signature, header, parent_header, metadata, content, buffers...]
//
// Sockets are not handled here; callers move frames over ZeroMQ.
package wire
