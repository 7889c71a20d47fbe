// Package transport defines the link interfaces used by bcphub and the
// registry of live peers that commands are broadcast to.
//
// Key concepts:
// - Kind: dials/listens for Streams of one link type (tcp, ws, quic, mem, winpipe)
// - Stream: a Send/Recv channel of encoded BCP frames
// - Listener: accepts inbound Streams
// - Peer: a connected BCP client that can be sent commands
// - Registry: the set of live Peers; Broadcast fans a command out to a
//   snapshot of them and isolates per-peer failures
package transport
