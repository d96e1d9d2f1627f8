// File: pool/doc.go
// Package pool
// Author: momentics <momentics@gmail.com>
//
// Reusable byte-buffer pooling for the reactor's accepted connections.
// logserver borrows fixed-size scratch buffers from here for small/medium
// log-frame payloads instead of allocating one per frame. (httpserver
// recycles its per-connection bufio.Reader/Writer through a sync.Pool
// instead, since those are stateful objects rather than flat byte slices.)
package pool
