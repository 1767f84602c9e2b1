// Package archive persists forwarded STOMP frames to PostgreSQL.
//
// Writer is a connection.Publisher. Frames are queued in memory, batched, and
// inserted with pgx.Batch into the stomp_frames table. The table is
// append-only; rows are keyed by a generated UUID so retried batches never
// duplicate a frame.
package archive
