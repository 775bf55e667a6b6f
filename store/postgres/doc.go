// Package postgres implements the catalog and the cluster store on
// PostgreSQL using pgx/v5 with raw SQL and embedded migrations.
//
// Job runs carry a BIGSERIAL seq that serves as the catch-up watermark.
// Run persistence and shard progress use ON CONFLICT DO NOTHING, so every
// write can be retried. Bucket leases are rows whose expires_at is
// compared against the caller's clock in a single conditional upsert.
package postgres
