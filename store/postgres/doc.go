// Package postgres implements the store using pgx/v5 with raw SQL.
// Claims use UPDATE ... FOR UPDATE SKIP LOCKED so concurrent workers never
// take the same row; owner-conditional writes match on the lock token.
// The schema is managed by goose from embedded SQL migrations.
package postgres
