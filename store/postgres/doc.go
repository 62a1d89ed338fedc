// Package postgres implements the letter store using pgx/v5 with raw SQL.
// Letters live in one table keyed by id with a unique (sequence_id,
// seq_index) constraint; migrations are embedded SQL files.
package postgres
