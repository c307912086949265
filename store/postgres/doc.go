// Package postgres implements the store using pgx/v5 with raw SQL.
// Every index is a (queue, state, score) range of one table; a move locks
// the row with SELECT ... FOR UPDATE, checks the state, and rewrites the
// row in the same transaction. Schema changes ship as embedded SQL
// migrations.
package postgres
