// Package postgres provides the "postgres" resource provider. It connects a
// pgx connection pool to an already running PostgreSQL server and exposes
// the pool as the binding *pgxpool.Pool under the resource name.
//
// The server is addressed either by the "dsn" property or by the discrete
// host, port, user, password, database and sslmode properties. Both are
// rendered as templates first, so a Remote database can point at a
// container resource:
//
//	dsn: postgres://postgres:secret@{{ (index .Resources "pg").Address }}/postgres
//
// With "isolate: true" every test context gets its own database, created on
// start and dropped on stop.
package postgres
