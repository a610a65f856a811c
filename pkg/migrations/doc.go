// Package migrations generates SQL migration files for the leaf store tables
// (tracks, leaf records and payloads) for PostgreSQL, MySQL/MariaDB and SQLite.
package migrations
