// Package sqlite provides a SQLite-backed kernel launch registry.
package sqlite
