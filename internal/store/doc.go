// Package store persists schedule records. The sqlite driver is the
// default; the file driver exists for environments where a database file
// with WAL side files is unwelcome.
package store
