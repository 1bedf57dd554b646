// Package catalog inspects database metadata and builds typed schema
// descriptors for relations.
//
// A descriptor is built once per relation from read-only catalog queries
// (PRAGMA table_xinfo, index_list, foreign_key_list) plus the engine-stored
// normalized definition for the parts SQLite exposes nowhere else (column
// collations, generated-column expressions, table-level CHECK text).
// Descriptors are cached and invalidated on DDL; capture trigger generation,
// schema rendering, and replay statement construction are pure functions of
// the descriptor, never re-derived per row.
package catalog
