// Package capture installs and reads row-level change capture.
//
// Capture is a set of per-relation AFTER INSERT/UPDATE/DELETE triggers
// generated from the relation's schema descriptor. Each qualifying row event
// appends exactly one record to the dbr_change_log bookkeeping table,
// synchronously, inside the mutating transaction. Relations without a
// declared primary key are excluded at install time; relations in the
// bookkeeping namespace are excluded always, so capture never captures
// capture.
package capture
