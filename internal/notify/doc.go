// Package notify implements the Notification Policy: a
// fixed classification table for every ProjFS notification, enforcing
// read-only semantics, plus the close-deleted tombstone-repair path
// for dynamically regenerated files.
package notify
