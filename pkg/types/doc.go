/*
Package types defines the data model shared by every component of the
virtual filesystem provider, and the one interface the provider consumes
from the outside world: the logical filesystem it projects.

# Architecture overview

	┌───────────────────────────────────────────┐
	│     ProjFS kernel driver (out of process)  │
	└───────────────────────────────────────────┘
	                     │ callbacks
	┌───────────────────────────────────────────┐
	│  internal/host, internal/winprojfs         │
	└───────────────────────────────────────────┘
	     │            │              │
	┌────┴───┐  ┌──────┴──────┐  ┌────┴─────┐
	│ enum   │  │  resolver   │  │ delivery │
	└────┬───┘  └──────┬──────┘  └────┬─────┘
	     └─────────────┼──────────────┘
	          ┌─────────┴─────────┐
	          │  internal/cache   │
	          └─────────┬─────────┘
	          ┌─────────┴─────────┐
	          │  internal/bridge  │
	          └─────────┬─────────┘
	          ┌─────────┴─────────┐
	          │  types.LogicalFS  │  (host-supplied)
	          └───────────────────┘

# Data structures

FileInfo, Listing, and Content are the three cacheable shapes.
RawChild models the loosely-typed directory entries a logical
filesystem may return (a bare name, or a name with size/mode/directory
flag) — the ingest path in internal/bridge canonicalizes either shape into
a FileInfo.

# The LogicalFS interface

LogicalFS is the only interface this module consumes from the outside.
Implementations are expected to run on a single-threaded host event loop;
internal/bridge is the sole caller and the sole component allowed to block
on it.
*/
package types
