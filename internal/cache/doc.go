/*
Package cache implements the Content Cache:
three independently-keyed, TTL-bounded stores sitting between the
kernel-facing enumeration/resolver/delivery components and the Async
Bridge that fetches from the logical filesystem.

# Three maps, one TTL

	GetInfo/SetInfo       — per-path FileInfo, feeds GetPlaceholderInfo
	GetListing/SetListing — per-directory Listing, feeds enumeration
	GetContent/SetContent — per-path Content, feeds GetFileData

Content above ContentSizeThreshold is never cached; GetFileData falls
through to the async bridge on every call for such files.

Invalidate(path) drops path from all three maps and also drops its
parent's cached Listing, since a changed child makes that listing
stale. This is the cache-side half of the notification policy's
close-deleted handling (internal/notify).

A background sweep goroutine, started when Config.SweepInterval is
positive, periodically removes expired entries so memory doesn't climb
on a cache nothing ever reads back from.
*/
package cache
