// Package cache owns the on-disk mirror: it turns resolved relative paths into
// files under DestinationRoot. Writers first acquire a per-path pending slot,
// then commit through a temp file + rename so readers only ever observe
// complete files. Concurrent writers to the same path serialize (or are
// rejected, depending on BusyPolicy); writers to different paths never
// contend. Finished writes are kept in a bounded history for diagnostics.
package cache
