// Package server hosts the Fiber diagnostics service that runs beside the
// mirroring proxy: request-id middleware, panic recovery, a health probe and
// JSON error rendering. Feature routes (write stats, recent records, the
// extension table) live in the routes subpackage and attach to the app
// returned by NewApp, so this package keeps no dependency on the mirror
// internals.
package server
