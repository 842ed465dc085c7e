// Package log provides structured logging for cascade using zerolog.
//
// A single global Logger is initialized once via Init and then used either
// directly or through component loggers created with WithComponent,
// WithNodeID, WithFragmentID, and WithActorID. Context loggers attach a
// stable field (component, node id, fragment id, actor id) to every
// subsequent log line so callers don't have to repeat it.
package log
