// Package iox holds cleanup helpers for connections, files and loggers
// whose close errors have nowhere useful to go.
package iox

import "io"

// DiscardClose closes c and drops the error. Used where the peer already
// has its response or the file has been fully read:
//
//	defer iox.DiscardClose(conn)
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc returns a function that closes c, for t.Cleanup:
//
//	t.Cleanup(iox.CloseFunc(listener))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// DiscardErr calls fn and drops its error. For shutdown calls such as
// flushing the logger or closing the server:
//
//	defer iox.DiscardErr(logger.Sync)
func DiscardErr(fn func() error) { _ = fn() }
