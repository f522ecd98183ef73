//go:build windows

package main

import "context"

// saveRequests returns nil on Windows, which has no SIGUSR1. Checkpoints are
// still written when the crawl ends.
func saveRequests(context.Context) <-chan struct{} {
	return nil
}
