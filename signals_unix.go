//go:build !windows

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
)

// saveRequests turns SIGUSR1 into checkpoint requests until ctx is done.
func saveRequests(ctx context.Context) <-chan struct{} {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1)

	out := make(chan struct{}, 1)
	go func() {
		defer signal.Stop(sigs)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigs:
				log.Info().Msg("Checkpoint requested")
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out
}
