package events

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/indexwatch/internal/logfields"
)

// Forward subscribes to events of type T and calls handle for each one on a
// new goroutine until the bus closes or ctx ends. The returned channel is
// closed when the goroutine exits. Handler errors are logged and skipped.
func Forward[T Event](ctx context.Context, b *Bus, buffer int, name string, handle func(context.Context, T) error) <-chan struct{} {
	ch, unsubscribe := Subscribe[T](b, buffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if err := handle(ctx, evt); err != nil {
					slog.Warn("Event consumer failed",
						slog.String("consumer", name),
						logfields.Error(err))
				}
			}
		}
	}()
	return done
}
