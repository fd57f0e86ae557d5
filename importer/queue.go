package importer

import (
	"context"

	"github.com/enriquebris/goconcurrentqueue"
	"golang.org/x/sync/errgroup"
)

// runQueue feeds every item to n workers. The first error cancels the
// context given to the remaining work and is returned.
func runQueue(ctx context.Context, items []string, n int, work func(ctx context.Context, item string) error) error {
	if n < 1 {
		n = 1
	}

	queue := goconcurrentqueue.NewFIFO()
	for _, item := range items {
		if err := queue.Enqueue(item); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			for {
				if err := gctx.Err(); err != nil {
					return err
				}
				item, err := queue.Dequeue()
				if err != nil {
					// empty
					return nil
				}
				if err := work(gctx, item.(string)); err != nil {
					return err
				}
			}
		})
	}
	return g.Wait()
}
