// Package worker runs the dispatch worker pool over the queue consumer.
package worker

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/statsor/notify/internal/model"
	"github.com/statsor/notify/internal/rabbitmq/queue"
)

//go:generate mockgen -source=notifier.go -destination=../mocks/worker/mock.go -package=mocks

type notificationConsumer interface {
	Consume(out chan<- queue.DispatchMessage, strategy retry.Strategy) error
}

type messageHandler interface {
	HandleMessage(ctx context.Context, msg queue.DispatchMessage)
}

type statusStore interface {
	GetNotificationStatusByID(ctx context.Context, id uuid.UUID) (model.Status, error)
}

// Notifier consumes dispatch messages and fans them out to a fixed pool
// of workers. Each worker checks the record's stored status before
// handling so that cancelled or already settled notifications consumed
// from a backlog are dropped cheaply. The check reads the repository,
// not the status cache: a failed cache write must not make a live
// record look settled and drop its only queue message.
type Notifier struct {
	queue   notificationConsumer
	handler messageHandler
	store   statusStore
}

// NewNotifier creates a new Notifier.
func NewNotifier(q notificationConsumer, h messageHandler, store statusStore) *Notifier {
	return &Notifier{
		queue:   q,
		handler: h,
		store:   store,
	}
}

// Run starts the consumer and workerCount workers and blocks until ctx is
// cancelled.
func (n *Notifier) Run(ctx context.Context, strategy retry.Strategy, workerCount int) {
	var wg sync.WaitGroup
	msgChan := make(chan queue.DispatchMessage, workerCount*10)

	go func() {
		if err := n.queue.Consume(msgChan, strategy); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to consume messages")
		}
	}()

	wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go func(id int) {
			defer wg.Done()

			zlog.Logger.Printf("worker-%d started", id)

			for {
				select {
				case <-ctx.Done():
					zlog.Logger.Printf("worker-%d shutting down", id)
					return
				case msg, ok := <-msgChan:
					if !ok {
						zlog.Logger.Printf("worker-%d channel closed, shutting down", id)
						return
					}

					status, err := n.store.GetNotificationStatusByID(ctx, msg.ID)
					if err != nil {
						zlog.Logger.Printf("failed to get status for %s: %v", msg.ID, err)
						continue
					}

					if status != model.StatusPending && status != model.StatusScheduled {
						zlog.Logger.Printf("notification %s is %s, skipping", msg.ID, status)
						continue
					}

					n.handler.HandleMessage(ctx, msg)
				}
			}
		}(i)
	}

	<-ctx.Done()
	wg.Wait()
	zlog.Logger.Print("notifier stopped")
}
