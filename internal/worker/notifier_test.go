package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"

	mocks "github.com/statsor/notify/internal/mocks/worker"
	"github.com/statsor/notify/internal/model"
	"github.com/statsor/notify/internal/rabbitmq/queue"
)

func TestNotifier_Run_HandleMessage(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockConsumer := mocks.NewMocknotificationConsumer(ctrl)
	mockHandler := mocks.NewMockmessageHandler(ctrl)
	mockStore := mocks.NewMockstatusStore(ctrl)

	n := NewNotifier(mockConsumer, mockHandler, mockStore)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	strategy := retry.Strategy{Attempts: 1, Delay: time.Millisecond}
	msg := queue.DispatchMessage{ID: uuid.New()}

	mockConsumer.EXPECT().Consume(gomock.Any(), strategy).DoAndReturn(
		func(out chan<- queue.DispatchMessage, _ retry.Strategy) error {
			out <- msg
			return nil
		},
	)

	mockStore.EXPECT().GetNotificationStatusByID(gomock.Any(), msg.ID).Return(model.StatusPending, nil)
	mockHandler.EXPECT().HandleMessage(gomock.Any(), msg)

	go n.Run(ctx, strategy, 1)

	time.Sleep(50 * time.Millisecond)
	cancel()
	time.Sleep(50 * time.Millisecond)
}

func TestNotifier_Run_SkipsSettledRecord(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockConsumer := mocks.NewMocknotificationConsumer(ctrl)
	mockHandler := mocks.NewMockmessageHandler(ctrl)
	mockStore := mocks.NewMockstatusStore(ctrl)

	n := NewNotifier(mockConsumer, mockHandler, mockStore)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	strategy := retry.Strategy{Attempts: 1, Delay: time.Millisecond}
	cancelled := queue.DispatchMessage{ID: uuid.New()}
	delivered := queue.DispatchMessage{ID: uuid.New()}

	mockConsumer.EXPECT().Consume(gomock.Any(), strategy).DoAndReturn(
		func(out chan<- queue.DispatchMessage, _ retry.Strategy) error {
			out <- cancelled
			out <- delivered
			return nil
		},
	)

	mockStore.EXPECT().GetNotificationStatusByID(gomock.Any(), cancelled.ID).Return(model.StatusCancelled, nil)
	mockStore.EXPECT().GetNotificationStatusByID(gomock.Any(), delivered.ID).Return(model.StatusDelivered, nil)
	// The handler is never invoked for either record.

	go n.Run(ctx, strategy, 1)
	time.Sleep(50 * time.Millisecond)
	cancel()
	time.Sleep(50 * time.Millisecond)
}

// A failed record that was moved back to pending by a retry must be
// dispatched from its queue message. The worker asks the store directly,
// so a lost cache write cannot make it look settled.
func TestNotifier_Run_DispatchesRetriedRecord(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockConsumer := mocks.NewMocknotificationConsumer(ctrl)
	mockHandler := mocks.NewMockmessageHandler(ctrl)
	mockStore := mocks.NewMockstatusStore(ctrl)

	n := NewNotifier(mockConsumer, mockHandler, mockStore)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	strategy := retry.Strategy{Attempts: 1, Delay: time.Millisecond}
	retried := queue.DispatchMessage{ID: uuid.New()}

	mockConsumer.EXPECT().Consume(gomock.Any(), strategy).DoAndReturn(
		func(out chan<- queue.DispatchMessage, _ retry.Strategy) error {
			out <- retried
			return nil
		},
	)

	mockStore.EXPECT().GetNotificationStatusByID(gomock.Any(), retried.ID).Return(model.StatusPending, nil)
	mockHandler.EXPECT().HandleMessage(gomock.Any(), retried)

	go n.Run(ctx, strategy, 1)
	time.Sleep(50 * time.Millisecond)
	cancel()
	time.Sleep(50 * time.Millisecond)
}

func TestNotifier_Run_StatusLookupError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockConsumer := mocks.NewMocknotificationConsumer(ctrl)
	mockHandler := mocks.NewMockmessageHandler(ctrl)
	mockStore := mocks.NewMockstatusStore(ctrl)

	n := NewNotifier(mockConsumer, mockHandler, mockStore)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	strategy := retry.Strategy{Attempts: 1, Delay: time.Millisecond}
	msg := queue.DispatchMessage{ID: uuid.New()}

	mockConsumer.EXPECT().Consume(gomock.Any(), strategy).DoAndReturn(
		func(out chan<- queue.DispatchMessage, _ retry.Strategy) error {
			out <- msg
			return nil
		},
	)

	mockStore.EXPECT().GetNotificationStatusByID(gomock.Any(), msg.ID).Return(model.Status(""), errors.New("db error"))

	go n.Run(ctx, strategy, 1)
	time.Sleep(50 * time.Millisecond)
	cancel()
	time.Sleep(50 * time.Millisecond)
}
