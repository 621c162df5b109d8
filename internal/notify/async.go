package notify

import (
	"context"
	"sync"

	"github.com/farxc/tramitacao/internal/logger"
)

// AsyncSink hands outcomes to a background worker so a slow sink never holds
// up a transition. When the queue is full the outcome is dropped and logged.
type AsyncSink struct {
	next      Sink
	appLogger *logger.Logger

	queue chan Outcome
	wg    sync.WaitGroup
	once  sync.Once
}

func NewAsyncSink(next Sink, appLogger *logger.Logger, buffer int) *AsyncSink {
	if buffer <= 0 {
		buffer = 100
	}
	s := &AsyncSink{
		next:      next,
		appLogger: appLogger,
		queue:     make(chan Outcome, buffer),
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

func (s *AsyncSink) worker() {
	defer s.wg.Done()
	for o := range s.queue {
		s.next.Notify(context.Background(), o)
	}
}

func (s *AsyncSink) Notify(_ context.Context, o Outcome) {
	const component = "Notify-Async"
	select {
	case s.queue <- o:
	default:
		s.appLogger.Warn(component, "Queue full, dropping outcome: title=%s protocol=%s", o.Title, o.Protocol)
	}
}

// Close stops accepting outcomes and waits for the queue to drain.
func (s *AsyncSink) Close() {
	s.once.Do(func() {
		close(s.queue)
	})
	s.wg.Wait()
}
