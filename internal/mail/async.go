package mail

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/thatmoment/server/internal/logging"
	"github.com/thatmoment/server/internal/model"
)

var (
	// ErrQueueFull is returned when the async queue cannot take another email
	ErrQueueFull = errors.New("mail queue full")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("mail sender closed")
)

// Sender is the delivery contract shared by every sender in this package
type Sender interface {
	Send(ctx context.Context, to string, purpose model.CodePurpose, code string) error
}

type job struct {
	to      string
	purpose model.CodePurpose
	code    string
}

// AsyncSender hands deliveries to background workers so requests never wait
// on SMTP. Failures are logged.
type AsyncSender struct {
	next    Sender
	queue   chan job
	timeout time.Duration
	log     logrus.FieldLogger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewAsyncSender starts workers that drain a queue of the given size
func NewAsyncSender(next Sender, workers, queueSize int, timeout time.Duration, log logrus.FieldLogger) *AsyncSender {
	s := &AsyncSender{
		next:    next,
		queue:   make(chan job, queueSize),
		timeout: timeout,
		log:     log.WithField("component", "mail"),
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.work()
	}
	return s
}

// Send enqueues the email. It fails when the queue is full or closed.
func (s *AsyncSender) Send(_ context.Context, to string, purpose model.CodePurpose, code string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	select {
	case s.queue <- job{to: to, purpose: purpose, code: code}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting work and waits for queued emails to go out
func (s *AsyncSender) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *AsyncSender) work() {
	defer s.wg.Done()
	for j := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		if err := s.next.Send(ctx, j.to, j.purpose, j.code); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"to":      logging.MaskEmail(j.to),
				"purpose": j.purpose,
			}).Error("async email delivery failed")
		}
		cancel()
	}
}
