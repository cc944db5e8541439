// Package audit writes the office-wide audit trail. Entries are
// fire-and-forget: record mutations must never wait on, or fail
// because of, audit persistence.
package audit

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	fstore "github.com/cartorio-systems/escriba/internal/firestore"
)

// Writer is the audit-appending slice of the Firestore client.
type Writer interface {
	AddAuditEntry(ctx context.Context, entry *fstore.AuditEntry) error
}

const queueSize = 128

// Sink buffers audit entries and writes them from a single background
// worker.
type Sink struct {
	writer Writer
	queue  chan *fstore.AuditEntry
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	now    func() time.Time
}

// NewSink creates a sink. Start must be called before Record is used.
func NewSink(writer Writer) *Sink {
	return &Sink{
		writer: writer,
		queue:  make(chan *fstore.AuditEntry, queueSize),
		stop:   make(chan struct{}),
		now:    time.Now,
	}
}

// Start launches the background writer.
func (s *Sink) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				// drain what is already queued before leaving
				for {
					select {
					case entry := <-s.queue:
						s.write(ctx, entry)
					default:
						return
					}
				}
			case entry := <-s.queue:
				s.write(ctx, entry)
			}
		}
	}()
}

// Stop shuts the worker down after draining the queue.
func (s *Sink) Stop() {
	s.once.Do(func() {
		close(s.stop)
	})
	s.wg.Wait()
}

// Record queues one audit entry. It never blocks; under sustained
// backpressure entries are dropped with a log line.
func (s *Sink) Record(action, actor, recordID string, details map[string]interface{}) {
	entry := &fstore.AuditEntry{
		ID:       uuid.New().String(),
		At:       s.now(),
		Action:   action,
		Actor:    actor,
		RecordID: recordID,
		Details:  details,
	}
	select {
	case s.queue <- entry:
	default:
		log.Printf("WARN: Audit queue full, dropping entry action=%s record=%s", action, recordID)
	}
}

func (s *Sink) write(ctx context.Context, entry *fstore.AuditEntry) {
	if err := s.writer.AddAuditEntry(ctx, entry); err != nil {
		log.Printf("ERROR: Failed to write audit entry action=%s record=%s: %v", entry.Action, entry.RecordID, err)
	}
}
