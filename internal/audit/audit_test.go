package audit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fstore "github.com/cartorio-systems/escriba/internal/firestore"
)

type fakeWriter struct {
	mu      sync.Mutex
	entries []*fstore.AuditEntry
	fail    bool
}

func (f *fakeWriter) AddAuditEntry(_ context.Context, entry *fstore.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return fmt.Errorf("firestore unavailable")
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func TestRecordWritesEntry(t *testing.T) {
	writer := &fakeWriter{}
	sink := NewSink(writer)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink.Start(ctx)

	sink.Record("processo_criado", "maria", "rec-1", map[string]interface{}{"talao": "T001"})

	require.Eventually(t, func() bool { return writer.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	writer.mu.Lock()
	entry := writer.entries[0]
	writer.mu.Unlock()
	assert.Equal(t, "processo_criado", entry.Action)
	assert.Equal(t, "maria", entry.Actor)
	assert.Equal(t, "rec-1", entry.RecordID)
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.At.IsZero())
	sink.Stop()
}

func TestStopDrainsQueue(t *testing.T) {
	writer := &fakeWriter{}
	sink := NewSink(writer)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		sink.Record("processo_atualizado", "joao", fmt.Sprintf("rec-%d", i), nil)
	}
	sink.Start(ctx)
	sink.Stop()

	assert.Equal(t, 5, writer.count())
}

func TestRecordNeverBlocksWhenFull(t *testing.T) {
	writer := &fakeWriter{}
	sink := NewSink(writer)
	// no worker running, fill past capacity
	done := make(chan struct{})
	go func() {
		for i := 0; i < queueSize+10; i++ {
			sink.Record("processo_excluido", "ana", "rec", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a full queue")
	}
}

func TestWriteFailureOnlyLogs(t *testing.T) {
	writer := &fakeWriter{fail: true}
	sink := NewSink(writer)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink.Start(ctx)

	// must not panic or surface anywhere
	sink.Record("processo_criado", "maria", "rec-1", nil)
	time.Sleep(50 * time.Millisecond)
	sink.Stop()
	assert.Zero(t, writer.count())
}
