package streaming

import "time"

// EventType represents the type of SSE event
type EventType string

const (
	EventTypeSession   EventType = "session"
	EventTypeFile      EventType = "file"
	EventTypeProgress  EventType = "progress"
	EventTypeRow       EventType = "row"
	EventTypeBatch     EventType = "batch"
	EventTypeComplete  EventType = "complete"
	EventTypeError     EventType = "error"
	EventTypeHeartbeat EventType = "heartbeat"
)

// Critical reports whether an event must reach clients even under
// backpressure. Terminal events are never dropped silently.
func (t EventType) Critical() bool {
	return t == EventTypeComplete || t == EventTypeError
}

// Event represents a Server-Sent Event
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// SessionEvent reports import session state transitions.
type SessionEvent struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	FileCount   int        `json:"arquivos"`
	Imported    int        `json:"importados"`
	Failed      int        `json:"falhas"`
	CompletedAt *time.Time `json:"dataConclusao,omitempty"`
	Error       string     `json:"erro,omitempty"`
}

// FileEvent reports one uploaded file entering or leaving parsing.
type FileEvent struct {
	SessionID string `json:"sessionId"`
	FileName  string `json:"fileName"`
	Status    string `json:"status"`
	Groups    int    `json:"abas,omitempty"`
	Rows      int    `json:"linhas,omitempty"`
	Error     string `json:"erro,omitempty"`
}

// ProgressEvent reports row-level import progress within a file.
type ProgressEvent struct {
	FileName   string  `json:"fileName"`
	Processed  int     `json:"processed"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// RowEvent reports one rejected or downgraded row so the operator can
// fix the spreadsheet.
type RowEvent struct {
	FileName string   `json:"fileName"`
	Source   string   `json:"aba"`
	Row      int      `json:"linha"`
	Errors   []string `json:"erros,omitempty"`
	Warnings []string `json:"avisos,omitempty"`
}

// BatchEvent reports one committed write batch.
type BatchEvent struct {
	SessionID string `json:"sessionId"`
	Batch     int    `json:"lote"`
	Size      int    `json:"tamanho"`
	Written   int    `json:"gravados"`
}

// ErrorEvent reports a failure that ends the session.
type ErrorEvent struct {
	Message  string `json:"message"`
	FileName string `json:"fileName,omitempty"`
}

func newEvent(t EventType, data interface{}) Event {
	return Event{Type: t, Timestamp: time.Now(), Data: data}
}

// NewSessionEvent wraps a session state change.
func NewSessionEvent(data SessionEvent) Event { return newEvent(EventTypeSession, data) }

// NewFileEvent wraps a file lifecycle change.
func NewFileEvent(data FileEvent) Event { return newEvent(EventTypeFile, data) }

// NewProgressEvent wraps import progress, filling in the percentage.
func NewProgressEvent(data ProgressEvent) Event {
	if data.Total > 0 {
		data.Percentage = float64(data.Processed) / float64(data.Total) * 100
	}
	return newEvent(EventTypeProgress, data)
}

// NewRowEvent wraps a row rejection or warning.
func NewRowEvent(data RowEvent) Event { return newEvent(EventTypeRow, data) }

// NewBatchEvent wraps a committed write batch.
func NewBatchEvent(data BatchEvent) Event { return newEvent(EventTypeBatch, data) }

// NewCompleteEvent wraps the final session summary.
func NewCompleteEvent(data SessionEvent) Event { return newEvent(EventTypeComplete, data) }

// NewErrorEvent wraps a terminal failure.
func NewErrorEvent(message, fileName string) Event {
	return newEvent(EventTypeError, ErrorEvent{Message: message, FileName: fileName})
}

// NewHeartbeatEvent keeps idle SSE connections alive.
func NewHeartbeatEvent() Event { return newEvent(EventTypeHeartbeat, nil) }
