package archive

// EventKind names a progress event.
type EventKind string

const (
	EventSelectionResolved  EventKind = "selection_resolved"
	EventPatternUnmatched   EventKind = "pattern_unmatched"
	EventEntryStarted       EventKind = "entry_started"
	EventEntryFinished      EventKind = "entry_finished"
	EventEntrySkipped       EventKind = "entry_skipped"
	EventUnipartUploaded    EventKind = "unipart_uploaded"
	EventMultipartOpened    EventKind = "multipart_opened"
	EventPartUploaded       EventKind = "part_uploaded"
	EventMultipartCompleted EventKind = "multipart_completed"
	EventMultipartAborted   EventKind = "multipart_aborted"
	EventOperationFinished  EventKind = "operation_finished"
)

// Operation names used in events.
const (
	OperationCreate  = "create"
	OperationExtract = "extract"
)

// Event is a progress report. Only the fields relevant to Kind are set.
type Event struct {
	Kind       EventKind `json:"kind"`
	Operation  string    `json:"operation,omitempty"`
	Bucket     string    `json:"bucket,omitempty"`
	Key        string    `json:"key,omitempty"`
	Path       string    `json:"path,omitempty"`
	Pattern    string    `json:"pattern,omitempty"`
	UploadID   string    `json:"upload_id,omitempty"`
	PartNumber int       `json:"part_number,omitempty"`
	Bytes      int64     `json:"bytes,omitempty"`
	Count      int       `json:"count,omitempty"`
	Err        error     `json:"-"`
}

// Hook receives events from concurrently running tasks, so implementations
// must be safe for concurrent use and must not block for long.
type Hook interface {
	OnEvent(Event)
}

// HookFunc adapts a function to Hook.
type HookFunc func(Event)

func (f HookFunc) OnEvent(e Event) { f(e) }

type nopHook struct{}

func (nopHook) OnEvent(Event) {}
