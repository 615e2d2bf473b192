package events

import (
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/andresuchdata/s3tar/internal/archive"
)

// LogHook writes events as structured log lines.
type LogHook struct {
	log zerolog.Logger
}

func NewLogHook(log zerolog.Logger) *LogHook {
	return &LogHook{log: log}
}

func (h *LogHook) OnEvent(e archive.Event) {
	var ev *zerolog.Event
	switch e.Kind {
	case archive.EventPatternUnmatched, archive.EventEntrySkipped, archive.EventMultipartAborted:
		ev = h.log.Warn()
	case archive.EventOperationFinished:
		if e.Err != nil {
			ev = h.log.Error()
		} else {
			ev = h.log.Info()
		}
	case archive.EventSelectionResolved:
		ev = h.log.Info()
	default:
		ev = h.log.Debug()
	}
	if ev == nil {
		return
	}

	ev = ev.Str("event", string(e.Kind))
	if e.Operation != "" {
		ev = ev.Str("operation", e.Operation)
	}
	if e.Bucket != "" {
		ev = ev.Str("bucket", e.Bucket)
	}
	if e.Key != "" {
		ev = ev.Str("key", e.Key)
	}
	if e.Path != "" {
		ev = ev.Str("path", e.Path)
	}
	if e.Pattern != "" {
		ev = ev.Str("pattern", e.Pattern)
	}
	if e.UploadID != "" {
		ev = ev.Str("upload_id", e.UploadID)
	}
	if e.PartNumber > 0 {
		ev = ev.Int("part", e.PartNumber)
	}
	if e.Count > 0 {
		ev = ev.Int("count", e.Count)
	}
	if e.Bytes > 0 {
		ev = ev.Str("size", humanize.IBytes(uint64(e.Bytes)))
	}
	if e.Err != nil {
		ev = ev.Err(e.Err)
	}
	ev.Msg(message(e.Kind))
}

func message(kind archive.EventKind) string {
	switch kind {
	case archive.EventSelectionResolved:
		return "selection resolved"
	case archive.EventPatternUnmatched:
		return "pattern matched no objects"
	case archive.EventEntryStarted:
		return "entry started"
	case archive.EventEntryFinished:
		return "entry finished"
	case archive.EventEntrySkipped:
		return "skipping unsupported tar entry"
	case archive.EventUnipartUploaded:
		return "object uploaded"
	case archive.EventMultipartOpened:
		return "multipart upload opened"
	case archive.EventPartUploaded:
		return "part uploaded"
	case archive.EventMultipartCompleted:
		return "multipart upload completed"
	case archive.EventMultipartAborted:
		return "multipart upload aborted"
	case archive.EventOperationFinished:
		return "operation finished"
	}
	return string(kind)
}
