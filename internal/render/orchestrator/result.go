package orchestrator

import (
	"io"
	"time"
)

// Result holds a generated PDF. The data is never modified after creation.
type Result struct {
	RequestID string
	TabID     string
	Duration  time.Duration

	data []byte
}

// NewResult wraps data; the slice must not be modified afterwards.
func NewResult(requestID, tabID string, duration time.Duration, data []byte) *Result {
	return &Result{
		RequestID: requestID,
		TabID:     tabID,
		Duration:  duration,
		data:      data,
	}
}

// Bytes returns the raw PDF content.
func (r *Result) Bytes() []byte {
	return r.data
}

// WriteTo writes the full PDF content to w. It implements [io.WriterTo].
func (r *Result) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(r.data)
	return int64(n), err
}

// Len returns the size of the PDF in bytes.
func (r *Result) Len() int {
	return len(r.data)
}
