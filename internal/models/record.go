package models

import (
	"strings"
	"time"
)

// LogKind distinguishes access log records from error log records.
type LogKind string

const (
	KindAccess LogKind = "access"
	KindError  LogKind = "error"
)

// Record is one typed log line. Records are only built by the parser after a
// full pattern match with every required field present.
type Record struct {
	Kind    LogKind
	Pattern string

	IPAddress  string
	RemoteUser string
	Timestamp  time.Time

	Method    string
	Endpoint  string
	Protocol  string
	Status    int
	BytesSent int64

	// ResponseTime is in seconds and only meaningful when HasResponseTime is set.
	ResponseTime    float64
	HasResponseTime bool

	Referer   string
	UserAgent string

	// Error log fields.
	Level   string
	Module  string
	PID     string
	Message string

	Raw string
}

// Path returns the endpoint without its query string.
func (r Record) Path() string {
	if i := strings.IndexByte(r.Endpoint, '?'); i >= 0 {
		return r.Endpoint[:i]
	}
	return r.Endpoint
}

// Query returns the raw query string of the endpoint, if any.
func (r Record) Query() string {
	if i := strings.IndexByte(r.Endpoint, '?'); i >= 0 {
		return r.Endpoint[i+1:]
	}
	return ""
}

// IsError reports whether the record carries an HTTP error status.
func (r Record) IsError() bool {
	return r.Kind == KindAccess && r.Status >= 400
}

// Batch is an ordered set of records from one processing unit. Insertion order
// is file order.
type Batch struct {
	Source  string
	Records []Record
}

// Len returns the number of records in the batch.
func (b Batch) Len() int {
	return len(b.Records)
}

// Access returns the access-log records in file order.
func (b Batch) Access() []Record {
	out := make([]Record, 0, len(b.Records))
	for _, r := range b.Records {
		if r.Kind == KindAccess {
			out = append(out, r)
		}
	}
	return out
}

// ResponseTimes returns response times for records that carry one, with the
// matching timestamps.
func (b Batch) ResponseTimes() ([]float64, []time.Time) {
	values := make([]float64, 0, len(b.Records))
	stamps := make([]time.Time, 0, len(b.Records))
	for _, r := range b.Records {
		if !r.HasResponseTime {
			continue
		}
		values = append(values, r.ResponseTime)
		stamps = append(stamps, r.Timestamp)
	}
	return values, stamps
}
