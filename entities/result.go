package entities

import (
	"encoding/json"
	"sync"
)

// Outcome of importing a single file.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeUploaded
	OutcomeAlreadyExists
	OutcomeValidationFailed
	OutcomeTransportFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUploaded:
		return "uploaded"
	case OutcomeAlreadyExists:
		return "already_exists"
	case OutcomeValidationFailed:
		return "validation_failed"
	case OutcomeTransportFailed:
		return "transport_failed"
	}
	return "unknown"
}

type Failure struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
	Kind   Kind   `json:"kind"`
}

// ImportResult accumulates the outcome of every file of a run. It is safe
// for concurrent use.
type ImportResult struct {
	mu            sync.Mutex
	uploaded      []string
	alreadyExists []string
	failed        []Failure
	bytes         int64
}

// ResultSnapshot is a copy of an ImportResult.
type ResultSnapshot struct {
	Uploaded      []string  `json:"uploaded"`
	AlreadyExists []string  `json:"already_exists"`
	Failed        []Failure `json:"failed"`
	Bytes         int64     `json:"bytes"`
}

func NewImportResult() *ImportResult {
	return &ImportResult{}
}

func (r *ImportResult) AddUploaded(file string, size int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploaded = append(r.uploaded, file)
	r.bytes += size
}

func (r *ImportResult) AddAlreadyExists(file string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alreadyExists = append(r.alreadyExists, file)
}

// AddFailed records file as failed. The reason and kind are taken from err.
func (r *ImportResult) AddFailed(file string, err error) {
	f := Failure{File: file, Kind: KindOf(err)}
	if err != nil {
		f.Reason = err.Error()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, f)
}

// AddAborted records every file as not imported because of cause.
func (r *ImportResult) AddAborted(files []string, cause error) {
	for _, file := range files {
		r.AddFailed(file, &AbortedError{Err: cause})
	}
}

func (r *ImportResult) Snapshot() ResultSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ResultSnapshot{
		Uploaded:      append([]string(nil), r.uploaded...),
		AlreadyExists: append([]string(nil), r.alreadyExists...),
		Failed:        append([]Failure(nil), r.failed...),
		Bytes:         r.bytes,
	}
}

// Counts returns the number of uploaded, already existing and failed files.
func (r *ImportResult) Counts() (int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.uploaded), len(r.alreadyExists), len(r.failed)
}

// HasNonRetryable reports whether any recorded failure is of a
// non-retryable kind.
func (r *ImportResult) HasNonRetryable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.failed {
		if f.Kind.IsNonRetryable() {
			return true
		}
	}
	return false
}

func (s ResultSnapshot) String() string {
	b, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(b)
}
