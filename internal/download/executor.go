// Package download runs single audio download attempts and files the result
// into the library directory.
package download

import "context"

// Result is the outcome of one attempt. Success=false with Error set is an
// ordinary failure of the extractor (bad URL, network, transcode); it is not
// reported through the error return.
type Result struct {
	Success         bool
	FilePath        string
	Title           string
	Artist          string
	DurationSeconds float64
	Error           string
}

// Executor performs one synchronous download attempt, writing its output into
// workDir. The returned error is reserved for faults outside the extractor.
type Executor interface {
	Attempt(ctx context.Context, url, workDir string) (Result, error)
}
