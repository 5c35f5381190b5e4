package models

import "fmt"

// RenderError marks a page whose image could not be produced. It is
// page-scoped: the pipeline records it and moves on.
type RenderError struct {
	PageNumber int
	Err        error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render page %d: %v", e.PageNumber, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// RecognitionError marks a page whose OCR call failed after the retry
// budget was exhausted.
type RecognitionError struct {
	PageNumber int
	Attempts   int
	Err        error
}

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("recognize page %d after %d attempt(s): %v", e.PageNumber, e.Attempts, e.Err)
}

func (e *RecognitionError) Unwrap() error {
	return e.Err
}
