package models

import "fmt"

// PageRange is the inclusive, 1-based span of document pages selected for
// processing.
type PageRange struct {
	First int
	Last  int
}

// Count returns the number of pages covered by the range.
func (r PageRange) Count() int {
	return r.Last - r.First + 1
}

// Validate checks the range against the document's page count. It must be
// called before any page work begins so that an invalid request fails
// without leaving artifacts behind.
func (r PageRange) Validate(pageCount int) error {
	if pageCount < 1 {
		return fmt.Errorf("document has no pages")
	}
	if r.First < 1 {
		return fmt.Errorf("first page must be at least 1, got %d", r.First)
	}
	if r.Last < r.First {
		return fmt.Errorf("last page %d is before first page %d", r.Last, r.First)
	}
	if r.Last > pageCount {
		return fmt.Errorf("last page %d exceeds document page count %d", r.Last, pageCount)
	}
	return nil
}

// PageResult is the outcome of processing a single page: either extracted
// text, or the error that stopped the page. Immutable once produced.
type PageResult struct {
	PageNumber int
	Text       string
	Err        error
}

// Failed reports whether the page ended in a failure marker.
func (r PageResult) Failed() bool {
	return r.Err != nil
}
