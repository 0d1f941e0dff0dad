package models

import "time"

// CourseSnapshot is a point-in-time copy of the catalog's capacity counter.
// It may already be stale when a write-back is issued.
type CourseSnapshot struct {
	CourseID  CourseID  `json:"courseId"`
	Code      string    `json:"code,omitempty"`
	Title     string    `json:"title,omitempty"`
	Capacity  int       `json:"capacity"`
	Enrolled  int       `json:"enrolled"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// HasSeat reports whether enrolled leaves room under capacity.
func (c CourseSnapshot) HasSeat(enrolled int) bool {
	return enrolled < c.Capacity
}
