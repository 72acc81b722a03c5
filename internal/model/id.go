package model

import (
	"strconv"
	"strings"

	"github.com/oklog/ulid/v2"
)

// JobPrefix is the fixed part of every job identifier and workspace directory name.
const JobPrefix = "website_"

// NewID generates a new ULID string for use as an event identifier.
func NewID() string {
	return ulid.Make().String()
}

// FormatJobID returns the job identifier for sequence number n.
func FormatJobID(n int) string {
	return JobPrefix + strconv.Itoa(n)
}

// ParseJobID extracts the sequence number from a job identifier. Only the
// canonical form produced by FormatJobID is accepted, so "website_01",
// "website_+1" or "website_1/.." are rejected.
func ParseJobID(id string) (int, bool) {
	digits, ok := strings.CutPrefix(id, JobPrefix)
	if !ok || digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 {
		return 0, false
	}
	if strconv.Itoa(n) != digits {
		return 0, false
	}
	return n, true
}
