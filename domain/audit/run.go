// Package audit describes the trail kept for every processed file, so a draw
// can be traced back to the exact source it was made from.
package audit

import (
	"time"

	"github.com/Niakdashit/Tirages-jeux/domain/contact"
	"github.com/Niakdashit/Tirages-jeux/domain/core"
)

// RunEntry is one processed file. Failed files are recorded too, with their error code.
type RunEntry struct {
	FileID      string `db:"file_id" json:"file_id"`
	BatchID     string `db:"batch_id" json:"batch_id"`
	Treatment   string `db:"treatment" json:"treatment"`
	SourceName  string `db:"source_name" json:"source_name"`
	Fingerprint string `db:"fingerprint" json:"fingerprint"`
	OutputName  string `db:"output_name" json:"output_name,omitempty"`
	Quota       int    `db:"quota" json:"quota,omitempty"`
	InputRows   int    `db:"input_rows" json:"input_rows"`
	OutputRows  int    `db:"output_rows" json:"output_rows"`
	Duplicates  int    `db:"duplicates" json:"duplicates"`
	Excluded    int    `db:"excluded" json:"excluded"`
	Winners     int    `db:"winners" json:"winners"`
	Reserves    int    `db:"reserves" json:"reserves"`
	ErrorCode   string `db:"error_code" json:"error_code,omitempty"`
	// CreatedAtMs is stored as unix milliseconds so the same schema works on every driver
	CreatedAtMs int64 `db:"created_at_ms" json:"-"`
}

// CreatedAt returns the record time in UTC
func (e RunEntry) CreatedAt() time.Time {
	return time.UnixMilli(e.CreatedAtMs).UTC()
}

// Failed reports whether the file was rejected
func (e RunEntry) Failed() bool {
	return e.ErrorCode != ""
}

// Query filters the trail; zero values match everything
type Query struct {
	Treatment   contact.Treatment
	Fingerprint core.SourceFingerprint
	Limit       int
}
