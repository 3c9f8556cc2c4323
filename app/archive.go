package app

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path"
	"strings"
	"time"
)

// Archive bundles the workbooks of every successful file into a zip.
// Entries keep submission order; repeated labels get a " (n)" suffix.
func (r BatchReport) Archive(modified time.Time) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	used := make(map[string]int)
	for _, f := range r.Files {
		if !f.OK() {
			continue
		}
		name := uniqueEntry(f.OutputName, used)
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to add %s to archive: %w", name, err)
		}
		if _, err := w.Write(f.Workbook); err != nil {
			return nil, fmt.Errorf("failed to write %s to archive: %w", name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}

func uniqueEntry(name string, used map[string]int) string {
	used[name]++
	n := used[name]
	if n == 1 {
		return name
	}
	ext := path.Ext(name)
	candidate := fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(name, ext), n, ext)
	used[candidate]++
	return candidate
}
