package storage

import (
	"path/filepath"
	"strings"
	"time"
)

// DatePath returns the local-disk location for objectID stored at t:
// <basePath>/<YYYY>/<MM>/<DD>/<objectID>, using t's UTC date.
// Bucketing by day keeps individual directories small.
//
// Example:
//
//	basePath: "/data", objectID: "report.pdf", t: 2026-10-18T09:30:00Z
//	result: "/data/2026/10/18/report.pdf"
func DatePath(basePath, objectID string, t time.Time) string {
	return filepath.Join(DateDir(basePath, t), objectID)
}

// DateDir returns the day directory for t without the filename.
// Useful for creating the directory structure before storing.
func DateDir(basePath string, t time.Time) string {
	t = t.UTC()
	return filepath.Join(
		basePath,
		t.Format("2006"),
		t.Format("01"),
		t.Format("02"),
	)
}

// isDateDirs reports whether rel (relative to the base path) has the
// YYYY/MM/DD shape produced by DateDir.
func isDateDirs(rel string) bool {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 {
		return false
	}
	_, err := time.Parse("2006/01/02", filepath.ToSlash(rel))
	return err == nil && len(parts[0]) == 4
}
