package api

import (
	"sort"
	"time"
)

// SortJobsNewestFirst orders views by CreatedAt descending, breaking ties by ID.
func SortJobsNewestFirst(views []JobView) []JobView {
	if len(views) == 0 {
		return nil
	}
	sorted := make([]JobView, len(views))
	copy(sorted, views)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti := ParseTime(sorted[i].CreatedAt)
		tj := ParseTime(sorted[j].CreatedAt)
		if ti.Equal(tj) {
			return sorted[i].ID > sorted[j].ID
		}
		return ti.After(tj)
	})
	return sorted
}

// ParseTime parses an API timestamp; malformed values yield the zero time.
func ParseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}
