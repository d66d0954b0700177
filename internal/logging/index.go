package logging

import (
	"fmt"
	"strings"
	"time"
)

// IndexPrefix returns "{app}-{env}" with both segments lowercased and dots
// replaced by dashes. An empty environment yields an empty segment.
func IndexPrefix(app, env string) string {
	return indexSegment(app) + "-" + indexSegment(env)
}

// IndexName returns the monthly index "{app}-{env}-{yyyy}-{MM}" for now in UTC.
func IndexName(app, env string, now time.Time) string {
	utc := now.UTC()
	return fmt.Sprintf("%s-%04d-%02d", IndexPrefix(app, env), utc.Year(), int(utc.Month()))
}

func indexSegment(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), ".", "-")
}
