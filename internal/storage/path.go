// Package storage holds helpers shared by the raw-artifact store backends.
package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultPathTemplate names artifacts by resource and run start time.
const DefaultPathTemplate = "{id}/{timestamp}.html"

// TimestampLayout formats the {timestamp} placeholder.
const TimestampLayout = "20060102T150405Z"

// ImagesDir is the top-level key prefix of downloaded offer images.
const ImagesDir = "images"

// ImageKey returns the artifact key of an offer image. ext may be empty.
func ImageKey(resourceID, imageID, ext string) string {
	key := ImagesDir + "/" + resourceID + "/" + imageID
	if ext != "" {
		key += "." + ext
	}
	return key
}

// PathTemplate renders deterministic artifact keys.
type PathTemplate string

// Validate checks that the template identifies both the resource and the run.
func (p PathTemplate) Validate() error {
	s := string(p)
	if !strings.Contains(s, "{id}") || !strings.Contains(s, "{timestamp}") {
		return fmt.Errorf("path template %q must contain {id} and {timestamp}", s)
	}
	if strings.HasPrefix(s, "/") || strings.Contains(s, "..") {
		return errors.New("path template must be relative")
	}
	return nil
}

// Render returns the artifact key for a resource fetched in a run started at runStartedAt.
func (p PathTemplate) Render(resourceID string, runStartedAt time.Time) string {
	tmpl := string(p)
	if tmpl == "" {
		tmpl = DefaultPathTemplate
	}
	return strings.NewReplacer(
		"{id}", resourceID,
		"{timestamp}", runStartedAt.UTC().Format(TimestampLayout),
	).Replace(tmpl)
}
