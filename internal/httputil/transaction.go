package httputil

import (
	"strconv"

	"github.com/getsentry/sentry-go"
)

const (
	// HTTPStatusCodeTag is the name of the HTTP status code tag.
	HTTPStatusCodeTag = "http.response.status_code"
	// ProfileModeTag names the collection mode an event was reported under.
	ProfileModeTag = "profile.mode"
)

// TagEvent copies the response status code and the requested profile mode
// onto the event, unless they are already set.
func TagEvent(e *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	if hint == nil {
		return e
	}
	tags := make(map[string]string, 2)
	if hint.Response != nil {
		tags[HTTPStatusCodeTag] = strconv.Itoa(hint.Response.StatusCode)
	}
	if hint.Request != nil {
		if mode := hint.Request.URL.Query().Get("mode"); mode != "" {
			tags[ProfileModeTag] = mode
		}
	}
	if len(tags) == 0 {
		return e
	}
	if e.Tags == nil {
		e.Tags = make(map[string]string, len(tags))
	}
	for k, v := range tags {
		if _, exists := e.Tags[k]; !exists {
			e.Tags[k] = v
		}
	}
	return e
}
