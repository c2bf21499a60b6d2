package httputil

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/getsentry/sentry-go"
	"github.com/pierrec/lz4/v4"

	"github.com/getsentry/vernier/internal/testutil"
)

func echo(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		_, _ = w.Write(b)
	})
}

func TestDecompressPayload(t *testing.T) {
	const payload = `{"threads":[]}`

	var br bytes.Buffer
	bw := brotli.NewWriter(&br)
	_, _ = bw.Write([]byte(payload))
	_ = bw.Close()

	var lz bytes.Buffer
	zw := lz4.NewWriter(&lz)
	_, _ = zw.Write([]byte(payload))
	_ = zw.Close()

	tests := []struct {
		name     string
		encoding string
		body     []byte
	}{
		{"identity", "", []byte(payload)},
		{"brotli", "br", br.Bytes()},
		{"lz4", "lz4", lz.Bytes()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/convert", bytes.NewReader(tt.body))
			req.Header.Set("Content-Encoding", tt.encoding)
			rec := httptest.NewRecorder()
			DecompressPayload(echo(t)).ServeHTTP(rec, req)
			if got := rec.Body.String(); got != payload {
				t.Fatalf("expected %q, got %q", payload, got)
			}
		})
	}
}

func TestQueryHelpers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?seconds=0.5&interval=200&bad=x&mode=time", nil)

	if d, err := QuerySeconds(req, "seconds", time.Second); err != nil || d != 500*time.Millisecond {
		t.Fatalf("unexpected duration %v, %v", d, err)
	}
	if d, err := QuerySeconds(req, "missing", time.Second); err != nil || d != time.Second {
		t.Fatalf("unexpected default %v, %v", d, err)
	}
	if _, err := QuerySeconds(req, "bad", time.Second); err == nil {
		t.Fatalf("expected an error")
	}
	if v, err := QueryUint(req, "interval", 500); err != nil || v != 200 {
		t.Fatalf("unexpected interval %d, %v", v, err)
	}
	if _, err := QueryUint(req, "bad", 500); err == nil {
		t.Fatalf("expected an error")
	}
	if got := QueryString(req, "format", "json"); got != "json" {
		t.Fatalf("unexpected default %q", got)
	}

	rec := httptest.NewRecorder()
	params, _, ok := GetRequiredQueryParameters(rec, req, "mode", "format")
	if ok || params != nil || rec.Code != http.StatusBadRequest {
		t.Fatalf("expected missing format to be rejected, got %d", rec.Code)
	}
}

func TestTagEvent(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/debug/vernier/profile?mode=retained", nil)
	tests := []struct {
		name  string
		event *sentry.Event
		hint  *sentry.EventHint
		want  map[string]string
	}{
		{
			name:  "no hint",
			event: &sentry.Event{},
			want:  nil,
		},
		{
			name:  "response and request",
			event: &sentry.Event{},
			hint: &sentry.EventHint{
				Request:  req,
				Response: &http.Response{StatusCode: http.StatusBadRequest},
			},
			want: map[string]string{
				HTTPStatusCodeTag: "400",
				ProfileModeTag:    "retained",
			},
		},
		{
			name:  "existing tags are kept",
			event: &sentry.Event{Tags: map[string]string{HTTPStatusCodeTag: "500"}},
			hint: &sentry.EventHint{
				Response: &http.Response{StatusCode: http.StatusOK},
			},
			want: map[string]string{HTTPStatusCodeTag: "500"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := TagEvent(tt.event, tt.hint)
			if diff := testutil.Diff(e.Tags, tt.want); diff != "" {
				t.Fatalf("Result mismatch: got - want +\n%s", diff)
			}
		})
	}
}
