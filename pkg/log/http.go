package log

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

const headerRequestID = "X-Request-ID"

// Transport is an http.RoundTripper that tags every outbound request with an
// X-Request-ID and logs its outcome through the logger found in the request
// context.
type Transport struct {
	Base http.RoundTripper
}

// NewTransport wraps base; a nil base means http.DefaultTransport.
func NewTransport(base http.RoundTripper) *Transport {
	return &Transport{Base: base}
}

func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()

	reqID := r.Header.Get(headerRequestID)
	if reqID == "" {
		reqID = uuid.New().String()
		r = r.Clone(r.Context())
		r.Header.Set(headerRequestID, reqID)
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	l := Ctx(r.Context())
	resp, err := base.RoundTrip(r)
	if err != nil {
		l.Warn().
			Err(err).
			Str(FieldRequestID, reqID).
			Str(FieldMethod, r.Method).
			Str(FieldPath, r.URL.Path).
			Float64(FieldLatency, float64(time.Since(start).Milliseconds())).
			Msg("request failed")
		return nil, err
	}

	l.Debug().
		Str(FieldRequestID, reqID).
		Str(FieldMethod, r.Method).
		Str(FieldPath, r.URL.Path).
		Int(FieldStatus, resp.StatusCode).
		Float64(FieldLatency, float64(time.Since(start).Milliseconds())).
		Msg("request completed")

	return resp, nil
}
