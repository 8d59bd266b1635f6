package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrEmptyBody is returned when a response carries no envelope at all.
var ErrEmptyBody = errors.New("empty response body")

// Envelope is the standard API response wrapper returned by the backend.
type Envelope[T any] struct {
	Status    int             `json:"status"`
	Success   bool            `json:"success"`
	Message   string          `json:"message,omitempty"`
	Data      T               `json:"data"`
	Errors    json.RawMessage `json:"errors,omitempty"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
}

// Failure describes an unsuccessful envelope or HTTP status.
type Failure struct {
	StatusCode int
	Message    string
	Details    json.RawMessage
}

func (f *Failure) Error() string {
	if f.Message == "" {
		return fmt.Sprintf("request failed with status %d", f.StatusCode)
	}
	return fmt.Sprintf("request failed with status %d: %s", f.StatusCode, f.Message)
}

// Decode reads an envelope from resp. Non-2xx statuses and envelopes with
// success=false yield a *Failure; undecodable bodies yield a wrapped decode error.
func Decode[T any](resp *http.Response) (*Envelope[T], error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if len(body) == 0 {
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, &Failure{StatusCode: resp.StatusCode}
		}
		return nil, ErrEmptyBody
	}

	var env Envelope[T]
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, &Failure{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return nil, fmt.Errorf("failed to decode response envelope: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest || !env.Success {
		status := env.Status
		if status == 0 {
			status = resp.StatusCode
		}
		return nil, &Failure{StatusCode: status, Message: env.Message, Details: env.Errors}
	}

	return &env, nil
}
