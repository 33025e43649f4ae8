package recorder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/kozaktomas/attendance-scanner/internal/scan"
)

// StatusError is returned when the backend answers with an unexpected status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.Code, e.Body)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// HTTPRecorder writes attendance to the school REST backend.
type HTTPRecorder struct {
	parsedURL *url.URL
	token     string
	client    *http.Client
}

// NewHTTPRecorder creates a recorder for the backend at rawURL. The token is sent as
// a bearer token when set.
func NewHTTPRecorder(rawURL, token string) (*HTTPRecorder, error) {
	parsed, err := url.Parse(strings.TrimSuffix(rawURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid recorder URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid recorder URL scheme %q", parsed.Scheme)
	}
	return &HTTPRecorder{
		parsedURL: parsed,
		token:     token,
		client:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type attendanceRequest struct {
	IdentityID string    `json:"identity_id"`
	Section    string    `json:"section"`
	Subject    string    `json:"subject"`
	Date       string    `json:"date"`
	RecordedAt time.Time `json:"recorded_at"`
	Status     string    `json:"status"`
}

type attendanceResponse struct {
	ID string `json:"id"`
}

// Record posts one attendance row. A 409 response means the backend already holds
// attendance for this student today and is reported as scan.ErrDuplicate.
func (r *HTTPRecorder) Record(ctx context.Context, rec scan.AttendanceRecord) (string, error) {
	resp, err := doRequestJSON[attendanceResponse](ctx, r, http.MethodPost, "attendance", attendanceRequest{
		IdentityID: rec.IdentityID,
		Section:    rec.Section,
		Subject:    rec.Subject,
		Date:       rec.Date,
		RecordedAt: rec.RecordedAt,
		Status:     rec.Status,
	}, http.StatusOK, http.StatusCreated)
	if err != nil {
		if IsStatus(err, http.StatusConflict) {
			return "", fmt.Errorf("%w: %s", scan.ErrDuplicate, rec.IdentityID)
		}
		return "", err
	}
	return resp.ID, nil
}

func (r *HTTPRecorder) resolveURL(pathSegments ...string) string {
	return r.parsedURL.JoinPath(pathSegments...).String()
}

// doRequestJSON performs a request with a JSON body and decodes the JSON response.
// Any status not in expectedStatuses is returned as a *StatusError.
func doRequestJSON[T any](ctx context.Context, r *HTTPRecorder, method, endpoint string, requestBody any, expectedStatuses ...int) (*T, error) {
	var bodyReader io.Reader
	if requestBody != nil {
		jsonBody, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("could not marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.resolveURL(endpoint), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}

	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	if requestBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if !slices.Contains(expectedStatuses, resp.StatusCode) {
		return nil, &StatusError{Code: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response body: %w", err)
	}

	var result T
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("could not unmarshal response: %w", err)
	}

	return &result, nil
}

// readErrorBody reads at most 1KB of the response body for error messages.
func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 1024))
	if err != nil {
		return "(could not read error body)"
	}
	return strings.TrimSpace(string(body))
}
