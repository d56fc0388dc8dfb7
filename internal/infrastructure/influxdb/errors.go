package influxdb

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	ihttp "github.com/influxdata/influxdb-client-go/v2/api/http"

	"github.com/nerrad567/tag-ingest/internal/retry"
	"github.com/nerrad567/tag-ingest/internal/storage"
)

// Sentinel errors for InfluxDB operations.
//
// Server responses are additionally translated into the storage and retry
// markers so callers can use storage.IsAlreadyExists, storage.IsConnectionFault
// and the default retry classifier:
//
//	if errors.Is(err, storage.ErrAlreadyExists) {
//	    // bucket, template or binding is already there
//	}
var (
	// ErrInvalidConfig indicates the engine configuration is unusable.
	ErrInvalidConfig = errors.New("influxdb: invalid config")

	// ErrNotFound indicates the server reported a missing bucket or organization.
	ErrNotFound = errors.New("influxdb: not found")

	// ErrTemplateNotFound is returned when binding an unknown template.
	ErrTemplateNotFound = errors.New("influxdb: template not found")
)

// translate maps client errors onto the storage and retry markers.
//
// The write and query APIs return *http.Error carrying the status code.
// The generated domain client (ping, buckets, organizations) returns plain
// errors shaped "<code>: <message>" or "<status line>: <body>", so those
// are classified by text.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}

	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s: %w", op, err)
	}

	status, msg := 0, strings.ToLower(err.Error())
	var herr *ihttp.Error
	if errors.As(err, &herr) {
		status = herr.StatusCode
		if status == 0 {
			// Transport failure wrapped by the HTTP service.
			return fmt.Errorf("%s: %w", op, err)
		}
	} else {
		status = statusFromText(msg)
	}

	var marker error
	switch {
	case status == 409 || strings.HasPrefix(msg, "conflict") || strings.Contains(msg, "already exists"):
		marker = storage.ErrAlreadyExists
	case status == 404 || strings.Contains(msg, "not found"):
		return fmt.Errorf("%s: %w: %w: %w", op, ErrNotFound, retry.ErrNonRetryable, err)
	case status >= 500 || strings.HasPrefix(msg, "internal error") || strings.HasPrefix(msg, "unavailable"):
		marker = retry.ErrServer
	case status == 429 || strings.HasPrefix(msg, "too many requests"):
		return fmt.Errorf("%s: %w", op, err)
	case status >= 400 || isClientCode(msg):
		marker = retry.ErrNonRetryable
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, marker, err)
}

// statusFromText reads a leading "503 Service Unavailable" status line.
func statusFromText(msg string) int {
	head, _, _ := strings.Cut(msg, " ")
	code, err := strconv.Atoi(head)
	if err != nil || code < 100 || code > 599 {
		return 0
	}
	return code
}

func isClientCode(msg string) bool {
	for _, code := range []string{"invalid", "unauthorized", "forbidden", "unprocessable entity", "empty value", "request too large", "unsupported media type", "method not allowed"} {
		if strings.HasPrefix(msg, code) {
			return true
		}
	}
	return false
}
