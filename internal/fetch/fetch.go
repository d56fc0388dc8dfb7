package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/tag-ingest/internal/record"
)

// maxErrorBody caps how much of a failed response is kept for logging.
const maxErrorBody = 4096

// BuildURL builds the upstream request URL. Each tag is query-escaped on
// its own and the tags are joined with literal commas.
func BuildURL(base, userKey string, tags []string) string {
	escaped := make([]string, len(tags))
	for i, t := range tags {
		escaped[i] = url.QueryEscape(t)
	}

	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep +
		"tags=" + strings.Join(escaped, ",") +
		"&PWCM_CD=ST" +
		"&USER_KEY=" + url.QueryEscape(userKey)
}

// FetchOnce performs a single request and enqueues the decoded records.
//
// Parameters:
//   - ctx: Cancels the request and stops enqueueing
//
// Returns:
//   - processed: Records accepted by the queue
//   - dropped: Records rejected because the queue was full
//   - error: ErrRequest, ErrStatus or ErrDecode on failure
func (s *Scheduler) FetchOnce(ctx context.Context) (processed, dropped int, err error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet,
		BuildURL(s.cfg.APIURL, s.cfg.UserKey, s.cfg.Tags), nil)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrRequest, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error("error fetching data", "error", err)
		s.metrics.FetchFailed("transport")
		s.recordFailure(ctx, start, 0, err.Error(), true)
		return 0, 0, fmt.Errorf("%w: %w", ErrRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(body))
		s.logger.Error("received error status code", "status", resp.StatusCode, "body", msg)
		s.metrics.FetchFailed(statusReason(resp.StatusCode))
		s.recordFailure(ctx, start, resp.StatusCode, msg, resp.StatusCode < http.StatusInternalServerError)
		return 0, 0, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}

	objects, err := decode(resp.Body)
	if err != nil {
		s.logger.Error("error processing response", "error", err)
		s.metrics.FetchFailed("decode")
		s.recordFailure(ctx, start, resp.StatusCode, err.Error(), true)
		return 0, 0, err
	}

	for _, obj := range objects {
		if ctx.Err() != nil {
			break
		}
		rec, err := record.FromSource(s.cfg.Root, obj, s.cfg.Location)
		if err != nil {
			s.logger.Error("error processing data point", "error", err)
			continue
		}
		if s.queue.TryEnqueue(record.Data(rec)) {
			processed++
		} else {
			dropped++
		}
	}

	s.metrics.RecordsFetched(processed)
	s.metrics.RecordsDropped(dropped)
	if dropped > 0 {
		s.logger.Warn("queue full, records dropped", "dropped", dropped)
	}
	s.logger.Info("processed data points",
		"processed", processed,
		"dropped", dropped,
		"elapsed", time.Since(start),
	)
	return processed, dropped, nil
}

func (s *Scheduler) recordFailure(ctx context.Context, start time.Time, status int, reason string, full bool) {
	s.failures.LogFailedRequest(context.WithoutCancel(ctx), record.FailedRequest{
		Tag:                strings.Join(s.cfg.Tags, ","),
		Start:              start,
		End:                time.Now(),
		Status:             status,
		Reason:             reason,
		IncludeFullMessage: full,
	})
}

func statusReason(code int) string {
	if code >= http.StatusInternalServerError {
		return "server"
	}
	return "client"
}

// decode reads a JSON array of flat objects. Scalar values are rendered as
// strings; nulls and nested values are skipped.
func decode(r io.Reader) ([]map[string]string, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty body", ErrDecode)
		}
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	out := make([]map[string]string, 0, len(raw))
	for _, obj := range raw {
		flat := make(map[string]string, len(obj))
		for k, v := range obj {
			switch tv := v.(type) {
			case string:
				flat[k] = tv
			case json.Number:
				flat[k] = tv.String()
			case bool:
				flat[k] = strconv.FormatBool(tv)
			}
		}
		out = append(out, flat)
	}
	return out, nil
}
