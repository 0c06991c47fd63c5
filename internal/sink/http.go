package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/tohafrit/savegress-platform-sub002/internal/event"
)

// HTTP delivers batches as POST requests. The compressed payload goes in the
// body; batch framing travels in headers so the receiver can decode without
// sniffing.
type HTTP struct {
	url    string
	client *http.Client
}

// NewHTTP creates an HTTP sink posting to url.
func NewHTTP(url string) (*HTTP, error) {
	if url == "" {
		return nil, fmt.Errorf("http sink requires a url")
	}
	return &HTTP{
		url: url,
		// Per-send deadlines come from the caller's context.
		client: &http.Client{},
	}, nil
}

// Send posts one batch. Transport failures are retryable; response status
// codes are classified per NewStatus.
func (s *HTTP) Send(ctx context.Context, batch *event.Batch) (Ack, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(batch.Payload))
	if err != nil {
		return Ack{}, NewPermanent(err)
	}
	req.Header.Set("Content-Type", "application/x-msgpack")
	req.Header.Set("X-Cdc-Codec", batch.Codec)
	req.Header.Set("X-Cdc-Source", batch.Source())
	req.Header.Set("X-Cdc-Events", strconv.Itoa(batch.Len()))
	req.Header.Set("X-Cdc-First-Position", strconv.FormatUint(uint64(batch.First()), 10))
	req.Header.Set("X-Cdc-Last-Position", strconv.FormatUint(uint64(batch.Last()), 10))

	resp, err := s.client.Do(req)
	if err != nil {
		return Ack{}, NewRetryable(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Ack{}, NewStatus(resp.StatusCode,
			fmt.Errorf("unexpected response %s: %s", resp.Status, bytes.TrimSpace(body)))
	}
	return Ack{Delivered: batch.Len()}, nil
}
