package jenkins

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"jenkinsrun/internal/engine"
)

// defaultMaxIdle is how many empty slices drain accepts while the server
// still announces more data
const defaultMaxIdle = 5

// errLogStalled is wrapped when the server keeps announcing data it never sends
var errLogStalled = errors.New("server announced more console output but sent none")

// logStreamer delivers console output of one build to the host. The cursor
// is a byte offset into the log that only moves forward, so every byte is
// requested and written once.
type logStreamer struct {
	client   *Client
	host     engine.Host
	job      string
	number   int
	interval time.Duration

	maxIdle int
	cursor  int64
	more    bool
	chunks  int
}

func newLogStreamer(client *Client, host engine.Host, job string, number int, interval time.Duration) *logStreamer {
	return &logStreamer{client: client, host: host, job: job, number: number, interval: interval, maxIdle: defaultMaxIdle, more: true}
}

// advance fetches the log from the cursor once
func (s *logStreamer) advance(ctx context.Context) error {
	path := fmt.Sprintf("%s/logText/progressiveText?start=%d", buildPath(s.job, s.number), s.cursor)

	resp, err := s.client.Get(ctx, path)
	if err != nil {
		if IsTransportTimeout(err) {
			return &engine.LogTimeoutError{Job: s.job, BuildNumber: s.number, Offset: s.cursor, Err: err}
		}
		return fmt.Errorf("fetch console output of %s #%d: %w", s.job, s.number, err)
	}

	next := s.cursor + int64(len(resp.Body))
	if size := resp.Header.Get("X-Text-Size"); size != "" {
		if n, err := strconv.ParseInt(size, 10, 64); err == nil {
			next = n
		}
	}
	if next > s.cursor {
		s.cursor = next
	}
	s.more = resp.Header.Get("X-More-Data") == "true"
	s.chunks++

	if len(resp.Body) > 0 {
		s.host.WriteOutput(resp.Text())
	}
	return nil
}

// drain fetches at least once and keeps going while the server says more
// data is coming. More than maxIdle empty slices in a row is a LogTimeoutError.
func (s *logStreamer) drain(ctx context.Context) error {
	idle := 0
	for {
		before := s.cursor
		if err := s.advance(ctx); err != nil {
			return err
		}
		if !s.more {
			return nil
		}
		if s.cursor != before {
			idle = 0
			continue
		}

		idle++
		if idle > s.maxIdle {
			return &engine.LogTimeoutError{Job: s.job, BuildNumber: s.number, Offset: s.cursor, Err: errLogStalled}
		}
		// The server is still flushing; wait instead of spinning on empty slices
		if err := sleep(ctx, s.interval); err != nil {
			return err
		}
	}
}
