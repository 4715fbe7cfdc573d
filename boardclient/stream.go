package boardclient

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Stream reads board events from the stream service.
type Stream struct {
	BaseURL string
	Bearer  string
	HTTP    *http.Client
	Log     *log.Logger
	Backoff time.Duration
}

// NewStream creates a stream reader. Streaming requests carry no timeout.
func NewStream(baseURL, bearer string, logger *log.Logger) *Stream {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Stream{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Bearer:  bearer,
		HTTP:    &http.Client{},
		Log:     logger,
		Backoff: time.Second,
	}
}

// Subscribe connects to the board's event stream. The first connection is
// made before Subscribe returns; afterwards dropped connections are retried
// until ctx is done, when the returned channel is closed.
func (s *Stream) Subscribe(ctx context.Context, boardID string) (<-chan []byte, error) {
	res, err := s.connect(ctx, boardID)
	if err != nil {
		return nil, err
	}
	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		backoff := s.Backoff
		for {
			s.read(ctx, res, out)
			if ctx.Err() != nil {
				return
			}
			for {
				s.Log.WithField("board", boardID).Warn("event stream dropped, reconnecting")
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				if res, err = s.connect(ctx, boardID); err == nil {
					backoff = s.Backoff
					break
				}
				if backoff < 30*time.Second {
					backoff *= 2
				}
			}
		}
	}()
	return out, nil
}

func (s *Stream) connect(ctx context.Context, boardID string) (*http.Response, error) {
	q := url.Values{"boardId": {boardID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/stream?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if s.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+s.Bearer)
	}
	res, err := s.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		return nil, fmt.Errorf("stream %s: status %d", boardID, res.StatusCode)
	}
	return res, nil
}

// read forwards each data line until the body ends. Comment lines are
// keepalives and are skipped.
func (s *Stream) read(ctx context.Context, res *http.Response, out chan<- []byte) {
	defer res.Body.Close()
	scanner := bufio.NewScanner(res.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		select {
		case out <- []byte(strings.TrimSpace(data)):
		case <-ctx.Done():
			return
		}
	}
}
