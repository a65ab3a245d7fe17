package remote

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
)

// Stream reads newline-delimited frames from a server-sent event body.
type Stream struct {
	body   io.ReadCloser
	reader *bufio.Reader

	closeOnce sync.Once
}

func NewStream(body io.ReadCloser) *Stream {
	return &Stream{
		body:   body,
		reader: bufio.NewReader(body),
	}
}

// Next returns the body of the next frame. Blank lines, comments and event/id/retry
// fields are skipped and a leading "data:" is stripped. At the end of the body Next
// returns io.EOF. Cancelling ctx closes the stream.
func (s *Stream) Next(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = s.Close()
	})
	defer stop()

	for {
		line, err := s.reader.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}

		frame, ok := parseLine(line)
		if ok {
			return frame, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
	}
}

func parseLine(line []byte) ([]byte, bool) {
	line = bytes.TrimRight(line, "\r\n")
	if len(bytes.TrimSpace(line)) == 0 {
		return nil, false
	}
	if line[0] == ':' {
		return nil, false
	}
	for _, field := range [][]byte{[]byte("event:"), []byte("id:"), []byte("retry:")} {
		if bytes.HasPrefix(line, field) {
			log.Trace().Bytes("line", line).Msg("Skipping SSE field")
			return nil, false
		}
	}
	if bytes.HasPrefix(line, []byte("data:")) {
		line = bytes.TrimPrefix(line, []byte("data:"))
		line = bytes.TrimPrefix(line, []byte(" "))
	}
	return line, true
}

func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.body.Close()
	})
	return err
}
