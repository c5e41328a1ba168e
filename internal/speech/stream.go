package speech

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/MrWong99/lectern/pkg/provider/tts"
	"github.com/MrWong99/lectern/pkg/types"
)

// Stream is a lazily produced sequence of fixed-size audio chunks from one
// provider. It is not safe for concurrent use by multiple readers.
type Stream struct {
	ctx       context.Context
	cancel    context.CancelFunc
	src       <-chan tts.Chunk
	buf       []byte
	srcDone   bool
	chunkSize int
	format    types.AudioFormat
	provider  string
	err       error

	doneOnce sync.Once
	onDone   func(err error)
}

// Format reports the container format of the provider in use.
func (s *Stream) Format() types.AudioFormat { return s.format }

// Provider reports the name of the provider in use.
func (s *Stream) Provider() string { return s.provider }

// Next returns the next chunk. Every chunk is exactly the configured chunk size
// except the last one. Next returns io.EOF after the last chunk, or the
// provider or context error that ended the stream. Once Next has returned an
// error it keeps returning it.
func (s *Stream) Next() ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	for len(s.buf) < s.chunkSize && !s.srcDone {
		var (
			c  tts.Chunk
			ok bool
		)
		select {
		case c, ok = <-s.src:
		case <-s.ctx.Done():
			return nil, s.fail(s.ctx.Err())
		}
		if !ok {
			if err := s.ctx.Err(); err != nil {
				return nil, s.fail(err)
			}
			s.srcDone = true
			break
		}
		if c.Err != nil {
			return nil, s.fail(fmt.Errorf("speech: %s stream: %w", s.provider, c.Err))
		}
		s.buf = append(s.buf, c.Data...)
	}
	if len(s.buf) == 0 {
		s.finish(nil)
		s.err = io.EOF
		return nil, io.EOF
	}
	n := min(s.chunkSize, len(s.buf))
	out := make([]byte, n)
	copy(out, s.buf[:n])
	s.buf = s.buf[n:]
	return out, nil
}

// ReadAll drains the stream and returns every remaining byte.
func (s *Stream) ReadAll() ([]byte, error) {
	var out []byte
	for {
		b, err := s.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, b...)
	}
}

// Close stops the provider and releases the stream. It is safe to call more
// than once.
func (s *Stream) Close() error {
	s.cancel()
	if !s.srcDone {
		go drain(s.src)
		s.srcDone = true
	}
	s.finish(s.ctx.Err())
	return nil
}

func (s *Stream) fail(err error) error {
	s.err = err
	s.finish(err)
	return err
}

func (s *Stream) finish(err error) {
	s.doneOnce.Do(func() {
		if s.onDone != nil {
			s.onDone(err)
		}
	})
}
