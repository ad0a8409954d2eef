// Package collect drains a chunked byte stream into one contiguous buffer.
package collect

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// DefaultChunkSize is the read size used by FromReader when none is given.
const DefaultChunkSize = 32 * 1024

// ChunkSource yields the next chunk of a byte stream. It returns io.EOF once
// the stream is exhausted. A source is single use.
type ChunkSource interface {
	Next(ctx context.Context) ([]byte, error)
}

// StreamReadError reports a failure while draining a ChunkSource.
type StreamReadError struct {
	Chunks int
	Err    error
}

func (e *StreamReadError) Error() string {
	return fmt.Sprintf("stream read failed after %d chunks: %v", e.Chunks, e.Err)
}

func (e *StreamReadError) Unwrap() error {
	return e.Err
}

// All requests chunks from src until it reports io.EOF and returns them
// concatenated in arrival order. On any other error the data collected so far
// is discarded and a *StreamReadError is returned.
func All(ctx context.Context, src ChunkSource) ([]byte, error) {
	if src == nil {
		return nil, &StreamReadError{Err: errors.New("no byte source")}
	}

	var (
		chunks [][]byte
		total  int
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, &StreamReadError{Chunks: len(chunks), Err: err}
		}

		chunk, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &StreamReadError{Chunks: len(chunks), Err: err}
		}

		chunks = append(chunks, chunk)
		total += len(chunk)
	}

	combined := make([]byte, 0, total)
	for _, chunk := range chunks {
		combined = append(combined, chunk...)
	}
	return combined, nil
}

type readerSource struct {
	r    io.Reader
	size int
	done bool
}

// FromReader adapts r into a ChunkSource that reads up to chunkSize bytes per
// call. A non-positive chunkSize selects DefaultChunkSize.
func FromReader(r io.Reader, chunkSize int) ChunkSource {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &readerSource{r: r, size: chunkSize}
}

func (s *readerSource) Next(ctx context.Context) ([]byte, error) {
	for !s.done {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		buf := make([]byte, s.size)
		n, err := s.r.Read(buf)
		if errors.Is(err, io.EOF) {
			s.done = true
		} else if err != nil {
			return nil, errors.Wrap(err, "read chunk")
		}
		if n > 0 {
			return buf[:n], nil
		}
	}
	return nil, io.EOF
}

type sliceSource struct {
	chunks [][]byte
}

// FromChunks returns a ChunkSource that replays chunks in order.
func FromChunks(chunks ...[]byte) ChunkSource {
	return &sliceSource{chunks: chunks}
}

// FromBytes returns a ChunkSource over an already buffered message.
func FromBytes(raw []byte) ChunkSource {
	return FromReader(bytes.NewReader(raw), DefaultChunkSize)
}

func (s *sliceSource) Next(_ context.Context) ([]byte, error) {
	if len(s.chunks) == 0 {
		return nil, io.EOF
	}
	chunk := s.chunks[0]
	s.chunks = s.chunks[1:]
	return chunk, nil
}
