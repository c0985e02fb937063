package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrMalformed marks a line that is not a valid JSON object. During
// authentication the caller skips it; in the message phase it terminates
// the connection.
var ErrMalformed = errors.New("malformed frame")

// Encode marshals v and appends the newline terminator.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	return append(data, '\n'), nil
}

// Reader splits a connection's byte stream into newline-delimited frames.
// Empty lines are discarded. Lines longer than the buffer size fail the read.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader creates a frame reader over r with the given buffer size.
func NewReader(r io.Reader, bufSize int) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, bufSize), bufSize)
	return &Reader{scanner: sc}
}

// Next returns the next non-empty line without its newline.
// Returns io.EOF when the stream ends.
func (r *Reader) Next() ([]byte, error) {
	for {
		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		return line, nil
	}
}

// ReadFrame decodes the next line as a ClientFrame.
// Decode failures wrap ErrMalformed; transport failures are returned as-is.
func (r *Reader) ReadFrame() (*ClientFrame, error) {
	line, err := r.Next()
	if err != nil {
		return nil, err
	}
	var frame ClientFrame
	if err := json.Unmarshal(line, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &frame, nil
}
