package stream

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// sseLineOverhead covers the field name, separator and line ending around
// a data value.
const sseLineOverhead = 64

var errFrameTooLarge = errors.New("sse event exceeds maximum frame size")

// sseEvent is one Server-Sent Event.
type sseEvent struct {
	Type string
	Data string
}

// sseScanner reads events from a text/event-stream body. Events end at a
// blank line, multiple data lines are joined with newlines, and comments
// and unknown fields are skipped. An event whose data grows past limit
// bytes stops the scanner with errFrameTooLarge.
type sseScanner struct {
	reader  *bufio.Reader
	limit   int
	current sseEvent
	err     error
}

func newSSEScanner(r io.Reader, limit int) *sseScanner {
	return &sseScanner{reader: bufio.NewReaderSize(r, 64*1024), limit: limit}
}

// Next advances to the next event. After it returns false, Err reports why.
func (s *sseScanner) Next() bool {
	if s.err != nil {
		return false
	}
	s.current = sseEvent{}

	var data []string
	var size int
	var eventType string
	for {
		line, err := s.readLine()
		if err == errFrameTooLarge {
			s.err = err
			return false
		}
		if err != nil && line == "" {
			s.err = err
			if err == io.EOF && len(data) > 0 {
				s.current = sseEvent{Type: eventType, Data: strings.Join(data, "\n")}
				return true
			}
			return false
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if len(data) > 0 {
				s.current = sseEvent{Type: eventType, Data: strings.Join(data, "\n")}
				return true
			}
			eventType = ""
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, ok := strings.Cut(line, ":")
		if ok {
			value = strings.TrimPrefix(value, " ")
		}
		switch field {
		case "data":
			if len(data) > 0 {
				size++
			}
			size += len(value)
			if size > s.limit {
				s.err = errFrameTooLarge
				return false
			}
			data = append(data, value)
		case "event":
			eventType = value
		}
	}
}

// readLine returns the next line including its terminator, failing once the
// line is longer than any acceptable event could need.
func (s *sseScanner) readLine() (string, error) {
	var line []byte
	for {
		chunk, err := s.reader.ReadSlice('\n')
		if len(line)+len(chunk) > s.limit+sseLineOverhead {
			return "", errFrameTooLarge
		}
		line = append(line, chunk...)
		if err == bufio.ErrBufferFull {
			continue
		}
		return string(line), err
	}
}

// Event returns the event read by the last successful Next.
func (s *sseScanner) Event() sseEvent {
	return s.current
}

// Err returns the error that stopped the scanner. io.EOF is reported as is
// because for a live stream a clean EOF is still a disconnect.
func (s *sseScanner) Err() error {
	return s.err
}
