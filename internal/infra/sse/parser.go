package sse

import (
	"bufio"
	"io"
	"strings"

	domain "github.com/ahrav/statbus-sync/internal/domain/importing"
)

// eventReader decodes the text/event-stream wire format.
type eventReader struct {
	r      *bufio.Reader
	lastID string
	first  bool
}

func newEventReader(r io.Reader) *eventReader {
	return &eventReader{r: bufio.NewReader(r), first: true}
}

// next returns the next dispatched event. Blocks without data are dropped.
// It returns io.EOF when the stream ends; a trailing partial event is
// discarded.
func (er *eventReader) next() (domain.StreamEvent, error) {
	var (
		name    string
		data    strings.Builder
		hasData bool
	)

	for {
		line, err := er.r.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return domain.StreamEvent{}, err
		}
		eof := err == io.EOF
		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")
		if er.first {
			line = strings.TrimPrefix(line, "\ufeff")
			er.first = false
		}

		if line == "" {
			if hasData {
				return domain.StreamEvent{Name: name, ID: er.lastID, Data: data.String()}, nil
			}
			name = ""
		} else {
			field, value := splitField(line)
			switch field {
			case "event":
				name = value
			case "data":
				if hasData {
					data.WriteByte('\n')
				}
				data.WriteString(value)
				hasData = true
			case "id":
				if !strings.ContainsRune(value, 0) {
					er.lastID = value
				}
			default:
				// Comments, retry hints and unknown fields carry nothing for us.
			}
		}

		if eof {
			return domain.StreamEvent{}, io.EOF
		}
	}
}

func splitField(line string) (field, value string) {
	if strings.HasPrefix(line, ":") {
		return "", ""
	}
	field, value, found := strings.Cut(line, ":")
	if !found {
		return line, ""
	}
	return field, strings.TrimPrefix(value, " ")
}
