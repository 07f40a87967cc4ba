package client

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

// decodeResponse normalizes one HTTP response into the JSON-RPC
// message matching id, regardless of whether the server chose a plain
// JSON body or an event stream. Callers see no difference between the
// two encodings.
func decodeResponse(resp *http.Response, id int64) (*responseMessage, error) {
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, &TransportError{Op: "parse content type", Err: err}
	}

	switch mediaType {
	case "application/json":
		return decodeJSON(resp.Body, id)
	case "text/event-stream":
		return decodeEventStream(resp.Body, id)
	default:
		return nil, &TransportError{Op: "decode response", Err: fmt.Errorf("unexpected content type %q", mediaType)}
	}
}

// decodeJSON reads a single JSON-RPC message from the body.
func decodeJSON(body io.Reader, id int64) (*responseMessage, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, &TransportError{Op: "read response body", Err: err}
	}
	msg, err := parseMessage(data, id)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, &TransportError{Op: "decode response", Err: fmt.Errorf("no response for request %d", id)}
	}
	return msg, nil
}

// decodeEventStream scans server-sent events until it finds the
// response matching id. Other messages on the stream, such as server
// notifications, are skipped.
func decodeEventStream(body io.Reader, id int64) (*responseMessage, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			// Blank line dispatches the accumulated event.
			if len(data) == 0 {
				continue
			}
			msg, err := parseMessage([]byte(strings.Join(data, "\n")), id)
			data = data[:0]
			if err != nil {
				return nil, err
			}
			if msg != nil {
				return msg, nil
			}
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// event:, id:, retry: and comment lines carry no payload.
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &TransportError{Op: "read event stream", Err: err}
	}
	return nil, &TransportError{Op: "read event stream", Err: fmt.Errorf("stream ended before response %d", id)}
}

// parseMessage decodes one payload, which may be a single message or a
// batch, and returns the message matching id, or nil when absent.
func parseMessage(payload []byte, id int64) (*responseMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var batch []responseMessage
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, &TransportError{Op: "decode message batch", Err: err}
		}
		for i := range batch {
			if batch[i].ID == id {
				return &batch[i], nil
			}
		}
		return nil, nil
	}

	var msg responseMessage
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, &TransportError{Op: "decode message", Err: err}
	}
	if msg.ID != id {
		return nil, nil
	}
	return &msg, nil
}
