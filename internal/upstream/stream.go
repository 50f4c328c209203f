package upstream

import (
	"bufio"
	"bytes"
	"io"
	"iter"
	"net/http"

	"github.com/tidwall/gjson"

	"chatgate/internal/core"
	"chatgate/internal/normalize"
)

const maxEventSize = 4 * 1024 * 1024

var (
	dataPrefix = []byte("data:")
	doneMarker = []byte("[DONE]")
)

// readEvents exposes a server-sent event body as a chunk stream. Each data
// payload is yielded as a JSON value when it parses, as text otherwise. The
// body is closed once the stream is drained or abandoned. A body without any
// data line reports normalize.ErrNotIterable.
//
// fail records transport faults; it may be nil.
func readEvents(body io.ReadCloser, fail func(err error) error) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		defer func() {
			_ = body.Close()
		}()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

		sawData := false
		for scanner.Scan() {
			line := bytes.TrimRight(scanner.Bytes(), "\r")
			if !bytes.HasPrefix(line, dataPrefix) {
				// event:, id:, retry: and comment lines carry no content
				continue
			}
			sawData = true
			payload := bytes.TrimSpace(line[len(dataPrefix):])
			if bytes.Equal(payload, doneMarker) {
				return
			}
			if len(payload) == 0 {
				continue
			}
			if !yield(eventValue(payload), nil) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			if fail != nil {
				err = fail(err)
			}
			yield(nil, err)
			return
		}
		if !sawData {
			yield(nil, normalize.ErrNotIterable)
		}
	}
}

func eventValue(payload []byte) any {
	if !gjson.ValidBytes(payload) {
		return string(payload)
	}
	result := gjson.ParseBytes(payload)
	if result.Type == gjson.String {
		return result.Str
	}
	return result
}

// streamError wraps a mid-stream read failure as a provider error.
func streamError(provider string) func(err error) error {
	return func(err error) error {
		return core.NewProviderError(provider, http.StatusBadGateway, "stream interrupted: "+err.Error(), err)
	}
}
