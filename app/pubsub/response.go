package pubsub

import (
	"errors"
	"io"
	"net/http"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/dmitrymomot/comet/core/broadcast"
)

const contentType = "text/plain; charset=ISO-8859-1"

// latin1Writer transcodes UTF-8 output to ISO-8859-1. Runes outside the
// charset are replaced.
type latin1Writer struct {
	http.ResponseWriter
}

func (w latin1Writer) Write(p []byte) (int, error) {
	out, err := encoding.ReplaceUnsupported(charmap.ISO8859_1.NewEncoder()).Bytes(p)
	if err != nil {
		return 0, err
	}
	if _, err := w.ResponseWriter.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w latin1Writer) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = io.WriteString(latin1Writer{w}, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrMissingMessage),
		errors.Is(err, broadcast.ErrInvalidTopic),
		errors.Is(err, broadcast.ErrInvalidPeriod):
		return http.StatusBadRequest
	case errors.Is(err, broadcast.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, broadcast.ErrAlreadySuspended):
		return http.StatusConflict
	case errors.Is(err, broadcast.ErrRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, broadcast.ErrDestroyed),
		errors.Is(err, broadcast.ErrRegistryClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	writeText(w, status, http.StatusText(status)+"\n")
}
