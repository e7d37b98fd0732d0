package webdav

import (
	"errors"
	"fmt"
	"net/http"
)

// Error carries the HTTP status a protocol failure maps to, plus an
// optional DAV precondition tag for the error body.
type Error struct {
	Status int
	Tag    string
	Msg    string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return http.StatusText(e.Status)
	}
	return e.Msg
}

func NotFound(msg string) error {
	return &Error{Status: http.StatusNotFound, Msg: msg}
}

func BadRequest(msg string) error {
	return &Error{Status: http.StatusBadRequest, Msg: msg}
}

func Forbidden(msg string) error {
	return &Error{Status: http.StatusForbidden, Msg: msg}
}

func ForbiddenTag(tag, msg string) error {
	return &Error{Status: http.StatusForbidden, Tag: tag, Msg: msg}
}

func PreconditionFailed(msg string) error {
	return &Error{Status: http.StatusPreconditionFailed, Msg: msg}
}

func Conflict(msg string) error {
	return &Error{Status: http.StatusConflict, Msg: msg}
}

func UnsupportedMediaType(msg string) error {
	return &Error{Status: http.StatusUnsupportedMediaType, Msg: msg}
}

func ServerError(format string, args ...any) error {
	return &Error{Status: http.StatusInternalServerError, Msg: fmt.Sprintf(format, args...)}
}

// StatusOf maps any error to the HTTP status it should answer with.
func StatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var we *Error
	if errors.As(err, &we) {
		return we.Status
	}
	return http.StatusInternalServerError
}
