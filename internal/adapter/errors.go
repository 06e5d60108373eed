package adapter

import (
	"fmt"
	"net/http"
)

// Kind classifies why a file's upload was abandoned.
type Kind string

const (
	SizeExceeded     Kind = "size_exceeded"
	TypeNotAllowed   Kind = "type_not_allowed"
	SigningRejected  Kind = "signing_rejected"
	TransportFailure Kind = "transport_failure"
	UploadFailed     Kind = "upload_failed"
	SaveFailed       Kind = "save_failed"
)

// CodeRejected is the code shown for local size checks and signing refusals.
const CodeRejected = http.StatusForbidden

// UploadError is what ends up in an error row.
type UploadError struct {
	Kind    Kind
	Code    int
	Message string
	File    string
}

func (e *UploadError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s: %s: %s (%d)", e.Kind, e.File, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s (%d)", e.Kind, e.Message, e.Code)
}
