package protocol

import "errors"

// Error taxonomy shared between the core and the speech backend. Acks
// carry the code on the wire; the sentinels carry it in-process.
var (
	ErrPermissionDenied   = errors.New("microphone permission denied")
	ErrModelUnavailable   = errors.New("no usable speech model")
	ErrDownloadFailed     = errors.New("model download failed")
	ErrBackendUnreachable = errors.New("speech backend unreachable")
)

const (
	CodePermissionDenied   = "permission-denied"
	CodeModelUnavailable   = "model-unavailable"
	CodeDownloadFailed     = "download-failed"
	CodeBackendUnreachable = "backend-unreachable"
)

// Ack is the generic reply to a backend command.
type Ack struct {
	OK    bool   `json:"ok"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// ErrorForCode maps a wire code back to its sentinel. Unknown codes map
// to nil so callers fall through to the raw message.
func ErrorForCode(code string) error {
	switch code {
	case CodePermissionDenied:
		return ErrPermissionDenied
	case CodeModelUnavailable:
		return ErrModelUnavailable
	case CodeDownloadFailed:
		return ErrDownloadFailed
	case CodeBackendUnreachable:
		return ErrBackendUnreachable
	}
	return nil
}
