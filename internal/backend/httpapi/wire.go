// Package httpapi carries backend.Backend calls over JSON/HTTP.
//
// Client implements backend.Backend against a remote server; NewHandler
// exposes any backend.Backend as such a server. Failures travel as an
// errorBody with the backend error code so both ends agree on classification.
package httpapi

import (
	"net/http"

	"github.com/clientdossiers/dsync/internal/backend"
	"github.com/clientdossiers/dsync/internal/offline/schema"
)

type clientRequest struct {
	Name    string         `json:"name"`
	Address schema.Address `json:"address"`
	Phone   string         `json:"phone"`
	Email   string         `json:"email"`
}

type interventionRequest struct {
	Comments string        `json:"comments"`
	Media    []schema.Blob `json:"media"`
	Day      uint64        `json:"day"`
	Month    uint64        `json:"month"`
	Year     uint64        `json:"year"`
}

type blacklistRequest struct {
	Comments string        `json:"comments"`
	Media    []schema.Blob `json:"media"`
}

type uploadRequest struct {
	Path string      `json:"path"`
	Blob schema.Blob `json:"blob"`
}

type moveRequest struct {
	OldPath string `json:"old_path"`
	NewPath string `json:"new_path"`
}

type renameRequest struct {
	OldPath string `json:"old_path"`
	NewName string `json:"new_name"`
}

type folderRequest struct {
	Path string `json:"path"`
}

type errorBody struct {
	Code    backend.Code `json:"code"`
	Message string       `json:"message"`
}

// statusFor maps an error code to the HTTP status the handler answers with.
func statusFor(code backend.Code) int {
	switch code {
	case backend.CodeUnauthorized:
		return http.StatusUnauthorized
	case backend.CodeOwnership:
		return http.StatusForbidden
	case backend.CodeNotFound:
		return http.StatusNotFound
	case backend.CodeInvalid:
		return http.StatusUnprocessableEntity
	case backend.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// codeFor maps a response status to an error code when the body carries none.
// Such responses come from proxies or unknown routes rather than the backend,
// so only statuses that are transient whatever their source get a code.
// Bare 403, 404 and 400 stay CodeUnknown: they say nothing about the record.
func codeFor(status int) backend.Code {
	switch {
	case status == http.StatusUnauthorized:
		return backend.CodeUnauthorized
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return backend.CodeUnavailable
	default:
		return backend.CodeUnknown
	}
}
