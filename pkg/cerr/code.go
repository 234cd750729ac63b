package cerr

import "net/http"

// Code classifies an error for callers. The mapping to HTTP statuses is the
// only transport concern this package knows about.
type Code int

const (
	OK Code = iota
	// Validation: missing or malformed input. Never retried; the caller
	// must fix the request.
	Validation
	// NotFound: a referenced entity does not exist.
	NotFound
	// DependencyConflict: a delete is blocked by existing references.
	DependencyConflict
	// Conflict: the operation races with current state (e.g. a queue that
	// already has a processing item).
	Conflict
	// ExternalTool: a subprocess exited non-zero or could not be started.
	ExternalTool
	// Manifest: the manifest file is unreadable, unparsable, or missing
	// mandatory fields.
	Manifest
	// Canceled: the caller went away.
	Canceled
	// Internal: a bug or an unexpected infrastructure failure.
	Internal
	// Unknown: an error that was not produced through this package.
	Unknown
)

var codeNames = map[Code]string{
	OK:                 "ok",
	Validation:         "validation",
	NotFound:           "not_found",
	DependencyConflict: "dependency_conflict",
	Conflict:           "conflict",
	ExternalTool:       "external_tool",
	Manifest:           "manifest",
	Canceled:           "canceled",
	Internal:           "internal",
	Unknown:            "unknown",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "unknown"
}

func (c Code) HTTPCode() int {
	switch c {
	case OK:
		return http.StatusOK
	case Validation:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case DependencyConflict, Conflict:
		return http.StatusConflict
	case ExternalTool, Manifest:
		return http.StatusBadGateway
	case Canceled:
		return 499
	case Internal, Unknown:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
