// Package deployerr defines the error kinds a deployment can end with.
//
// Every component of the pipeline returns *Error values so the controller and
// the HTTP layer can decide on a terminal state and a status code without
// string matching.
package deployerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a deployment failure
type Kind int

const (
	Internal Kind = iota
	InvalidRequest
	BuildNotFound
	BuildNotSuccessful
	UnexpectedArtifactCount
	UnexpectedArtifactType
	DownloadFailed
	DuplicateDeployment
	ExtractionFailed
	BundleCollision
	AssemblyFailed
	PublishFailed
	Busy
)

var kindNames = map[Kind]string{
	Internal:                "Internal",
	InvalidRequest:          "InvalidRequest",
	BuildNotFound:           "BuildNotFound",
	BuildNotSuccessful:      "BuildNotSuccessful",
	UnexpectedArtifactCount: "UnexpectedArtifactCount",
	UnexpectedArtifactType:  "UnexpectedArtifactType",
	DownloadFailed:          "DownloadFailed",
	DuplicateDeployment:     "DuplicateDeployment",
	ExtractionFailed:        "ExtractionFailed",
	BundleCollision:         "BundleCollision",
	AssemblyFailed:          "AssemblyFailed",
	PublishFailed:           "PublishFailed",
	Busy:                    "Busy",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// HTTPStatus maps a kind to the status code returned to the webhook caller.
//
// Builds that cannot be deployed are 404s, problems with the deployment
// itself are 400s, matching what the build server integration expects.
func (k Kind) HTTPStatus() int {
	switch k {
	case InvalidRequest:
		return http.StatusBadRequest
	case BuildNotFound, BuildNotSuccessful, UnexpectedArtifactCount, UnexpectedArtifactType:
		return http.StatusNotFound
	case DownloadFailed, DuplicateDeployment, ExtractionFailed, BundleCollision, AssemblyFailed:
		return http.StatusBadRequest
	case Busy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a deployment failure with a kind and a human readable message
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind carrying an underlying cause
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == kind
}
