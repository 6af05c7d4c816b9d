/*
Copyright 2023-2024 EscherCloud.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package errors

import (
	"encoding/json"
	goerrors "errors"
	"net/http"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/eschercloudai/caravel/pkg/errors"
)

// ErrRequest is raised for all handler errors.
var ErrRequest = goerrors.New("request error")

// HTTPError wraps ErrRequest with more contextual information that is used to
// propagate and create suitable responses.
type HTTPError struct {
	// code is the HTTP error code.
	code int

	// message is a verbose message to log/return to the user.
	message string

	// err is set when the originator was an error.  This is only used
	// for logging so as not to leak server internals to the client.
	err error

	// values are key value pairs for logging.
	values []interface{}
}

// newHTTPError returns a new HTTP error.
func newHTTPError(code int, message string) *HTTPError {
	return &HTTPError{
		code:    code,
		message: message,
	}
}

// WithError augments the error with an error from a library.
func (e *HTTPError) WithError(err error) *HTTPError {
	e.err = err

	return e
}

// WithValues augments the error with a set of K/V pairs.
// Values should not use the "error" key as that's implicitly defined
// by WithError and could collide.
func (e *HTTPError) WithValues(values ...interface{}) *HTTPError {
	e.values = values

	return e
}

// Unwrap implements Go 1.13 errors.
func (e *HTTPError) Unwrap() error {
	return ErrRequest
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return e.message
}

// generic is the wire form of an error response.
type generic struct {
	Description string `json:"description"`
}

// Write returns the error code and message to the client.
func (e *HTTPError) Write(w http.ResponseWriter, r *http.Request) {
	logger := log.FromContext(r.Context())

	var details []interface{}

	if e.message != "" {
		details = append(details, "detail", e.message)
	}

	if e.err != nil {
		details = append(details, "error", e.err)
	}

	if e.values != nil {
		details = append(details, e.values...)
	}

	logger.Info("error detail", details...)

	w.Header().Add("Cache-Control", "no-cache")
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(e.code)

	body, err := json.Marshal(&generic{Description: e.message})
	if err != nil {
		logger.Error(err, "failed to marshal error response")

		return
	}

	if _, err := w.Write(body); err != nil {
		logger.Error(err, "failed to write error response")

		return
	}
}

// HTTPBadRequest indicates a client error.
func HTTPBadRequest(message string) *HTTPError {
	return newHTTPError(http.StatusBadRequest, message)
}

// HTTPNotFound indicates the named resource does not exist.
func HTTPNotFound(message string) *HTTPError {
	return newHTTPError(http.StatusNotFound, message)
}

// HTTPConflict indicates the resource is in a state that forbids the request.
func HTTPConflict(message string) *HTTPError {
	return newHTTPError(http.StatusConflict, message)
}

// HTTPMethodNotAllowed indicates the method is not provided for the path.
func HTTPMethodNotAllowed() *HTTPError {
	return newHTTPError(http.StatusMethodNotAllowed, "the requested method was not allowed")
}

// HTTPInternalServerError tells the client we are at fault, this should never
// be seen in production.  If so then our testing needs to improve.
func HTTPInternalServerError(message string) *HTTPError {
	return newHTTPError(http.StatusInternalServerError, message)
}

// FromDomain maps an engine error onto a response.  Validation failures
// land on the client, everything unrecognized is our fault.
func FromDomain(err error) *HTTPError {
	switch {
	case goerrors.Is(err, errors.ErrPlanNotFound), goerrors.Is(err, errors.ErrResourceNotFound):
		return HTTPNotFound(err.Error()).WithError(err)
	case goerrors.Is(err, errors.ErrPlanTypeNotSupported),
		goerrors.Is(err, errors.ErrPlanResourcesUpdateError),
		goerrors.Is(err, errors.ErrNoMigrateNetProvided),
		goerrors.Is(err, errors.ErrAvailabilityZoneNotFound):
		return HTTPBadRequest(err.Error()).WithError(err)
	case goerrors.Is(err, errors.ErrPlanUpdateError):
		return HTTPConflict(err.Error()).WithError(err)
	default:
		return HTTPInternalServerError(err.Error()).WithError(err)
	}
}

// toHTTPError is a handy unwrapper to get a HTTP error from a generic one.
func toHTTPError(err error) *HTTPError {
	var httpErr *HTTPError

	if !goerrors.As(err, &httpErr) {
		return nil
	}

	return httpErr
}

// HandleError is the top level error handler that should be called from all
// path handlers on error.
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	logger := log.FromContext(r.Context())

	if httpError := toHTTPError(err); httpError != nil {
		httpError.Write(w, r)

		return
	}

	logger.Error(err, "unhandled error")

	HTTPInternalServerError("unhandled error").WithError(err).Write(w, r)
}
