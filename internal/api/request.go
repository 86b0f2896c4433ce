package api

import "net/http"

// AuthMode selects whether a request carries the bearer token.
type AuthMode int

const (
	// AuthNone sends the request without credentials.
	AuthNone AuthMode = iota
	// AuthBearer attaches the stored access token and enables the
	// single refresh-then-retry cycle on 401.
	AuthBearer
)

// Service selects which resolved service URL a request path is relative to.
type Service int

const (
	ServiceAPI Service = iota
	ServiceIdentity
	ServiceWeb
	ServiceIcons
	ServiceNotifications
)

// RequestSpec describes one call: method, path relative to the selected
// service, optional JSON body and the authentication mode. Immutable per
// call.
type RequestSpec struct {
	Method  string
	Service Service
	// Path is relative to the resolved service URL and must start with "/".
	Path string
	// Body, when non-nil, is JSON-encoded into the request.
	Body any
	Auth AuthMode
}

// Response is a successful call's outcome.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}
