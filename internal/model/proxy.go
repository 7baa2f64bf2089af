// Package model defines shared types for the forwarder.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest represents an inbound request to be forwarded to its target.
type ProxyRequest struct {
	Ctx context.Context
	// RawURI is the request target exactly as sent on the request line.
	RawURI        string
	Method        string
	Host          string
	Scheme        string
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
}

// ProxyResponse represents the target's response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       io.ReadCloser
	// Target is the URL the request was forwarded to.
	Target string
}
