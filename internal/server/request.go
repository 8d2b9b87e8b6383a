package server

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Request is the parsed, fully buffered view of one HTTP request handed to
// handlers. Handlers must treat it as read-only and must not keep it after
// ServeRequest returns.
type Request struct {
	Method string
	// Target is the request-target as sent, path plus query. Routes match on it.
	Target     string
	Path       string
	Query      url.Values
	Header     http.Header
	Body       []byte
	ProtoMajor int
	ProtoMinor int
	// KeepAlive is false when the client asked for the connection to close
	// after this exchange.
	KeepAlive  bool
	RemoteAddr string

	ctx context.Context
	raw *http.Request
}

func newRequest(hr *http.Request) *Request {
	return &Request{
		Method:     hr.Method,
		Target:     hr.RequestURI,
		Path:       hr.URL.Path,
		Query:      hr.URL.Query(),
		Header:     hr.Header,
		ProtoMajor: hr.ProtoMajor,
		ProtoMinor: hr.ProtoMinor,
		KeepAlive:  !hr.Close,
		ctx:        context.Background(),
		raw:        hr,
	}
}

// Context returns the request context. It carries the dispatch span and the
// session logger, retrievable with zerolog.Ctx.
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// HTTPRequest returns a net/http view of the request with a fresh body reader.
func (r *Request) HTTPRequest() *http.Request {
	hr := r.raw.Clone(r.Context())
	hr.RemoteAddr = r.RemoteAddr
	hr.Body = io.NopCloser(bytes.NewReader(r.Body))
	hr.ContentLength = int64(len(r.Body))
	return hr
}

// readRequest reads one request from br. While the head is parsed, lim
// lets at most headerLimit new bytes into br; a longer head fails with
// errHeaderTooLarge. The body is read completely and must not exceed
// bodyLimit bytes. On errBodyTooLarge the returned request carries the
// head only, so the caller can still answer it.
func readRequest(br *bufio.Reader, lim *readLimit, headerLimit int, bodyLimit int64) (*Request, error) {
	lim.arm(int64(headerLimit))
	hr, err := http.ReadRequest(br)
	if err != nil {
		if lim.exceeded() {
			return nil, errHeaderTooLarge
		}
		return nil, err
	}
	lim.disarm()
	req := newRequest(hr)

	// The oversized body is left unread: the connection is closed after
	// the rejection, so draining it would only waste bandwidth.
	if hr.ContentLength > bodyLimit {
		return req, errBodyTooLarge
	}

	body, err := io.ReadAll(io.LimitReader(hr.Body, bodyLimit+1))
	if err != nil {
		return req, err
	}
	if int64(len(body)) > bodyLimit {
		return req, errBodyTooLarge
	}

	req.Body = body
	hr.Body = http.NoBody
	return req, nil
}

// NewRequest converts hr into a Request, reading its whole body. It lets
// handlers run without a connection, as in tests or when embedding.
func NewRequest(hr *http.Request) (*Request, error) {
	if hr.RequestURI == "" {
		hr.RequestURI = hr.URL.RequestURI()
	}
	req := newRequest(hr)
	req.RemoteAddr = hr.RemoteAddr
	if hr.Body != nil {
		body, err := io.ReadAll(hr.Body)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		req.Body = body
		hr.Body = http.NoBody
	}
	return req, nil
}
