// Package server wires request handlers into an ordered, regex based URI
// router.
package server

import (
	"fmt"
	"net/http"
	"regexp"
)

// Queue is the handle a Handler uses to hand its response to the connection.
// Enqueue must be called exactly once per request; it may be called after
// ServeRequest has returned, from any goroutine.
type Queue interface {
	Enqueue(resp *Response)
}

// Handler serves one request. It must not keep req or q beyond the call,
// except to complete the single Enqueue.
type Handler interface {
	ServeRequest(req *Request, q Queue)
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(req *Request, q Queue)

// ServeRequest calls f(req, q).
func (f HandlerFunc) ServeRequest(req *Request, q Queue) {
	f(req, q)
}

type route struct {
	pattern string
	re      *regexp.Regexp
	handler Handler
}

// Router maps request targets to handlers. Entries are tried in
// registration order; the first full match wins and the last registered
// entry doubles as the fallback. Register everything before serving:
// Resolve takes no lock.
type Router struct {
	routes []route
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{}
}

// Register appends a route. The pattern must match the whole target.
func (r *Router) Register(pattern string, h Handler) error {
	if h == nil {
		return fmt.Errorf("register %q: nil handler", pattern)
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return fmt.Errorf("register %q: %w", pattern, err)
	}
	r.routes = append(r.routes, route{pattern: pattern, re: re, handler: h})
	return nil
}

// Resolve returns the handler of the first route matching target, or the
// last registered handler when nothing matches.
func (r *Router) Resolve(target string) Handler {
	for _, rt := range r.routes {
		if rt.re.MatchString(target) {
			return rt.handler
		}
	}
	if len(r.routes) == 0 {
		return notFoundHandler
	}
	return r.routes[len(r.routes)-1].handler
}

// Patterns returns the registered patterns in order.
func (r *Router) Patterns() []string {
	patterns := make([]string, len(r.routes))
	for i, rt := range r.routes {
		patterns[i] = rt.pattern
	}
	return patterns
}

var notFoundHandler = HandlerFunc(func(req *Request, q Queue) {
	resp := NewResponse(req, http.StatusNotFound)
	resp.SetBody("text/html", []byte("The resource '"+req.Target+"' was not found."))
	q.Enqueue(resp)
})
