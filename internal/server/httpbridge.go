package server

import (
	"bytes"
	"net/http"
)

// HTTPHandler runs a net/http handler as a Handler. The handler's output
// is buffered and enqueued as one response, so streaming handlers and
// hijacking are not supported.
func HTTPHandler(h http.Handler) Handler {
	return HandlerFunc(func(req *Request, q Queue) {
		w := &bufferedResponseWriter{header: make(http.Header)}
		h.ServeHTTP(w, req.HTTPRequest())
		q.Enqueue(w.response(req))
	})
}

type bufferedResponseWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (w *bufferedResponseWriter) Header() http.Header {
	return w.header
}

func (w *bufferedResponseWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
}

func (w *bufferedResponseWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.body.Write(p)
}

func (w *bufferedResponseWriter) response(req *Request) *Response {
	status := w.status
	if status == 0 {
		status = http.StatusOK
	}
	resp := NewResponse(req, status)
	for k, v := range w.header {
		resp.Header[k] = v
	}
	if resp.Header.Get("Content-Type") == "" && w.body.Len() > 0 {
		resp.Header.Set("Content-Type", http.DetectContentType(w.body.Bytes()))
	}
	resp.Body = w.body.Bytes()
	resp.ContentLength = int64(len(resp.Body))
	return resp
}
