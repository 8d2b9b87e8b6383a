package server

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// ServerSignature is the value of the Server header on every response.
const ServerSignature = "beast-examples/1.0"

// Response is one complete HTTP response queued for writing.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Stream replaces Body for large payloads such as files. It is closed
	// after writing, or when the connection drops the response.
	Stream        io.ReadCloser
	ContentLength int64
	// HeadOnly writes the head with the Content-Length of the body but
	// omits the body itself, as HEAD requires.
	HeadOnly bool
	// Close asks the connection to close once this response is on the wire.
	Close      bool
	ProtoMajor int
	ProtoMinor int
}

// NewResponse prepares a response to req: same protocol version, Server
// header set, keep-alive mirroring the request.
func NewResponse(req *Request, status int) *Response {
	resp := &Response{
		StatusCode: status,
		Header:     make(http.Header),
		ProtoMajor: 1,
		ProtoMinor: 1,
	}
	if req != nil {
		resp.ProtoMajor, resp.ProtoMinor = req.ProtoMajor, req.ProtoMinor
		resp.Close = !req.KeepAlive
		resp.HeadOnly = req.Method == http.MethodHead
	}
	resp.Header.Set("Server", ServerSignature)
	return resp
}

// SetBody sets an in-memory body and its content type.
func (r *Response) SetBody(contentType string, body []byte) {
	r.Header.Set("Content-Type", contentType)
	r.Body = body
	r.Stream = nil
	r.ContentLength = int64(len(body))
}

// SetStream sets a streamed body of the given length.
func (r *Response) SetStream(contentType string, stream io.ReadCloser, length int64) {
	r.Header.Set("Content-Type", contentType)
	r.Body = nil
	r.Stream = stream
	r.ContentLength = length
}

// discard releases the body stream of a response that will not be written.
func (r *Response) discard() {
	if r.Stream != nil {
		_ = r.Stream.Close()
		r.Stream = nil
	}
}

// writeTo serializes the response onto w.
func (r *Response) writeTo(w io.Writer) error {
	defer r.discard()

	bw := bufio.NewWriter(w)
	status := http.StatusText(r.StatusCode)
	if status == "" {
		status = "status code " + strconv.Itoa(r.StatusCode)
	}
	if _, err := fmt.Fprintf(bw, "HTTP/%d.%d %03d %s\r\n", r.ProtoMajor, r.ProtoMinor, r.StatusCode, status); err != nil {
		return err
	}

	header := r.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	length := r.ContentLength
	if r.Stream == nil {
		length = int64(len(r.Body))
	}
	if bodyAllowed(r.StatusCode) {
		header.Set("Content-Length", strconv.FormatInt(length, 10))
	} else {
		header.Del("Content-Length")
	}
	switch {
	case r.Close:
		header.Set("Connection", "close")
	case r.ProtoMajor == 1 && r.ProtoMinor == 0:
		header.Set("Connection", "keep-alive")
	}
	if err := header.Write(bw); err != nil {
		return err
	}
	if _, err := bw.WriteString("\r\n"); err != nil {
		return err
	}

	if !r.HeadOnly && bodyAllowed(r.StatusCode) {
		if r.Stream != nil {
			if _, err := io.CopyN(bw, r.Stream, length); err != nil {
				return err
			}
		} else if _, err := bw.Write(r.Body); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func bodyAllowed(status int) bool {
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}

// errorResponse builds a response generated by the connection itself, for
// requests that never reach a handler. The connection closes after it.
func errorResponse(req *Request, status int, reason string) *Response {
	resp := NewResponse(req, status)
	resp.SetBody("text/html", []byte(reason))
	resp.Close = true
	return resp
}
