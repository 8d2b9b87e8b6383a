package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/matrixji/beast-examples/internal/server"
	"github.com/rs/zerolog"
)

// APIVersion is reported by the version endpoint.
const APIVersion = "1.0"

// ErrNotFound makes a JSON API handler answer 404 for the request target.
var ErrNotFound = errors.New("not found")

// JSONFunc computes the JSON object answered for one request.
type JSONFunc func(req *server.Request) (map[string]any, error)

// JSONAPI adapts fn to a server.Handler. Only GET and POST are accepted.
// A result is answered 200 with "ret":0 added to it. An error wrapping
// ErrNotFound is answered 404 and any other error 500, both as
// {"ret":1,"error":...}.
func JSONAPI(fn JSONFunc) server.Handler {
	return server.HandlerFunc(func(req *server.Request, q server.Queue) {
		if req.Method != http.MethodGet && req.Method != http.MethodPost {
			q.Enqueue(JSONError(req, http.StatusBadRequest, "Unsupported method."))
			return
		}

		obj, err := fn(req)
		switch {
		case errors.Is(err, ErrNotFound):
			q.Enqueue(JSONError(req, http.StatusNotFound, req.Target+" not found"))
		case err != nil:
			zerolog.Ctx(req.Context()).Warn().Err(err).Msg("api request failed")
			q.Enqueue(JSONError(req, http.StatusInternalServerError, err.Error()))
		default:
			if obj == nil {
				obj = make(map[string]any, 1)
			}
			obj["ret"] = 0
			q.Enqueue(jsonResponse(req, http.StatusOK, obj))
		}
	})
}

// Version answers {"ret":0,"version":"1.0"}.
func Version() server.Handler {
	return JSONAPI(func(*server.Request) (map[string]any, error) {
		return map[string]any{"version": APIVersion}, nil
	})
}

// JSONError builds a {"ret":1,"error":msg} response.
func JSONError(req *server.Request, status int, msg string) *server.Response {
	return jsonResponse(req, status, map[string]any{"ret": 1, "error": msg})
}

func jsonResponse(req *server.Request, status int, v any) *server.Response {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(map[string]any{"ret": 1, "error": err.Error()})
	}
	resp := server.NewResponse(req, status)
	resp.SetBody("application/json", body)
	return resp
}

// DecodeBody unmarshals the request body into v. An empty body leaves v
// untouched.
func DecodeBody(req *server.Request, v any) error {
	if len(req.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Body, v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}
