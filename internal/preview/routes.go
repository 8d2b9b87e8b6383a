package preview

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/matrixji/beast-examples/internal/handlers"
	"github.com/matrixji/beast-examples/internal/server"
	"github.com/rs/zerolog"
)

// Route patterns of the preview API.
const (
	PicturesPattern = `^/api/v1/realtime/preview/pictures$`
	ListPattern     = `^/api/v1/realtime/preview(\?prev=.+)?$`
	PicturePattern  = `^/api/v1/realtime/preview/picture/[a-f0-9-]+/(snaps|tracks)/[0-9]$`
)

// Install registers the preview API on srv.
func Install(srv *server.Server, cache *Cache, store *Store) error {
	routes := []struct {
		pattern string
		h       server.Handler
	}{
		{PicturePattern, pictureHandler(store)},
		{PicturesPattern, handlers.JSONAPI(postPicture(cache))},
		{ListPattern, handlers.JSONAPI(listPreviews(store))},
	}
	for _, r := range routes {
		if err := srv.Handle(r.pattern, r.h); err != nil {
			return err
		}
	}
	return nil
}

// postPicture adds a posted picture to the cache and reports the previews
// it completed.
func postPicture(cache *Cache) handlers.JSONFunc {
	return func(req *server.Request) (map[string]any, error) {
		p, err := DecodePicture(req.Body)
		if err != nil {
			return nil, err
		}
		created, err := cache.Add(req.Context(), p)
		if err != nil {
			return nil, err
		}

		ids := make([]string, 0, len(created))
		for _, pv := range created {
			ids = append(ids, pv.UUID)
		}
		return map[string]any{"previews": ids}, nil
	}
}

func listPreviews(store *Store) handlers.JSONFunc {
	return func(req *server.Request) (map[string]any, error) {
		return map[string]any{"pictures": store.List(req.Query.Get("prev"), ListLimit)}, nil
	}
}

// pictureHandler serves one encoded picture of a preview, addressed as
// .../picture/<uuid>/<kind>/<index>.
func pictureHandler(store *Store) server.Handler {
	return server.HandlerFunc(func(req *server.Request, q server.Queue) {
		if req.Method != http.MethodGet && req.Method != http.MethodHead {
			q.Enqueue(handlers.JSONError(req, http.StatusBadRequest, "Unsupported method."))
			return
		}

		parts := strings.Split(strings.Trim(req.Path, "/"), "/")
		if len(parts) < 3 {
			q.Enqueue(handlers.JSONError(req, http.StatusNotFound, req.Target+" not found"))
			return
		}
		id, kind := parts[len(parts)-3], parts[len(parts)-2]
		index, err := strconv.Atoi(parts[len(parts)-1])
		if err != nil {
			q.Enqueue(handlers.JSONError(req, http.StatusNotFound, req.Target+" not found"))
			return
		}

		data, err := store.View(req.Context(), id, kind, index)
		switch {
		case errors.Is(err, ErrNotFound):
			q.Enqueue(handlers.JSONError(req, http.StatusNotFound, req.Target+" not found"))
		case err != nil:
			zerolog.Ctx(req.Context()).Error().Err(err).Msg("read preview picture failed")
			q.Enqueue(handlers.JSONError(req, http.StatusInternalServerError, err.Error()))
		default:
			resp := server.NewResponse(req, http.StatusOK)
			resp.SetBody("application/json", data)
			q.Enqueue(resp)
		}
	})
}
