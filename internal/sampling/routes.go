package sampling

import (
	"errors"
	"fmt"
	"path"
	"strconv"

	"github.com/matrixji/beast-examples/internal/handlers"
	"github.com/matrixji/beast-examples/internal/server"
)

// Route patterns of the sampling API.
const (
	StartPattern  = `^/api/v1/calibration/sampling/start$`
	StatusPattern = `^/api/v1/calibration/sampling/\d+$`
	StopPattern   = `^/api/v1/calibration/sampling/stop$`
)

// Install registers the sampling API on srv.
func Install(srv *server.Server, svc *Service) error {
	if err := srv.Handle(StartPattern, handlers.JSONAPI(start(svc))); err != nil {
		return err
	}
	if err := srv.Handle(StatusPattern, handlers.JSONAPI(status(svc))); err != nil {
		return err
	}
	return srv.Handle(StopPattern, handlers.JSONAPI(stop(svc)))
}

func statusObject(st Status, detail bool) map[string]any {
	obj := map[string]any{"id": st.ID, "status": st.State}
	if detail {
		obj["progress"] = st.Progress
		obj["snaps"] = st.Snaps
	}
	return obj
}

// start expects an optional body {"timeout":N,"snaps":N}.
func start(svc *Service) handlers.JSONFunc {
	return func(req *server.Request) (map[string]any, error) {
		params := struct {
			Timeout int `json:"timeout"`
			Snaps   int `json:"snaps"`
		}{Timeout: DefaultTimeout, Snaps: -1}
		if err := handlers.DecodeBody(req, &params); err != nil {
			return nil, err
		}

		id, err := svc.Start(params.Timeout, params.Snaps)
		if err != nil {
			return nil, err
		}
		st, err := svc.Status(id, false)
		if err != nil {
			return nil, fmt.Errorf("id %d: %w", id, handlers.ErrNotFound)
		}
		return statusObject(st, false), nil
	}
}

func status(svc *Service) handlers.JSONFunc {
	return func(req *server.Request) (map[string]any, error) {
		id, err := strconv.ParseUint(path.Base(req.Path), 10, 64)
		if err != nil || id == 0 {
			return nil, errors.New("invalid id format")
		}
		st, err := svc.Status(id, true)
		if errors.Is(err, ErrUnknownJob) {
			return nil, fmt.Errorf("%w: %w", handlers.ErrNotFound, err)
		}
		if err != nil {
			return nil, err
		}
		return statusObject(st, true), nil
	}
}

// stop expects a body {"id":N}.
func stop(svc *Service) handlers.JSONFunc {
	return func(req *server.Request) (map[string]any, error) {
		var params struct {
			ID *uint64 `json:"id"`
		}
		if err := handlers.DecodeBody(req, &params); err != nil {
			return nil, err
		}
		if params.ID == nil {
			return nil, errors.New("missing id")
		}

		err := svc.Stop(*params.ID)
		if errors.Is(err, ErrUnknownJob) {
			return nil, fmt.Errorf("%w: %w", handlers.ErrNotFound, err)
		}
		if err != nil {
			return nil, err
		}
		return nil, nil
	}
}
