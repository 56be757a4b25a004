package server

import (
	"net/http"

	"github.com/NYTimes/gziphandler"
	"github.com/gorilla/mux"
)

// Controller registers a related group of routes on the router.
type Controller interface {
	Key() string
	Register(r *mux.Router)
}

// HTTPServer assembles the route tree. Root controllers (health,
// metrics) sit outside the API prefix and skip the API middlewares;
// everything else registers under APIPrefix.
type HTTPServer struct {
	APIPrefix       string
	Middlewares     []mux.MiddlewareFunc
	APIMiddlewares  []mux.MiddlewareFunc
	RootControllers []Controller
	APIControllers  []Controller
}

func (s *HTTPServer) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.Middlewares...)
	for _, controller := range s.RootControllers {
		controller.Register(r)
	}

	prefix := s.APIPrefix
	if prefix == "" {
		prefix = "/api/v1"
	}
	api := r.PathPrefix(prefix).Subrouter()
	api.Use(s.APIMiddlewares...)
	for _, controller := range s.APIControllers {
		controller.Register(api)
	}
	return r
}

func (s *HTTPServer) Handler() http.Handler {
	return gziphandler.GzipHandler(s.Router())
}
