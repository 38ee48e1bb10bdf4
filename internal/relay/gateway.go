package relay

import (
	"net/http"
	"time"

	gwruntime "github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

// NewGateway returns the HTTP/JSON mux served next to gRPC:
//
//	GET /v1/status  Status as JSON (Authorization: Bearer <token> when set)
//	GET /healthz    200 once the listener is running, 503 before
func NewGateway(s *Server) (*gwruntime.ServeMux, error) {
	mux := gwruntime.NewServeMux()
	marshaler := &gwruntime.JSONPb{}

	if err := mux.HandlePath(http.MethodGet, "/v1/status", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		if err := s.checkBearer(r.Header.Get("Authorization")); err != nil {
			gwruntime.HTTPError(r.Context(), mux, marshaler, w, r, err)
			return
		}
		st, err := s.status()
		if err != nil {
			gwruntime.HTTPError(r.Context(), mux, marshaler, w, r, err)
			return
		}
		body, err := marshaler.Marshal(st)
		if err != nil {
			gwruntime.HTTPError(r.Context(), mux, marshaler, w, r, err)
			return
		}
		w.Header().Set("Content-Type", marshaler.ContentType(st))
		_, _ = w.Write(body)
	}); err != nil {
		return nil, err
	}

	if err := mux.HandlePath(http.MethodGet, "/healthz", func(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
		if !s.src.Stats().Started {
			http.Error(w, "listener not running", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok\n"))
	}); err != nil {
		return nil, err
	}

	return mux, nil
}

// NewHTTPServer wraps mux for serving on a cmux-split listener.
func NewHTTPServer(mux http.Handler) *http.Server {
	return &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
