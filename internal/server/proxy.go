package server

import (
	"net/http"
	"net/http/httputil"
	"strings"
)

// newProxy forwards /api/* to the API with the prefix removed. Responses
// are flushed as they arrive so event streams pass through unbuffered.
func (s *Server) newProxy() *httputil.ReverseProxy {
	logger := s.logger.With("component", "proxy")
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Path = strings.TrimPrefix(pr.In.URL.Path, "/api")
			pr.Out.URL.RawPath = strings.TrimPrefix(pr.In.URL.RawPath, "/api")
			pr.SetURL(s.api)
			pr.SetXForwarded()
		},
		FlushInterval: -1,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if r.Context().Err() != nil {
				return
			}
			logger.Error("proxy request", "path", r.URL.Path, "error", err)
			http.Error(w, "Bad gateway", http.StatusBadGateway)
		},
	}
}
