package server

import (
	"net/http"
	"time"

	"github.com/r2browser/r2browser/internal/version"
)

type healthResponse struct {
	Status  string  `json:"status"`
	Uptime  float64 `json:"uptime"`
	Version string  `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, r, http.StatusOK, healthResponse{
		Status:  "ok",
		Uptime:  time.Since(s.startTime).Seconds(),
		Version: version.Version,
	})
}

// handleShutdown acknowledges first, then trips the server's shutdown
// channel. The supervisor treats the 204 as "drain started".
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
	s.shutdownOnce.Do(func() {
		close(s.shutdownCh)
	})
}
