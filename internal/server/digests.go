package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/doorap/dori/internal/scheduler"
)

// Digests is the scheduler surface the digest endpoints drive.
// *scheduler.Scheduler satisfies it.
type Digests interface {
	ListJobs() []scheduler.Job
	NextRun(name string) (time.Time, bool)
	PauseJob(name string) error
	ResumeJob(name string) error
}

type digestInfo struct {
	Name     string     `json:"name"`
	Schedule string     `json:"schedule"`
	Question string     `json:"question"`
	Paused   bool       `json:"paused"`
	NextRun  *time.Time `json:"next_run,omitempty"`
}

// HandleDigests mounts the digest listing and pause/resume endpoints. Call it
// once, before serving.
func (s *Server) HandleDigests(d Digests) {
	s.mux.HandleFunc("GET /api/dori/digests", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, listDigests(d))
	})
	s.mux.HandleFunc("POST /api/dori/digests/{name}/pause", func(w http.ResponseWriter, r *http.Request) {
		s.toggleDigest(w, r, d.PauseJob)
	})
	s.mux.HandleFunc("POST /api/dori/digests/{name}/resume", func(w http.ResponseWriter, r *http.Request) {
		s.toggleDigest(w, r, d.ResumeJob)
	})
}

func listDigests(d Digests) []digestInfo {
	jobs := d.ListJobs()
	out := make([]digestInfo, 0, len(jobs))
	for _, j := range jobs {
		info := digestInfo{Name: j.Name, Schedule: j.Schedule, Question: j.Question, Paused: j.Paused}
		if next, ok := d.NextRun(j.Name); ok {
			info.NextRun = &next
		}
		out = append(out, info)
	}
	return out
}

func (s *Server) toggleDigest(w http.ResponseWriter, r *http.Request, fn func(string) error) {
	name := r.PathValue("name")
	if err := fn(name); err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
			return
		}
		s.logger.Error("digest update failed", "digest", name, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "digest update failed"})
		return
	}
	s.logger.Info("digest updated", "digest", name, "path", r.URL.Path)
	w.WriteHeader(http.StatusNoContent)
}
