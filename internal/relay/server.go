package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"offrecord/internal/domain"
)

const (
	maxBodyBytes = 1 << 20
	// maxQueue bounds the envelopes held for one user.
	maxQueue = 10000
)

// Server is an in-memory relay. All state is lost when the process exits.
type Server struct {
	mu     sync.Mutex
	queues map[string][]domain.Envelope
	log    *slog.Logger
	now    func() time.Time
}

// NewServer returns an empty relay.
func NewServer(log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{queues: make(map[string][]domain.Envelope), log: log, now: time.Now}
}

// Handler returns the HTTP API wrapped in an access log.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /msg/{user}", s.enqueue)
	mux.HandleFunc("GET /msg/{user}", s.fetch)
	mux.HandleFunc("POST /msg/{user}/ack", s.ack)
	return s.accessLog(mux)
}

// Pending returns how many envelopes are queued for user.
func (s *Server) Pending(user string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[user])
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	var env domain.Envelope
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&env); err != nil {
		http.Error(w, "bad envelope: "+err.Error(), http.StatusBadRequest)
		return
	}
	if env.To == "" {
		env.To = user
	}
	if env.To != user {
		http.Error(w, "recipient does not match path", http.StatusBadRequest)
		return
	}
	if env.Sent.IsZero() {
		env.Sent = s.now().UTC()
	}

	s.mu.Lock()
	if len(s.queues[user]) >= maxQueue {
		s.mu.Unlock()
		http.Error(w, "queue full", http.StatusTooManyRequests)
		return
	}
	s.queues[user] = append(s.queues[user], env)
	s.mu.Unlock()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) fetch(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "bad limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	s.mu.Lock()
	q := s.queues[user]
	if limit == 0 || limit > len(q) {
		limit = len(q)
	}
	out := append([]domain.Envelope{}, q[:limit]...)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (s *Server) ack(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	var req ackRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil || req.Count < 0 {
		http.Error(w, "bad ack", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	q := s.queues[user]
	n := min(req.Count, len(q))
	clear(q[:n])
	if rest := q[n:]; len(rest) == 0 {
		delete(s.queues, user)
	} else {
		s.queues[user] = rest
	}
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"status", rec.status,
			"bytes", rec.bytes,
			"duration", time.Since(start))
	})
}
