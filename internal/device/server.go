package device

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// NewRouter serves the bridge API on top of an in-memory equaliser.
func NewRouter(m *Memory, log *slog.Logger) *mux.Router {
	if log == nil {
		log = slog.Default()
	}
	s := &server{m: m, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/api/inchannel/{channel}/geq", s.getGeq).Methods(http.MethodGet)
	r.HandleFunc("/api/inchannel/{channel}/geq/", s.getGeq).Methods(http.MethodGet)
	r.HandleFunc("/api/inchannel/{channel}/geq/{frequency}", s.setGeq).Methods(http.MethodPost)
	return r
}

// NewServer wraps the router with access logging and panic recovery.
func NewServer(m *Memory, log *slog.Logger, access io.Writer) http.Handler {
	if access == nil {
		access = io.Discard
	}
	router := NewRouter(m, log)
	return handlers.RecoveryHandler()(handlers.LoggingHandler(access, router))
}

type server struct {
	m   *Memory
	log *slog.Logger
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) getGeq(w http.ResponseWriter, r *http.Request) {
	ch, err := ParseChannel(mux.Vars(r)["channel"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	gains, err := s.m.Gains(ch)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, gains)
}

func (s *server) setGeq(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ch, err := ParseChannel(vars["channel"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	freq, err := strconv.ParseFloat(vars["frequency"], 64)
	if err != nil {
		http.Error(w, "invalid frequency", http.StatusBadRequest)
		return
	}

	var body struct {
		Level *float64 `json:"level"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&body); err != nil || body.Level == nil {
		http.Error(w, "body must be {\"level\": <dB>}", http.StatusBadRequest)
		return
	}

	g, err := s.m.Set(ch, freq, *body.Level)
	switch {
	case errors.Is(err, ErrUnknownBand):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, ErrLevelRange):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.log.Info("geq_set", "channel", ChannelName(ch), "frequency", g.Frequency, "level", g.Level)
	writeJSON(w, http.StatusOK, g)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
