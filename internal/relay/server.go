package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"beacon/internal/domain"
)

const maxBodyBytes = 1 << 20

// Server exposes a Hub over HTTP.
type Server struct {
	hub *Hub
	log logrus.FieldLogger
}

// NewServer wraps hub.
func NewServer(hub *Hub, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{hub: hub, log: log}
}

// Router returns the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.accessLog)

	api := r.PathPrefix(pathPrefix).Subrouter()
	api.Use(requireDevice)
	api.HandleFunc("/keys/upload", s.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/keys/query", s.handleQuery).Methods(http.MethodPost)
	api.HandleFunc("/keys/claim", s.handleClaim).Methods(http.MethodPost)
	api.HandleFunc("/sendToDevice/{eventType}/{txnId}", s.handleSendToDevice).Methods(http.MethodPut)
	api.HandleFunc("/sync", s.handleSync).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.HandlerFor(s.hub.Metrics().Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	return r
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if !decodeBody(w, r, &req) {
		return
	}
	counts, err := s.hub.Upload(caller(r), req.DeviceKeys, req.OneTimeKeys)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{OneTimeKeyCounts: counts})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	users := make([]string, 0, len(req.DeviceKeys))
	for u := range req.DeviceKeys {
		users = append(users, u)
	}
	writeJSON(w, http.StatusOK, queryResponse{DeviceKeys: s.hub.Query(users)})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, claimResponse{OneTimeKeys: s.hub.Claim(req.OneTimeKeys)})
}

func (s *Server) handleSendToDevice(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req sendToDeviceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.hub.Send(caller(r), vars["eventType"], vars["txnId"], req.Messages); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, ErrBadRequest)
			return
		}
		limit = n
	}
	resp, err := s.hub.Sync(caller(r), q.Get("since"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSyncResponse(resp))
}

// --- middleware and helpers ---

func requireDevice(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(HeaderUser) == "" || r.Header.Get(HeaderDevice) == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Code: "M_MISSING_TOKEN", Message: "missing device headers"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func caller(r *http.Request) domain.Recipient {
	return domain.NewRecipient(r.Header.Get(HeaderUser), r.Header.Get(HeaderDevice))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"remote":   r.RemoteAddr,
			"status":   rec.status,
			"bytes":    rec.bytes,
			"duration": time.Since(start).String(),
		}).Info("request")
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(out); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "M_NOT_JSON", Message: err.Error()})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorResponse{Code: "M_FORBIDDEN", Message: err.Error()})
	case errors.Is(err, ErrBadRequest):
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "M_INVALID_PARAM", Message: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Code: "M_UNKNOWN", Message: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
