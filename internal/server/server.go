// Package server implements the nat64d JSON/HTTP control API: installing
// and inspecting pool addresses, static bindings, and sessions, plus a
// /healthz liveness probe. Built on github.com/gorilla/mux.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/gorilla/mux"

	"github.com/nat64d/nat64d/internal/nat64"
)

// Server is the control API's HTTP handler, backed by a nat64.Core.
type Server struct {
	core   *nat64.Core
	logger *slog.Logger
	router *mux.Router
}

// New builds a Server wired to core. The returned *Server exposes its
// http.Handler through the Router method.
func New(core *nat64.Core, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{core: core, logger: logger, router: mux.NewRouter()}
	s.routes()
	return s
}

// Router returns the underlying http.Handler, suitable for http.Server.Handler.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) routes() {
	s.router.HandleFunc("/v1/pool", s.handlePoolAdd).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/pool", s.handlePoolList).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/pool/{addr}", s.handlePoolDel).Methods(http.MethodDelete)

	s.router.HandleFunc("/v1/bib", s.handleBIBAdd).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/bib/{proto}", s.handleBIBList).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/bib/{proto}/{v6addr}/{v6port}", s.handleBIBDel).Methods(http.MethodDelete)

	s.router.HandleFunc("/v1/sessions/{proto}", s.handleSessionList).Methods(http.MethodGet)

	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
}

// -------------------------------------------------------------------------
// Pool routes
// -------------------------------------------------------------------------

type poolAddRequest struct {
	Addr string `json:"addr"`
}

func (s *Server) handlePoolAdd(w http.ResponseWriter, r *http.Request) {
	var req poolAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	addr, err := netip.ParseAddr(req.Addr)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.core.PoolAdd(addr); err != nil {
		writeCoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handlePoolDel(w http.ResponseWriter, r *http.Request) {
	addr, err := netip.ParseAddr(mux.Vars(r)["addr"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.core.PoolDel(addr); err != nil {
		writeCoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePoolList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.core.PoolList())
}

// -------------------------------------------------------------------------
// BIB routes
// -------------------------------------------------------------------------

type bibAddRequest struct {
	Proto  string `json:"proto"`
	V6Addr string `json:"v6_addr"`
	V6Port uint16 `json:"v6_port"`
	V4Addr string `json:"v4_addr"`
	V4Port uint16 `json:"v4_port"`
}

func (s *Server) handleBIBAdd(w http.ResponseWriter, r *http.Request) {
	var req bibAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	proto, err := parseProto(req.Proto)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	v6Addr, err := netip.ParseAddr(req.V6Addr)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	v4Addr, err := netip.ParseAddr(req.V4Addr)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	v6 := nat64.V6Transport{Addr: v6Addr, Port: req.V6Port}
	v4 := nat64.V4Transport{Addr: v4Addr, Port: req.V4Port}
	if err := s.core.BIBAddStatic(proto, v6, v4); err != nil {
		writeCoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleBIBDel(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	proto, err := parseProto(vars["proto"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	v6Addr, err := netip.ParseAddr(vars["v6addr"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var v6Port uint16
	if _, err := fmt.Sscanf(vars["v6port"], "%d", &v6Port); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	v6 := nat64.V6Transport{Addr: v6Addr, Port: v6Port}
	if err := s.core.BIBDelStatic(proto, v6); err != nil {
		writeCoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBIBList(w http.ResponseWriter, r *http.Request) {
	proto, err := parseProto(mux.Vars(r)["proto"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	entries, err := s.core.BIBList(proto)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// -------------------------------------------------------------------------
// Session routes
// -------------------------------------------------------------------------

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	proto, err := parseProto(mux.Vars(r)["proto"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sessions, err := s.core.SessionList(proto)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// -------------------------------------------------------------------------
// Health
// -------------------------------------------------------------------------

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

func parseProto(s string) (nat64.Protocol, error) {
	switch s {
	case "udp":
		return nat64.ProtoUDP, nil
	case "tcp":
		return nat64.ProtoTCP, nil
	case "icmp":
		return nat64.ProtoICMP, nil
	default:
		return 0, fmt.Errorf("proto %q: %w", s, nat64.ErrUnsupportedProto)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeCoreError maps a nat64 sentinel error to an HTTP status code.
func writeCoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, nat64.ErrBadArg), errors.Is(err, nat64.ErrUnsupportedProto):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, nat64.ErrNoBinding), errors.Is(err, nat64.ErrNoSession),
		errors.Is(err, nat64.ErrAddressNotFound), errors.Is(err, nat64.ErrBindingNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, nat64.ErrAddressExists), errors.Is(err, nat64.ErrIdentifierTaken),
		errors.Is(err, nat64.ErrBindingExists), errors.Is(err, nat64.ErrBindingNotStatic):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, nat64.ErrPoolExhausted):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
