// Package inspect serves a read-mostly HTTP view of workers and their oplogs,
// plus the Prometheus metrics of the node.
//
// Routes:
//
//	GET  /workers                      registered workers
//	GET  /workers/{id}                 registry row and live status
//	GET  /workers/{id}/oplog           public entries, ?from=&to=
//	GET  /workers/{id}/status          status folded from the oplog
//	GET  /workers/{id}/regions         deleted regions
//	GET  /workers/{id}/verify          full oplog check
//	POST /workers/{id}/invoke/{fn}     run an exported function
//	POST /workers/{id}/interrupt       ?kind=interrupt|suspend|restart
//	POST /workers/{id}/resume
//	GET  /metrics
package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/durable/internal/durability"
	"github.com/roach88/durable/internal/engine"
	"github.com/roach88/durable/internal/ir"
	"github.com/roach88/durable/internal/oplog"
	"github.com/roach88/durable/internal/store"
)

// IdempotencyKeyHeader carries the idempotency key of an invocation.
const IdempotencyKeyHeader = "Idempotency-Key"

// Server answers inspection requests against one backend. Control routes
// need an executor and answer 503 without one.
type Server struct {
	backend  store.Backend
	executor *engine.Executor
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithExecutor enables live status and the control routes.
func WithExecutor(e *engine.Executor) Option {
	return func(s *Server) { s.executor = e }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func NewServer(backend store.Backend, opts ...Option) *Server {
	s := &Server{backend: backend, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/workers", s.listWorkers)
	r.Route("/workers/{id}", func(r chi.Router) {
		r.Get("/", s.getWorker)
		r.Get("/oplog", s.getOplog)
		r.Get("/status", s.getStatus)
		r.Get("/regions", s.getRegions)
		r.Get("/verify", s.verify)
		r.Post("/invoke/{function}", s.invoke)
		r.Post("/interrupt", s.interrupt)
		r.Post("/resume", s.resume)
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// WorkerView is the JSON shape of a registered worker.
type WorkerView struct {
	ID        oplog.WorkerID          `json:"id"`
	Component string                  `json:"component"`
	Parent    oplog.WorkerID          `json:"parent,omitempty"`
	ForkedAt  oplog.Index             `json:"forked_at,omitempty"`
	Length    oplog.Index             `json:"length"`
	Live      *engine.ExecutionStatus `json:"live,omitempty"`
	Kinds     map[oplog.Kind]int      `json:"kinds,omitempty"`
}

// kindCounter is implemented by backends that can count entries by kind
// without reading the oplog.
type kindCounter interface {
	KindCounts(ctx context.Context, id oplog.WorkerID) (map[oplog.Kind]int, error)
}

func (s *Server) view(r *http.Request, reg store.Worker) (WorkerView, error) {
	n, err := s.backend.Length(r.Context(), reg.ID)
	if err != nil {
		return WorkerView{}, err
	}
	v := WorkerView{
		ID:        reg.ID,
		Component: reg.Component,
		Parent:    reg.Parent,
		ForkedAt:  reg.ForkedAt,
		Length:    n,
	}
	if kc, ok := s.backend.(kindCounter); ok {
		if v.Kinds, err = kc.KindCounts(r.Context(), reg.ID); err != nil {
			return WorkerView{}, err
		}
	}
	if s.executor != nil {
		if w, ok := s.executor.Worker(reg.ID); ok {
			st := w.Status()
			v.Live = &st
		}
	}
	return v, nil
}

func (s *Server) listWorkers(w http.ResponseWriter, r *http.Request) {
	regs, err := s.backend.ListWorkers(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]WorkerView, 0, len(regs))
	for _, reg := range regs {
		v, err := s.view(r, reg)
		if err != nil {
			s.fail(w, err)
			return
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getWorker(w http.ResponseWriter, r *http.Request) {
	reg, err := s.backend.GetWorker(r.Context(), workerID(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	v, err := s.view(r, reg)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// open returns the oplog of a registered worker.
func (s *Server) open(r *http.Request) (*oplog.Oplog, error) {
	id := workerID(r)
	if _, err := s.backend.GetWorker(r.Context(), id); err != nil {
		return nil, err
	}
	return oplog.Open(r.Context(), s.backend, s.backend, id)
}

func (s *Server) getOplog(w http.ResponseWriter, r *http.Request) {
	o, err := s.open(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	from, err := indexParam(r, "from", oplog.Initial)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_range", err.Error())
		return
	}
	to, err := indexParam(r, "to", o.Length())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_range", err.Error())
		return
	}
	if from < oplog.Initial || to > o.Length() || (from > to && o.Length() > oplog.None) {
		writeError(w, http.StatusBadRequest, "invalid_range",
			fmt.Sprintf("range %d..%d outside 1..%d", from, to, o.Length()))
		return
	}

	out := ir.Array{}
	if o.Length() > oplog.None {
		entries, err := o.ReadRange(r.Context(), from, to)
		if err != nil {
			s.fail(w, err)
			return
		}
		for _, ie := range entries {
			pub, err := oplog.ToPublic(ie.Index, ie.Entry)
			if err != nil {
				s.fail(w, err)
				return
			}
			out = append(out, pub.Object())
		}
	}
	data, err := ir.MarshalCanonical(out)
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	o, err := s.open(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	st, err := engine.FoldStatus(r.Context(), o)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) getRegions(w http.ResponseWriter, r *http.Request) {
	o, err := s.open(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	st, err := engine.FoldStatus(r.Context(), o)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st.Regions)
}

func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	o, err := s.open(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	report, err := oplog.Verify(r.Context(), o)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// InvokeResponse is the body of a successful invocation.
type InvokeResponse struct {
	Output string `json:"output"`
}

func (s *Server) invoke(w http.ResponseWriter, r *http.Request) {
	worker, ok := s.liveWorker(w, r)
	if !ok {
		return
	}
	args, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	out, err := worker.Invoke(r.Context(), chi.URLParam(r, "function"), args, r.Header.Get(IdempotencyKeyHeader))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, InvokeResponse{Output: string(out)})
}

func (s *Server) interrupt(w http.ResponseWriter, r *http.Request) {
	worker, ok := s.liveWorker(w, r)
	if !ok {
		return
	}
	name := r.URL.Query().Get("kind")
	if name == "" {
		name = durability.InterruptInterrupt.String()
	}
	kind, err := durability.ParseInterruptKind(name)
	if err != nil || kind == durability.InterruptJump || kind == durability.InterruptFatal {
		writeError(w, http.StatusBadRequest, "invalid_kind", fmt.Sprintf("cannot request interrupt %q", name))
		return
	}
	worker.Interrupt(kind)
	writeJSON(w, http.StatusAccepted, worker.Status())
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	worker, ok := s.liveWorker(w, r)
	if !ok {
		return
	}
	if err := worker.Resume(); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, worker.Status())
}

func (s *Server) liveWorker(w http.ResponseWriter, r *http.Request) (*engine.Worker, bool) {
	if s.executor == nil {
		writeError(w, http.StatusServiceUnavailable, "no_executor", "this server does not run workers")
		return nil, false
	}
	worker, ok := s.executor.Worker(workerID(r))
	if !ok {
		s.fail(w, engine.NewWorkerNotRunningError(workerID(r)))
		return nil, false
	}
	return worker, true
}

func workerID(r *http.Request) oplog.WorkerID {
	return oplog.WorkerID(chi.URLParam(r, "id"))
}

func indexParam(r *http.Request, name string, def oplog.Index) (oplog.Index, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return oplog.IndexFromUint64(n), nil
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// fail maps err to a status code and writes it.
func (s *Server) fail(w http.ResponseWriter, err error) {
	var re *engine.RuntimeError
	switch {
	case errors.Is(err, oplog.ErrWorkerNotFound):
		writeError(w, http.StatusNotFound, "worker_not_found", err.Error())
	case errors.As(err, &re):
		writeError(w, runtimeStatus(re.Code), string(re.Code), re.Message)
	case oplog.IsRegionConflict(err):
		writeError(w, http.StatusConflict, "region_conflict", err.Error())
	default:
		s.logger.Error("inspect request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func runtimeStatus(code engine.RuntimeErrorCode) int {
	switch code {
	case engine.ErrCodeUnknownFunction, engine.ErrCodeWorkerNotRunning, engine.ErrCodeUnknownComponent:
		return http.StatusNotFound
	case engine.ErrCodeInvalidTransition, engine.ErrCodeWorkerStopped:
		return http.StatusConflict
	case engine.ErrCodeInvocationFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: msg})
}
