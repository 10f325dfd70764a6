// Copyright 2015 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/gdamore/cfork"
)

// Handler wraps a Supervisor, adding http.Handler functionality.
type Handler struct {
	s     *cfork.Supervisor
	r     *mux.Router
	users map[string][]byte // user -> bcrypt hash
	realm string
}

// Option configures a Handler.
type Option func(*Handler)

// WithUsers requires HTTP basic authentication against the given bcrypt
// password hashes, keyed by user name.
func WithUsers(users map[string]string) Option {
	return func(h *Handler) {
		if len(users) == 0 {
			return
		}
		h.users = make(map[string][]byte, len(users))
		for u, hash := range users {
			h.users[u] = []byte(hash)
		}
	}
}

// WithRealm sets the basic authentication realm.
func WithRealm(realm string) Option {
	return func(h *Handler) {
		h.realm = realm
	}
}

// WithMetrics serves the registry on /metrics.
func WithMetrics(reg *prometheus.Registry) Option {
	return func(h *Handler) {
		h.r.Handle("/metrics",
			promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods("GET")
	}
}

func (h *Handler) internalError(w http.ResponseWriter, e error) {
	http.Error(w, e.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeJson(w http.ResponseWriter, v interface{}) {
	if b, e := json.Marshal(v); e != nil {
		h.internalError(w, e)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.Write(b)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, e *Error) {
	if b, err := json.Marshal(e); err != nil {
		h.internalError(w, err)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.WriteHeader(e.Code)
		w.Write(b)
	}
}

// fail maps supervisor errors onto HTTP status codes.
func (h *Handler) fail(w http.ResponseWriter, e error) {
	code := http.StatusBadRequest
	switch {
	case errors.Is(e, cfork.ErrNoWorker):
		code = http.StatusNotFound
	case errors.Is(e, cfork.ErrWorkerDead), errors.Is(e, cfork.ErrDisconnected):
		code = http.StatusConflict
	}
	h.writeError(w, &Error{Code: code, Message: e.Error()})
}

func (h *Handler) workerID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, e := strconv.Atoi(mux.Vars(r)["id"])
	if e != nil {
		h.writeError(w, &Error{http.StatusBadRequest, "Bad worker id"})
		return 0, false
	}
	return id, true
}

// pollWait returns how long the client is willing to wait for etag to
// change, or zero if this is not a long poll.
func pollWait(r *http.Request, etag string) time.Duration {
	if r.Header.Get(PollEtagHeader) != etag {
		return 0
	}
	secs, e := strconv.Atoi(r.Header.Get(PollTimeHeader))
	if e != nil || secs <= 0 {
		return 0
	}
	if secs > MaxPollTime {
		secs = MaxPollTime
	}
	return time.Duration(secs) * time.Second
}

func etagOf(n int64) string {
	return strconv.FormatInt(n, 10)
}

func parseEtag(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func (h *Handler) listWorkers(w http.ResponseWriter, r *http.Request) {
	serial := h.s.Serial()
	etag := r.Header.Get("If-None-Match")
	if etag == etagOf(serial) {
		if d := pollWait(r, etag); d > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			serial = h.s.WatchSerial(ctx, serial)
			cancel()
		}
		if etag == etagOf(serial) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	// The serial is read again with the list; a change in between
	// merely costs the client another round trip.
	workers := h.s.Workers()
	w.Header().Set("Etag", etagOf(serial))
	h.writeJson(w, workers)
}

func (h *Handler) getWorker(w http.ResponseWriter, r *http.Request) {
	id, good := h.workerID(w, r)
	if !good {
		return
	}
	if info, e := h.s.Worker(id); e != nil {
		h.fail(w, e)
	} else {
		h.writeJson(w, info)
	}
}

func (h *Handler) disableRefork(w http.ResponseWriter, r *http.Request) {
	h.setDisableRefork(w, r, true)
}

func (h *Handler) enableRefork(w http.ResponseWriter, r *http.Request) {
	h.setDisableRefork(w, r, false)
}

func (h *Handler) setDisableRefork(w http.ResponseWriter, r *http.Request, disable bool) {
	id, good := h.workerID(w, r)
	if !good {
		return
	}
	if e := h.s.SetDisableRefork(id, disable); e != nil {
		h.fail(w, e)
	} else {
		h.writeJson(w, ok)
	}
}

func (h *Handler) disconnectWorker(w http.ResponseWriter, r *http.Request) {
	id, good := h.workerID(w, r)
	if !good {
		return
	}
	if e := h.s.Disconnect(id); e != nil {
		h.fail(w, e)
	} else {
		h.writeJson(w, ok)
	}
}

func (h *Handler) killWorker(w http.ResponseWriter, r *http.Request) {
	id, good := h.workerID(w, r)
	if !good {
		return
	}
	name := r.URL.Query().Get("signal")
	if name == "" {
		name = "TERM"
	}
	sig, found := ParseSignal(name)
	if !found {
		h.writeError(w, &Error{http.StatusBadRequest, "Unknown signal"})
		return
	}
	if e := h.s.Kill(id, sig); e != nil {
		h.fail(w, e)
	} else {
		h.writeJson(w, ok)
	}
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	h.writeJson(w, h.s.Stats())
}

// getLog returns the records newer than the "since" query parameter.
func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	l := h.s.Log()
	last := l.Last()
	etag := r.Header.Get("If-None-Match")
	if etag == etagOf(last) {
		if d := pollWait(r, etag); d > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			last = l.Watch(ctx, last)
			cancel()
		}
		if etag == etagOf(last) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	since := parseEtag(r.URL.Query().Get("since"))
	recs, id := l.Records(since)
	if recs == nil {
		recs = []cfork.LogRecord{}
	}
	w.Header().Set("Etag", etagOf(id))
	h.writeJson(w, recs)
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.users == nil {
			next.ServeHTTP(w, r)
			return
		}
		user, pass, found := r.BasicAuth()
		if found {
			hash, known := h.users[user]
			if !known {
				// Spend the same effort as for a known user.
				hash = dummyHash
			}
			e := bcrypt.CompareHashAndPassword(hash, []byte(pass))
			if e == nil && known {
				next.ServeHTTP(w, r)
				return
			}
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="`+h.realm+`"`)
		h.writeError(w, &Error{http.StatusUnauthorized, "Unauthorized"})
	})
}

// dummyHash is a bcrypt hash of nothing in particular.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("cfork"), bcrypt.MinCost)

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.r.ServeHTTP(w, req)
}

// NewHandler returns an http.Handler for the Supervisor.
func NewHandler(s *cfork.Supervisor, opts ...Option) *Handler {
	r := mux.NewRouter()
	h := &Handler{s: s, r: r, realm: "cfork"}
	r.Use(h.authenticate)
	r.HandleFunc("/workers", h.listWorkers).Methods("GET")
	r.HandleFunc("/workers/{id:[0-9]+}", h.getWorker).Methods("GET")
	r.HandleFunc("/workers/{id:[0-9]+}/disable-refork", h.disableRefork).Methods("POST")
	r.HandleFunc("/workers/{id:[0-9]+}/enable-refork", h.enableRefork).Methods("POST")
	r.HandleFunc("/workers/{id:[0-9]+}/disconnect", h.disconnectWorker).Methods("POST")
	r.HandleFunc("/workers/{id:[0-9]+}/kill", h.killWorker).Methods("POST")
	r.HandleFunc("/stats", h.getStats).Methods("GET")
	r.HandleFunc("/log", h.getLog).Methods("GET")
	for _, o := range opts {
		o(h)
	}
	return h
}
