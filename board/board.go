// Package board serves a dashboard's derived view over HTTP: a JSON read
// out, a server-sent event stream of changes, and the role's commands.
package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"restro-sync/api"
	"restro-sync/connection"
	"restro-sync/dashboard"
	"restro-sync/orders"
)

// Commander is implemented by the kitchen dashboards.
type Commander interface {
	UpdateItem(ctx context.Context, itemID int64, status orders.Status) error
	UpdateTable(ctx context.Context, orderID int64, status orders.Status) error
}

// Payer is implemented by the cashier dashboard.
type Payer interface {
	MarkPaid(ctx context.Context, billID int64, method api.PaymentMethod) error
}

type Options struct {
	Role         connection.Role
	Feed         *dashboard.Feed
	Status       func() connection.Status
	Commander    Commander // optional
	Payer        Payer     // optional
	Logger       *zap.Logger
	PingInterval time.Duration
}

type Board struct {
	opts   Options
	hub    *Hub
	logger *zap.Logger
	stop   func()
}

func New(opts Options) *Board {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 25 * time.Second
	}
	if opts.Status == nil {
		opts.Status = func() connection.Status { return connection.StatusDisconnected }
	}
	b := &Board{
		opts:   opts,
		hub:    NewHub(opts.Logger),
		logger: opts.Logger.With(zap.String("component", "board")),
	}
	b.stop = opts.Feed.Subscribe(func([]orders.Order) {
		b.hub.Broadcast(Event{Type: "orders", Data: b.opts.Feed.View()})
	})
	return b
}

// Close stops forwarding feed changes to streams.
func (b *Board) Close() { b.stop() }

// Routes builds the HTTP handler.
func (b *Board) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(b.logRequests)

	r.Get("/healthz", b.health)
	r.Get("/orders", b.listOrders)
	r.Get("/orders/{id}", b.getOrder)
	r.Get("/events", b.events)

	if b.opts.Commander != nil {
		r.Post("/items/{id}/status", b.updateItem)
		r.Post("/orders/{id}/status", b.updateTable)
	}
	if b.opts.Payer != nil {
		r.Post("/bills/{id}/pay", b.payBill)
	}
	return r
}

func (b *Board) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"role":       b.opts.Role,
		"connection": b.opts.Status().String(),
		"streams":    b.hub.Subscribers(),
	})
}

func (b *Board) listOrders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, b.opts.Feed.View())
}

func (b *Board) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	for _, v := range b.opts.Feed.View() {
		if v.ID == id {
			writeJSON(w, http.StatusOK, v)
			return
		}
	}
	writeError(w, http.StatusNotFound, "order not found")
}

func (b *Board) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch, cancel := b.hub.Subscribe(32)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeEvent(w, Event{Type: "orders", Data: b.opts.Feed.View()})
	flusher.Flush()

	keep := time.NewTicker(b.opts.PingInterval)
	defer keep.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keep.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, ev)
			flusher.Flush()
		}
	}
}

type statusRequest struct {
	Status string `json:"status"`
}

func (b *Board) updateItem(w http.ResponseWriter, r *http.Request) {
	b.statusCommand(w, r, b.opts.Commander.UpdateItem)
}

func (b *Board) updateTable(w http.ResponseWriter, r *http.Request) {
	b.statusCommand(w, r, b.opts.Commander.UpdateTable)
}

func (b *Board) statusCommand(w http.ResponseWriter, r *http.Request, run func(context.Context, int64, orders.Status) error) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	status, ok := orders.ParseStatus(req.Status)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}
	if err := run(r.Context(), id, status); err != nil {
		b.commandError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": status})
}

func (b *Board) payBill(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		PaymentMethod api.PaymentMethod `json:"payment_method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PaymentMethod == "" {
		writeError(w, http.StatusBadRequest, "payment_method is required")
		return
	}
	if err := b.opts.Payer.MarkPaid(r.Context(), id, req.PaymentMethod); err != nil {
		b.commandError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "payment_status": orders.PaymentPaid})
}

func (b *Board) commandError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusBadGateway
	switch {
	case errors.Is(err, dashboard.ErrUnknownOrder):
		code = http.StatusNotFound
	case errors.Is(err, dashboard.ErrInvalidStatus):
		code = http.StatusBadRequest
	case errors.Is(err, api.ErrUnauthorized):
		code = http.StatusUnauthorized
	case errors.Is(err, api.ErrForbidden):
		code = http.StatusForbidden
	}
	b.logger.Warn("Command failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", chimw.GetReqID(r.Context())),
		zap.Error(err))
	writeError(w, code, err.Error())
}

func (b *Board) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		b.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", chimw.GetReqID(r.Context())),
			zap.Duration("latency", time.Since(start)))
	})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func writeEvent(w http.ResponseWriter, ev Event) {
	data, _ := json.Marshal(ev.Data)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
