package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"exchange/internal/book"
	"exchange/internal/engine"
	"exchange/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Server exposes the engine over HTTP and streams book updates over
// WebSocket.
type Server struct {
	engine      *engine.Engine
	hub         *Hub
	upgrader    websocket.Upgrader
	corsOrigins []string // empty = allow all (development)
}

func NewServer(eng *engine.Engine) *Server {
	s := &Server{
		engine: eng,
		hub:    NewHub(),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return s.allowOrigin(r.Header.Get("Origin"))
		},
	}
	return s
}

// SetCORSOrigins restricts CORS to the given origins. An empty slice allows
// all origins.
func (s *Server) SetCORSOrigins(origins []string) {
	s.corsOrigins = origins
}

func (s *Server) allowOrigin(origin string) bool {
	if len(s.corsOrigins) == 0 || origin == "" {
		return true
	}
	for _, allowed := range s.corsOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// Shutdown disconnects all WebSocket clients.
func (s *Server) Shutdown() {
	s.hub.Close()
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	allowedOrigins := s.corsOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/", s.handleIndex)
	r.Get("/sync", s.handleSync)
	r.Post("/buy", s.submitHandler(book.Buy))
	r.Post("/sell", s.submitHandler(book.Sell))
	r.Get("/quantity", s.handleQuantity)
	r.Get("/order/{id}", s.handleOrder)
	r.Get("/ws", s.handleWebSocket)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, envelope{Message: "Page not found"})
	})

	return r
}

// envelope is the response shape for every JSON endpoint.
type envelope struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, engine.ErrInvalidOrder):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrUnavailable),
		errors.Is(err, store.ErrCorrupt),
		errors.Is(err, store.ErrWriteFailed):
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, envelope{Message: err.Error()})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Welcome to the order book api"))
}

// bookState is the /sync payload and the WebSocket book frame.
type bookState struct {
	BuyOrders  []book.Order `json:"buyOrders"`
	SellOrders []book.Order `json:"sellOrders"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	bids, asks := s.engine.Snapshot()
	writeJSON(w, http.StatusOK, envelope{
		Message: "Successfully fetched order book",
		Data:    bookState{BuyOrders: bids, SellOrders: asks},
	})
}

type orderRequest struct {
	Quantity int64 `json:"quantity"`
	Price    int64 `json:"price"`
}

func (s *Server) submitHandler(side book.Side) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req orderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, envelope{Message: "invalid request body"})
			return
		}

		report, err := s.engine.Submit(r.Context(), side, req.Quantity, req.Price)
		if err != nil {
			log.Warn().Err(err).Stringer("side", side).Msg("order rejected")
			writeError(w, err)
			return
		}

		s.broadcastExecution(report)
		writeJSON(w, http.StatusOK, envelope{
			Message: "Successfully placed your order",
			Data:    report,
		})
	}
}

func (s *Server) handleQuantity(w http.ResponseWriter, r *http.Request) {
	price, err := strconv.ParseInt(r.URL.Query().Get("price"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Message: "price must be an integer"})
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Message: "Retrieved total quantity at given price",
		Data:    s.engine.QuantityAt(price),
	})
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.engine.Lookup(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, engine.ErrOrderNotFound) {
			writeJSON(w, http.StatusNotFound, envelope{Message: "Order not found"})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Message: "Successfully fetched order details",
		Data:    order,
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	s.hub.Serve(conn)
}

// broadcastExecution pushes the execution report and the fresh book state to
// all WebSocket subscribers.
func (s *Server) broadcastExecution(report engine.Report) {
	s.hub.Broadcast(map[string]any{
		"type": "execution",
		"data": report,
	})
	bids, asks := s.engine.Snapshot()
	s.hub.Broadcast(map[string]any{
		"type": "book",
		"data": bookState{BuyOrders: bids, SellOrders: asks},
	})
}
