package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/distex/pkg/book"
	"github.com/uhyunpark/distex/pkg/node"
)

const defaultTransferLimit = 50

// Server exposes one node over REST and a websocket event feed.
type Server struct {
	node   *node.Node
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger
}

func NewServer(n *node.Node, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		node:   n,
		router: mux.NewRouter(),
		hub:    NewHub(log),
		log:    log,
	}
	s.setupRoutes()

	n.Subscribe(func(ev node.Event) {
		s.hub.BroadcastToChannel(WSMessage{
			Channel: ev.Type,
			OrderID: ev.OrderID,
			Node:    string(ev.Node),
			Time:    ev.Time,
		})
	})
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/transfers", s.handleGetTransfers).Methods("GET")

	s.router.Handle("/metrics", s.node.Metrics().Handler()).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped in CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx ends.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Infow("api_listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	ownedOnly := r.URL.Query().Get("owned") == "true"
	self := s.node.ID()

	orders := s.node.Registry().Snapshot()
	response := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		if ownedOnly && o.ServerID != self {
			continue
		}
		response = append(response, orderView(o, self))
	}
	respondJSON(w, response)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	o, ok := s.node.Registry().Find(id)
	if !ok {
		respondError(w, http.StatusNotFound, "order not found", id)
		return
	}
	respondJSON(w, orderView(o, s.node.ID()))
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	fromAmount, err := decimal.NewFromString(req.FromAmount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid fromAmount", err.Error())
		return
	}
	toAmount, err := decimal.NewFromString(req.ToAmount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid toAmount", err.Error())
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	resp := s.node.Submit(book.Order{
		ID:          req.ID,
		FromProduct: book.Product(req.FromProduct),
		FromAmount:  fromAmount,
		ToProduct:   book.Product(req.ToProduct),
		ToAmount:    toAmount,
		Type:        book.AllOrNone,
	})
	respondJSON(w, SubmitOrderResponse{IsAccepted: resp.IsAccepted, OrderID: req.ID})
}

func (s *Server) handleGetTransfers(w http.ResponseWriter, r *http.Request) {
	limit := defaultTransferLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		limit = n
	}

	transfers, err := s.node.Transfers(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "journal unavailable", err.Error())
		return
	}
	response := make([]TransferView, len(transfers))
	for i, t := range transfers {
		response[i] = transferView(t)
	}
	respondJSON(w, response)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, NodeStatus{
		Status: "ok",
		NodeID: string(s.node.ID()),
		Orders: s.node.Registry().Len(),
		Time:   time.Now().UnixMilli(),
	})
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
