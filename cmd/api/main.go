package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/harwell/loanbook/pkg/ledger"
	"github.com/harwell/loanbook/pkg/store"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Config holds application configuration, loaded from environment variables.
type Config struct {
	Port        string
	DBPath      string
	LogLevel    string
	RedisAddr   string // empty disables the loan cache
	OverdueCron string
}

func NewConfig() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		DBPath:      getEnv("DB_PATH", "loanbook.db"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		RedisAddr:   getEnv("REDIS_ADDR", ""),
		OverdueCron: getEnv("OVERDUE_CRON", "30 0 * * *"),
	}
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

// Server holds the ledger instance.
type Server struct {
	ledger  *ledger.Ledger
	storage store.Storage // Keep a reference to the storage to close it
	log     *logrus.Logger
}

func NewServer(s store.Storage, log *logrus.Logger) *Server {
	return &Server{
		ledger:  ledger.NewLedger(s, log),
		storage: s,
		log:     log,
	}
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustomerKey  string    `json:"customer_key"`
		Principal    int64     `json:"principal"`
		CurrencyCode string    `json:"currency_code"`
		Terms        int       `json:"terms"`
		StartDate    time.Time `json:"start_date"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Principal <= 0 {
		http.Error(w, "Principal must be positive", http.StatusBadRequest)
		return
	}
	if req.Terms < 1 {
		http.Error(w, "Terms must be at least 1", http.StatusBadRequest)
		return
	}
	if req.CurrencyCode == "" {
		http.Error(w, "Currency code is required", http.StatusBadRequest)
		return
	}
	if req.StartDate.IsZero() {
		req.StartDate = time.Now()
	}

	loan, installments, err := s.ledger.CreateLoan(req.CustomerKey, req.Principal, req.CurrencyCode, req.Terms, req.StartDate)
	if err != nil {
		s.log.Errorf("Error creating loan: %v", err)
		http.Error(w, fmt.Sprintf("Failed to create loan: %v", err), http.StatusInternalServerError)
		return
	}

	resp := struct {
		Loan     interface{} `json:"loan"`
		Schedule interface{} `json:"schedule"`
	}{loan, installments}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

func parseLoanID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	loanID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return loanID, true
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := parseLoanID(w, r)
	if !ok {
		return
	}

	loan, err := s.ledger.GetLoan(loanID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Loan not found", http.StatusNotFound)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(loan)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	loans, err := s.ledger.GetAllLoans()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(loans)
}

func (s *Server) getScheduleHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := parseLoanID(w, r)
	if !ok {
		return
	}

	installments, err := s.ledger.GetSchedule(loanID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(installments)
}

func (s *Server) getRepaymentsHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := parseLoanID(w, r)
	if !ok {
		return
	}

	repayments, err := s.ledger.GetRepayments(loanID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(repayments)
}

func (s *Server) applyPaymentHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := parseLoanID(w, r)
	if !ok {
		return
	}

	var req struct {
		Amount       int64     `json:"amount"`
		CurrencyCode string    `json:"currency_code"`
		ReceivedDate time.Time `json:"received_date"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Amount <= 0 {
		http.Error(w, "Amount must be positive", http.StatusBadRequest)
		return
	}
	if req.ReceivedDate.IsZero() {
		req.ReceivedDate = time.Now()
	}

	repayment, err := s.ledger.ApplyPayment(loanID, req.Amount, req.CurrencyCode, req.ReceivedDate)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			http.Error(w, "Loan not found", http.StatusNotFound)
		case errors.Is(err, ledger.ErrScheduleExhausted):
			s.log.Errorf("Error applying payment to loan %s: %v", loanID, err)
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			s.log.Errorf("Error applying payment to loan %s: %v", loanID, err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(repayment)
}

func (s *Server) router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	router.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/schedule", s.getScheduleHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/repayments", s.getRepaymentsHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/payments", s.applyPaymentHandler).Methods("POST")
	return router
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg := NewConfig()
	logLevel, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	sqliteStore, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		logger.Fatalf("Failed to initialize SQLite store: %v", err)
	}

	var storage store.Storage = sqliteStore
	if cfg.RedisAddr != "" {
		storage = store.NewCachedStore(sqliteStore, store.NewRedisCache(cfg.RedisAddr))
		logger.Infof("Loan cache enabled via redis at %s", cfg.RedisAddr)
	}
	defer storage.Close()

	server := NewServer(storage, logger)

	// Daily overdue sweep
	c := cron.New()
	if _, err := c.AddFunc(cfg.OverdueCron, func() {
		if _, err := server.ledger.MarkOverdue(time.Now()); err != nil {
			logger.Errorf("Overdue sweep failed: %v", err)
		}
	}); err != nil {
		logger.Fatalf("Invalid OVERDUE_CRON %q: %v", cfg.OverdueCron, err)
	}
	c.Start()
	defer c.Stop()

	addr := fmt.Sprintf(":%s", cfg.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logger.Infof("Starting server on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Server failed: %v", err)
	}
}
