package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ZaherBK/hr-sync/pkg/cache"
	"github.com/ZaherBK/hr-sync/pkg/ledger"
	"github.com/ZaherBK/hr-sync/pkg/models"
	"github.com/ZaherBK/hr-sync/pkg/store"
)

const dateLayout = "2006-01-02"

// Server holds the ledger instance and the optional loan cache.
type Server struct {
	ledger  *ledger.Ledger
	storage store.Storage // Keep a reference to the storage to close it
	cache   *cache.LoanCache
	log     *zap.Logger
}

func NewServer(s store.Storage, c *cache.LoanCache, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		ledger:  ledger.NewLedger(s, log),
		storage: s,
		cache:   c,
		log:     log,
	}
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	r.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	r.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	r.HandleFunc("/loans/{id}/schedule", s.getScheduleHandler).Methods("GET")
	r.HandleFunc("/loans/{id}/repayments", s.getRepaymentsHandler).Methods("GET")
	r.HandleFunc("/loans/{id}/approve", s.approveLoanHandler).Methods("POST")
	r.HandleFunc("/loans/{id}/repay", s.repayHandler).Methods("POST")
	r.HandleFunc("/loans/{id}/cancel", s.cancelLoanHandler).Methods("POST")
	r.HandleFunc("/loans/{id}/default", s.defaultLoanHandler).Methods("POST")
	r.HandleFunc("/settings", s.getSettingsHandler).Methods("GET")
	r.HandleFunc("/settings", s.putSettingsHandler).Methods("PUT")
	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the ledger's failure taxonomy to status codes: validation
// and rate guards to 400, state conflicts to 409, missing references to 404.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		validationErr *ledger.ValidationError
		stateErr      *ledger.StateError
		notFoundErr   *ledger.NotFoundError
		rateErr       *ledger.RateError
	)
	switch {
	case errors.As(err, &validationErr), errors.As(err, &rateErr):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &notFoundErr):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &stateErr):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.log.Error("request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func loanID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)["id"])
}

type createLoanRequest struct {
	EmployeeKey    string           `json:"employee_key"`
	Principal      decimal.Decimal  `json:"principal"`
	InterestScheme string           `json:"interest_scheme"`
	AnnualRate     *decimal.Decimal `json:"annual_rate,omitempty"`
	TermCount      int              `json:"term_count"`
	TermUnit       string           `json:"term_unit"`
	StartDate      string           `json:"start_date"`
	FirstDueOn     string           `json:"first_due_on,omitempty"`
	Fee            *decimal.Decimal `json:"fee,omitempty"`
	Notes          string           `json:"notes,omitempty"`
	CreatedBy      string           `json:"created_by,omitempty"`
}

type createLoanResponse struct {
	Loan     *models.Loan          `json:"loan"`
	Schedule []*models.Installment `json:"schedule"`
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req createLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	startDate, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		http.Error(w, "start_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	var firstDueOn *time.Time
	if req.FirstDueOn != "" {
		d, err := time.Parse(dateLayout, req.FirstDueOn)
		if err != nil {
			http.Error(w, "first_due_on must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		firstDueOn = &d
	}

	loan, schedule, err := s.ledger.CreateLoan(r.Context(), ledger.CreateLoanRequest{
		EmployeeKey: req.EmployeeKey,
		Principal:   req.Principal,
		Scheme:      models.InterestScheme(req.InterestScheme),
		AnnualRate:  req.AnnualRate,
		TermCount:   req.TermCount,
		TermUnit:    models.TermUnit(req.TermUnit),
		StartDate:   startDate,
		FirstDueOn:  firstDueOn,
		Fee:         req.Fee,
		Notes:       req.Notes,
		CreatedBy:   req.CreatedBy,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, createLoanResponse{Loan: loan, Schedule: schedule})
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	filter := store.LoanFilter{
		Status:      models.LoanStatus(r.URL.Query().Get("status")),
		EmployeeKey: r.URL.Query().Get("employee_key"),
	}
	loans, err := s.ledger.ListLoans(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if loans == nil {
		loans = []*models.Loan{}
	}
	s.writeJSON(w, http.StatusOK, loans)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}

	if s.cache != nil {
		if payload, ok := s.cache.Get(r.Context(), id); ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write(payload)
			return
		}
	}

	loan, err := s.ledger.GetLoan(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	payload, err := json.Marshal(loan)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if s.cache != nil {
		if err := s.cache.Set(r.Context(), id, payload); err != nil {
			s.log.Warn("failed to cache loan", zap.Error(err))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(payload)
}

func (s *Server) getScheduleHandler(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}
	schedule, err := s.ledger.GetSchedule(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, schedule)
}

func (s *Server) getRepaymentsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}
	repayments, err := s.ledger.GetRepayments(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if repayments == nil {
		repayments = []*models.Repayment{}
	}
	s.writeJSON(w, http.StatusOK, repayments)
}

type repayRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Source        string          `json:"source"`
	PaidOn        string          `json:"paid_on"`
	InstallmentID *uuid.UUID      `json:"installment_id,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	CreatedBy     string          `json:"created_by,omitempty"`
}

type repayResponse struct {
	Repayment   *models.Repayment   `json:"repayment"`
	Installment *models.Installment `json:"installment"`
}

func (s *Server) repayHandler(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}

	var req repayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	paidOn, err := time.Parse(dateLayout, req.PaidOn)
	if err != nil {
		http.Error(w, "paid_on must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	repayment, installment, err := s.ledger.Repay(r.Context(), ledger.RepayRequest{
		LoanID:        id,
		InstallmentID: req.InstallmentID,
		Amount:        req.Amount,
		Source:        models.RepaymentSource(req.Source),
		PaidOn:        paidOn,
		Notes:         req.Notes,
		CreatedBy:     req.CreatedBy,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.invalidate(r, id)
	s.writeJSON(w, http.StatusCreated, repayResponse{Repayment: repayment, Installment: installment})
}

func (s *Server) approveLoanHandler(w http.ResponseWriter, r *http.Request) {
	s.statusChangeHandler(w, r, s.ledger.Activate)
}

func (s *Server) cancelLoanHandler(w http.ResponseWriter, r *http.Request) {
	s.statusChangeHandler(w, r, s.ledger.Cancel)
}

func (s *Server) defaultLoanHandler(w http.ResponseWriter, r *http.Request) {
	s.statusChangeHandler(w, r, s.ledger.MarkDefaulted)
}

func (s *Server) statusChangeHandler(w http.ResponseWriter, r *http.Request,
	change func(ctx context.Context, id uuid.UUID) (*models.Loan, error)) {
	id, err := loanID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}
	loan, err := change(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.invalidate(r, id)
	s.writeJSON(w, http.StatusOK, loan)
}

func (s *Server) getSettingsHandler(w http.ResponseWriter, r *http.Request) {
	settings, err := s.ledger.GetSettings(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, settings)
}

func (s *Server) putSettingsHandler(w http.ResponseWriter, r *http.Request) {
	var settings models.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.ledger.UpdateSettings(r.Context(), &settings); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, &settings)
}

func (s *Server) invalidate(r *http.Request, id uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(r.Context(), id); err != nil {
		s.log.Warn("failed to invalidate loan cache", zap.Error(err))
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	sqliteStore, err := store.NewSQLiteStore(envOr("DB_PATH", "hrsync.db"))
	if err != nil {
		log.Fatal("failed to initialize SQLite store", zap.Error(err))
	}
	defer sqliteStore.Close()

	var loanCache *cache.LoanCache
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		loanCache = cache.NewLoanCache(addr, 5*time.Minute)
		defer loanCache.Close()
	}

	server := NewServer(sqliteStore, loanCache, log)

	sweepInterval := 24 * time.Hour
	if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Fatal("invalid SWEEP_INTERVAL", zap.Error(err))
		}
		sweepInterval = d
	}

	// Background sweep that flags overdue installments.
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()

		for range ticker.C {
			n, err := server.ledger.MarkOverdue(context.Background(), time.Now())
			if err != nil {
				log.Error("overdue sweep failed", zap.Error(err))
				continue
			}
			log.Info("overdue sweep complete", zap.Int("flagged", n))
		}
	}()

	addr := envOr("HTTP_ADDR", ":8080")
	log.Info("server starting", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, server.router()); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}
