package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/radieske/prize-settlement/internal/settlement/leaderboard"
	"github.com/radieske/prize-settlement/internal/settlement/ledger"
	"github.com/radieske/prize-settlement/internal/settlement/orchestrator"
)

type Distributor interface {
	DistributeToWinners(ctx context.Context, winnerNames []string) (orchestrator.Summary, error)
}

type Leaderboard interface {
	Get(ctx context.Context) ([]leaderboard.Entry, error)
}

// maxBodyBytes limita o corpo do POST de liquidação
const maxBodyBytes = 1 << 20

type DistributeRequest struct {
	Winners []string `json:"winners"`
}

// API expõe o gatilho de liquidação e o leaderboard
type API struct {
	Settlements Distributor
	Leaderboard Leaderboard
	Log         *zap.Logger
}

// Router retorna o roteador HTTP com os endpoints REST
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Post("/v1/settlements/distribute", a.distribute) // Executa sweep + distribuição
	r.Get("/v1/leaderboard", a.leaderboard)            // Projetos por saldo atual
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// distribute responde 200 com o resumo mesmo quando há pernas com falha
func (a *API) distribute(w http.ResponseWriter, r *http.Request) {
	var req DistributeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}

	summary, err := a.Settlements.DistributeToWinners(r.Context(), req.Winners)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, summary)
	case errors.Is(err, orchestrator.ErrNoWinners):
		writeError(w, http.StatusBadRequest, err.Error())
	case ledger.IsUnavailable(err):
		a.Log.Error("settlement aborted", zap.String("request_id", middleware.GetReqID(r.Context())), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "summary": summary})
	default:
		a.Log.Error("settlement failed", zap.String("request_id", middleware.GetReqID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (a *API) leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := a.Leaderboard.Get(r.Context())
	if err != nil {
		a.Log.Error("leaderboard failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []leaderboard.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": entries})
}
