package api

import (
	"context"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/gin-gonic/gin"

	"github.com/chaoschain/verdict-engine/internal/engine"
	"github.com/chaoschain/verdict-engine/internal/fixedpoint"
	"github.com/chaoschain/verdict-engine/internal/ledger"
	"github.com/chaoschain/verdict-engine/internal/metrics"
	"github.com/chaoschain/verdict-engine/pkg/models"
)

// parseHash32 decodes a 0x-prefixed (or bare) 64-char hex string into a
// 32-byte hash.
func parseHash32(s string) (chainhash.Hash, error) {
	var h chainhash.Hash
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != chainhash.HashSize {
		return h, errors.New("expected 32-byte hex value")
	}
	copy(h[:], b)
	return h, nil
}

// guardStatus maps engine/ledger errors onto HTTP status codes.
func guardStatus(err error) int {
	switch {
	case errors.Is(err, ledger.ErrUnknownWork):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrWorkExists), errors.Is(err, ledger.ErrDuplicateCommit),
		errors.Is(err, ledger.ErrDeadlinesSet), errors.Is(err, ledger.ErrWorkClosed):
		return http.StatusConflict
	case errors.Is(err, fixedpoint.ErrArithmetic):
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func abortWith(c *gin.Context, err error) {
	c.JSON(guardStatus(err), gin.H{"error": err.Error()})
}

// mirrorWork pushes a best-effort durable write; the in-memory ledger stays
// authoritative when the database is down.
func (h *APIHandler) mirrorWork(id chainhash.Hash) {
	if h.dbStore == nil {
		return
	}
	w, err := h.ledger.Work(id)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.dbStore.SaveWork(ctx, &w); err != nil {
		log.Printf("Warning: failed to mirror work %s: %v", id, err)
	}
}

func (h *APIHandler) mirrorSubmissions(id chainhash.Hash) {
	if h.dbStore == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, sub := range h.ledger.Submissions(id) {
		if err := h.dbStore.SaveSubmission(ctx, id, &sub); err != nil {
			log.Printf("Warning: failed to mirror submission for %s: %v", id, err)
		}
	}
}

// ── Work registration and deadlines ─────────────────────────────────

type registerWorkRequest struct {
	WorkID          string   `json:"work_id" binding:"required"`
	Studio          string   `json:"studio" binding:"required"`
	Epoch           uint64   `json:"epoch"`
	Participants    []string `json:"participants" binding:"required"`
	Weights         []uint32 `json:"weights" binding:"required"`
	Budget          uint64   `json:"budget"`
	EvidencePointer string   `json:"evidence_pointer"`
}

func (h *APIHandler) handleRegisterWork(c *gin.Context) {
	var req registerWorkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := parseHash32(req.WorkID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "work_id: " + err.Error()})
		return
	}
	studio, err := models.ParseAddress(req.Studio)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "studio: " + err.Error()})
		return
	}
	participants := make([]models.Address, 0, len(req.Participants))
	for _, p := range req.Participants {
		addr, err := models.ParseAddress(p)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "participant: " + err.Error()})
			return
		}
		participants = append(participants, addr)
	}

	if err := h.ledger.RegisterWork(id, studio, req.Epoch, participants, req.Weights, req.Budget, req.EvidencePointer); err != nil {
		abortWith(c, err)
		return
	}
	h.mirrorWork(id)
	c.JSON(http.StatusCreated, gin.H{"work_id": id.String(), "status": "registered"})
}

type deadlinesRequest struct {
	CommitWindowS uint64 `json:"commit_window_s"`
	RevealWindowS uint64 `json:"reveal_window_s"`
}

func (h *APIHandler) handleSetDeadlines(c *gin.Context) {
	id, err := parseHash32(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var req deadlinesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	commitWindow := time.Duration(req.CommitWindowS) * time.Second
	revealWindow := time.Duration(req.RevealWindowS) * time.Second
	if commitWindow == 0 {
		commitWindow = defaultCommitWindow
	}
	if revealWindow == 0 {
		revealWindow = defaultRevealWindow
	}
	if err := h.ledger.SetDeadlines(id, commitWindow, revealWindow); err != nil {
		abortWith(c, err)
		return
	}
	h.mirrorWork(id)
	w, _ := h.ledger.Work(id)
	c.JSON(http.StatusOK, gin.H{
		"work_id":         id.String(),
		"commit_deadline": w.CommitDeadline,
		"reveal_deadline": w.RevealDeadline,
	})
}

// ── Commit / reveal ─────────────────────────────────────────────────

type commitRequest struct {
	Validator  string `json:"validator" binding:"required"`
	Commitment string `json:"commitment" binding:"required"`
}

func (h *APIHandler) handleCommit(c *gin.Context) {
	id, err := parseHash32(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var req commitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	validator, err := models.ParseAddress(req.Validator)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validator: " + err.Error()})
		return
	}
	commitment, err := parseHash32(req.Commitment)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "commitment: " + err.Error()})
		return
	}
	if err := h.ledger.Commit(id, validator, commitment); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"work_id": id.String(), "status": "committed"})
}

type revealRequest struct {
	Validator string             `json:"validator" binding:"required"`
	Worker    *string            `json:"worker,omitempty"` // omit for the shared form
	Scores    models.ScoreVector `json:"scores" binding:"required"`
	Salt      string             `json:"salt" binding:"required"`
}

func (h *APIHandler) handleReveal(c *gin.Context) {
	id, err := parseHash32(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var req revealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	validator, err := models.ParseAddress(req.Validator)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validator: " + err.Error()})
		return
	}
	var worker *models.Address
	if req.Worker != nil {
		w, err := models.ParseAddress(*req.Worker)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "worker: " + err.Error()})
			return
		}
		worker = &w
	}
	saltHash, err := parseHash32(req.Salt)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "salt: " + err.Error()})
		return
	}
	var salt [32]byte
	copy(salt[:], saltHash[:])

	if err := h.ledger.Reveal(id, validator, worker, req.Scores, salt); err != nil {
		abortWith(c, err)
		return
	}
	h.mirrorSubmissions(id)
	c.JSON(http.StatusOK, gin.H{"work_id": id.String(), "status": "revealed"})
}

type legacyScoresRequest struct {
	Validator string             `json:"validator" binding:"required"`
	Scores    models.ScoreVector `json:"scores" binding:"required"`
}

func (h *APIHandler) handleLegacyScores(c *gin.Context) {
	id, err := parseHash32(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var req legacyScoresRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	validator, err := models.ParseAddress(req.Validator)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validator: " + err.Error()})
		return
	}
	if err := h.ledger.IngestLegacyScores(id, validator, req.Scores); err != nil {
		abortWith(c, err)
		return
	}
	h.mirrorSubmissions(id)
	c.JSON(http.StatusOK, gin.H{"work_id": id.String(), "status": "ingested"})
}

// ── Epoch closure ───────────────────────────────────────────────────

type closeEpochRequest struct {
	Studio string `json:"studio" binding:"required"`
	Epoch  uint64 `json:"epoch"`
}

func (h *APIHandler) handleCloseEpoch(c *gin.Context) {
	var req closeEpochRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	studio, err := models.ParseAddress(req.Studio)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "studio: " + err.Error()})
		return
	}
	report, err := h.engine.CloseEpoch(c.Request.Context(), studio, req.Epoch)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total_worker_rewards":    report.TotalWorkerRewards,
		"total_validator_rewards": report.TotalValidatorRewards,
		"orchestrator_fee_total":  report.OrchestratorFeeTotal,
		"works_processed":         report.WorksProcessed,
		"works_skipped":           report.WorksSkipped,
		"works":                   report.Works,
	})
}

func (h *APIHandler) handleCloseProgress(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Progress())
}

// ── Reads ───────────────────────────────────────────────────────────

func (h *APIHandler) handleGetWork(c *gin.Context) {
	id, err := parseHash32(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	w, err := h.ledger.Work(id)
	if err != nil {
		abortWith(c, err)
		return
	}
	phase, _ := h.ledger.Phase(id)
	c.JSON(http.StatusOK, gin.H{
		"work":       w,
		"phase":      phase.String(),
		"validators": h.ledger.Validators(id),
	})
}

func (h *APIHandler) handleGetConsensus(c *gin.Context) {
	id, err := parseHash32(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	worker, err := models.ParseAddress(c.Param("worker"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "worker: " + err.Error()})
		return
	}
	res, ok := h.engine.Consensus(id, worker)
	if !ok {
		// MissingData is a well-defined empty result, not a server error.
		c.JSON(http.StatusNotFound, gin.H{"error": "no consensus recorded for this (work, worker)"})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *APIHandler) handleGetReport(c *gin.Context) {
	id, err := parseHash32(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	report, ok := h.engine.Report(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "work not closed"})
		return
	}
	resp := gin.H{"report": report}
	if h.dbStore != nil {
		if rows, err := h.dbStore.DisbursementsFor(c.Request.Context(), id); err == nil {
			resp["disbursements"] = rows
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *APIHandler) handleGetBalance(c *gin.Context) {
	addr, err := models.ParseAddress(c.Param("addr"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account":      addr.Hex(),
		"withdrawable": h.engine.Withdrawable(addr),
	})
}

func (h *APIHandler) handleAccuracyStats(c *gin.Context) {
	var reports []models.WorkCloseReport
	for _, id := range h.ledger.AllWorks() {
		if r, ok := h.engine.Report(id); ok {
			reports = append(reports, r)
		}
	}
	c.JSON(http.StatusOK, metrics.Summarize(reports))
}

// ── Parameters ──────────────────────────────────────────────────────

func (h *APIHandler) handleGetParams(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Parameters())
}

func (h *APIHandler) handleSetParams(c *gin.Context) {
	var p engine.Params
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.engine.SetConsensusParameters(p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.engine.Parameters())
}
