package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/greencredits/report-server/internal/models"
	"github.com/greencredits/report-server/internal/services"
)

// IntegrityHandler handles Merkle tree verification endpoints
type IntegrityHandler struct {
	svc    *services.MerkleService
	worker *services.IntegrityWorker
	logger *zap.SugaredLogger
}

// NewIntegrityHandler creates a new integrity handler
func NewIntegrityHandler(svc *services.MerkleService, worker *services.IntegrityWorker, logger *zap.SugaredLogger) *IntegrityHandler {
	return &IntegrityHandler{svc: svc, worker: worker, logger: logger}
}

type verifyProofRequest struct {
	Leaf  string             `json:"leaf_hash"`
	Proof []models.ProofStep `json:"proof"`
	Root  string             `json:"root"`
}

// GetRoot handles GET /api/v1/integrity/root
func (h *IntegrityHandler) GetRoot(w http.ResponseWriter, r *http.Request) {
	root := h.svc.GetRoot()
	w.Header().Set("X-Merkle-Root", root)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"root":       root,
		"leaf_count": h.svc.GetLeafCount(),
		"timestamp":  h.svc.GetLastBuildTime(),
	})
}

// GetProof handles GET /api/v1/integrity/proof/{index}
func (h *IntegrityHandler) GetProof(w http.ResponseWriter, r *http.Request) {
	indexStr := chi.URLParam(r, "index")
	index, err := strconv.Atoi(indexStr)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid index")
		return
	}

	proof, err := h.svc.GetProof(index)
	if err != nil {
		respondError(w, http.StatusNotFound, "Proof not available for index")
		return
	}

	respondJSON(w, http.StatusOK, proof)
}

// Verify handles POST /api/v1/integrity/verify. An empty root checks the
// proof against the current tree.
func (h *IntegrityHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyProofRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Leaf) == "" {
		respondError(w, http.StatusBadRequest, "leaf_hash is required")
		return
	}
	root := req.Root
	if root == "" {
		root = h.svc.GetRoot()
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"root":     root,
		"verified": services.VerifyProof(req.Leaf, req.Proof, root),
	})
}

// Run handles POST /api/v1/admin/integrity/run. It rebuilds the tree and
// reconciles every account immediately.
func (h *IntegrityHandler) Run(w http.ResponseWriter, r *http.Request) {
	report, err := h.worker.RunOnce(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, "integrity run", err)
		return
	}
	if len(report.Mismatches) > 0 {
		h.logger.Warnw("Manual integrity run found mismatches", "count", len(report.Mismatches), "by", principal(r).Subject)
	}
	respondJSON(w, http.StatusOK, report)
}
