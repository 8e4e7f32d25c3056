// MerkleService keeps a Merkle tree over the credit ledger so any
// transaction can be proven to be part of the published root.
package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/greencredits/report-server/internal/models"
	"github.com/greencredits/report-server/internal/store"
)

// MerkleService manages the Merkle tree for ledger integrity
type MerkleService struct {
	mu            sync.RWMutex
	leaves        []string
	layers        [][]string
	root          string
	lastBuildTime time.Time
	logger        *zap.SugaredLogger
}

// NewMerkleService creates a new Merkle service
func NewMerkleService(logger *zap.SugaredLogger) *MerkleService {
	return &MerkleService{
		leaves: make([]string, 0),
		layers: make([][]string, 0),
		logger: logger,
	}
}

// TransactionHash is the leaf hash of one ledger entry.
func TransactionHash(t models.Transaction) string {
	h := sha256.New()
	h.Write([]byte(t.ID.String()))
	h.Write([]byte{0})
	h.Write([]byte(t.AccountID))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(t.Amount, 10)))
	h.Write([]byte{0})
	h.Write([]byte(t.Kind))
	h.Write([]byte{0})
	h.Write([]byte(t.Reference))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(t.CreatedAt.UnixNano(), 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// BuildFromHashes rebuilds the tree from leaf hashes in ledger order
func (m *MerkleService) BuildFromHashes(hashes []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.leaves = hashes
	m.buildTree()
	m.lastBuildTime = time.Now()
	LedgerLeaves.Set(float64(len(hashes)))

	m.logger.Infow("Merkle tree rebuilt",
		"leaves", len(m.leaves),
		"root", m.root,
	)
}

// GetRoot returns the current Merkle root
func (m *MerkleService) GetRoot() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.root
}

// GetLeafCount returns the number of leaves
func (m *MerkleService) GetLeafCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.leaves)
}

// GetLastBuildTime returns when the tree was last rebuilt
func (m *MerkleService) GetLastBuildTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastBuildTime
}

// GetProof generates a Merkle proof for the given leaf index
func (m *MerkleService) GetProof(index int) (*models.MerkleProof, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if index < 0 || index >= len(m.leaves) {
		return nil, fmt.Errorf("index %d out of range (0-%d): %w", index, len(m.leaves)-1, ErrNotFound)
	}

	proof := &models.MerkleProof{
		LeafHash: m.leaves[index],
		Root:     m.root,
		Index:    index,
		Proof:    make([]models.ProofStep, 0),
	}

	currentIndex := index
	for i := 0; i < len(m.layers)-1; i++ {
		layer := m.layers[i]
		isRight := currentIndex%2 == 1
		siblingIndex := currentIndex + 1
		if isRight {
			siblingIndex = currentIndex - 1
		}

		// An odd node at the end of a layer is paired with itself.
		sibling := layer[currentIndex]
		if siblingIndex < len(layer) {
			sibling = layer[siblingIndex]
		}
		position := "right"
		if isRight {
			position = "left"
		}
		proof.Proof = append(proof.Proof, models.ProofStep{Hash: sibling, Position: position})

		currentIndex /= 2
	}

	proof.Verified = VerifyProof(proof.LeafHash, proof.Proof, proof.Root)
	return proof, nil
}

// VerifyProof recomputes the root from a leaf and its proof path.
func VerifyProof(leaf string, steps []models.ProofStep, root string) bool {
	if leaf == "" || root == "" {
		return false
	}
	current := leaf
	for _, step := range steps {
		switch step.Position {
		case "left":
			current = hashPair(step.Hash, current)
		case "right":
			current = hashPair(current, step.Hash)
		default:
			return false
		}
	}
	return current == root
}

// buildTree constructs the Merkle tree from leaves (internal, must hold write lock)
func (m *MerkleService) buildTree() {
	if len(m.leaves) == 0 {
		m.root = ""
		m.layers = nil
		return
	}

	currentLayer := make([]string, len(m.leaves))
	copy(currentLayer, m.leaves)
	m.layers = [][]string{currentLayer}

	for len(currentLayer) > 1 {
		nextLayer := make([]string, 0, (len(currentLayer)+1)/2)
		for i := 0; i < len(currentLayer); i += 2 {
			left := currentLayer[i]
			right := left
			if i+1 < len(currentLayer) {
				right = currentLayer[i+1]
			}
			nextLayer = append(nextLayer, hashPair(left, right))
		}
		m.layers = append(m.layers, nextLayer)
		currentLayer = nextLayer
	}

	m.root = currentLayer[0]
}

// hashPair combines and hashes two nodes
func hashPair(left, right string) string {
	h := sha256.New()
	h.Write([]byte(left + right))
	return hex.EncodeToString(h.Sum(nil))
}

// IntegrityWorker periodically rebuilds the ledger Merkle tree and
// reconciles cached balances against the transaction log.
type IntegrityWorker struct {
	merkleSvc *MerkleService
	ledger    *CreditLedger
	store     store.Store
	logger    *zap.SugaredLogger
}

// NewIntegrityWorker creates a new background integrity worker
func NewIntegrityWorker(ms *MerkleService, ledger *CreditLedger, st store.Store, logger *zap.SugaredLogger) *IntegrityWorker {
	return &IntegrityWorker{merkleSvc: ms, ledger: ledger, store: st, logger: logger}
}

// Start begins the periodic rebuild loop
func (w *IntegrityWorker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial build
	w.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Integrity worker stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// IntegrityReport is the outcome of one integrity pass.
type IntegrityReport struct {
	Root       string     `json:"root"`
	Leaves     int        `json:"leaves"`
	Accounts   int        `json:"accounts"`
	Mismatches []Mismatch `json:"mismatches"`
}

// RunOnce rebuilds the tree and reconciles every account.
func (w *IntegrityWorker) RunOnce(ctx context.Context) (*IntegrityReport, error) {
	var txs []models.Transaction
	err := w.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		txs, err = tx.AllTransactions(ctx)
		return err
	})
	if err != nil {
		w.logger.Errorw("Integrity pass failed: read ledger", "error", err)
		return nil, persistErr("read ledger", err)
	}

	hashes := make([]string, len(txs))
	for i, t := range txs {
		hashes[i] = TransactionHash(t)
	}
	w.merkleSvc.BuildFromHashes(hashes)

	checked, mismatches, err := w.ledger.Reconcile(ctx)
	if err != nil {
		w.logger.Errorw("Integrity pass failed: reconcile", "error", err)
		return nil, err
	}
	LedgerMismatches.Set(float64(len(mismatches)))
	for _, m := range mismatches {
		w.logger.Errorw("Ledger mismatch",
			"account", m.AccountID,
			"available", m.Available,
			"ledger_net", m.LedgerNet,
			"total_earned", m.TotalEarned,
			"ledger_earned", m.LedgerEarned,
		)
	}

	w.logger.Infow("Integrity pass complete",
		"transactions", len(txs),
		"accounts", checked,
		"mismatches", len(mismatches),
	)
	if mismatches == nil {
		mismatches = []Mismatch{}
	}
	return &IntegrityReport{
		Root:       w.merkleSvc.GetRoot(),
		Leaves:     len(hashes),
		Accounts:   checked,
		Mismatches: mismatches,
	}, nil
}
