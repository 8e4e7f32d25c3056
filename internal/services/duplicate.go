package services

import (
	"context"
	"encoding/hex"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/greencredits/report-server/internal/store"
)

// Fingerprint returns the hex BLAKE2b-256 digest of a photo, or "" when
// there is no photo.
func Fingerprint(photo []byte) string {
	if len(photo) == 0 {
		return ""
	}
	sum := blake2b.Sum256(photo)
	return hex.EncodeToString(sum[:])
}

// DuplicateGuard rejects photos that already belong to a stored report.
//
// The lookup is a fast path only. The unique constraint on the fingerprint
// column is what decides concurrent submissions; Conflict turns that
// constraint failure into the same duplicate error.
type DuplicateGuard struct {
	store  store.Store
	logger *zap.SugaredLogger
}

// NewDuplicateGuard creates a new duplicate guard
func NewDuplicateGuard(st store.Store, logger *zap.SugaredLogger) *DuplicateGuard {
	return &DuplicateGuard{store: st, logger: logger}
}

// CheckAndRegister fingerprints photo and looks for an existing report with
// the same fingerprint. The returned fingerprint is persisted by the caller
// with the new report.
func (g *DuplicateGuard) CheckAndRegister(ctx context.Context, photo []byte) (fingerprint string, isDuplicate bool, conflicting *int64, err error) {
	fingerprint = Fingerprint(photo)
	if fingerprint == "" {
		return "", false, nil, nil
	}

	var seq int64
	err = g.store.InTx(ctx, func(tx store.Tx) error {
		r, err := tx.ReportByFingerprint(ctx, fingerprint)
		if err != nil {
			return err
		}
		seq = r.Seq
		return nil
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fingerprint, false, nil, nil
	case err != nil:
		return "", false, nil, persistErr("duplicate lookup", err)
	}

	DuplicatesRejected.WithLabelValues("precheck").Inc()
	return fingerprint, true, &seq, nil
}

// Conflict resolves a fingerprint that lost the insert race to the report
// that won it.
func (g *DuplicateGuard) Conflict(ctx context.Context, fingerprint string) error {
	DuplicatesRejected.WithLabelValues("constraint").Inc()

	var seq int64
	err := g.store.InTx(ctx, func(tx store.Tx) error {
		r, err := tx.ReportByFingerprint(ctx, fingerprint)
		if err != nil {
			return err
		}
		seq = r.Seq
		return nil
	})
	if err != nil {
		g.logger.Warnw("Late duplicate: winning report not readable",
			"fingerprint", fingerprint,
			"error", err,
		)
	}
	g.logger.Infow("Duplicate photo detected at insert", "fingerprint", fingerprint, "conflicting_seq", seq)
	return &DuplicateSubmissionError{ReportSeq: seq}
}
