package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/greencredits/report-server/internal/models"
	"github.com/greencredits/report-server/internal/store"
)

// Get returns a report by sequence number.
func (s *ReportService) Get(ctx context.Context, seq int64) (*models.Report, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var r *models.Report
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		r, err = tx.ReportBySeq(ctx, seq)
		return err
	})
	if err != nil {
		return nil, persistErr(fmt.Sprintf("report #%d", seq), err)
	}
	return r, nil
}

// Events returns the activity log of a report, oldest first.
func (s *ReportService) Events(ctx context.Context, seq int64) ([]models.ReportEvent, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var events []models.ReportEvent
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		r, err := tx.ReportBySeq(ctx, seq)
		if err != nil {
			return err
		}
		events, err = tx.ReportEvents(ctx, r.ID)
		return err
	})
	if err != nil {
		return nil, persistErr(fmt.Sprintf("report #%d events", seq), err)
	}
	return events, nil
}

// List returns reports matching f, newest first.
func (s *ReportService) List(ctx context.Context, f store.ReportFilter) ([]models.Report, error) {
	for _, st := range f.Statuses {
		if !st.Valid() {
			return nil, invalid("status", fmt.Sprintf("unknown status %q", st))
		}
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var reports []models.Report
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		reports, err = tx.ListReports(ctx, f)
		return err
	})
	if err != nil {
		return nil, persistErr("list reports", err)
	}
	return reports, nil
}

// WorkerQueue lists the open reports in the worker's zone.
func (s *ReportService) WorkerQueue(ctx context.Context, workerID string, limit int) ([]models.Report, error) {
	w, err := s.Worker(ctx, workerID)
	if err != nil {
		return nil, err
	}
	return s.List(ctx, store.ReportFilter{
		Zones:    []string{w.Zone},
		Statuses: []models.Status{models.StatusPending, models.StatusVerified, models.StatusInProgress},
		Limit:    limit,
	})
}

// ZoneStats aggregates report counts per zone. Configured zones with no
// reports are included with zero counts. Passing zones restricts the
// result to them.
func (s *ReportService) ZoneStats(ctx context.Context, zones ...string) ([]models.ZoneStats, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var stats []models.ZoneStats
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		stats, err = tx.ZoneStats(ctx, zones)
		return err
	})
	if err != nil {
		return nil, persistErr("zone stats", err)
	}

	wanted := make(map[string]bool, len(zones))
	for _, z := range zones {
		wanted[z] = true
	}
	byZone := make(map[string]models.ZoneStats, len(stats))
	for _, zs := range stats {
		byZone[zs.Zone] = zs
	}
	out := make([]models.ZoneStats, 0, len(stats))
	for _, z := range s.router.Zones() {
		if len(wanted) > 0 && !wanted[z.ID] {
			continue
		}
		zs, ok := byZone[z.ID]
		if !ok {
			zs = models.ZoneStats{Zone: z.ID}
		}
		delete(byZone, z.ID)
		out = append(out, zs)
	}
	// zones removed from configuration still have history
	for _, zs := range stats {
		if _, left := byZone[zs.Zone]; left {
			out = append(out, zs)
		}
	}
	return out, nil
}

// HeatmapLimit caps the points returned by Heatmap.
const HeatmapLimit = 5000

// Heatmap returns the located reports that were not rejected, for the
// public map.
func (s *ReportService) Heatmap(ctx context.Context) ([]models.HeatmapPoint, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var points []models.HeatmapPoint
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		points, err = tx.HeatmapPoints(ctx, HeatmapLimit)
		return err
	})
	if err != nil {
		return nil, persistErr("heatmap", err)
	}
	return points, nil
}

// RegisterWorker creates or updates a field worker. The zone must be one
// the router knows.
func (s *ReportService) RegisterWorker(ctx context.Context, w *models.Worker) (*models.Worker, error) {
	w.ID = strings.TrimSpace(w.ID)
	w.Name = strings.TrimSpace(w.Name)
	if w.ID == "" {
		return nil, invalid("id", "is required")
	}
	if w.Name == "" {
		return nil, invalid("name", "is required")
	}
	if !s.router.Known(w.Zone) {
		return nil, invalid("zone", fmt.Sprintf("unknown zone %q", w.Zone))
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var saved *models.Worker
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		w.CreatedAt = time.Now().UTC()
		if err := tx.UpsertWorker(ctx, w); err != nil {
			return err
		}
		var err error
		saved, err = tx.WorkerByID(ctx, w.ID)
		return err
	})
	if err != nil {
		return nil, persistErr("register worker", err)
	}

	s.logger.Infow("Worker registered", "worker", saved.ID, "zone", saved.Zone)
	return saved, nil
}

// Worker returns a registered worker.
func (s *ReportService) Worker(ctx context.Context, id string) (*models.Worker, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var w *models.Worker
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		w, err = tx.WorkerByID(ctx, id)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("worker %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, persistErr("get worker", err)
	}
	return w, nil
}
