package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"

	"github.com/davidleathers/claims-fraud-engine/internal/infrastructure/graph"
	"github.com/davidleathers/claims-fraud-engine/internal/service/billingcode"
)

type priceStore interface {
	ReplacePriceRanges(ctx context.Context, source string, ranges map[string]billingcode.PriceRange) error
}

type referralRecorder interface {
	RecordReferral(ctx context.Context, ev graph.ReferralEvent) error
}

// ReferralRow is one row of a referral parquet file. ReferredAt is unix
// milliseconds.
type ReferralRow struct {
	TenantID   string `parquet:"tenant_id"`
	From       string `parquet:"from_provider"`
	To         string `parquet:"to_provider"`
	PatientID  string `parquet:"patient_id"`
	ReferredAt int64  `parquet:"referred_at"`
}

const referralReadBatch = 512

// loadStats reports what a load kept and what it rejected.
type loadStats struct {
	Loaded   int
	Rejected []string
}

// loadPrices validates a parquet price file against the built-in code
// reference and replaces the stored ranges with the accepted rows.
func loadPrices(ctx context.Context, store priceStore, path string, logger *zap.Logger) (loadStats, error) {
	ranges, err := billingcode.LoadPriceRanges(path)
	if err != nil {
		return loadStats{}, err
	}

	_, skipped := billingcode.Default().WithPriceOverrides(ranges)
	for _, code := range skipped {
		delete(ranges, code)
	}
	if len(ranges) == 0 {
		return loadStats{Rejected: skipped}, fmt.Errorf("%s: no usable price ranges", path)
	}

	if err := store.ReplacePriceRanges(ctx, filepath.Base(path), ranges); err != nil {
		return loadStats{}, fmt.Errorf("store price ranges: %w", err)
	}
	logger.Info("price ranges replaced",
		zap.String("source", path),
		zap.Int("loaded", len(ranges)),
		zap.Strings("skipped", skipped))
	return loadStats{Loaded: len(ranges), Rejected: skipped}, nil
}

// loadReferrals records every valid row of a referral parquet file. Invalid
// rows are reported by row number; a graph write error aborts the load.
func loadReferrals(ctx context.Context, rec referralRecorder, path string, logger *zap.Logger) (loadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return loadStats{}, fmt.Errorf("open parquet: %w", err)
	}
	defer f.Close()

	reader := parquet.NewGenericReader[ReferralRow](f)
	defer reader.Close()

	var stats loadStats
	buf := make([]ReferralRow, referralReadBatch)
	rowNum := 0
	for {
		n, readErr := reader.Read(buf)
		for _, row := range buf[:n] {
			rowNum++
			ev, err := row.event()
			if err != nil {
				stats.Rejected = append(stats.Rejected, fmt.Sprintf("row %d: %v", rowNum, err))
				continue
			}
			if err := rec.RecordReferral(ctx, ev); err != nil {
				return stats, fmt.Errorf("row %d: %w", rowNum, err)
			}
			stats.Loaded++
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return stats, fmt.Errorf("read parquet: %w", readErr)
		}
	}

	logger.Info("referrals recorded",
		zap.String("source", path),
		zap.Int("loaded", stats.Loaded),
		zap.Int("rejected", len(stats.Rejected)))
	return stats, nil
}

func (r ReferralRow) event() (graph.ReferralEvent, error) {
	var ev graph.ReferralEvent
	var err error
	if ev.TenantID, err = uuid.Parse(r.TenantID); err != nil {
		return ev, fmt.Errorf("tenant_id: %w", err)
	}
	if ev.From, err = uuid.Parse(r.From); err != nil {
		return ev, fmt.Errorf("from_provider: %w", err)
	}
	if ev.To, err = uuid.Parse(r.To); err != nil {
		return ev, fmt.Errorf("to_provider: %w", err)
	}
	if ev.From == ev.To {
		return ev, errors.New("self-referral")
	}
	if r.PatientID != "" {
		if ev.PatientID, err = uuid.Parse(r.PatientID); err != nil {
			return ev, fmt.Errorf("patient_id: %w", err)
		}
	}
	if r.ReferredAt <= 0 {
		return ev, errors.New("referred_at is required")
	}
	ev.ReferredAt = time.UnixMilli(r.ReferredAt).UTC()
	return ev, nil
}
