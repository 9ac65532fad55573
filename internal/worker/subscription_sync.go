package worker

import (
	"context"
	"log/slog"

	"github.com/pitchside/pitchside/internal/domain"
)

// SyncStore lists the subscriptions the sync worker operates on.
type SyncStore interface {
	ListUnsyncedSubscriptions(ctx context.Context, limit int32) ([]domain.Subscription, error)
	ListProviderLinkedSubscriptions(ctx context.Context, limit int32) ([]domain.Subscription, error)
}

// Syncer is the slice of the subscription service the sync worker drives.
type Syncer interface {
	PushToProvider(ctx context.Context, sub *domain.Subscription) (*domain.SyncDiagnosis, error)
	ReconcileFromProvider(ctx context.Context, sub *domain.Subscription) error
}

// SubscriptionSyncWorker keeps local subscriptions and provider state
// aligned in both directions: it pushes pending subscriptions that have a
// usable mandate but no provider link, then refreshes already-linked ones
// from the provider's current view.
type SubscriptionSyncWorker struct {
	store     SyncStore
	syncer    Syncer
	logger    *slog.Logger
	batchSize int32
}

// NewSubscriptionSyncWorker creates a SubscriptionSyncWorker. batchSize
// bounds each direction per run; zero means 100.
func NewSubscriptionSyncWorker(st SyncStore, syncer Syncer, logger *slog.Logger, batchSize int32) *SubscriptionSyncWorker {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &SubscriptionSyncWorker{store: st, syncer: syncer, logger: logger, batchSize: batchSize}
}

func (w *SubscriptionSyncWorker) Name() string { return domain.WorkerSubscriptionSync }

// Run performs one sync pass. Per-subscription failures are counted and
// logged but do not abort the run; only a failure to list work does.
func (w *SubscriptionSyncWorker) Run(ctx context.Context) (domain.WorkerResult, error) {
	var result domain.WorkerResult

	unsynced, err := w.store.ListUnsyncedSubscriptions(ctx, w.batchSize)
	if err != nil {
		return result, err
	}

	for i := range unsynced {
		sub := &unsynced[i]
		result.Processed++

		diag, err := w.syncer.PushToProvider(ctx, sub)
		if err != nil {
			result.Failed++
			w.logger.Error("failed to push subscription to provider",
				"subscription_id", sub.ID, "provider", sub.Provider, "error", err)
			continue
		}
		if !diag.NeedsSync {
			// Blocked; the diagnostics endpoint surfaces why.
			w.logger.Debug("subscription not pushable",
				"subscription_id", sub.ID, "blockers", diag.Blockers)
			continue
		}
		result.Succeeded++
	}

	linked, err := w.store.ListProviderLinkedSubscriptions(ctx, w.batchSize)
	if err != nil {
		return result, err
	}

	for i := range linked {
		sub := &linked[i]
		result.Processed++

		if err := w.syncer.ReconcileFromProvider(ctx, sub); err != nil {
			result.Failed++
			w.logger.Error("failed to reconcile subscription from provider",
				"subscription_id", sub.ID, "provider", sub.Provider, "error", err)
			continue
		}
		result.Succeeded++
	}

	return result, nil
}
