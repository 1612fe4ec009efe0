package storage

import (
	"context"
	"fmt"
	"log/slog"
)

// PathSource lists the storage keys that file records still reference.
type PathSource interface {
	ListStoragePaths(ctx context.Context) ([]string, error)
}

// ReconcileResult summarises one sweep.
type ReconcileResult struct {
	Scanned int
	Removed int
	Failed  int
}

// Reconciler removes blobs that no file record references. It must run while
// no upload is in flight, since an upload writes its blob before its record.
type Reconciler struct {
	paths PathSource
	store Store
}

// NewReconciler creates a new Reconciler.
func NewReconciler(paths PathSource, store Store) *Reconciler {
	return &Reconciler{paths: paths, store: store}
}

// Run performs a single sweep.
func (r *Reconciler) Run(ctx context.Context) (*ReconcileResult, error) {
	referenced, err := r.paths.ListStoragePaths(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list referenced blobs: %w", err)
	}
	keep := make(map[string]struct{}, len(referenced))
	for _, p := range referenced {
		keep[p] = struct{}{}
	}

	keys, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stored blobs: %w", err)
	}

	res := &ReconcileResult{Scanned: len(keys)}
	for _, key := range keys {
		if _, ok := keep[key]; ok {
			continue
		}
		if err := r.store.Delete(ctx, key); err != nil {
			slog.Error("failed to remove orphan blob", "key", key, "error", err)
			res.Failed++
			continue
		}
		res.Removed++
		slog.Info("removed orphan blob", "key", key)
	}

	slog.Info("storage reconcile complete",
		"scanned", res.Scanned,
		"removed", res.Removed,
		"failed", res.Failed,
	)
	return res, nil
}
