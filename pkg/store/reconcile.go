package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mynahbot/mynah/pkg/assets"
	"github.com/mynahbot/mynah/pkg/logger"
)

// Report summarizes one reconciliation run.
type Report struct {
	CreatedUsers int // user rows inserted for discovered directories
	AdoptedDirs  int // voice rows inserted for unregistered directories
	PrunedRows   int // voice rows deleted because their directory is gone
	RemovedDirs  int // top-level directories deleted (name is not a uid)
}

func (r Report) Changed() bool {
	return r.CreatedUsers+r.AdoptedDirs+r.PrunedRows+r.RemovedDirs > 0
}

// Reconciler restores the correspondence between voice rows and the sample
// tree: every voice row points at an existing directory and every voice
// directory has a row. User rows are only ever created here, never deleted.
// It is meant to run single-threaded before the service accepts traffic.
type Reconciler struct {
	store  *Store
	assets *assets.Store
}

func NewReconciler(st *Store, as *assets.Store) *Reconciler {
	return &Reconciler{store: st, assets: as}
}

func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	var rep Report

	known, err := r.store.Users(ctx)
	if err != nil {
		return rep, err
	}
	knownSet := make(map[int64]bool, len(known))
	for _, uid := range known {
		knownSet[uid] = true
	}

	dirNames, err := r.assets.ListUserDirs()
	if err != nil {
		return rep, err
	}

	dirUIDs := make(map[int64]bool, len(dirNames))
	for _, name := range dirNames {
		uid, err := strconv.ParseInt(name, 10, 64)
		if err != nil {
			// Not a user id, so nothing can own it. Remove it.
			if err := r.assets.RemoveUserDir(name); err != nil {
				return rep, err
			}
			rep.RemovedDirs++
			logger.WarnCF("reconcile", "removed stray directory", map[string]any{"dir": name})
			continue
		}
		dirUIDs[uid] = true

		if !knownSet[uid] {
			if err := r.store.EnsureUser(ctx, uid); err != nil {
				return rep, err
			}
			knownSet[uid] = true
			rep.CreatedUsers++
			logger.InfoCF("reconcile", "discovered user from directory", map[string]any{"user": uid})
		}
	}

	// Walk every known user, whether or not their directory exists: a user
	// with no directory may still carry orphan voice rows to prune.
	for uid := range knownSet {
		if err := r.reconcileUser(ctx, uid, &rep); err != nil {
			return rep, err
		}
	}

	if rep.Changed() {
		logger.InfoCF("reconcile", "completed", map[string]any{
			"created_users": rep.CreatedUsers,
			"adopted_dirs":  rep.AdoptedDirs,
			"pruned_rows":   rep.PrunedRows,
			"removed_dirs":  rep.RemovedDirs,
		})
	}
	return rep, nil
}

func (r *Reconciler) reconcileUser(ctx context.Context, uid int64, rep *Report) error {
	uidStr := strconv.FormatInt(uid, 10)

	rows, err := r.store.ListVoices(ctx, uid)
	if err != nil {
		return err
	}

	dirs, err := r.assets.ListVoiceDirs(uidStr)
	if err != nil {
		return err
	}
	dirSet := make(map[string]bool, len(dirs))
	for _, d := range dirs {
		dirSet[d] = true
	}

	rowSet := make(map[string]bool, len(rows))
	for _, v := range rows {
		rowSet[v.Name] = true
		if dirSet[v.Name] {
			continue
		}
		// Directory gone; the row is stale. RemoveVoice also resets the
		// user's selection if this was the active voice.
		if _, err := r.store.RemoveVoice(ctx, uid, v.ID); err != nil {
			return fmt.Errorf("prune voice %d for user %d: %w", v.ID, uid, err)
		}
		rep.PrunedRows++
		logger.WarnCF("reconcile", "pruned voice row without directory", map[string]any{
			"user": uid, "voice": v.Name,
		})
	}

	for _, name := range dirs {
		if rowSet[name] {
			continue
		}
		// Unregistered directory. Samples are expensive to regenerate, so
		// adopt it instead of deleting it.
		path := r.assets.VoiceDir(uidStr, name)
		if _, err := r.store.InsertVoice(ctx, uid, name, path); err != nil {
			return fmt.Errorf("adopt voice dir %s for user %d: %w", name, uid, err)
		}
		rep.AdoptedDirs++
		logger.InfoCF("reconcile", "adopted unregistered voice directory", map[string]any{
			"user": uid, "voice": name,
		})
	}

	return nil
}
