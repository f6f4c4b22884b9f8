// SPDX-License-Identifier: MIT

// Package reconcile aligns the database and scheduler with the feeds
// configuration file: configured feeds are upserted and scheduled, feeds
// removed from the file are disabled. It also watches the file and reapplies
// on change.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/podlift/podlift/internal/config"
	"github.com/podlift/podlift/internal/domain"
	"github.com/podlift/podlift/internal/feed"
	"github.com/podlift/podlift/internal/log"
	"github.com/podlift/podlift/internal/store"
)

// Registry is the scheduler surface reconciliation needs.
type Registry interface {
	Register(feedID, schedule string) error
	Unregister(feedID string)
}

// Reconciler applies the feeds file to the store and scheduler.
type Reconciler struct {
	store       *store.Store
	registry    Registry
	coordinator *feed.Coordinator
	feedsPath   string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	current map[string]config.FeedConfig
}

// New creates a reconciler for the given feeds file.
func New(st *store.Store, reg Registry, coord *feed.Coordinator, feedsPath string) *Reconciler {
	return &Reconciler{
		store:       st,
		registry:    reg,
		coordinator: coord,
		feedsPath:   feedsPath,
		current:     make(map[string]config.FeedConfig),
	}
}

// Feeds returns the most recently applied configuration, keyed by feed ID.
func (r *Reconciler) Feeds() map[string]config.FeedConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]config.FeedConfig, len(r.current))
	for k, v := range r.current {
		out[k] = v
	}
	return out
}

// Apply loads the feeds file and reconciles the database and scheduler with
// it. On a load or validation error nothing is changed.
func (r *Reconciler) Apply(ctx context.Context) error {
	logger := log.WithComponent("reconcile")

	cfgs, err := config.LoadFeeds(r.feedsPath)
	if err != nil {
		return fmt.Errorf("load feeds config: %w", err)
	}

	existing, err := r.store.ListFeeds(ctx)
	if err != nil {
		return fmt.Errorf("list feeds: %w", err)
	}

	overrides := make(map[string]int)
	for id, fc := range cfgs {
		if err := r.store.UpsertFeed(ctx, feedFromConfig(fc)); err != nil {
			return err
		}
		if fc.MaxErrors > 0 {
			overrides[id] = fc.MaxErrors
		}
		if fc.Enabled() && !fc.IsManual() {
			if err := r.registry.Register(id, fc.Schedule); err != nil {
				return fmt.Errorf("register schedule for %s: %w", id, err)
			}
		} else {
			r.registry.Unregister(id)
		}
	}

	// Feeds that vanished from the file are disabled, not deleted; their
	// rows and artifacts stay until an operator removes them.
	for _, f := range existing {
		if _, ok := cfgs[f.ID]; ok {
			continue
		}
		r.registry.Unregister(f.ID)
		if !f.IsEnabled {
			continue
		}
		if err := r.store.SetFeedEnabled(ctx, f.ID, false); err != nil {
			return err
		}
		logger.Info().
			Str(log.FieldEvent, "reconcile.disabled").
			Str(log.FieldFeedID, f.ID).
			Msg("feed removed from configuration, disabled")
	}

	r.coordinator.SetRetryOverrides(overrides)

	r.mu.Lock()
	r.current = cfgs
	r.mu.Unlock()

	logger.Info().
		Str(log.FieldEvent, "reconcile.applied").
		Int("configured", len(cfgs)).
		Msg("feeds configuration applied")
	return nil
}

// Watch starts watching the feeds file and reapplies configuration on
// change. Reload failures keep the previous configuration.
func (r *Reconciler) Watch(ctx context.Context) error {
	logger := log.WithComponent("reconcile")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(r.feedsPath); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch feeds file: %w", err)
	}
	r.watcher = watcher

	logger.Info().
		Str(log.FieldEvent, "reconcile.watching").
		Str(log.FieldPath, r.feedsPath).
		Msg("watching feeds file")

	go r.watchLoop(ctx)
	return nil
}

func (r *Reconciler) watchLoop(ctx context.Context) {
	logger := log.WithComponent("reconcile")

	// Editors fire several events per save; debounce them into one apply.
	var debounce *time.Timer
	const debounceDelay = 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			_ = r.watcher.Close()
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, func() {
				if err := r.Apply(ctx); err != nil {
					logger.Error().Err(err).
						Str(log.FieldEvent, "reconcile.reload_failed").
						Msg("feeds file reload failed, keeping previous configuration")
				}
			})
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			logger.Error().Err(err).Msg("feeds file watcher error")
		}
	}
}

// feedFromConfig maps a config entry onto the config-owned columns of a feed
// row. Discovery-owned fields are left zero; the store upsert preserves them
// for existing rows.
func feedFromConfig(fc config.FeedConfig) *domain.Feed {
	f := &domain.Feed{
		ID:         fc.ID,
		IsEnabled:  fc.Enabled(),
		SourceType: domain.SourceTypeUnknown,
		SourceURL:  fc.URL,

		Since:    fc.SinceTime(),
		KeepLast: fc.KeepLast,

		Title:       fc.Title,
		Subtitle:    fc.Subtitle,
		Description: fc.Description,
		Language:    fc.Language,
		Author:      fc.Author,
		AuthorEmail: fc.AuthorEmail,
		Category:    fc.Category,
		PodcastType: fc.PodcastType,
		Explicit:    fc.Explicit,

		TranscriptLang:           fc.TranscriptLang,
		TranscriptSourcePriority: fc.TranscriptPriority(),
	}
	if fc.IsManual() {
		f.SourceType = domain.SourceTypeManual
	}
	return f
}
