package shopping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dukerupert/recipes/internal/broadcast"
	"github.com/dukerupert/recipes/internal/model"
	"github.com/dukerupert/recipes/internal/recipes"
	"github.com/dukerupert/recipes/internal/store"
)

// errDelivered ends a retry sequence after a stream that carried at least
// one snapshot, so the next connection starts from the minimum delay.
var errDelivered = errors.New("stream delivered before closing")

// Config tunes a Syncer.
type Config struct {
	// PrivateListID is the id the API reports the session's private list
	// under on the list-of-lists endpoint. It is skipped when merging.
	PrivateListID string
	// MinBackoff and MaxBackoff bound the delay between stream reconnects.
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Snapshot is the state handed to subscribers.
type Snapshot struct {
	State model.ShoppingState
	Sync  SyncState
}

// listOp is a list-of-lists change made while offline.
type listOp struct {
	Method string         `json:"method"`
	Info   model.ListInfo `json:"info"`
}

// Syncer owns the shopping list book and keeps it in sync with the API.
// Edits are applied locally, written to the durable queue and uploaded
// one at a time in queue order.
type Syncer struct {
	transport Transport
	cache     *store.CacheStore
	queue     *store.QueueStore
	cfg       Config
	logger    *slog.Logger
	hub       *broadcast.Hub[Snapshot]

	mu       sync.Mutex
	state    *State
	status   SyncState
	online   bool
	rejected bool
	listOps  []listOp
	pending  []string
	changed  chan struct{}

	drainMu sync.Mutex
}

// NewSyncer restores the book from the cache store, or starts a fresh one.
func NewSyncer(transport Transport, cache *store.CacheStore, queue *store.QueueStore, cfg Config, logger *slog.Logger) *Syncer {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 30 * time.Second
	}

	state := NewState()
	var saved model.ShoppingState
	if found, err := cache.Get(store.KeyShopping, &saved); err != nil {
		logger.Warn("load shopping lists", "error", err)
	} else if found {
		state = restoreState(saved)
	}
	var ops []listOp
	if _, err := cache.Get(store.KeyListOps, &ops); err != nil {
		logger.Warn("load queued list changes", "error", err)
	}

	return &Syncer{
		transport: transport,
		cache:     cache,
		queue:     queue,
		cfg:       cfg,
		logger:    logger,
		hub:       broadcast.NewHub[Snapshot](logger),
		state:     state,
		listOps:   ops,
		status:    StateInitialFetch,
		online:    true,
		changed:   make(chan struct{}),
	}
}

// Run keeps a stream open on the active list while online and replays the
// queue whenever connectivity returns. It returns when ctx is cancelled.
func (s *Syncer) Run(ctx context.Context) error {
	for {
		s.mu.Lock()
		online := s.online
		key := s.state.Active()
		changed := s.changed
		s.mu.Unlock()

		if !online {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-changed:
				continue
			}
		}

		if err := s.drain(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("replay upload queue", "error", err)
		}

		streamCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			s.follow(streamCtx, key)
		}()

		select {
		case <-ctx.Done():
			cancel()
			<-done
			return ctx.Err()
		case <-changed:
			cancel()
			<-done
		}
	}
}

// follow streams one list, reconnecting with bounded exponential backoff.
// A connection that delivered data resets the backoff.
func (s *Syncer) follow(ctx context.Context, key string) {
	s.mu.Lock()
	if s.status != StateFailed {
		s.status = StateInitialFetch
	}
	s.mu.Unlock()
	s.publish()
	s.mergeLists(ctx)

	for ctx.Err() == nil {
		err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
			delivered := false
			err := s.transport.Stream(ctx, key, func(items []model.ShoppingItem) {
				first := !delivered
				delivered = true
				s.receive(key, items)
				if first {
					s.resume(ctx)
				}
			})
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("shopping stream interrupted", "list", key, "error", err)
			if delivered {
				return errDelivered
			}
			return retry.RetryableError(err)
		})
		if err != nil && !errors.Is(err, errDelivered) && ctx.Err() == nil {
			s.logger.Warn("shopping stream gave up", "list", key, "error", err)
		}
	}
}

func (s *Syncer) backoff() retry.Backoff {
	b := retry.NewExponential(s.cfg.MinBackoff)
	b = retry.WithJitterPercent(10, b)
	return retry.WithCappedDuration(s.cfg.MaxBackoff, b)
}

// resume replays queued edits once a stream proves the API is reachable
// again after a transport failure.
func (s *Syncer) resume(ctx context.Context) {
	s.mu.Lock()
	offline := s.online && s.status == StateOffline
	s.mu.Unlock()
	if !offline {
		return
	}
	if err := s.drain(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("replay upload queue", "error", err)
	}
}

func (s *Syncer) receive(key string, items []model.ShoppingItem) {
	s.mu.Lock()
	if items != nil && s.state.Replace(key, items) {
		s.persistLocked()
	}
	if s.status == StateInitialFetch {
		s.status = StateSynced
	}
	s.mu.Unlock()
	s.publish()
}

func (s *Syncer) mergeLists(ctx context.Context) {
	infos, err := s.transport.Lists(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("fetch shopping lists", "error", err)
		}
		return
	}
	filtered := infos[:0]
	for _, info := range infos {
		if info.ID != s.cfg.PrivateListID {
			filtered = append(filtered, info)
		}
	}

	s.mu.Lock()
	added := s.state.Merge(filtered)
	if added > 0 {
		s.persistLocked()
	}
	s.mu.Unlock()
	if added > 0 {
		s.logger.Info("merged shopping lists", "added", added)
		s.publish()
	}
}

// SetOnline reports connectivity. Going offline closes the stream; coming
// back reopens it and replays the queue, unless an upload was rejected and
// is waiting for Retry.
func (s *Syncer) SetOnline(online bool) {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return
	}
	s.online = online
	switch {
	case online && s.rejected:
		s.status = StateFailed
	case online:
		s.status = StateUploading
	default:
		s.status = StateOffline
	}
	s.wakeLocked()
	s.mu.Unlock()
	s.logger.Info("connectivity changed", "online", online)
	s.publish()
}

func (s *Syncer) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Add appends items to the active list.
func (s *Syncer) Add(ctx context.Context, texts ...string) ([]model.ShoppingItem, error) {
	s.mu.Lock()
	key := s.state.Active()
	added := s.state.AddItems(texts...)
	s.persistLocked()
	s.mu.Unlock()
	s.publish()

	if len(added) == 0 {
		return added, nil
	}
	return added, s.send(ctx, key, http.MethodPost, added)
}

// Update replaces an item of the active list; see State.UpdateItem.
func (s *Syncer) Update(ctx context.Context, item model.ShoppingItem) (model.ShoppingItem, error) {
	s.mu.Lock()
	key := s.state.Active()
	updated, err := s.state.UpdateItem(item)
	if err != nil {
		s.mu.Unlock()
		return model.ShoppingItem{}, err
	}
	s.persistLocked()
	s.mu.Unlock()
	s.publish()
	return updated, s.send(ctx, key, http.MethodPut, []model.ShoppingItem{updated})
}

// Toggle flips an item's checked flag.
func (s *Syncer) Toggle(ctx context.Context, id string) (model.ShoppingItem, error) {
	s.mu.Lock()
	list := s.state.lists[s.state.Active()]
	i := indexOf(list.Items, id)
	if i < 0 {
		s.mu.Unlock()
		return model.ShoppingItem{}, ErrUnknownItem
	}
	item := list.Items[i]
	s.mu.Unlock()

	item.Checked = !item.Checked
	return s.Update(ctx, item)
}

func (s *Syncer) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	key := s.state.Active()
	removed, err := s.state.DeleteItem(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.persistLocked()
	s.mu.Unlock()
	s.publish()
	return s.send(ctx, key, http.MethodDelete, []model.ShoppingItem{removed})
}

// Move reorders an item within its sequence and uploads the whole list.
func (s *Syncer) Move(ctx context.Context, id string, index int) error {
	s.mu.Lock()
	key := s.state.Active()
	items, err := s.state.Move(id, index)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.persistLocked()
	s.mu.Unlock()
	s.publish()
	return s.send(ctx, key, http.MethodPut, items)
}

// Clear removes every item of the active list.
func (s *Syncer) Clear(ctx context.Context) error {
	s.mu.Lock()
	key := s.state.Active()
	removed := s.state.Clear()
	s.persistLocked()
	s.mu.Unlock()
	s.publish()
	if len(removed) == 0 {
		return nil
	}
	return s.send(ctx, key, http.MethodDelete, removed)
}

// SetShowChecked toggles whether checked items are shown.
func (s *Syncer) SetShowChecked(show bool) {
	s.mu.Lock()
	s.state.SetShowChecked(show)
	s.persistLocked()
	s.mu.Unlock()
	s.publish()
}

// CreateList adds a list, makes it active and registers it with the API.
func (s *Syncer) CreateList(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	key := s.state.Create(name)
	s.persistLocked()
	s.wakeLocked()
	s.mu.Unlock()
	s.publish()

	return key, s.saveList(ctx, model.ListInfo{ID: key, Name: name})
}

// OpenList joins a list shared by link and makes it active.
func (s *Syncer) OpenList(ctx context.Context, key, name string) error {
	s.mu.Lock()
	s.state.Open(key, name)
	s.persistLocked()
	s.wakeLocked()
	s.mu.Unlock()
	s.publish()

	return s.saveList(ctx, model.ListInfo{ID: key, Name: name})
}

func (s *Syncer) saveList(ctx context.Context, info model.ListInfo) error {
	return s.sendListOp(ctx, listOp{Method: http.MethodPost, Info: info})
}

// sendListOp registers or unregisters a list with the API. Offline, the
// change is kept and sent on the next drain.
func (s *Syncer) sendListOp(ctx context.Context, op listOp) error {
	s.mu.Lock()
	if !s.online {
		s.listOps = append(s.listOps, op)
		s.persistListOpsLocked()
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.applyListOp(ctx, op)
}

func (s *Syncer) applyListOp(ctx context.Context, op listOp) error {
	if op.Method == http.MethodDelete {
		if err := s.transport.DeleteList(ctx, op.Info); err != nil {
			return fmt.Errorf("unregister list %s: %w", op.Info.ID, err)
		}
		return nil
	}
	if err := s.transport.SaveList(ctx, op.Info); err != nil {
		return fmt.Errorf("register list %s: %w", op.Info.ID, err)
	}
	return nil
}

// flushListOps sends list changes made while offline, oldest first. A
// transport failure keeps the rest; a rejected change is dropped.
func (s *Syncer) flushListOps(ctx context.Context) {
	for {
		s.mu.Lock()
		if len(s.listOps) == 0 || !s.online {
			s.mu.Unlock()
			return
		}
		op := s.listOps[0]
		s.mu.Unlock()

		err := s.applyListOp(ctx, op)
		var rejected *recipes.StatusError
		if err != nil && !errors.As(err, &rejected) {
			if ctx.Err() == nil {
				s.logger.Warn("list change failed, keeping it queued", "list", op.Info.ID, "error", err)
			}
			return
		}
		if err != nil {
			s.logger.Error("list change rejected", "list", op.Info.ID, "method", op.Method, "status", rejected.Code)
		}

		s.mu.Lock()
		s.listOps = s.listOps[1:]
		s.persistListOpsLocked()
		s.mu.Unlock()
	}
}

func (s *Syncer) SelectList(key string) error {
	s.mu.Lock()
	if err := s.state.Select(key); err != nil {
		s.mu.Unlock()
		return err
	}
	s.persistLocked()
	s.wakeLocked()
	s.mu.Unlock()
	s.publish()
	return nil
}

// DeleteList forgets a list locally and removes it from the session's
// list-of-lists on the API. The list's items stay on the server.
func (s *Syncer) DeleteList(ctx context.Context, key string) error {
	s.mu.Lock()
	list, ok := s.state.lists[key]
	var name string
	if ok {
		name = list.Name
	}
	wasActive := s.state.Active() == key
	if err := s.state.Delete(key); err != nil {
		s.mu.Unlock()
		return err
	}
	s.persistLocked()
	if wasActive {
		s.wakeLocked()
	}
	s.mu.Unlock()
	s.publish()

	return s.sendListOp(ctx, listOp{Method: http.MethodDelete, Info: model.ListInfo{ID: key, Name: name}})
}

// AddPending holds items whose target list is not known yet.
func (s *Syncer) AddPending(texts ...string) {
	s.mu.Lock()
	s.pending = append(s.pending, texts...)
	s.mu.Unlock()
}

// Pending returns the held items.
func (s *Syncer) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.pending...)
}

// ResolvePending adds the held items. With a single list they go to the
// active list; otherwise choose picks the target from every list, and a
// false second result discards them.
func (s *Syncer) ResolvePending(ctx context.Context, choose func(lists []model.ListInfo) (string, bool)) ([]model.ShoppingItem, error) {
	s.mu.Lock()
	texts := s.pending
	lists := s.state.Lists()
	s.mu.Unlock()

	if len(texts) == 0 {
		return nil, nil
	}
	if len(lists) > 1 {
		key, ok := choose(lists)
		if !ok {
			s.takePending(len(texts))
			return nil, nil
		}
		if err := s.SelectList(key); err != nil {
			return nil, err
		}
	}
	s.takePending(len(texts))
	return s.Add(ctx, texts...)
}

// takePending drops the first n held items, keeping any added meanwhile.
func (s *Syncer) takePending(n int) {
	s.mu.Lock()
	s.pending = append([]string(nil), s.pending[n:]...)
	if len(s.pending) == 0 {
		s.pending = nil
	}
	s.mu.Unlock()
}

// Retry resends the upload the API rejected and continues with the rest
// of the queue.
func (s *Syncer) Retry(ctx context.Context) error {
	s.mu.Lock()
	s.rejected = false
	if s.status == StateFailed {
		s.status = StateUploading
	}
	s.mu.Unlock()
	s.publish()
	return s.drain(ctx)
}

// Queued reports how many uploads are waiting.
func (s *Syncer) Queued() (int, error) {
	return s.queue.Len()
}

// send queues an upload and, when online, replays the queue so it goes out
// behind anything queued earlier.
func (s *Syncer) send(ctx context.Context, key, method string, items []model.ShoppingItem) error {
	if _, err := s.queue.Append(key, method, items); err != nil {
		return fmt.Errorf("queue upload: %w", err)
	}
	if !s.Online() {
		s.setSync(StateOffline)
		return nil
	}
	return s.drain(ctx)
}

// drain uploads queued entries oldest first, one at a time. A rejected
// upload stays at the head of the queue and stops the drain until Retry.
// A transport failure leaves it queued and marks the syncer offline.
func (s *Syncer) drain(ctx context.Context) error {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()

	s.flushListOps(ctx)
	for {
		s.mu.Lock()
		online, blocked, state := s.online, s.rejected, s.status
		s.mu.Unlock()
		if !online || blocked {
			return nil
		}

		entry, err := s.queue.Peek()
		if err != nil {
			return fmt.Errorf("peek upload queue: %w", err)
		}
		if entry == nil {
			if state == StateUploading || state == StateOffline {
				s.setSync(StateSynced)
			}
			return nil
		}

		s.setSync(StateUploading)
		err = s.transport.Upload(ctx, entry.ListKey, entry.Method, entry.Items)
		var rejected *recipes.StatusError
		switch {
		case err == nil:
			if err := s.queue.Remove(entry.ID); err != nil {
				return fmt.Errorf("dequeue upload: %w", err)
			}
		case errors.As(err, &rejected):
			s.logger.Error("upload rejected", "list", entry.ListKey, "method", entry.Method, "status", rejected.Code)
			s.mu.Lock()
			s.rejected = true
			s.mu.Unlock()
			s.setSync(StateFailed)
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			s.logger.Warn("upload failed, keeping it queued", "list", entry.ListKey, "error", err)
			s.setSync(StateOffline)
			return nil
		}
	}
}

// Subscribe registers fn, calls it with the current snapshot and returns
// its id and an idempotent unsubscribe func.
func (s *Syncer) Subscribe(fn func(Snapshot)) (uint64, func()) {
	id, cancel := s.hub.Subscribe(fn)
	fn(s.Snapshot())
	return id, cancel
}

func (s *Syncer) Unsubscribe(id uint64) {
	s.hub.Unsubscribe(id)
}

func (s *Syncer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{State: s.state.Model(), Sync: s.status}
}

// Lists returns every known list, the private list first.
func (s *Syncer) Lists() []model.ListInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Lists()
}

// Items returns the active list's unchecked and checked items by position.
func (s *Syncer) Items() (unchecked, checked []model.ShoppingItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Unchecked(), s.state.Checked()
}

func (s *Syncer) setSync(state SyncState) {
	s.mu.Lock()
	if s.status == state {
		s.mu.Unlock()
		return
	}
	s.status = state
	s.mu.Unlock()
	s.publish()
}

func (s *Syncer) publish() {
	s.hub.Publish(s.Snapshot())
}

func (s *Syncer) persistLocked() {
	if err := s.cache.Put(store.KeyShopping, s.state.Model()); err != nil {
		s.logger.Warn("persist shopping lists", "error", err)
	}
}

func (s *Syncer) persistListOpsLocked() {
	if err := s.cache.Put(store.KeyListOps, s.listOps); err != nil {
		s.logger.Warn("persist queued list changes", "error", err)
	}
}

// wakeLocked tells Run that the active list or connectivity changed.
func (s *Syncer) wakeLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}
