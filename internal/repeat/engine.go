package repeat

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/edgard/parrotbot/internal/config"
	"github.com/edgard/parrotbot/internal/database"
)

// Store is the slice of the persistence layer the engine writes through.
// database.Store satisfies it.
type Store interface {
	CreateEpisode(ctx context.Context, episode *database.Episode) error
	DeleteEpisode(ctx context.Context, id int64) error
	ApplyStatsDeltas(ctx context.Context, deltas map[int64]database.StatsDelta) error
}

// Transcriber extracts text from an image. Used best-effort at episode
// persistence time; failures leave the annotation empty.
type Transcriber interface {
	Transcribe(ctx context.Context, mimeType string, data []byte) (string, error)
}

// Decision tells the caller what to do with the message after the transition.
type Decision int

const (
	// Forward lets the message through untouched.
	Forward Decision = iota
	// Echo instructs the caller to re-emit the message itself and stop
	// further processing.
	Echo
)

// String implements fmt.Stringer.
func (d Decision) String() string {
	switch d {
	case Forward:
		return "forward"
	case Echo:
		return "echo"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Engine runs the repetition state machine. It owns all per-chat runtime
// state and is the only writer of episodes and counters. Transitions for one
// chat are serialized by a per-chat mutex; different chats proceed in
// parallel.
//
// Engine failures never block message delivery: store and OCR errors are
// retried a bounded number of times, logged, and the message is still
// forwarded (fail-open for delivery, fail-closed for matching).
type Engine struct {
	logger    *slog.Logger
	cfg       config.RepeatConfig
	store     Store
	ocr       Transcriber
	blacklist []*regexp.Regexp

	mu       sync.Mutex
	channels map[int64]*channelState
}

// NewEngine creates the repetition engine. ocr may be nil when transcription
// is disabled.
func NewEngine(logger *slog.Logger, cfg config.RepeatConfig, store Store, ocr Transcriber) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}

	blacklist := make([]*regexp.Regexp, 0, len(cfg.Blacklist))
	for _, pattern := range cfg.Blacklist {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid blacklist pattern %q: %w", pattern, err)
		}
		blacklist = append(blacklist, re)
	}

	return &Engine{
		logger:    logger.With("component", "repeat_engine"),
		cfg:       cfg,
		store:     store,
		ocr:       ocr,
		blacklist: blacklist,
		channels:  make(map[int64]*channelState),
	}, nil
}

// Track runs one transition for an inbound message and returns what the
// caller should do with it. Messages for the same chat must be delivered in
// arrival order; Track serializes them on the chat's state.
func (e *Engine) Track(ctx context.Context, chatID, senderID int64, msg Message, now time.Time) Decision {
	if !e.cfg.Enabled {
		return Forward
	}
	for _, re := range e.blacklist {
		if re.MatchString(msg.Canonical) {
			e.logger.DebugContext(ctx, "Message matches blacklist, bypassing engine", "chat_id", chatID)
			return Forward
		}
	}

	st := e.state(chatID)
	st.mu.Lock()
	defer st.mu.Unlock()

	return e.transition(ctx, st, chatID, senderID, msg, now)
}

// transition applies the state machine steps for one message. Caller holds
// the channel lock.
func (e *Engine) transition(ctx context.Context, st *channelState, chatID, sender int64, msg Message, now time.Time) Decision {
	// First message in this chat seeds the draft.
	if st.current == nil {
		st.current = newRecord(msg, sender, now)
		e.remember(st, st.current)
		return e.decide(st.current)
	}

	wasRepeating := msg.Equal(st.current.msg)

	// Suspended scan: the most recently suspended matching entry becomes the
	// resumption target; every other entry ages and may be evicted.
	resumeIdx := -1
	for i, t := range st.suspended {
		if msg.Equal(t.rec.msg) {
			resumeIdx = i
		}
	}

	var resumed *record
	if resumeIdx >= 0 {
		t := st.suspended[resumeIdx]
		st.suspended = append(st.suspended[:resumeIdx], st.suspended[resumeIdx+1:]...)

		t.rec.senders = append(t.rec.senders, sender)
		t.rec.suspensions = append(t.rec.suspensions, database.Suspension{
			SuspendedAt: t.rec.suspendTime,
			ResumedAt:   now,
		})
		t.rec.suspendTime = time.Time{}
		t.rec.endTime = time.Time{}
		t.rec.interrupterID = 0

		// The durable copy is detached; the episode lives in memory again and
		// is re-persisted at the next interruption.
		if t.rec.episodeID != 0 {
			if err := e.withRetry(ctx, "delete resumed episode", func(c context.Context) error {
				return e.store.DeleteEpisode(c, t.rec.episodeID)
			}); err != nil {
				e.logger.ErrorContext(ctx, "Failed to delete durable copy of resumed episode",
					"chat_id", chatID, "episode_id", t.rec.episodeID, "error", err)
			} else {
				t.rec.episodeID = 0
			}
		}

		resumed = &t.rec
		e.logger.InfoContext(ctx, "Resumed suspended episode",
			"chat_id", chatID, "senders", len(resumed.senders), "suspensions", len(resumed.suspensions))
	}
	st.suspended = sweep(st.suspended, e.cfg.StalenessWindow)

	matched := wasRepeating || resumed != nil

	if resumed != nil {
		prev := st.current
		st.current = resumed
		// Resumption displaces the previous draft; a real draft is
		// interrupted exactly as in the no-match path.
		if prev.real() {
			e.interrupt(ctx, st, chatID, prev, sender, now)
		}
	} else if wasRepeating {
		st.current.senders = append(st.current.senders, sender)
	}

	if matched && st.current.real() {
		e.applyStats(ctx, chatID, matchDeltas(st.current, sender))
	}

	if !matched {
		// Candidate scan, same shape as the suspended scan.
		promoteIdx := -1
		for i, t := range st.candidates {
			if msg.Equal(t.rec.msg) {
				promoteIdx = i
			}
		}

		var promoted *record
		if promoteIdx >= 0 {
			t := st.candidates[promoteIdx]
			st.candidates = append(st.candidates[:promoteIdx], st.candidates[promoteIdx+1:]...)
			t.rec.senders = append(t.rec.senders, sender)
			promoted = &t.rec
		}
		st.candidates = sweep(st.candidates, e.cfg.StalenessWindow)

		prev := st.current
		if promoted != nil {
			st.current = promoted
		} else {
			st.current = newRecord(msg, sender, now)
			e.remember(st, st.current)
		}

		if prev.real() {
			e.interrupt(ctx, st, chatID, prev, sender, now)
		}

		// A promoted candidate reaching two senders is a qualifying match.
		if promoted != nil && promoted.real() {
			e.applyStats(ctx, chatID, matchDeltas(promoted, sender))
		}
	}

	return e.decide(st.current)
}

// interrupt finalizes a real draft ended by a non-matching message: records
// the interrupter, annotates images, persists the episode, and keeps it
// reachable for resumption when the window allows.
func (e *Engine) interrupt(ctx context.Context, st *channelState, chatID int64, rec *record, interrupter int64, now time.Time) {
	rec.endTime = now
	rec.interrupterID = interrupter

	e.applyStats(ctx, chatID, map[int64]database.StatsDelta{
		interrupter: {InterruptTime: 1},
	})

	e.annotateImages(ctx, rec)
	e.persistEpisode(ctx, chatID, rec)

	if e.cfg.StalenessWindow > 0 {
		t := &trackedRecord{rec: rec.clone()}
		t.rec.suspendTime = now
		st.suspended = append(st.suspended, t)
	}

	e.logger.InfoContext(ctx, "Episode interrupted",
		"chat_id", chatID, "episode_id", rec.episodeID,
		"senders", len(rec.senders), "interrupter_id", interrupter)
}

// persistEpisode writes the episode with bounded retries. On exhaustion the
// in-memory record keeps episode id 0 so a later interruption retries the
// write; the episode is not silently dropped.
func (e *Engine) persistEpisode(ctx context.Context, chatID int64, rec *record) {
	// A stale durable copy can remain if the delete at resumption failed.
	if rec.episodeID != 0 {
		if err := e.withRetry(ctx, "delete stale episode", func(c context.Context) error {
			return e.store.DeleteEpisode(c, rec.episodeID)
		}); err != nil {
			e.logger.ErrorContext(ctx, "Failed to delete stale episode copy before re-persist",
				"chat_id", chatID, "episode_id", rec.episodeID, "error", err)
		}
		rec.episodeID = 0
	}

	ep := rec.episode(chatID)
	if err := e.withRetry(ctx, "create episode", func(c context.Context) error {
		return e.store.CreateEpisode(c, ep)
	}); err != nil {
		e.logger.ErrorContext(ctx, "Failed to persist episode after retries; keeping in-memory copy",
			"chat_id", chatID, "senders", len(rec.senders), "error", err)
		return
	}
	rec.episodeID = ep.ID
}

// annotateImages runs best-effort OCR over images whose bytes were retained.
// A transcription failure leaves the annotation empty and never fails the
// transition.
func (e *Engine) annotateImages(ctx context.Context, rec *record) {
	if !e.cfg.OCR.Enabled || e.ocr == nil {
		return
	}

	for i := range rec.msg.Images {
		img := &rec.msg.Images[i]
		if img.Failed || img.Text != "" || len(img.data) == 0 {
			continue
		}

		ocrCtx, cancel := context.WithTimeout(ctx, e.cfg.OCR.Timeout)
		text, err := e.ocr.Transcribe(ocrCtx, img.MIME, img.data)
		cancel()
		if err != nil {
			e.logger.WarnContext(ctx, "Image transcription failed", "image_id", img.ID, "error", err)
			continue
		}
		img.Text = text
	}
}

// applyStats applies counter deltas with bounded retries. Deltas are computed
// once per message occurrence inside the channel critical section, so a
// successful write counts each occurrence exactly once.
func (e *Engine) applyStats(ctx context.Context, chatID int64, deltas map[int64]database.StatsDelta) {
	if len(deltas) == 0 {
		return
	}
	if err := e.withRetry(ctx, "apply stats deltas", func(c context.Context) error {
		return e.store.ApplyStatsDeltas(c, deltas)
	}); err != nil {
		e.logger.ErrorContext(ctx, "Failed to apply stats deltas after retries",
			"chat_id", chatID, "users", len(deltas), "error", err)
	}
}

// withRetry runs fn up to 1+MaxRetries times with a fixed delay between
// attempts, respecting context cancellation.
func (e *Engine) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= e.cfg.Persist.MaxRetries; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		e.logger.WarnContext(ctx, "Store operation failed",
			"op", op, "attempt", attempt+1, "max_attempts", e.cfg.Persist.MaxRetries+1, "error", err)
		if attempt < e.cfg.Persist.MaxRetries {
			select {
			case <-time.After(e.cfg.Persist.RetryDelay):
			case <-ctx.Done():
				return err
			}
		}
	}
	return err
}

// remember pushes a fresh draft into the candidate queue so it stays
// recognizable if displaced before becoming real. Disabled with window 0.
func (e *Engine) remember(st *channelState, rec *record) {
	if e.cfg.StalenessWindow <= 0 {
		return
	}
	st.candidates = append(st.candidates, &trackedRecord{rec: rec.clone()})
}

// decide checks the echo threshold. Equality (not >=) fires at most once per
// record lifetime since the sender count only grows.
func (e *Engine) decide(rec *record) Decision {
	if e.cfg.EchoThreshold > 0 && len(rec.senders) == e.cfg.EchoThreshold {
		return Echo
	}
	return Forward
}

// sweep ages every remaining tracked record by one message and evicts those
// past the window. Eviction never touches already-persisted episodes; it only
// ends resumption eligibility.
func sweep(list []*trackedRecord, window int) []*trackedRecord {
	kept := list[:0]
	for _, t := range list {
		t.staleness++
		if t.staleness <= window {
			kept = append(kept, t)
		}
	}
	return kept
}

// state returns the runtime state for a chat, creating it lazily.
func (e *Engine) state(chatID int64) *channelState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.channels[chatID]
	if !ok {
		st = &channelState{}
		e.channels[chatID] = st
	}
	return st
}

// Snapshot returns a read-only view of one chat's runtime state for the
// debugging surface. The second return value is false when the chat has no
// state.
func (e *Engine) Snapshot(chatID int64) (ChannelSnapshot, bool) {
	e.mu.Lock()
	st, ok := e.channels[chatID]
	e.mu.Unlock()
	if !ok {
		return ChannelSnapshot{}, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	snap := ChannelSnapshot{ChatID: chatID}
	if st.current != nil {
		cur := snapshotRecord(st.current, 0)
		snap.Current = &cur
	}
	for _, t := range st.candidates {
		snap.Candidates = append(snap.Candidates, snapshotRecord(&t.rec, t.staleness))
	}
	for _, t := range st.suspended {
		snap.Suspended = append(snap.Suspended, snapshotRecord(&t.rec, t.staleness))
	}
	return snap, true
}

// Chats lists chat ids with live runtime state, sorted.
func (e *Engine) Chats() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]int64, 0, len(e.channels))
	for id := range e.channels {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Clear drops the runtime state of one chat. In-flight drafts are discarded.
func (e *Engine) Clear(chatID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.channels[chatID]
	delete(e.channels, chatID)
	return ok
}

// ClearAll drops all runtime state and returns the number of chats cleared.
func (e *Engine) ClearAll() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.channels)
	e.channels = make(map[int64]*channelState)
	return n
}

// Close flushes and discards all runtime state at shutdown. Fresh in-flight
// drafts are lost by design; records whose durable copy was deleted at
// resumption, and suspended entries whose create previously failed, are
// (re-)persisted so no already-durable episode is lost.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	channels := e.channels
	e.channels = make(map[int64]*channelState)
	e.mu.Unlock()

	now := time.Now().UTC()
	for chatID, st := range channels {
		st.mu.Lock()

		if cur := st.current; cur != nil && cur.real() && cur.episodeID == 0 && len(cur.suspensions) > 0 {
			cur.endTime = now
			e.annotateImages(ctx, cur)
			e.persistEpisode(ctx, chatID, cur)
		}
		for _, t := range st.suspended {
			if t.rec.episodeID == 0 && t.rec.real() {
				e.persistEpisode(ctx, chatID, &t.rec)
			}
		}

		st.mu.Unlock()
	}

	e.logger.Info("Repetition engine closed", "chats_flushed", len(channels))
	return ctx.Err()
}
