package repeat_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/edgard/parrotbot/internal/config"
	"github.com/edgard/parrotbot/internal/database"
	"github.com/edgard/parrotbot/internal/repeat"
)

// fakeStore is an in-memory Store capturing episode and counter writes.
type fakeStore struct {
	mu     sync.Mutex
	nextID int64

	episodes map[int64]*database.Episode
	deltas   map[int64]database.StatsDelta

	createErr error
	deleteErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		episodes: make(map[int64]*database.Episode),
		deltas:   make(map[int64]database.StatsDelta),
	}
}

func (s *fakeStore) CreateEpisode(_ context.Context, episode *database.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.nextID++
	episode.ID = s.nextID
	s.episodes[episode.ID] = episode
	return nil
}

func (s *fakeStore) DeleteEpisode(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.episodes, id)
	return nil
}

func (s *fakeStore) ApplyStatsDeltas(_ context.Context, deltas map[int64]database.StatsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, delta := range deltas {
		d := s.deltas[userID]
		d.Add(delta)
		s.deltas[userID] = d
	}
	return nil
}

func (s *fakeStore) episodeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.episodes)
}

func (s *fakeStore) singleEpisode(t *testing.T) *database.Episode {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.episodes) != 1 {
		t.Fatalf("expected exactly 1 persisted episode, got %d", len(s.episodes))
	}
	for _, ep := range s.episodes {
		return ep
	}
	return nil
}

func (s *fakeStore) delta(userID int64) database.StatsDelta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deltas[userID]
}

func testConfig() config.RepeatConfig {
	return config.RepeatConfig{
		Enabled:         true,
		EchoThreshold:   3,
		StalenessWindow: 5,
		Persist: config.PersistConfig{
			MaxRetries: 1,
			RetryDelay: time.Millisecond,
		},
	}
}

func newTestEngine(t *testing.T, cfg config.RepeatConfig, store repeat.Store) *repeat.Engine {
	t.Helper()
	engine, err := repeat.NewEngine(nil, cfg, store, nil)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return engine
}

func text(s string) repeat.Message {
	return repeat.Message{Canonical: s}
}

func TestEngine_FormationAndEcho(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	engine := newTestEngine(t, testConfig(), store)
	ctx := context.Background()
	now := time.Now().UTC()

	if got := engine.Track(ctx, 1, 101, text("hello"), now); got != repeat.Forward {
		t.Errorf("first sender: Track() = %v, want %v", got, repeat.Forward)
	}
	if got := engine.Track(ctx, 1, 102, text("hello"), now); got != repeat.Forward {
		t.Errorf("second sender: Track() = %v, want %v", got, repeat.Forward)
	}
	if got := engine.Track(ctx, 1, 103, text("hello"), now); got != repeat.Echo {
		t.Errorf("third sender: Track() = %v, want %v", got, repeat.Echo)
	}
	// Fourth match is past the threshold, no second echo.
	if got := engine.Track(ctx, 1, 104, text("hello"), now); got != repeat.Forward {
		t.Errorf("fourth sender: Track() = %v, want %v", got, repeat.Forward)
	}

	if n := store.episodeCount(); n != 0 {
		t.Errorf("episodes persisted during formation = %d, want 0", n)
	}
}

func TestEngine_InterruptionPersistsEpisode(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	engine := newTestEngine(t, testConfig(), store)
	ctx := context.Background()
	now := time.Now().UTC()

	engine.Track(ctx, 1, 101, text("hello"), now)
	engine.Track(ctx, 1, 102, text("hello"), now)
	engine.Track(ctx, 1, 103, text("hello"), now)
	engine.Track(ctx, 1, 201, text("something else"), now)

	ep := store.singleEpisode(t)
	if ep.ChatID != 1 || ep.Content != "hello" {
		t.Errorf("episode = chat %d content %q, want chat 1 content %q", ep.ChatID, ep.Content, "hello")
	}
	wantSenders := database.Int64List{101, 102, 103}
	if len(ep.Senders) != len(wantSenders) {
		t.Fatalf("episode senders = %v, want %v", ep.Senders, wantSenders)
	}
	for i, id := range wantSenders {
		if ep.Senders[i] != id {
			t.Errorf("episode senders[%d] = %d, want %d", i, ep.Senders[i], id)
		}
	}
	if ep.InterrupterID != 201 {
		t.Errorf("episode interrupter = %d, want 201", ep.InterrupterID)
	}

	if d := store.delta(201); d.InterruptTime != 1 {
		t.Errorf("interrupter delta = %+v, want InterruptTime 1", d)
	}
}

func TestEngine_NonRealDraftNotPersisted(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	engine := newTestEngine(t, testConfig(), store)
	ctx := context.Background()
	now := time.Now().UTC()

	engine.Track(ctx, 1, 101, text("alone"), now)
	engine.Track(ctx, 1, 102, text("different"), now)

	if n := store.episodeCount(); n != 0 {
		t.Errorf("single-sender draft persisted %d episodes, want 0", n)
	}
	if d := store.delta(102); !d.IsZero() {
		t.Errorf("interrupting a non-real draft produced delta %+v, want zero", d)
	}
}

func TestEngine_StatsAccumulation(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	engine := newTestEngine(t, testConfig(), store)
	ctx := context.Background()
	now := time.Now().UTC()

	// 101 starts, 102 repeats twice, 103 repeats once.
	engine.Track(ctx, 1, 101, text("hello"), now)
	engine.Track(ctx, 1, 102, text("hello"), now)
	engine.Track(ctx, 1, 103, text("hello"), now)
	engine.Track(ctx, 1, 102, text("hello"), now)

	starter := store.delta(101)
	if starter.BeRepeatedCount != 3 {
		t.Errorf("starter BeRepeatedCount = %d, want 3", starter.BeRepeatedCount)
	}
	if starter.BeRepeatedTime != 1 {
		t.Errorf("starter BeRepeatedTime = %d, want 1", starter.BeRepeatedTime)
	}

	repeater := store.delta(102)
	if repeater.RepeatCount != 2 {
		t.Errorf("102 RepeatCount = %d, want 2", repeater.RepeatCount)
	}
	if repeater.RepeatTime != 1 {
		t.Errorf("102 RepeatTime = %d, want 1 (second repeat is not a first reappearance)", repeater.RepeatTime)
	}

	third := store.delta(103)
	if third.RepeatCount != 1 || third.RepeatTime != 1 {
		t.Errorf("103 delta = %+v, want RepeatCount 1 RepeatTime 1", third)
	}
}

func TestEngine_SuspensionAndResumption(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	engine := newTestEngine(t, testConfig(), store)
	ctx := context.Background()
	now := time.Now().UTC()

	engine.Track(ctx, 1, 101, text("hello"), now)
	engine.Track(ctx, 1, 102, text("hello"), now)
	engine.Track(ctx, 1, 201, text("interruption"), now)

	if n := store.episodeCount(); n != 1 {
		t.Fatalf("episodes after interruption = %d, want 1", n)
	}

	// Resumption deletes the durable copy and revives the episode in memory.
	engine.Track(ctx, 1, 103, text("hello"), now.Add(time.Minute))

	if n := store.episodeCount(); n != 0 {
		t.Errorf("episodes after resumption = %d, want 0 (durable copy deleted)", n)
	}

	snap, ok := engine.Snapshot(1)
	if !ok || snap.Current == nil {
		t.Fatal("expected live snapshot with a current record")
	}
	if snap.Current.Content != "hello" {
		t.Errorf("current content = %q, want %q", snap.Current.Content, "hello")
	}
	if got, want := len(snap.Current.Senders), 3; got != want {
		t.Errorf("current sender count = %d, want %d", got, want)
	}
	if snap.Current.Suspensions != 1 {
		t.Errorf("current suspension count = %d, want 1", snap.Current.Suspensions)
	}

	// The resumption is a qualifying match for the joining sender.
	if d := store.delta(103); d.RepeatCount != 1 || d.RepeatTime != 1 {
		t.Errorf("resuming sender delta = %+v, want RepeatCount 1 RepeatTime 1", d)
	}

	// A second interruption re-persists the whole episode with its history.
	engine.Track(ctx, 1, 202, text("another interruption"), now.Add(2*time.Minute))

	ep := store.singleEpisode(t)
	if len(ep.Senders) != 3 {
		t.Errorf("re-persisted senders = %v, want 3 entries", ep.Senders)
	}
	if len(ep.Suspensions) != 1 {
		t.Errorf("re-persisted suspensions = %d, want 1", len(ep.Suspensions))
	}
	if ep.InterrupterID != 202 {
		t.Errorf("re-persisted interrupter = %d, want 202", ep.InterrupterID)
	}
}

func TestEngine_SuspendedEviction(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.StalenessWindow = 2

	store := newFakeStore()
	engine := newTestEngine(t, cfg, store)
	ctx := context.Background()
	now := time.Now().UTC()

	engine.Track(ctx, 1, 101, text("hello"), now)
	engine.Track(ctx, 1, 102, text("hello"), now)
	engine.Track(ctx, 1, 201, text("x1"), now)

	// Three more non-matching messages age the suspended entry past the window.
	engine.Track(ctx, 1, 202, text("x2"), now)
	engine.Track(ctx, 1, 203, text("x3"), now)
	engine.Track(ctx, 1, 204, text("x4"), now)

	// The content comes back, but the suspended entry is gone: fresh draft.
	engine.Track(ctx, 1, 103, text("hello"), now)

	snap, _ := engine.Snapshot(1)
	if snap.Current == nil {
		t.Fatal("expected a current record")
	}
	if got := len(snap.Current.Senders); got != 1 {
		t.Errorf("current sender count = %d, want 1 (no resumption after eviction)", got)
	}
	// The evicted episode's durable copy stays.
	if n := store.episodeCount(); n != 1 {
		t.Errorf("episodes = %d, want 1 (eviction never deletes persisted episodes)", n)
	}
}

func TestEngine_CandidatePromotion(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.EchoThreshold = 2

	store := newFakeStore()
	engine := newTestEngine(t, cfg, store)
	ctx := context.Background()
	now := time.Now().UTC()

	engine.Track(ctx, 1, 101, text("first"), now)
	engine.Track(ctx, 1, 102, text("second"), now)

	// "first" comes back while "second" is the draft: the remembered candidate
	// is promoted with both senders, reaching the echo threshold.
	if got := engine.Track(ctx, 1, 103, text("first"), now); got != repeat.Echo {
		t.Errorf("promoted candidate at threshold: Track() = %v, want %v", got, repeat.Echo)
	}

	snap, _ := engine.Snapshot(1)
	if snap.Current == nil || snap.Current.Content != "first" {
		t.Fatalf("current = %+v, want promoted %q draft", snap.Current, "first")
	}
	if got := len(snap.Current.Senders); got != 2 {
		t.Errorf("promoted sender count = %d, want 2", got)
	}

	// Promotion is a qualifying match for both sides.
	if d := store.delta(103); d.RepeatCount != 1 || d.RepeatTime != 1 {
		t.Errorf("promoting sender delta = %+v, want RepeatCount 1 RepeatTime 1", d)
	}
	if d := store.delta(101); d.BeRepeatedCount != 1 || d.BeRepeatedTime != 1 {
		t.Errorf("starter delta = %+v, want BeRepeatedCount 1 BeRepeatedTime 1", d)
	}
}

func TestEngine_WindowZeroDisablesMemory(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.StalenessWindow = 0

	store := newFakeStore()
	engine := newTestEngine(t, cfg, store)
	ctx := context.Background()
	now := time.Now().UTC()

	engine.Track(ctx, 1, 101, text("hello"), now)
	engine.Track(ctx, 1, 102, text("hello"), now)
	engine.Track(ctx, 1, 201, text("interruption"), now)

	snap, _ := engine.Snapshot(1)
	if len(snap.Candidates) != 0 || len(snap.Suspended) != 0 {
		t.Errorf("window 0 kept candidates=%d suspended=%d, want none",
			len(snap.Candidates), len(snap.Suspended))
	}

	// No resumption: the returning content starts over.
	engine.Track(ctx, 1, 103, text("hello"), now)
	snap, _ = engine.Snapshot(1)
	if got := len(snap.Current.Senders); got != 1 {
		t.Errorf("sender count after return = %d, want 1", got)
	}
	if n := store.episodeCount(); n != 1 {
		t.Errorf("episodes = %d, want 1 (interruption still persists)", n)
	}
}

func TestEngine_EchoThresholdZeroNeverEchoes(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.EchoThreshold = 0

	store := newFakeStore()
	engine := newTestEngine(t, cfg, store)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, sender := range []int64{101, 102, 103, 104, 105} {
		if got := engine.Track(ctx, 1, sender, text("hello"), now); got != repeat.Forward {
			t.Errorf("message %d: Track() = %v, want %v", i+1, got, repeat.Forward)
		}
	}
}

func TestEngine_DisabledForwardsEverything(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Enabled = false

	store := newFakeStore()
	engine := newTestEngine(t, cfg, store)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, sender := range []int64{101, 102, 103, 104} {
		if got := engine.Track(ctx, 1, sender, text("hello"), now); got != repeat.Forward {
			t.Errorf("disabled engine: Track() = %v, want %v", got, repeat.Forward)
		}
	}
	if _, ok := engine.Snapshot(1); ok {
		t.Error("disabled engine accumulated runtime state")
	}
}

func TestEngine_BlacklistBypass(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.EchoThreshold = 2
	cfg.Blacklist = []string{`^/`, `(?i)spam`}

	store := newFakeStore()
	engine := newTestEngine(t, cfg, store)
	ctx := context.Background()
	now := time.Now().UTC()

	engine.Track(ctx, 1, 101, text("buy SPAM now"), now)
	if got := engine.Track(ctx, 1, 102, text("buy SPAM now"), now); got != repeat.Forward {
		t.Errorf("blacklisted content: Track() = %v, want %v", got, repeat.Forward)
	}
	if _, ok := engine.Snapshot(1); ok {
		t.Error("blacklisted messages created runtime state")
	}
}

func TestEngine_InvalidBlacklistPattern(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Blacklist = []string{`[`}

	if _, err := repeat.NewEngine(nil, cfg, newFakeStore(), nil); err == nil {
		t.Error("NewEngine() with invalid blacklist pattern: want error, got nil")
	}
}

func TestEngine_FailedImageNeverMatches(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	engine := newTestEngine(t, testConfig(), store)
	ctx := context.Background()
	now := time.Now().UTC()

	withImage := repeat.Message{
		Canonical: repeat.ImagePlaceholder,
		Images:    []repeat.Image{repeat.NewImage("abc", "image/jpeg", nil)},
	}
	withFailed := repeat.Message{
		Canonical: repeat.ImagePlaceholder,
		Images:    []repeat.Image{repeat.FailedImage()},
	}

	engine.Track(ctx, 1, 101, withImage, now)
	engine.Track(ctx, 1, 102, withFailed, now)

	snap, _ := engine.Snapshot(1)
	if got := len(snap.Current.Senders); got != 1 {
		t.Errorf("sender count after failed-image message = %d, want 1 (fail-closed)", got)
	}
}

func TestEngine_PersistRetryOnTransientFailure(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	engine := newTestEngine(t, testConfig(), store)
	ctx := context.Background()
	now := time.Now().UTC()

	engine.Track(ctx, 1, 101, text("hello"), now)
	engine.Track(ctx, 1, 102, text("hello"), now)

	// First create fails; the interruption must still forward and keep the
	// episode re-persistable.
	store.mu.Lock()
	store.createErr = errors.New("disk full")
	store.mu.Unlock()

	if got := engine.Track(ctx, 1, 201, text("interruption"), now); got != repeat.Forward {
		t.Errorf("Track() during store failure = %v, want %v (fail-open delivery)", got, repeat.Forward)
	}
	if n := store.episodeCount(); n != 0 {
		t.Fatalf("episodes after failed create = %d, want 0", n)
	}

	store.mu.Lock()
	store.createErr = nil
	store.mu.Unlock()

	// Close flushes the suspended entry whose create failed.
	if err := engine.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if n := store.episodeCount(); n != 1 {
		t.Errorf("episodes after Close() = %d, want 1 (failed create flushed)", n)
	}
}

func TestEngine_CloseFlushesResumedEpisode(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	engine := newTestEngine(t, testConfig(), store)
	ctx := context.Background()
	now := time.Now().UTC()

	engine.Track(ctx, 1, 101, text("hello"), now)
	engine.Track(ctx, 1, 102, text("hello"), now)
	engine.Track(ctx, 1, 201, text("interruption"), now)
	engine.Track(ctx, 1, 103, text("hello"), now)

	// The durable copy was deleted at resumption; shutdown must not lose the
	// previously-persisted episode.
	if n := store.episodeCount(); n != 0 {
		t.Fatalf("episodes before Close() = %d, want 0", n)
	}
	if err := engine.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	ep := store.singleEpisode(t)
	if len(ep.Senders) != 3 {
		t.Errorf("flushed senders = %v, want 3 entries", ep.Senders)
	}
	if len(ep.Suspensions) != 1 {
		t.Errorf("flushed suspensions = %d, want 1", len(ep.Suspensions))
	}
}

func TestEngine_CloseDiscardsFreshDrafts(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	engine := newTestEngine(t, testConfig(), store)
	ctx := context.Background()
	now := time.Now().UTC()

	engine.Track(ctx, 1, 101, text("hello"), now)
	engine.Track(ctx, 1, 102, text("hello"), now)

	if err := engine.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if n := store.episodeCount(); n != 0 {
		t.Errorf("episodes after Close() = %d, want 0 (never-persisted draft discarded)", n)
	}
}

func TestEngine_ChatsAreIndependent(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	engine := newTestEngine(t, testConfig(), store)
	ctx := context.Background()
	now := time.Now().UTC()

	engine.Track(ctx, 1, 101, text("hello"), now)
	engine.Track(ctx, 2, 102, text("hello"), now)
	engine.Track(ctx, 1, 103, text("hello"), now)

	snap1, _ := engine.Snapshot(1)
	snap2, _ := engine.Snapshot(2)
	if got := len(snap1.Current.Senders); got != 2 {
		t.Errorf("chat 1 sender count = %d, want 2", got)
	}
	if got := len(snap2.Current.Senders); got != 1 {
		t.Errorf("chat 2 sender count = %d, want 1", got)
	}

	chats := engine.Chats()
	if len(chats) != 2 || chats[0] != 1 || chats[1] != 2 {
		t.Errorf("Chats() = %v, want [1 2]", chats)
	}
}

func TestEngine_ClearDropsState(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	engine := newTestEngine(t, testConfig(), store)
	ctx := context.Background()
	now := time.Now().UTC()

	engine.Track(ctx, 1, 101, text("hello"), now)
	engine.Track(ctx, 2, 102, text("hello"), now)

	if !engine.Clear(1) {
		t.Error("Clear(1) = false, want true")
	}
	if engine.Clear(1) {
		t.Error("second Clear(1) = true, want false")
	}
	if _, ok := engine.Snapshot(1); ok {
		t.Error("cleared chat still has a snapshot")
	}

	if n := engine.ClearAll(); n != 1 {
		t.Errorf("ClearAll() = %d, want 1", n)
	}
}
