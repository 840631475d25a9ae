package repeat

import (
	"sync"
	"time"

	"github.com/edgard/parrotbot/internal/database"
)

// record is a message together with the senders that posted it: the single
// shape shared by the current draft, displaced candidates, and suspended
// episodes. A record is "real" (countable, persistable) once it has at least
// two senders. Records move between roles by value transfer, never by
// aliasing.
type record struct {
	msg     Message
	senders []int64

	startTime     time.Time
	endTime       time.Time
	interrupterID int64
	suspensions   []database.Suspension

	// episodeID is the persisted identity, 0 while the record has no durable
	// copy (never persisted, or deleted at resumption).
	episodeID int64

	// suspendTime is set when the record is pushed into the suspended queue.
	suspendTime time.Time
}

func newRecord(msg Message, sender int64, now time.Time) *record {
	return &record{
		msg:       msg,
		senders:   []int64{sender},
		startTime: now,
	}
}

// real reports whether the record is eligible for persistence and counting.
func (r *record) real() bool {
	return len(r.senders) >= 2
}

// clone returns an independent copy; sender and suspension slices are not
// shared with the original.
func (r *record) clone() record {
	cp := *r
	cp.senders = append([]int64(nil), r.senders...)
	cp.suspensions = append([]database.Suspension(nil), r.suspensions...)
	cp.msg.Images = append([]Image(nil), r.msg.Images...)
	return cp
}

// episode converts the finished record to its persisted form.
func (r *record) episode(chatID int64) *database.Episode {
	return &database.Episode{
		ChatID:        chatID,
		Content:       r.msg.Canonical,
		Images:        r.msg.episodeImages(),
		Senders:       append(database.Int64List(nil), r.senders...),
		StartTime:     r.startTime,
		EndTime:       r.endTime,
		InterrupterID: r.interrupterID,
		Suspensions:   append(database.SuspensionList(nil), r.suspensions...),
	}
}

// trackedRecord is a record held in the candidate or suspended queue together
// with its staleness counter: the number of non-matching channel messages
// seen since its last match. Entries whose staleness exceeds the configured
// window are evicted.
type trackedRecord struct {
	rec       record
	staleness int
}

// channelState is the in-memory runtime state of one chat. It is guarded by
// its own mutex so transitions for a chat apply in strict arrival order while
// unrelated chats proceed in parallel. The state is process-local and is
// discarded on shutdown.
type channelState struct {
	mu sync.Mutex

	current    *record
	candidates []*trackedRecord
	suspended  []*trackedRecord
}

// RecordSnapshot is a read-only view of a tracked record for the debugging
// surface.
type RecordSnapshot struct {
	Content     string
	Senders     []int64
	StartTime   time.Time
	Suspensions int
	EpisodeID   int64
	Staleness   int
}

// ChannelSnapshot is a read-only view of one chat's runtime state.
type ChannelSnapshot struct {
	ChatID     int64
	Current    *RecordSnapshot
	Candidates []RecordSnapshot
	Suspended  []RecordSnapshot
}

func snapshotRecord(r *record, staleness int) RecordSnapshot {
	return RecordSnapshot{
		Content:     r.msg.Canonical,
		Senders:     append([]int64(nil), r.senders...),
		StartTime:   r.startTime,
		Suspensions: len(r.suspensions),
		EpisodeID:   r.episodeID,
		Staleness:   staleness,
	}
}
