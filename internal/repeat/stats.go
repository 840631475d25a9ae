package repeat

import (
	"github.com/edgard/parrotbot/internal/database"
)

// matchDeltas derives the counter increments for one qualifying match: the
// record just gained a sender (its last entry) and has at least two senders.
//
//   - The repeating sender always gains repeatCount; repeatTime only on its
//     first appearance after the starter within this episode.
//   - The starter gains beRepeatedCount per repeating message; beRepeatedTime
//     exactly once, when the episode first reaches two senders.
func matchDeltas(rec *record, sender int64) map[int64]database.StatsDelta {
	n := len(rec.senders)
	starter := rec.senders[0]

	deltas := make(map[int64]database.StatsDelta, 2)

	d := deltas[sender]
	d.RepeatCount++
	firstReappearance := true
	for _, id := range rec.senders[1 : n-1] {
		if id == sender {
			firstReappearance = false
			break
		}
	}
	if firstReappearance {
		d.RepeatTime++
	}
	deltas[sender] = d

	ds := deltas[starter]
	ds.BeRepeatedCount++
	if n == 2 {
		ds.BeRepeatedTime++
	}
	deltas[starter] = ds

	return deltas
}

// ReplayStats recomputes per-user counters from persisted episodes, applying
// the same accumulation rules the engine applies online. Interrupter ids of
// pre-resumption interruptions are not stored per suspension, so a replay
// attributes one interruptTime per persisted episode (its final interrupter).
func ReplayStats(episodes []*database.Episode) map[int64]*database.UserStats {
	stats := make(map[int64]*database.UserStats)

	get := func(userID int64) *database.UserStats {
		st, ok := stats[userID]
		if !ok {
			st = &database.UserStats{UserID: userID}
			stats[userID] = st
		}
		return st
	}

	for _, ep := range episodes {
		if ep == nil || len(ep.Senders) < 2 {
			continue
		}
		starter := ep.Senders[0]

		for i := 1; i < len(ep.Senders); i++ {
			sender := ep.Senders[i]

			st := get(sender)
			st.RepeatCount++
			firstReappearance := true
			for _, id := range ep.Senders[1:i] {
				if id == sender {
					firstReappearance = false
					break
				}
			}
			if firstReappearance {
				st.RepeatTime++
			}

			ss := get(starter)
			ss.BeRepeatedCount++
			if i == 1 {
				ss.BeRepeatedTime++
			}
		}

		if ep.InterrupterID != 0 {
			get(ep.InterrupterID).InterruptTime++
		}
	}

	return stats
}
