package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Episode is a persisted repetition episode: a maximal run of identical
// messages posted by at least two senders in one chat, bounded by a differing
// message on each side.
type Episode struct {
	ID        int64     `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	ChatID  int64     `db:"chat_id"`
	Content string    `db:"content"`
	Images  ImageList `db:"images"`

	// Senders lists sender ids in message order; duplicates are allowed,
	// one entry per matching message.
	Senders Int64List `db:"senders"`

	StartTime     time.Time `db:"start_time"`
	EndTime       time.Time `db:"end_time"`
	InterrupterID int64     `db:"interrupter_id"`

	Suspensions SuspensionList `db:"suspensions"`
}

// EpisodeImage is one attached image of an episode's message: a content id
// (hash of the bytes or the platform file-unique id) plus an optional OCR
// transcription.
type EpisodeImage struct {
	ID   string `json:"id"`
	Text string `json:"text,omitempty"`
}

// Suspension records one interruption/resumption interval of an episode.
type Suspension struct {
	SuspendedAt time.Time `json:"suspended_at"`
	ResumedAt   time.Time `json:"resumed_at"`
}

// UserStats holds the durable per-user repetition counters.
type UserStats struct {
	UserID    int64     `db:"user_id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	RepeatTime      int64 `db:"repeat_time"`
	RepeatCount     int64 `db:"repeat_count"`
	BeRepeatedTime  int64 `db:"be_repeated_time"`
	BeRepeatedCount int64 `db:"be_repeated_count"`
	InterruptTime   int64 `db:"interrupt_time"`
}

// StatsDelta is a set of counter increments for one user, applied atomically
// by the store.
type StatsDelta struct {
	RepeatTime      int64
	RepeatCount     int64
	BeRepeatedTime  int64
	BeRepeatedCount int64
	InterruptTime   int64
}

// Add accumulates another delta into d.
func (d *StatsDelta) Add(other StatsDelta) {
	d.RepeatTime += other.RepeatTime
	d.RepeatCount += other.RepeatCount
	d.BeRepeatedTime += other.BeRepeatedTime
	d.BeRepeatedCount += other.BeRepeatedCount
	d.InterruptTime += other.InterruptTime
}

// IsZero reports whether the delta carries no increments.
func (d StatsDelta) IsZero() bool {
	return d == StatsDelta{}
}

// EpisodeFilter narrows QueryEpisodes results. Zero values mean "no filter".
type EpisodeFilter struct {
	ChatID        int64
	ParticipantID int64
	Since         time.Time
	Until         time.Time
	Limit         int
}

// Int64List stores an ordered list of ids as a JSON array column.
type Int64List []int64

// Value implements driver.Valuer.
func (l Int64List) Value() (driver.Value, error) {
	if l == nil {
		l = Int64List{}
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal id list: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *Int64List) Scan(src any) error {
	return scanJSON(src, l, "id list")
}

// ImageList stores episode images as a JSON array column.
type ImageList []EpisodeImage

// Value implements driver.Valuer.
func (l ImageList) Value() (driver.Value, error) {
	if l == nil {
		l = ImageList{}
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal image list: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *ImageList) Scan(src any) error {
	return scanJSON(src, l, "image list")
}

// SuspensionList stores suspension intervals as a JSON array column.
type SuspensionList []Suspension

// Value implements driver.Valuer.
func (l SuspensionList) Value() (driver.Value, error) {
	if l == nil {
		l = SuspensionList{}
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal suspension list: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *SuspensionList) Scan(src any) error {
	return scanJSON(src, l, "suspension list")
}

func scanJSON(src any, dst any, what string) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		data = []byte("[]")
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("cannot scan %T into %s", src, what)
	}
	if len(data) == 0 {
		data = []byte("[]")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", what, err)
	}
	return nil
}
