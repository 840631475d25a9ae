// Package repeat implements the per-chat repetition state machine: it watches
// normalized messages, detects runs of byte-identical content posted by
// multiple senders, tracks their lifecycle (formation, interruption,
// suspension, resumption), and produces durable episodes and per-user
// counters.
package repeat

import (
	"strings"

	"github.com/edgard/parrotbot/internal/database"
)

// ImagePlaceholder marks an image position inside a message's canonical text.
// U+FFFC is the Unicode object replacement character.
const ImagePlaceholder = "￼"

// Image is one attachment of a normalized message. ID identifies the exact
// content (sha256 of the bytes, or the platform file-unique id when downloads
// are disabled). Failed marks an attachment whose bytes could not be
// resolved; a failed image never equals anything.
type Image struct {
	ID   string
	MIME string
	Text string // OCR transcription, filled in lazily
	data []byte

	Failed bool
}

// FailedImage returns the fetch-failure sentinel.
func FailedImage() Image {
	return Image{Failed: true}
}

// NewImage builds an image from resolved content.
func NewImage(id, mime string, data []byte) Image {
	return Image{ID: id, MIME: mime, data: data}
}

// Data returns the raw image bytes, if they were retained for OCR.
func (i Image) Data() []byte {
	return i.data
}

// Equal reports content identity. It is fail-closed: if either side carries
// the failure sentinel the images are not equal, so a transient fetch failure
// can never grow an episode with unverifiable content.
func (i Image) Equal(other Image) bool {
	if i.Failed || other.Failed {
		return false
	}
	return i.ID == other.ID
}

// Message is the canonical form of one inbound chat message: the text with an
// ImagePlaceholder at each attachment position, plus the parallel image list.
type Message struct {
	Canonical string
	Images    []Image
}

// Equal reports whether two messages carry byte-identical content: equal
// canonical text and pairwise-equal, failure-free image lists.
func (m Message) Equal(other Message) bool {
	if m.Canonical != other.Canonical {
		return false
	}
	if len(m.Images) != len(other.Images) {
		return false
	}
	for i := range m.Images {
		if !m.Images[i].Equal(other.Images[i]) {
			return false
		}
	}
	return true
}

// IsEmpty reports whether the message has neither text nor attachments.
func (m Message) IsEmpty() bool {
	return strings.TrimSpace(strings.ReplaceAll(m.Canonical, ImagePlaceholder, "")) == "" && len(m.Images) == 0
}

// episodeImages converts the image list to its persisted representation.
func (m Message) episodeImages() database.ImageList {
	images := make(database.ImageList, 0, len(m.Images))
	for _, img := range m.Images {
		images = append(images, database.EpisodeImage{ID: img.ID, Text: img.Text})
	}
	return images
}
