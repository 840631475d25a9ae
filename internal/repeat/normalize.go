package repeat

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot/models"

	"github.com/edgard/parrotbot/internal/config"
)

// Fetcher retrieves the raw bytes of a platform file. Implementations must
// honor context cancellation; the normalizer applies the configured timeout.
type Fetcher interface {
	Fetch(ctx context.Context, fileID string) (data []byte, mimeType string, err error)
}

// Normalizer converts raw Telegram messages into canonical Message values:
// trimmed text with an ImagePlaceholder per attachment, plus the resolved
// image list. Attachment resolution is fail-closed: any fetch error degrades
// the image to the failure sentinel instead of guessing at its content.
type Normalizer struct {
	logger  *slog.Logger
	cfg     config.RepeatConfig
	fetcher Fetcher
}

// NewNormalizer creates a message normalizer. fetcher may be nil when image
// downloads are disabled.
func NewNormalizer(logger *slog.Logger, cfg config.RepeatConfig, fetcher Fetcher) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{
		logger:  logger.With("component", "normalizer"),
		cfg:     cfg,
		fetcher: fetcher,
	}
}

// Normalize reduces a Telegram message to its canonical form. The second
// return value is false when the message carries nothing trackable (no text
// and no attachments).
func (n *Normalizer) Normalize(ctx context.Context, msg *models.Message) (Message, bool) {
	if msg == nil {
		return Message{}, false
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	text = strings.TrimSpace(text)

	var images []Image
	if len(msg.Photo) > 0 {
		images = append(images, n.resolve(ctx, largestPhoto(msg.Photo)))
	}
	if msg.Sticker != nil {
		images = append(images, n.resolve(ctx, fileRef{
			fileID:       msg.Sticker.FileID,
			fileUniqueID: msg.Sticker.FileUniqueID,
		}))
	}

	var b strings.Builder
	b.WriteString(text)
	for range images {
		b.WriteString(ImagePlaceholder)
	}

	normalized := Message{Canonical: b.String(), Images: images}
	if normalized.IsEmpty() {
		return Message{}, false
	}
	return normalized, true
}

type fileRef struct {
	fileID       string
	fileUniqueID string
}

// largestPhoto picks the highest-resolution size of a Telegram photo.
func largestPhoto(sizes []models.PhotoSize) fileRef {
	best := sizes[0]
	for _, s := range sizes[1:] {
		if s.Width*s.Height > best.Width*best.Height {
			best = s
		}
	}
	return fileRef{fileID: best.FileID, fileUniqueID: best.FileUniqueID}
}

// resolve produces the content identity of one attachment. With downloads
// disabled the platform file-unique id stands in for the content hash; with
// downloads enabled the bytes are fetched under the configured timeout and
// hashed. Any failure, including a timeout, yields the failure sentinel.
func (n *Normalizer) resolve(ctx context.Context, ref fileRef) Image {
	if !n.cfg.Images.Enabled || n.fetcher == nil {
		return Image{ID: ref.fileUniqueID}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, n.cfg.Images.FetchTimeout)
	defer cancel()

	data, mime, err := n.fetcher.Fetch(fetchCtx, ref.fileID)
	if err != nil {
		n.logger.WarnContext(ctx, "Image fetch failed, degrading to failure sentinel",
			"file_id", ref.fileID, "error", err)
		return FailedImage()
	}

	sum := sha256.Sum256(data)
	img := NewImage(hex.EncodeToString(sum[:]), mime, nil)
	if n.cfg.OCR.Enabled {
		// Bytes are only retained while the message is tracked, for the
		// OCR pass at episode persistence time.
		img.data = data
	}
	return img
}
