package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-telegram/bot"
)

// maxFileSize caps downloads at 10 MiB, the Bot API photo limit.
const maxFileSize = 10 << 20

// FileFetcher downloads file bytes through the Telegram Bot API. It
// implements the repeat package's Fetcher interface; callers bound the
// download with a context deadline.
type FileFetcher struct {
	b      *bot.Bot
	client *http.Client
	logger *slog.Logger
}

// NewFileFetcher creates a file fetcher bound to a bot instance.
func NewFileFetcher(b *bot.Bot, logger *slog.Logger) *FileFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileFetcher{
		b:      b,
		client: &http.Client{},
		logger: logger.With("component", "file_fetcher"),
	}
}

// Fetch resolves a file id to its raw bytes and a sniffed MIME type.
func (f *FileFetcher) Fetch(ctx context.Context, fileID string) ([]byte, string, error) {
	if fileID == "" {
		return nil, "", fmt.Errorf("file id cannot be empty")
	}

	file, err := f.b.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve file %s: %w", fileID, err)
	}
	if file.FileSize > maxFileSize {
		return nil, "", fmt.Errorf("file %s exceeds download limit (%d bytes)", fileID, file.FileSize)
	}

	url := f.b.FileDownloadLink(file)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download file %s: %w", fileID, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			f.logger.WarnContext(ctx, "Error closing download body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %d downloading file %s", resp.StatusCode, fileID)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFileSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read file %s: %w", fileID, err)
	}
	if len(data) > maxFileSize {
		return nil, "", fmt.Errorf("file %s exceeds download limit", fileID)
	}

	f.logger.DebugContext(ctx, "Downloaded file", "file_id", fileID, "bytes", len(data))
	return data, http.DetectContentType(data), nil
}
