package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

// maxFileSize caps a single download. Telegram bots cannot fetch files over 20MB.
const maxFileSize = 25 << 20

// FileGetter looks up file metadata. *tgbotapi.BotAPI implements it.
type FileGetter interface {
	GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error)
}

// Downloader fetches photos attached in a chat. File IDs are resolved to a
// direct URL right before the download, since Telegram's file links expire.
type Downloader struct {
	files    FileGetter
	token    string
	endpoint string // fmt pattern taking token and file path
	client   *http.Client
}

// NewDownloader returns a Downloader. An empty endpoint means
// tgbotapi.FileEndpoint; a nil client gets a 60s timeout default.
func NewDownloader(files FileGetter, token, endpoint string, client *http.Client) *Downloader {
	if endpoint == "" {
		endpoint = tgbotapi.FileEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Downloader{files: files, token: token, endpoint: endpoint, client: client}
}

// Download returns the photo's content and, when it resolved the file ID,
// the file's base name. A ref that already carries a URL is fetched as is
// and the name is left to the caller.
func (d *Downloader) Download(ctx context.Context, ref protocol.PhotoRef) ([]byte, string, error) {
	url, name := ref.URL, ""
	if url == "" {
		if err := ctx.Err(); err != nil {
			return nil, "", fmt.Errorf("telegram: download: %w", err)
		}
		file, err := d.files.GetFile(tgbotapi.FileConfig{FileID: ref.FileID})
		if err != nil {
			return nil, "", fmt.Errorf("telegram: resolve file %s: %w", ref.FileID, err)
		}
		url = fmt.Sprintf(d.endpoint, d.token, file.FilePath)
		name = path.Base(file.FilePath)
	}

	data, err := d.fetch(ctx, url)
	if err != nil {
		return nil, "", err
	}
	return data, name, nil
}

func (d *Downloader) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: download: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram: download: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("telegram: download: %w", err)
	}
	if len(data) > maxFileSize {
		return nil, fmt.Errorf("telegram: download: file exceeds %d bytes", maxFileSize)
	}
	return data, nil
}
