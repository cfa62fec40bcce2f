// Package media resolves queue items to local files the voice node can stream.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/lrstanley/go-ytdlp"
)

const (
	DefaultBaseURL = "https://www.youtube.com/watch?v="

	audioFormat = "bestaudio"
	videoFormat = "best[height<=720]"
)

var (
	ErrInvalidItemID = errors.New("invalid item id")
	ErrNoOutput      = errors.New("downloader reported no output file")

	itemIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

type Fetcher interface {
	Download(ctx context.Context, itemID string, video bool) (string, error)
}

// runFunc performs a single download and returns the downloader's stdout.
type runFunc func(ctx context.Context, format, outputTemplate, url string) (string, error)

// YTDLP downloads items with yt-dlp into a flat cache directory named by
// item id.
type YTDLP struct {
	cacheDir string
	baseURL  string
	logger   *log.Logger
	run      runFunc
}

func NewYTDLP(cacheDir, baseURL string, logger *log.Logger) *YTDLP {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	cacheDir = strings.TrimSpace(cacheDir)
	if cacheDir == "" {
		cacheDir = filepath.Join(".crabstack", "media")
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &YTDLP{
		cacheDir: cacheDir,
		baseURL:  baseURL,
		logger:   logger,
		run:      runYTDLP,
	}
}

func (y *YTDLP) Download(ctx context.Context, itemID string, video bool) (string, error) {
	itemID = strings.TrimSpace(itemID)
	if !itemIDPattern.MatchString(itemID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidItemID, itemID)
	}

	if cached, ok := y.cached(itemID, video); ok {
		return cached, nil
	}

	if err := os.MkdirAll(y.cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("create media cache dir: %w", err)
	}

	format := audioFormat
	if video {
		format = videoFormat
	}
	output := filepath.Join(y.cacheDir, cacheName(itemID, video)+".%(ext)s")

	stdout, err := y.run(ctx, format, output, y.baseURL+itemID)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", itemID, err)
	}
	path := lastLine(stdout)
	if path == "" {
		return "", fmt.Errorf("download %s: %w", itemID, ErrNoOutput)
	}
	y.logger.Printf("media downloaded item_id=%s video=%t path=%s", itemID, video, path)
	return path, nil
}

func (y *YTDLP) cached(itemID string, video bool) (string, bool) {
	matches, err := filepath.Glob(filepath.Join(y.cacheDir, cacheName(itemID, video)+".*"))
	if err != nil || len(matches) == 0 {
		return "", false
	}
	sort.Strings(matches)
	for _, match := range matches {
		// yt-dlp leaves .part files behind on interrupted downloads.
		if strings.HasSuffix(match, ".part") || strings.HasSuffix(match, ".ytdl") {
			continue
		}
		if info, err := os.Stat(match); err == nil && info.Mode().IsRegular() && info.Size() > 0 {
			return match, true
		}
	}
	return "", false
}

func cacheName(itemID string, video bool) string {
	if video {
		return itemID + "-video"
	}
	return itemID
}

func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

func runYTDLP(ctx context.Context, format, outputTemplate, url string) (string, error) {
	res, err := ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig().
		NoPlaylist().
		Format(format).
		Output(outputTemplate).
		Print("after_move:filepath").
		NoSimulate().
		Run(ctx, url)
	if err != nil {
		if res != nil && strings.TrimSpace(res.Stderr) != "" {
			return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(res.Stderr))
		}
		return "", err
	}
	return res.Stdout, nil
}
