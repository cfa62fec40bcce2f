// Package locale supplies per-chat text templates.
package locale

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	KeyPlayNext      = "play_next"
	KeyPlayMedia     = "play_media"
	KeyErrorNoFile   = "error_no_file"
	KeyErrorNoCall   = "error_no_call"
	KeyErrorTGServer = "error_tg_server"

	controlKeyPrefix = "control_"
	fallbackLanguage = "en"
)

var ErrUnknownLanguage = errors.New("unknown language")

//go:embed lang/*.yml
var builtin embed.FS

// Texts maps template keys to fmt-style templates.
type Texts map[string]string

// Format renders key with args. Missing keys render as the key itself.
func (t Texts) Format(key string, args ...any) string {
	tmpl, ok := t[key]
	if !ok || tmpl == "" {
		return key
	}
	if len(args) == 0 {
		return tmpl
	}
	return fmt.Sprintf(tmpl, args...)
}

// ControlLabel returns the button label for a playback action.
func (t Texts) ControlLabel(action string) string {
	return t[controlKeyPrefix+action]
}

type Provider interface {
	Get(ctx context.Context, chatID int64) Texts
}

type Catalog struct {
	logger      *log.Logger
	defaultLang string

	mu    sync.RWMutex
	langs map[string]Texts
	chats map[int64]string
}

func NewCatalog(defaultLang string, logger *log.Logger) (*Catalog, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	c := &Catalog{
		logger: logger,
		langs:  make(map[string]Texts),
		chats:  make(map[int64]string),
	}

	entries, err := builtin.ReadDir("lang")
	if err != nil {
		return nil, fmt.Errorf("read builtin languages: %w", err)
	}
	for _, entry := range entries {
		raw, err := builtin.ReadFile("lang/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read builtin language %s: %w", entry.Name(), err)
		}
		if err := c.add(languageCode(entry.Name()), raw); err != nil {
			return nil, err
		}
	}

	defaultLang = normalizeCode(defaultLang)
	if defaultLang == "" {
		defaultLang = fallbackLanguage
	}
	c.defaultLang = defaultLang
	return c, nil
}

// LoadDir adds every <code>.yml file in dir. Keys missing from a file fall
// back to English.
func (c *Catalog) LoadDir(dir string) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.yml"))
	if err != nil {
		return fmt.Errorf("list language files: %w", err)
	}
	for _, path := range matches {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read language file %s: %w", path, err)
		}
		if err := c.add(languageCode(filepath.Base(path)), raw); err != nil {
			return err
		}
		c.logger.Printf("language loaded code=%s path=%s", languageCode(filepath.Base(path)), path)
	}
	return nil
}

func (c *Catalog) add(code string, raw []byte) error {
	var parsed map[string]string
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("parse language %s: %w", code, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	texts := make(Texts, len(parsed))
	if base, ok := c.langs[fallbackLanguage]; ok && code != fallbackLanguage {
		for k, v := range base {
			texts[k] = v
		}
	}
	for k, v := range parsed {
		texts[k] = v
	}
	c.langs[code] = texts
	return nil
}

func (c *Catalog) SetLanguage(chatID int64, code string) error {
	code = normalizeCode(code)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.langs[code]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownLanguage, code)
	}
	c.chats[chatID] = code
	return nil
}

func (c *Catalog) Get(_ context.Context, chatID int64) Texts {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if code, ok := c.chats[chatID]; ok {
		if texts, ok := c.langs[code]; ok {
			return texts
		}
	}
	if texts, ok := c.langs[c.defaultLang]; ok {
		return texts
	}
	return c.langs[fallbackLanguage]
}

func (c *Catalog) Languages() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.langs))
	for code := range c.langs {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

func languageCode(filename string) string {
	return normalizeCode(strings.TrimSuffix(filename, filepath.Ext(filename)))
}

func normalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
