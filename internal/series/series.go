// Package series implements the cross-book catalog layer: a config file
// naming the books of a series, a shared elements memory the bridge
// imports before analysis and exports after extraction, and a status
// reader that sweeps every book's state. Everything at the series root
// is guarded by file locks because distinct books may be processed by
// distinct processes at the same time.
package series

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/imaginize/internal/atomicfile"
	"github.com/jackzampolin/imaginize/internal/elements"
	"github.com/jackzampolin/imaginize/internal/home"
)

// DefaultLockTimeout bounds series file lock acquisition.
const DefaultLockTimeout = 60 * time.Second

// readAttempts bounds retries on transient read failures during another
// process's rename window.
const readAttempts = 3

// BookRef is one book registered in a series.
type BookRef struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Path   string `json:"path"`
	Order  int    `json:"order"`
	Status string `json:"status,omitempty"`
}

// SharedElements configures the cross-book catalog.
type SharedElements struct {
	Enabled       bool   `json:"enabled"`
	MergeStrategy string `json:"mergeStrategy"`
}

// Config is the series config file at the series root.
type Config struct {
	Name           string         `json:"name"`
	Books          []BookRef      `json:"books"`
	SharedElements SharedElements `json:"sharedElements"`
}

// NewConfig creates a series config with sharing enabled under the
// enrich strategy.
func NewConfig(name string) *Config {
	return &Config{
		Name: name,
		SharedElements: SharedElements{
			Enabled:       true,
			MergeStrategy: string(elements.StrategyEnrich),
		},
	}
}

// Strategy parses the configured merge strategy, falling back to
// enrich.
func (c *Config) Strategy() elements.MergeStrategy {
	return elements.ParseMergeStrategy(c.SharedElements.MergeStrategy)
}

// Book returns the registered book with the given ID, or nil.
func (c *Config) Book(id string) *BookRef {
	for i := range c.Books {
		if c.Books[i].ID == id {
			return &c.Books[i]
		}
	}
	return nil
}

// AddBook registers a book, keeping the list sorted by order then ID.
// Re-adding an existing ID updates the entry in place and reports
// false.
func (c *Config) AddBook(ref BookRef) bool {
	added := true
	if existing := c.Book(ref.ID); existing != nil {
		*existing = ref
		added = false
	} else {
		if ref.Order == 0 {
			ref.Order = c.nextOrder()
		}
		c.Books = append(c.Books, ref)
	}
	sort.Slice(c.Books, func(i, j int) bool {
		if c.Books[i].Order != c.Books[j].Order {
			return c.Books[i].Order < c.Books[j].Order
		}
		return c.Books[i].ID < c.Books[j].ID
	})
	return added
}

func (c *Config) nextOrder() int {
	max := 0
	for _, b := range c.Books {
		if b.Order > max {
			max = b.Order
		}
	}
	return max + 1
}

// LoadConfig reads the series config. Returns (nil, nil) when the
// series root has no config file.
func LoadConfig(dir home.SeriesDir) (*Config, error) {
	var cfg Config
	err := readJSON(dir.ConfigPath(), &cfg)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read series config: %w", err)
	}
	return &cfg, nil
}

// SaveConfig writes the series config under its file lock.
func SaveConfig(dir home.SeriesDir, cfg *Config) error {
	if err := os.MkdirAll(dir.Path(), 0o755); err != nil {
		return fmt.Errorf("failed to create series root: %w", err)
	}
	lock, err := atomicfile.AcquireLock(dir.ConfigPath(), DefaultLockTimeout)
	if err != nil {
		return err
	}
	defer lock.Release()
	return writeJSON(dir.ConfigPath(), cfg)
}

// readJSON reads and decodes a JSON file, retrying on transient read
// failures so a reader racing another process's rename settles.
func readJSON(path string, v any) error {
	return retry.Do(
		func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(data, v); err != nil {
				return fmt.Errorf("failed to parse %s: %w", path, err)
			}
			return nil
		},
		retry.Attempts(readAttempts),
		retry.Delay(25*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			// Missing files and malformed JSON will not fix themselves.
			return !errors.Is(err, os.ErrNotExist) && !isParseError(err)
		}),
	)
}

func isParseError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

// writeJSON marshals and writes atomically.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	return atomicfile.Write(path, data)
}
