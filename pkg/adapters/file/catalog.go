// Package file provides filesystem adapters: a YAML catalog with hot reload
// and a JSON-file conversation store.
package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aretw0/turnpike/internal/logging"
	"github.com/aretw0/turnpike/pkg/adapters/memory"
	"github.com/aretw0/turnpike/pkg/domain"
	"github.com/aretw0/turnpike/pkg/ports"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// DefaultDebounce is how long the watcher waits for a burst of writes to settle.
const DefaultDebounce = 100 * time.Millisecond

// Document is the YAML layout of a catalog file.
type Document struct {
	Rules     []domain.Rule             `yaml:"rules"`
	Responses []domain.ResponseTemplate `yaml:"responses"`
	Schemas   []domain.Schema           `yaml:"schemas"`
}

// Parse decodes one YAML catalog document. Unknown keys are rejected.
func Parse(data []byte) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &doc, nil
}

// Load reads a catalog from a YAML file, or from every .yaml/.yml file of a
// directory merged in name order.
func Load(path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat catalog: %w", err)
	}

	files := []string{path}
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("failed to list catalog directory: %w", err)
		}
		files = files[:0]
		for _, e := range entries {
			if !e.IsDir() && isYAML(e.Name()) {
				files = append(files, filepath.Join(path, e.Name()))
			}
		}
		slices.Sort(files)
	}

	merged := &Document{}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f, err)
		}
		doc, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", f, err)
		}
		merged.Rules = append(merged.Rules, doc.Rules...)
		merged.Responses = append(merged.Responses, doc.Responses...)
		merged.Schemas = append(merged.Schemas, doc.Schemas...)
	}
	return merged, nil
}

var (
	knownMatchTypes  = []domain.MatchType{domain.MatchExact, domain.MatchRegex, domain.MatchJSONPath, domain.MatchAgent}
	knownActionTypes = []domain.ActionType{
		domain.ActionSetIntent, domain.ActionSetState, domain.ActionSetParam, domain.ActionSetParams,
		domain.ActionSetDialogueAct, domain.ActionRewriteQuery, domain.ActionInvokeTask,
	}
	knownPhases = []domain.Phase{domain.PhasePre, domain.PhaseIntent, domain.PhasePost}
)

// Validate reports every problem of the document at once.
func (d *Document) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(d.Rules))

	for i, r := range d.Rules {
		r = r.Normalize()
		where := fmt.Sprintf("rule[%d] %q", i, r.ID)
		if r.ID == "" {
			errs = append(errs, fmt.Errorf("rule[%d]: id is required", i))
		} else if seen[r.ID] {
			errs = append(errs, fmt.Errorf("%s: duplicate id", where))
		}
		seen[r.ID] = true

		if !slices.Contains(knownPhases, r.Phase) {
			errs = append(errs, fmt.Errorf("%s: unknown phase %q", where, r.Phase))
		}
		if !slices.Contains(knownMatchTypes, r.MatchType) {
			errs = append(errs, fmt.Errorf("%s: unknown match type %q", where, r.MatchType))
		}
		if !slices.Contains(knownActionTypes, r.ActionType) {
			errs = append(errs, fmt.Errorf("%s: unknown action type %q", where, r.ActionType))
		}
		if r.MatchType == domain.MatchRegex {
			if _, err := regexp.Compile(r.Pattern); err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid pattern: %w", where, err))
			}
		}
		if r.MatchType != domain.MatchAgent && strings.TrimSpace(r.Pattern) == "" {
			errs = append(errs, fmt.Errorf("%s: pattern is required", where))
		}
	}

	for i, resp := range d.Responses {
		resp = resp.Normalize()
		where := fmt.Sprintf("response[%d] %q/%q", i, resp.Intent, resp.State)
		switch resp.Type {
		case domain.ResponseExact:
			if resp.Text == "" {
				errs = append(errs, fmt.Errorf("%s: text is required", where))
			}
		case domain.ResponseDerived:
			if resp.Template == "" {
				errs = append(errs, fmt.Errorf("%s: template is required", where))
			}
		default:
			errs = append(errs, fmt.Errorf("%s: unknown type %q", where, resp.Type))
		}
		if resp.Format != domain.FormatText && resp.Format != domain.FormatJSON {
			errs = append(errs, fmt.Errorf("%s: unknown format %q", where, resp.Format))
		}
	}

	for i, s := range d.Schemas {
		for j, f := range s.Fields {
			if f.Name == "" {
				errs = append(errs, fmt.Errorf("schema[%d] %q field[%d]: name is required", i, s.Intent, j))
			}
			if f.Pattern != "" {
				if _, err := regexp.Compile(f.Pattern); err != nil {
					errs = append(errs, fmt.Errorf("schema[%d] %q field %q: invalid pattern: %w", i, s.Intent, f.Name, err))
				}
			}
		}
	}

	if _, err := memory.NewCatalog(d.Rules, d.Responses, d.Schemas); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Catalog implements ports.Catalog over YAML files.
// Readers always see a complete snapshot; Reload swaps it atomically and
// keeps the previous one when the files are invalid.
type Catalog struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
	onReload func(error)
	current  atomic.Pointer[memory.Catalog]
}

var _ ports.Catalog = (*Catalog)(nil)

// Option configures the Catalog.
type Option func(*Catalog)

// WithLogger configures a logger for reload diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Catalog) {
		c.logger = l
	}
}

// WithDebounce sets the settle time of the watcher.
func WithDebounce(d time.Duration) Option {
	return func(c *Catalog) {
		if d > 0 {
			c.debounce = d
		}
	}
}

// WithReloadHook is called after every watcher-triggered reload with its outcome.
func WithReloadHook(fn func(error)) Option {
	return func(c *Catalog) {
		c.onReload = fn
	}
}

// Open loads and validates the catalog at path.
func Open(path string, opts ...Option) (*Catalog, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	c := &Catalog{
		path:     abs,
		debounce: DefaultDebounce,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Path returns the absolute path of the catalog.
func (c *Catalog) Path() string { return c.path }

// Reload re-reads the files and swaps the snapshot if they are valid.
func (c *Catalog) Reload() error {
	doc, err := Load(c.path)
	if err != nil {
		return err
	}
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("invalid catalog %s: %w", c.path, err)
	}
	snap, err := memory.NewCatalog(doc.Rules, doc.Responses, doc.Schemas)
	if err != nil {
		return err
	}
	c.current.Store(snap)

	rules, responses, schemas := snap.Counts()
	c.logger.Info("Catalog loaded", "path", c.path, "rules", rules, "responses", responses, "schemas", schemas)
	return nil
}

// Snapshot returns the catalog currently served.
func (c *Catalog) Snapshot() *memory.Catalog {
	return c.current.Load()
}

func (c *Catalog) Rules(ctx context.Context, phase domain.Phase) ([]domain.Rule, error) {
	return c.current.Load().Rules(ctx, phase)
}

func (c *Catalog) Response(ctx context.Context, intent, state string) (domain.ResponseTemplate, error) {
	return c.current.Load().Response(ctx, intent, state)
}

func (c *Catalog) Schema(ctx context.Context, intent string) (domain.Schema, error) {
	return c.current.Load().Schema(ctx, intent)
}

// Watch reloads the catalog whenever its files change, until ctx ends.
// A burst of events triggers a single reload after the debounce interval.
func (c *Catalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	info, err := os.Stat(c.path)
	if err != nil {
		return fmt.Errorf("failed to stat catalog: %w", err)
	}
	dir := c.path
	if !info.IsDir() {
		// Editors replace files by rename, so the parent directory is watched.
		dir = filepath.Dir(c.path)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	c.logger.Info("Catalog watcher started", "path", c.path, "debounce_ms", c.debounce.Milliseconds())

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Catalog watcher stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !c.relevant(event, info.IsDir()) {
				continue
			}
			c.logger.Debug("Catalog file event", "path", event.Name, "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(c.debounce)
			} else {
				timer.Reset(c.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			err := c.Reload()
			if err != nil {
				c.logger.Error("Catalog reload failed, keeping previous version", "err", err)
			}
			if c.onReload != nil {
				c.onReload(err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			c.logger.Error("Catalog watcher error", "err", err)
		}
	}
}

func (c *Catalog) relevant(event fsnotify.Event, dir bool) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return false
	}
	if dir {
		return isYAML(event.Name) && !strings.HasPrefix(filepath.Base(event.Name), ".")
	}
	return filepath.Clean(event.Name) == c.path
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
