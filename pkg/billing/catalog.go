package billing

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/memberhq/memberhq/pkg/observability"
)

// Plan describes a purchasable subscription plan as configured by the
// operator; the provider price ID ties it to the checkout flow
type Plan struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	PriceID     string `yaml:"price_id" json:"price_id"`
	AmountCents int64  `yaml:"amount_cents" json:"amount_cents"`
	Currency    string `yaml:"currency" json:"currency"`
	Interval    string `yaml:"interval" json:"interval"`
	MaxMembers  int    `yaml:"max_members" json:"max_members"`
}

type catalogFile struct {
	Plans []Plan `yaml:"plans"`
}

// PlanCatalog holds the operator-configured plan list, loaded from a
// YAML file and reloaded automatically when the file changes
type PlanCatalog struct {
	path   string
	logger *observability.Logger

	mu      sync.RWMutex
	plans   []Plan
	watcher *fsnotify.Watcher
}

// NewPlanCatalog loads the catalog from path and starts watching it
// for changes
func NewPlanCatalog(path string, logger *observability.Logger) (*PlanCatalog, error) {
	c := &PlanCatalog{path: path, logger: logger}
	if err := c.load(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog watcher: %w", err)
	}
	// Watch the directory: editors replace the file on save, which
	// drops a watch on the file itself
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch catalog directory: %w", err)
	}
	c.watcher = watcher

	go c.watch()
	return c, nil
}

// Plans returns the current plan list
func (c *PlanCatalog) Plans() []Plan {
	c.mu.RLock()
	defer c.mu.RUnlock()
	plans := make([]Plan, len(c.plans))
	copy(plans, c.plans)
	return plans
}

// PlanByPriceID resolves a plan by its provider price ID
func (c *PlanCatalog) PlanByPriceID(priceID string) (*Plan, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := range c.plans {
		if c.plans[i].PriceID == priceID {
			p := c.plans[i]
			return &p, true
		}
	}
	return nil, false
}

// Close stops the file watcher
func (c *PlanCatalog) Close() error {
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}

func (c *PlanCatalog) load() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("failed to read plan catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse plan catalog: %w", err)
	}

	for _, p := range file.Plans {
		if p.ID == "" || p.PriceID == "" {
			return fmt.Errorf("plan catalog entry missing id or price_id")
		}
	}

	c.mu.Lock()
	c.plans = file.Plans
	c.mu.Unlock()
	return nil
}

func (c *PlanCatalog) watch() {
	for {
		select {
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(c.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := c.load(); err != nil {
				// Keep serving the previous catalog on a bad reload
				c.logger.WithError(err).Error("plan catalog reload failed")
				continue
			}
			c.logger.WithField("path", c.path).Info("plan catalog reloaded")
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.WithError(err).Error("plan catalog watcher error")
		}
	}
}
