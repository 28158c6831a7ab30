// Package catalog loads the set of faucet sites the orchestrator iterates.
//
// The default catalog ships embedded in the binary (sites.yaml). A file on
// disk can replace it via CATALOG_PATH. Catalogs are validated once at load
// and are immutable afterwards.
package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mbd888/faucetd/internal/btc"
)

//go:embed sites.yaml
var embedded []byte

// Defaults applied to entries that omit them.
const DefaultCooldown = 60 * time.Minute

const (
	DefaultRewardMin btc.Amount = 1    // 0.00000001 BTC
	DefaultRewardMax btc.Amount = 1000 // 0.00001 BTC
)

var (
	ErrEmptyCatalog  = errors.New("catalog: no sites defined")
	ErrDuplicateName = errors.New("catalog: duplicate site name")
	ErrInvalidSite   = errors.New("catalog: invalid site")
)

// FaucetSite describes one claimable site.
type FaucetSite struct {
	Name            string        `json:"name"`
	URL             string        `json:"url"`
	ClaimSelector   string        `json:"claim_selector"`
	BalanceSelector string        `json:"balance_selector,omitempty"`
	Cooldown        time.Duration `json:"-"`
	RewardMin       btc.Amount    `json:"reward_min"`
	RewardMax       btc.Amount    `json:"reward_max"`
	Active          bool          `json:"active"`
}

// CooldownMinutes returns the cooldown as whole minutes, the unit the API reports.
func (s FaucetSite) CooldownMinutes() int {
	return int(s.Cooldown / time.Minute)
}

// MarshalJSON adds cooldown_minutes to the wire form.
func (s FaucetSite) MarshalJSON() ([]byte, error) {
	type plain FaucetSite
	return json.Marshal(struct {
		plain
		CooldownMinutes int `json:"cooldown_minutes"`
	}{plain(s), s.CooldownMinutes()})
}

type siteDoc struct {
	Name            string `yaml:"name"`
	URL             string `yaml:"url"`
	ClaimSelector   string `yaml:"claim_selector"`
	BalanceSelector string `yaml:"balance_selector"`
	CooldownMinutes int    `yaml:"cooldown_minutes"`
	RewardMin       string `yaml:"reward_min"`
	RewardMax       string `yaml:"reward_max"`
	Active          *bool  `yaml:"active"`
}

type fileDoc struct {
	Sites []siteDoc `yaml:"sites"`
}

// Catalog is an ordered, immutable list of sites.
type Catalog struct {
	sites  []FaucetSite
	active []FaucetSite
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(embedded)
}

// Load reads a catalog from path, or the embedded one when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	if len(doc.Sites) == 0 {
		return nil, ErrEmptyCatalog
	}

	seen := make(map[string]struct{}, len(doc.Sites))
	sites := make([]FaucetSite, 0, len(doc.Sites))
	for i, d := range doc.Sites {
		site, err := d.toSite()
		if err != nil {
			return nil, fmt.Errorf("site %d: %w", i, err)
		}
		if _, dup := seen[site.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, site.Name)
		}
		seen[site.Name] = struct{}{}
		sites = append(sites, site)
	}
	return New(sites), nil
}

// New builds a catalog from already validated sites. Used by tests and
// callers that assemble catalogs in code.
func New(sites []FaucetSite) *Catalog {
	c := &Catalog{sites: make([]FaucetSite, len(sites))}
	copy(c.sites, sites)
	for _, s := range c.sites {
		if s.Active {
			c.active = append(c.active, s)
		}
	}
	return c
}

func (d siteDoc) toSite() (FaucetSite, error) {
	switch {
	case d.Name == "":
		return FaucetSite{}, fmt.Errorf("%w: name is required", ErrInvalidSite)
	case d.URL == "":
		return FaucetSite{}, fmt.Errorf("%w: %s: url is required", ErrInvalidSite, d.Name)
	case d.ClaimSelector == "":
		return FaucetSite{}, fmt.Errorf("%w: %s: claim_selector is required", ErrInvalidSite, d.Name)
	case d.CooldownMinutes < 0:
		return FaucetSite{}, fmt.Errorf("%w: %s: negative cooldown", ErrInvalidSite, d.Name)
	}

	site := FaucetSite{
		Name:            d.Name,
		URL:             d.URL,
		ClaimSelector:   d.ClaimSelector,
		BalanceSelector: d.BalanceSelector,
		Cooldown:        DefaultCooldown,
		RewardMin:       DefaultRewardMin,
		RewardMax:       DefaultRewardMax,
		Active:          true,
	}
	if d.CooldownMinutes > 0 {
		site.Cooldown = time.Duration(d.CooldownMinutes) * time.Minute
	}
	if d.Active != nil {
		site.Active = *d.Active
	}

	var err error
	if d.RewardMin != "" {
		if site.RewardMin, err = btc.Parse(d.RewardMin); err != nil {
			return FaucetSite{}, fmt.Errorf("%w: %s: reward_min: %v", ErrInvalidSite, d.Name, err)
		}
	}
	if d.RewardMax != "" {
		if site.RewardMax, err = btc.Parse(d.RewardMax); err != nil {
			return FaucetSite{}, fmt.Errorf("%w: %s: reward_max: %v", ErrInvalidSite, d.Name, err)
		}
	}
	if site.RewardMin <= 0 || site.RewardMin > site.RewardMax {
		return FaucetSite{}, fmt.Errorf("%w: %s: reward range %s..%s", ErrInvalidSite, d.Name,
			btc.Format(site.RewardMin), btc.Format(site.RewardMax))
	}
	return site, nil
}

// Sites returns every site in catalog order.
func (c *Catalog) Sites() []FaucetSite {
	out := make([]FaucetSite, len(c.sites))
	copy(out, c.sites)
	return out
}

// Active returns the sites the orchestrator claims against, in catalog order.
func (c *Catalog) Active() []FaucetSite {
	out := make([]FaucetSite, len(c.active))
	copy(out, c.active)
	return out
}

// Len returns the total number of sites.
func (c *Catalog) Len() int {
	return len(c.sites)
}
