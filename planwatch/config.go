package planwatch

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/planwatch/dbopen"
	"github.com/hazyhaar/planwatch/planwatch/internal/browser"
	"github.com/hazyhaar/planwatch/planwatch/internal/geocode"
	"github.com/hazyhaar/planwatch/planwatch/internal/harvest"
	"github.com/hazyhaar/planwatch/planwatch/internal/portal"
	"github.com/hazyhaar/planwatch/planwatch/internal/store"
)

// ErrUnknownCouncil is returned for a council with no configured portal.
var ErrUnknownCouncil = errors.New("planwatch: unknown council")

// ErrUnknownEnvironment is returned for an environment with no database.
var ErrUnknownEnvironment = errors.New("planwatch: unknown environment")

// Config holds all planwatch configuration.
type Config struct {
	// Environment selects the store the service writes to.
	Environment  string                  `yaml:"environment"`
	Environments map[string]store.Config `yaml:"environments"`
	// Councils maps a council name to its portal base URL, e.g.
	// https://pa.newham.gov.uk/online-applications.
	Councils map[string]string `yaml:"councils"`
	// CouncilsCSV is a "council,url" file merged into Councils.
	CouncilsCSV string `yaml:"councils_csv"`

	Browser   browser.Config        `yaml:"browser"`
	Selectors portal.Selectors      `yaml:"selectors"`
	Harvest   HarvestConfig         `yaml:"harvest"`
	Details   harvest.CrawlerConfig `yaml:"details"`
	Geocode   geocode.Config        `yaml:"geocode"`
	HTTP      HTTPConfig            `yaml:"http"`
}

// HarvestConfig paces comment harvesting.
type HarvestConfig struct {
	harvest.LoopConfig `yaml:",inline"`
	// SkipComplete skips an application whose stored comment count already
	// reaches the count shown on the portal.
	SkipComplete bool `yaml:"skip_complete"`
}

// HTTPConfig configures the read API.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// knownCouncils are the portals planwatch ships with.
var knownCouncils = map[string]string{
	"newham":      "https://pa.newham.gov.uk/online-applications",
	"westminster": "https://idoxpa.westminster.gov.uk/online-applications",
}

func (c *Config) defaults() {
	if c.Environment == "" {
		c.Environment = "dev"
	}
	if c.Environments == nil {
		c.Environments = make(map[string]store.Config)
	}
	if dev := c.Environments["dev"]; dev.DSN == "" && (dev.Driver == "" || dev.Driver == dbopen.SQLite) {
		dev.Driver = dbopen.SQLite
		dev.DSN = "data/planwatch-dev.db"
		c.Environments["dev"] = dev
	}
	councils := canonicalCouncils(c.Councils)
	if len(councils) == 0 {
		for name, u := range knownCouncils {
			councils[name] = u
		}
	}
	c.Councils = councils
	c.Selectors = c.Selectors.WithDefaults()
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8090"
	}
}

// LoadConfigFile reads a YAML config file, merges the councils CSV it names
// and applies environment overrides.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("planwatch: parse %s: %w", path, err)
	}
	if cfg.CouncilsCSV != "" {
		f, err := os.Open(cfg.CouncilsCSV)
		if err != nil {
			return nil, fmt.Errorf("planwatch: councils csv: %w", err)
		}
		defer f.Close()
		councils, err := ReadCouncilsCSV(f)
		if err != nil {
			return nil, fmt.Errorf("planwatch: councils csv %s: %w", cfg.CouncilsCSV, err)
		}
		cfg.Councils = canonicalCouncils(cfg.Councils)
		for name, u := range councils {
			if _, ok := cfg.Councils[name]; !ok {
				cfg.Councils[name] = u
			}
		}
	}
	cfg.ApplyEnv(os.Environ())
	return cfg, nil
}

// ApplyEnv applies overrides from environ, a list of KEY=VALUE pairs as
// returned by os.Environ: PLANWATCH_ENV, PLANWATCH_BROWSER_REMOTE and one
// PLANWATCH_<NAME>_DSN per environment. A DSN override creates the
// environment when the config does not name it; a postgres URL or a
// "host=" connection string selects the postgres driver.
func (c *Config) ApplyEnv(environ []string) {
	for _, kv := range environ {
		key, v, ok := strings.Cut(kv, "=")
		if !ok || v == "" || !strings.HasPrefix(key, "PLANWATCH_") {
			continue
		}
		switch key {
		case "PLANWATCH_ENV":
			c.Environment = v
			continue
		case "PLANWATCH_BROWSER_REMOTE":
			c.Browser.RemoteURL = v
			continue
		}
		name, isDSN := strings.CutSuffix(strings.TrimPrefix(key, "PLANWATCH_"), "_DSN")
		if !isDSN || name == "" {
			continue
		}
		name = strings.ToLower(name)
		if c.Environments == nil {
			c.Environments = make(map[string]store.Config)
		}
		sc := c.Environments[name]
		sc.DSN = v
		if sc.Driver == "" && looksLikePostgres(v) {
			sc.Driver = dbopen.Postgres
		}
		c.Environments[name] = sc
	}
}

func looksLikePostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=")
}

// ReadCouncilsCSV reads "council,url" rows. A header row is skipped. The
// URL may be the portal base or any page under it.
func ReadCouncilsCSV(r io.Reader) (map[string]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	out := make(map[string]string)
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if len(rec) < 2 {
			return nil, fmt.Errorf("line %d: want council,url", line)
		}
		name := portal.Canonical(rec[0])
		if line == 1 && name == "council" {
			continue
		}
		if name == "" {
			continue
		}
		out[name] = baseURL(rec[1])
	}
}

func canonicalCouncils(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for name, u := range in {
		out[portal.Canonical(name)] = baseURL(u)
	}
	return out
}

// baseURL reduces a portal URL to its application root: the query is
// dropped, and so is a trailing "*.do" page.
func baseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return strings.TrimRight(raw, "/?")
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	if strings.HasSuffix(u.Path, ".do") {
		u.Path = path.Dir(u.Path)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}

// Site returns the portal of council.
func (c *Config) Site(council string) (portal.Site, error) {
	name := portal.Canonical(council)
	base, ok := c.Councils[name]
	if !ok {
		return portal.Site{}, fmt.Errorf("%w: %q", ErrUnknownCouncil, council)
	}
	return portal.Site{Council: name, Base: base}, nil
}

// CouncilNames returns the configured councils, sorted.
func (c *Config) CouncilNames() []string {
	names := make([]string, 0, len(c.Councils))
	for name := range c.Councils {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StoreConfig returns the database settings of env.
func (c *Config) StoreConfig(env string) (store.Config, error) {
	sc, ok := c.Environments[env]
	if !ok {
		return store.Config{}, fmt.Errorf("%w: %q", ErrUnknownEnvironment, env)
	}
	sc.Env = env
	return sc, nil
}
