package collect

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/leadtool/internal/model"
	"github.com/sells-group/leadtool/pkg/notion"
)

// Query is a search the collectors ran. Its name becomes the query label on
// every snapshot it produced.
type Query struct {
	Name     string `yaml:"name"`
	Keywords string `yaml:"keywords"`
	Location string `yaml:"location"`
}

// Label returns Name, or "keywords in location" when Name is empty.
func (q Query) Label() string {
	if q.Name != "" {
		return q.Name
	}
	if q.Location == "" {
		return q.Keywords
	}
	return q.Keywords + " in " + q.Location
}

// SourceConfig describes one source in the sources file.
type SourceConfig struct {
	Name       string            `yaml:"name"`
	Type       string            `yaml:"type"`
	Kind       string            `yaml:"kind"`
	Query      string            `yaml:"query"`
	Path       string            `yaml:"path"`
	URL        string            `yaml:"url"`
	Format     string            `yaml:"format"`
	Headers    map[string]string `yaml:"headers"`
	RatePerSec float64           `yaml:"rate_per_sec"`
	TimeoutSec int               `yaml:"timeout_secs"`
	Sheet      string            `yaml:"sheet"`
	Delimiter  string            `yaml:"delimiter"`
	DatabaseID string            `yaml:"database_id"`
	Status     string            `yaml:"status"`
}

// Config is the parsed sources file.
type Config struct {
	Queries []Query        `yaml:"queries"`
	Sources []SourceConfig `yaml:"sources"`
}

// LoadConfig reads and validates a sources file.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "collect: read %s", path)
	}
	return ParseConfig(b)
}

// ParseConfig parses a sources file.
func ParseConfig(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, eris.Wrap(err, "collect: parse sources file")
	}
	if len(cfg.Sources) == 0 {
		return nil, eris.New("collect: sources file lists no sources")
	}
	for i := range cfg.Sources {
		if err := cfg.validate(&cfg.Sources[i], i); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

func (c *Config) validate(s *SourceConfig, i int) error {
	s.Type = strings.ToLower(strings.TrimSpace(s.Type))
	if s.Name == "" {
		s.Name = s.Type + "-" + strconv.Itoa(i)
	}
	if s.Kind != "" {
		if _, err := model.ParseKind(s.Kind); err != nil {
			return eris.Wrapf(err, "collect: source %s", s.Name)
		}
	}
	if s.Query != "" {
		if _, ok := c.query(s.Query); !ok {
			return eris.Errorf("collect: source %s: unknown query %q", s.Name, s.Query)
		}
	}
	if s.Delimiter != "" && utf8.RuneCountInString(s.Delimiter) != 1 {
		return eris.Errorf("collect: source %s: delimiter must be one character", s.Name)
	}

	switch s.Type {
	case "jsonl", "csv", "xlsx":
		if s.Path == "" {
			return eris.Errorf("collect: source %s: path is required", s.Name)
		}
	case "http", "ftp":
		if s.URL == "" {
			return eris.Errorf("collect: source %s: url is required", s.Name)
		}
		if _, err := formatFor(s.Format, s.URL); err != nil {
			return eris.Wrapf(err, "collect: source %s", s.Name)
		}
	case "notion":
		if s.DatabaseID == "" {
			return eris.Errorf("collect: source %s: database_id is required", s.Name)
		}
	default:
		return eris.Errorf("collect: source %s: unknown type %q", s.Name, s.Type)
	}
	return nil
}

func (c *Config) query(name string) (Query, bool) {
	for _, q := range c.Queries {
		if q.Name == name {
			return q, true
		}
	}
	return Query{}, false
}

// Deps carries the clients sources need that are configured elsewhere.
type Deps struct {
	Notion notion.Client
}

// Build turns the config into one source that streams every configured
// source in file order, stamping period on everything it emits.
func (c *Config) Build(period model.Period, deps Deps) (Multi, error) {
	var multi Multi
	for _, sc := range c.Sources {
		meta := Meta{Period: period}
		if sc.Kind != "" {
			meta.Kind, _ = model.ParseKind(sc.Kind)
		}
		q, _ := c.query(sc.Query)
		meta.QueryName = q.Label()

		src, err := c.build(sc, q, meta, deps)
		if err != nil {
			return nil, err
		}
		multi = append(multi, Named{Name: sc.Name, Source: src})
	}
	return multi, nil
}

func (c *Config) build(sc SourceConfig, q Query, meta Meta, deps Deps) (Source, error) {
	opts := CSVOptions{LazyQuotes: true}
	if sc.Delimiter != "" {
		opts.Delimiter, _ = utf8.DecodeRuneInString(sc.Delimiter)
	}

	switch sc.Type {
	case "jsonl":
		return &JSONLSource{Path: sc.Path, Meta: meta}, nil
	case "csv":
		return &CSVSource{Path: sc.Path, Options: opts, Meta: meta}, nil
	case "xlsx":
		return &XLSXSource{Path: sc.Path, SheetName: sc.Sheet, Meta: meta}, nil
	case "http":
		src := NewHTTPSource(ExpandURL(os.ExpandEnv(sc.URL), q), meta)
		src.Format = sc.Format
		src.Headers = expandEnv(sc.Headers)
		src.CSV = opts
		if sc.RatePerSec > 0 {
			src.Limiter = NewAdaptiveLimiter(sc.RatePerSec, max(int(sc.RatePerSec), 1))
		}
		if sc.TimeoutSec > 0 {
			src.Client.Timeout = time.Duration(sc.TimeoutSec) * time.Second
		}
		return src, nil
	case "ftp":
		return &FTPSource{
			URL:     os.ExpandEnv(sc.URL),
			Format:  sc.Format,
			Timeout: time.Duration(sc.TimeoutSec) * time.Second,
			CSV:     opts,
			Meta:    meta,
		}, nil
	case "notion":
		if deps.Notion == nil {
			return nil, eris.Errorf("collect: source %s: notion token not configured", sc.Name)
		}
		return &NotionSource{Client: deps.Notion, DatabaseID: sc.DatabaseID, Status: sc.Status, Meta: meta}, nil
	}
	return nil, eris.Errorf("collect: source %s: unknown type %q", sc.Name, sc.Type)
}

// ExpandURL substitutes {keywords} and {location} with the query-escaped
// values from q.
func ExpandURL(raw string, q Query) string {
	return strings.NewReplacer(
		"{keywords}", url.QueryEscape(q.Keywords),
		"{location}", url.QueryEscape(q.Location),
	).Replace(raw)
}

// expandEnv resolves ${VAR} references so tokens stay out of the file.
func expandEnv(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = os.ExpandEnv(v)
	}
	return out
}
