package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/gitmarks/internal/models"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App            ApplicationConfig `yaml:"app"`
	SQLite         SQLiteConfig      `yaml:"sqlite"`
	Auth           AuthConfig        `yaml:"auth"`
	Git            GitConfig         `yaml:"git"`
	Repos          []RepoConfig      `yaml:"repos"`
	IgnorePatterns []string          `yaml:"ignore_patterns"`
	Watch          WatchConfig       `yaml:"watch"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Git.Validate(); err != nil {
		return err
	}
	if err := c.Watch.Validate(); err != nil {
		return err
	}
	if err := validation.Validate(c.IgnorePatterns, validation.Each(validation.By(validPattern))); err != nil {
		return fmt.Errorf("ignore_patterns: %w", err)
	}
	return c.validateRepos()
}

func (c *Config) validateRepos() error {
	if len(c.Repos) == 0 {
		return errors.New("repos: at least one repository is required")
	}
	seen := make(map[string]bool, len(c.Repos))
	defaults := 0
	for i := range c.Repos {
		r := &c.Repos[i]
		if err := r.Validate(); err != nil {
			return fmt.Errorf("repos[%d]: %w", i, err)
		}
		id := r.Owner + "/" + r.Name
		if seen[id] {
			return fmt.Errorf("repos[%d]: duplicate repository %s", i, id)
		}
		seen[id] = true
		if r.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return errors.New("repos: more than one default repository")
	}
	return nil
}

func validPattern(v interface{}) error {
	p, _ := v.(string)
	if !doublestar.ValidatePattern(p) {
		return fmt.Errorf("invalid pattern %q", p)
	}
	return nil
}

// Models converts the configured repositories to domain repositories with
// unknown verification status.
func (c *Config) Models() []models.Repo {
	out := make([]models.Repo, len(c.Repos))
	for i, r := range c.Repos {
		m := models.NewRepo(r.Owner, r.Name, r.Branch)
		m.Path = r.Path
		m.Enabled = r.IsEnabled()
		m.Default = r.Default
		out[i] = m
	}
	return out
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// GitConfig holds commit and fetch settings shared by all repositories.
// ForcePush moves a branch even when it advanced since the last reload,
// dropping the remote commits from the branch history. FetchConcurrency
// bounds parallel blob reads per repository.
type GitConfig struct {
	AuthorName       string `yaml:"author_name"`
	AuthorEmail      string `yaml:"author_email"`
	MaxTreeEntries   int    `yaml:"max_tree_entries"`
	FetchConcurrency int    `yaml:"fetch_concurrency"`
	ForcePush        bool   `yaml:"force_push"`
}

// Validate validates the git configuration.
func (c *GitConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.AuthorName, validation.Required),
		validation.Field(&c.AuthorEmail, validation.Required),
		validation.Field(&c.MaxTreeEntries, validation.Min(0)),
		validation.Field(&c.FetchConcurrency, validation.Min(0), validation.Max(64)),
	)
}

// RepoConfig describes one repository. Path is the local git directory the
// repository is stored in.
type RepoConfig struct {
	Owner   string `yaml:"owner"`
	Name    string `yaml:"name"`
	Branch  string `yaml:"branch"`
	Path    string `yaml:"path"`
	Enabled *bool  `yaml:"enabled"`
	Default bool   `yaml:"default"`
}

// Validate validates the repository configuration. An empty branch
// defaults to "main".
func (c *RepoConfig) Validate() error {
	if c.Branch == "" {
		c.Branch = "main"
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Owner, validation.Required, validation.By(noSlash)),
		validation.Field(&c.Name, validation.Required, validation.By(noSlash)),
		validation.Field(&c.Path, validation.Required),
	)
}

// IsEnabled reports whether the repository takes part in reloads. Absent
// means enabled.
func (c *RepoConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

func noSlash(v interface{}) error {
	s, _ := v.(string)
	for _, r := range s {
		if r == '/' || r == ':' {
			return errors.New("must not contain '/' or ':'")
		}
	}
	return nil
}

// WatchConfig controls reloading when a repository's branch moves on disk.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// Validate validates the watch configuration.
func (c *WatchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Min(time.Duration(0))),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		SQLite: SQLiteConfig{
			Path: "./gitmarks.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Git: GitConfig{
			AuthorName:       "gitmarks",
			AuthorEmail:      "gitmarks@localhost",
			FetchConcurrency: 4,
			ForcePush:        true,
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: 500 * time.Millisecond,
		},
	}
}
