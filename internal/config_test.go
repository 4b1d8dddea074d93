package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgconfig "github.com/starford/gitmarks/pkg/config"
)

func validConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.Repos = []RepoConfig{{Owner: "alice", Name: "notes", Path: "/srv/git/notes.git"}}
	return cfg
}

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestConfig_Repos(t *testing.T) {
	off := false
	tests := []struct {
		name    string
		repos   []RepoConfig
		wantErr string
	}{
		{"none", nil, "at least one"},
		{"missing path", []RepoConfig{{Owner: "a", Name: "b"}}, "Path"},
		{"slash in name", []RepoConfig{{Owner: "a", Name: "b/c", Path: "/x"}}, "Name"},
		{"duplicate", []RepoConfig{{Owner: "a", Name: "b", Path: "/x"}, {Owner: "a", Name: "b", Path: "/y"}}, "duplicate"},
		{"two defaults", []RepoConfig{{Owner: "a", Name: "b", Path: "/x", Default: true}, {Owner: "a", Name: "c", Path: "/y", Default: true}}, "default"},
		{"ok", []RepoConfig{{Owner: "a", Name: "b", Path: "/x"}, {Owner: "a", Name: "c", Path: "/y", Enabled: &off}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			cfg.Repos = tt.repos
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Models(t *testing.T) {
	off := false
	cfg := NewDefaultConfig()
	cfg.Repos = []RepoConfig{
		{Owner: "alice", Name: "notes", Path: "/x", Default: true},
		{Owner: "alice", Name: "old", Branch: "master", Path: "/y", Enabled: &off},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	repos := cfg.Models()
	if repos[0].ID() != "alice/notes" || repos[0].Branch != "main" || !repos[0].Enabled || !repos[0].Default {
		t.Errorf("repo 0 = %+v", repos[0])
	}
	if repos[1].Branch != "master" || repos[1].Enabled || repos[1].Path != "/y" {
		t.Errorf("repo 1 = %+v", repos[1])
	}
	if repos[0].Key == "" || repos[0].Key == repos[1].Key {
		t.Errorf("keys = %q, %q", repos[0].Key, repos[1].Key)
	}
}

func TestConfig_IgnorePatterns(t *testing.T) {
	cfg := validConfig()
	cfg.IgnorePatterns = []string{"**/*.tmp", "drafts/**"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid patterns: %v", err)
	}
	cfg.IgnorePatterns = []string{"[unclosed"}
	if err := cfg.Validate(); err == nil {
		t.Error("invalid pattern accepted")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("GITMARKS_TEST_TOKEN", "s3cret")
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
app:
  log_level: debug
  http:
    port: 9090
sqlite:
  path: /tmp/gitmarks.db
auth:
  mode: token
  token: ${GITMARKS_TEST_TOKEN}
git:
  author_name: Alice
  author_email: alice@example.com
  force_push: false
repos:
  - owner: alice
    name: notes
    path: /srv/git/notes.git
ignore_patterns: ["**/.DS_Store"]
watch:
  enabled: true
  debounce: 2s
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.Token != "s3cret" || !cfg.Auth.AuthEnabled() {
		t.Errorf("auth = %+v", cfg.Auth)
	}
	if cfg.App.HTTP.Port != 9090 || cfg.Watch.Debounce != 2*time.Second {
		t.Errorf("port = %d, debounce = %v", cfg.App.HTTP.Port, cfg.Watch.Debounce)
	}
	if cfg.Git.ForcePush || cfg.Git.AuthorName != "Alice" {
		t.Errorf("git = %+v", cfg.Git)
	}
	if len(cfg.Repos) != 1 || cfg.Repos[0].Branch != "main" {
		t.Errorf("repos = %+v", cfg.Repos)
	}
}
