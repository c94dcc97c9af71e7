package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nao1215/webimg/internal/config"
	"github.com/nao1215/webimg/internal/report"
)

// newTestSite serves two linked pages with one image each, plus an image
// shared by both pages.
func newTestSite(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `<html><body><img src="/img/cat.png"><a href="/page2">next</a></body></html>`)
	})
	mux.HandleFunc("/page2", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><img src="/img/dog.png"><img src="/img/cat.png"></body></html>`)
	})
	mux.HandleFunc("/img/cat.png", pngHandler(20, 10))
	mux.HandleFunc("/img/dog.png", pngHandler(30, 15))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func pngHandler(w, h int) http.HandlerFunc {
	return func(rw http.ResponseWriter, _ *http.Request) {
		rw.Header().Set("Content-Type", "image/png")
		_ = png.Encode(rw, image.NewRGBA(image.Rect(0, 0, w, h))) //nolint:errcheck // test server
	}
}

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// writeConfig writes a config file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), config.DefaultConfigFile)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestHarvestCmd_EndToEnd(t *testing.T) {
	t.Parallel()

	srv := newTestSite(t)
	dbDir := t.TempDir()
	cfgPath := writeConfig(t, "defaults:\n  depth: 1\n")

	harvest := func(outDir string, extra ...string) *report.Summary {
		t.Helper()

		args := append([]string{
			"harvest", "--no-browser", "--json",
			"--db-dir", dbDir,
			"--config", cfgPath,
			"-o", outDir,
		}, extra...)
		args = append(args, srv.URL+"/")

		stdout, stderr, err := execute(t, args...)
		if err != nil {
			t.Fatalf("harvest failed: %v\n%s", err, stderr)
		}
		var summary report.Summary
		if err := json.Unmarshal([]byte(stdout), &summary); err != nil {
			t.Fatalf("expected JSON report, got %q: %v", stdout, err)
		}
		return &summary
	}

	firstDir := filepath.Join(t.TempDir(), "first")
	first := harvest(firstDir)

	if first.PagesVisited != 2 {
		t.Errorf("expected 2 pages, got %d", first.PagesVisited)
	}
	if len(first.Assets) != 2 {
		t.Fatalf("expected 2 assets, got %+v", first.Assets)
	}
	if first.RunID == "" {
		t.Error("expected the run to be recorded")
	}
	if len(first.Seen) != 0 {
		t.Errorf("expected nothing seen before, got %+v", first.Seen)
	}

	data, err := os.ReadFile(filepath.Join(firstDir, report.ManifestFile))
	if err != nil {
		t.Fatalf("expected manifest: %v", err)
	}
	var manifest struct {
		Assets map[string]string `json:"assets"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		t.Fatal(err)
	}
	if manifest.Assets["cat.png"] != srv.URL+"/img/cat.png" || manifest.Assets["dog.png"] != srv.URL+"/img/dog.png" {
		t.Errorf("unexpected manifest %v", manifest.Assets)
	}
	for _, name := range []string{"cat.png", "dog.png"} {
		if _, err := os.Stat(filepath.Join(firstDir, name)); err != nil {
			t.Errorf("expected %s on disk: %v", name, err)
		}
	}

	// A second run into another directory finds the same content.
	second := harvest(filepath.Join(t.TempDir(), "second"), "-p")
	if len(second.Seen) != 2 {
		t.Errorf("expected 2 previously seen assets, got %+v", second.Seen)
	}
	for _, line := range second.Assets {
		if !strings.HasPrefix(line.AttributionURL, srv.URL+"/") || strings.Contains(line.AttributionURL, "/img/") {
			t.Errorf("expected page attribution, got %q", line.AttributionURL)
		}
	}

	t.Run("history lists both runs", func(t *testing.T) {
		stdout, _, err := execute(t, "history", "--db-dir", dbDir)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(stdout, "Harvest runs (2)") {
			t.Errorf("expected 2 runs, got:\n%s", stdout)
		}
		if !strings.Contains(stdout, first.RunID[:8]) || !strings.Contains(stdout, second.RunID[:8]) {
			t.Errorf("expected run IDs, got:\n%s", stdout)
		}
	})

	t.Run("history shows one run", func(t *testing.T) {
		stdout, _, err := execute(t, "history", "--db-dir", dbDir, second.RunID[:8])
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, want := range []string{second.RunID, "cat.png", "Already stored by earlier runs (2)"} {
			if !strings.Contains(stdout, want) {
				t.Errorf("expected output to contain %q, got:\n%s", want, stdout)
			}
		}
	})

	t.Run("history as JSON", func(t *testing.T) {
		stdout, _, err := execute(t, "history", "--db-dir", dbDir, "--json", first.RunID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var detail struct {
			Run struct {
				ID string `json:"id"`
			} `json:"run"`
			Assets []struct {
				Filename string `json:"filename"`
				Digest   string `json:"digest"`
			} `json:"assets"`
		}
		if err := json.Unmarshal([]byte(stdout), &detail); err != nil {
			t.Fatalf("invalid JSON %q: %v", stdout, err)
		}
		if detail.Run.ID != first.RunID || len(detail.Assets) != 2 {
			t.Errorf("unexpected detail %+v", detail)
		}
		if detail.Assets[0].Digest == "" {
			t.Error("expected stored digest")
		}
	})
}

func TestHarvestCmd_TextReportToFile(t *testing.T) {
	t.Parallel()

	srv := newTestSite(t)
	outDir := t.TempDir()
	reportPath := filepath.Join(t.TempDir(), "reports", "credits.md")

	stdout, stderr, err := execute(t,
		"harvest", "--no-browser", "--no-db", "--markdown",
		"--config", writeConfig(t, "sites: {}\n"),
		"-d", "0", "-r", reportPath, "-o", outDir, srv.URL+"/",
	)
	if err != nil {
		t.Fatalf("harvest failed: %v\n%s", err, stderr)
	}
	if stdout != "" {
		t.Errorf("expected nothing on stdout, got %q", stdout)
	}
	if !strings.Contains(stderr, "Harvesting ") {
		t.Errorf("expected progress on stderr, got %q", stderr)
	}

	content, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("expected report file: %v", err)
	}
	if !strings.Contains(string(content), "### "+srv.URL+"/img/cat.png") {
		t.Errorf("expected cat group in report, got:\n%s", content)
	}
	if strings.Contains(string(content), "dog.png") {
		t.Error("expected depth 0 to skip the linked page")
	}
}

func TestHarvestCmd_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		wantErr error
	}{
		{name: "no pages", args: []string{"harvest", "--no-db"}, wantErr: config.ErrNoTarget},
		{name: "invalid page", args: []string{"harvest", "--no-db", "not a url"}, wantErr: config.ErrInvalidTarget},
		{name: "negative depth", args: []string{"harvest", "--no-db", "-d", "-1", "https://example.com/"}, wantErr: config.ErrInvalidDepth},
		{name: "bad min size", args: []string{"harvest", "--no-db", "--min-size", "big", "https://example.com/"}, wantErr: config.ErrInvalidMinSize},
		{name: "two report formats", args: []string{"harvest", "--no-db", "--json", "--markdown", "https://example.com/"}, wantErr: config.ErrConflictingReportFormats},
		{name: "proxy and tor", args: []string{"harvest", "--no-db", "--tor", "--proxy", "127.0.0.1:9050", "https://example.com/"}, wantErr: config.ErrConflictingProxy},
		{name: "missing config file", args: []string{"harvest", "--no-db", "-c", "/nonexistent/.webimg.yaml", "https://example.com/"}, wantErr: config.ErrConfigNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, _, err := execute(t, tt.args...)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestBuildConfig(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfig(t, "sites: {}\n")

	build := func(t *testing.T, env map[string]string, args ...string) *config.Config {
		t.Helper()

		cmd := NewHarvestCmd()
		if err := cmd.ParseFlags(append([]string{"--config", cfgPath}, args...)); err != nil {
			t.Fatal(err)
		}
		cfg, err := buildConfig(cmd, cmd.Flags().Args(), config.MapLookup(env))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return cfg
	}

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()

		cfg := build(t, nil, "https://example.com/")
		if cfg.OutputDir != config.DefaultOutputDir || cfg.Depth != config.DefaultDepth {
			t.Errorf("unexpected defaults %+v", cfg)
		}
		if !cfg.SaveToDB || cfg.NoBrowser || cfg.MinSize != nil {
			t.Errorf("unexpected defaults %+v", cfg)
		}
		if len(cfg.Seeds) != 1 || len(cfg.ExplicitFlags) != 0 {
			t.Errorf("unexpected seeds or flags %v %v", cfg.Seeds, cfg.ExplicitFlags)
		}
	})

	t.Run("environment overrides defaults", func(t *testing.T) {
		t.Parallel()

		env := map[string]string{"WEBIMG_DEPTH": "3", "WEBIMG_OUTPUT": "from-env", "WEBIMG_NO_BROWSER": "true"}
		cfg := build(t, env, "https://example.com/")
		if cfg.Depth != 3 || cfg.OutputDir != "from-env" || !cfg.NoBrowser {
			t.Errorf("expected environment values, got %+v", cfg)
		}
	})

	t.Run("flags override environment", func(t *testing.T) {
		t.Parallel()

		env := map[string]string{"WEBIMG_DEPTH": "3", "WEBIMG_MIN_SIZE": "10x10"}
		cfg := build(t, env, "-d", "0", "--min-size", "800x600", "--no-db", "-p", "https://example.com/")
		if cfg.Depth != 0 {
			t.Errorf("expected depth 0, got %d", cfg.Depth)
		}
		if cfg.MinSize == nil || cfg.MinSize.Width != 800 || cfg.MinSize.Height != 600 {
			t.Errorf("expected 800x600, got %v", cfg.MinSize)
		}
		if cfg.SaveToDB || !cfg.UsePageURL {
			t.Errorf("expected --no-db and -p to apply, got %+v", cfg)
		}
		if !cfg.ExplicitFlags["depth"] || !cfg.ExplicitFlags["min-size"] || !cfg.ExplicitFlags["use-page-url"] {
			t.Errorf("expected explicit flags, got %v", cfg.ExplicitFlags)
		}
	})
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	t.Run("log-json flag selects JSON lines", func(t *testing.T) {
		t.Parallel()

		cmd, _, err := NewRootCmd().Find([]string{"harvest"})
		if err != nil {
			t.Fatal(err)
		}
		cfgPath := writeConfig(t, "sites: {}\n")
		if err := cmd.ParseFlags([]string{"--config", cfgPath, "--log-json", "-v", "https://example.com/"}); err != nil {
			t.Fatal(err)
		}
		cfg, err := buildConfig(cmd, cmd.Flags().Args(), config.MapLookup(nil))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !cfg.LogJSON || !cfg.Verbose {
			t.Fatalf("expected --log-json and -v to apply, got %+v", cfg)
		}

		var buf bytes.Buffer
		newLogger(&buf, cfg).Debug("fetch", "url", "https://example.com/a.png", "cookie", "session=1")

		output := buf.String()
		if !strings.HasPrefix(output, "{") {
			t.Errorf("expected JSON output, got %q", output)
		}
		if strings.Contains(output, "session=1") {
			t.Errorf("expected cookie to be masked, got %q", output)
		}
	})

	t.Run("text by default", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		newLogger(&buf, config.NewConfig()).Info("harvest started")
		if strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), "msg=\"harvest started\"") {
			t.Errorf("expected text output, got %q", buf.String())
		}
	})
}

func TestSiteScope(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfig(t, `
defaults:
  minSize: "100x100"
sites:
  www.example.com:
    depth: 3
    baseUrl: "https://www.example.com/blog/"
    cookie: "session=1"
    ignorePatterns:
      - "/logout*"
`)

	cmd := NewHarvestCmd()
	if err := cmd.ParseFlags([]string{"--config", cfgPath, "-d", "0", "https://www.example.com/blog/", "https://other.test/"}); err != nil {
		t.Fatal(err)
	}
	cfg, err := buildConfig(cmd, cmd.Flags().Args(), config.MapLookup(nil))
	if err != nil {
		t.Fatal(err)
	}

	groups := groupSeeds(cfg)
	if len(groups) != 2 || groups[0].key != "www.example.com" || groups[1].key != "other.test" {
		t.Fatalf("unexpected groups %+v", groups)
	}

	scope, err := siteScope(cfg, groups[0].site)
	if err != nil {
		t.Fatal(err)
	}
	if scope.MaxDepth != 0 {
		t.Errorf("expected the depth flag to win, got %d", scope.MaxDepth)
	}
	if scope.BaseURL != "https://www.example.com/blog/" {
		t.Errorf("expected site base URL, got %q", scope.BaseURL)
	}
	if scope.MinSize == nil || scope.MinSize.Width != 100 {
		t.Errorf("expected default min size, got %v", scope.MinSize)
	}
	if len(groups[0].site.IgnorePatterns) != 1 {
		t.Errorf("expected site patterns, got %v", groups[0].site.IgnorePatterns)
	}

	other, err := siteScope(cfg, groups[1].site)
	if err != nil {
		t.Fatal(err)
	}
	if other.BaseURL != "" || other.MinSize == nil {
		t.Errorf("expected defaults only for other site, got %+v", other)
	}
}

func TestGroupSeeds(t *testing.T) {
	t.Parallel()

	cfg := config.NewConfig()
	cfg.Seeds = []string{"https://a.test/1", "https://b.test/", "https://A.test/2", "https://a.test:8443/"}

	groups := groupSeeds(cfg)
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %+v", groups)
	}
	if len(groups[0].seeds) != 2 || groups[0].seeds[1] != "https://A.test/2" {
		t.Errorf("expected hosts to group case-insensitively, got %+v", groups[0])
	}
	if groups[2].key != "a.test:8443" {
		t.Errorf("expected port to split groups, got %q", groups[2].key)
	}
}

func TestBrowserHeaders(t *testing.T) {
	t.Parallel()

	if h := browserHeaders(config.SiteConfig{}); h != nil {
		t.Errorf("expected nil headers, got %v", h)
	}

	site := config.SiteConfig{Cookie: "a=1", Headers: map[string]string{"X-Test": "yes"}}
	h := browserHeaders(site)
	if h["Cookie"] != "a=1" || h["X-Test"] != "yes" {
		t.Errorf("unexpected headers %v", h)
	}
	if _, ok := site.Headers["Cookie"]; ok {
		t.Error("expected site headers to be left untouched")
	}
}

func TestProxyURL(t *testing.T) {
	t.Parallel()

	if proxyURL("") != "" {
		t.Error("expected empty proxy URL")
	}
	if got := proxyURL("127.0.0.1:9050"); got != "socks5://127.0.0.1:9050" {
		t.Errorf("unexpected proxy URL %q", got)
	}
}
