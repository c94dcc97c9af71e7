package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/webimg/internal/config"
	"github.com/nao1215/webimg/internal/crawler"
	"github.com/nao1215/webimg/internal/database"
	"github.com/nao1215/webimg/internal/dedup"
	"github.com/nao1215/webimg/internal/log"
	"github.com/nao1215/webimg/internal/model"
	"github.com/nao1215/webimg/internal/render"
	"github.com/nao1215/webimg/internal/report"
	"github.com/nao1215/webimg/internal/transport"
)

// NewHarvestCmd creates the harvest command.
func NewHarvestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvest [flags] PAGE...",
		Short: "Collect the images of one or more web pages",
		Long: `Harvest renders each PAGE, scrolls it until no more content loads, and
stores every image it references in the output directory. Links to pages on
the same site are followed up to --depth hops.

Each image is downloaded directly when possible. SVG, WEBP, AVIF and HEIC
images are converted to PNG. When neither works, the image URL is opened in
the browser and captured as a screenshot.

Examples:
  # Harvest a single page and the pages it links to
  webimg harvest https://example.com/gallery

  # Only the start page, only large images
  webimg harvest -d 0 --min-size 800x600 https://example.com/

  # Stay under /blog/ and credit images to their page
  webimg harvest -b https://example.com/blog/ -p https://example.com/blog/

  # Without a browser, through Tor, with a Markdown credits report
  webimg harvest --no-browser --tor --markdown -r credits.md https://example.com/

Configuration file (.webimg.yaml) example:
  defaults:
    depth: 1
  sites:
    www.example.com:
      minSize: "1024x768"
      cookie: "session_id=abc123"
      ignorePatterns:
        - "/logout*"`,
		Args: cobra.ArbitraryArgs,
		RunE: runHarvestCmd,
	}

	// Output
	cmd.Flags().StringP("output", "o", config.DefaultOutputDir,
		"Directory receiving the images and manifest.json")

	// Crawl scope
	cmd.Flags().IntP("depth", "d", config.DefaultDepth,
		"Deepest link hop still rendered (start pages are depth 0)")
	cmd.Flags().StringP("base-url", "b", "",
		"Only follow links starting with this URL")
	cmd.Flags().String("min-size", "",
		"Skip images smaller than WIDTHxHEIGHT, e.g. 800x600")
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Timeout for each download, page load and screenshot")
	cmd.Flags().BoolP("use-page-url", "p", false,
		"Credit images to the page they were found on")
	cmd.Flags().Bool("full-query", false,
		"Keep query strings in credited URLs")
	cmd.Flags().IntP("concurrency", "n", config.DefaultConcurrency,
		"Images downloaded in parallel per page")
	cmd.Flags().Int("max-scrolls", config.DefaultMaxScrolls,
		"Maximum scrolls per page while waiting for lazy content")
	cmd.Flags().Duration("scroll-wait", config.DefaultScrollWait,
		"Pause after each scroll")
	cmd.Flags().Duration("max-duration", 0,
		"Stop the whole harvest after this long (0 means no limit)")

	// Rendering and network
	cmd.Flags().Bool("no-browser", false,
		"Fetch pages as static HTML instead of rendering them (no screenshots)")
	cmd.Flags().String("chrome-path", "",
		"Chrome or Chromium executable")
	cmd.Flags().Bool("show-browser", false,
		"Show the browser window")
	cmd.Flags().String("proxy", "",
		"SOCKS5 proxy address, e.g. 127.0.0.1:1080")
	cmd.Flags().Bool("tor", false,
		"Start an embedded Tor daemon and route all traffic through it")
	cmd.Flags().Duration("tor-timeout", config.DefaultTorStartupTimeout,
		"Timeout for embedded Tor startup")
	cmd.Flags().String("user-agent", "",
		"User agent for downloads and rendering")

	// Configuration file
	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .webimg.yaml in current or home directory)")

	// Report
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("report", "r", "",
		"Write report to specified file path (creates directories if needed)")

	// History
	cmd.Flags().Bool("no-db", false,
		"Do not record the run in the history database")
	cmd.Flags().String("db-dir", "",
		"History database directory (default: XDG data directory)")

	return cmd
}

// runHarvestCmd executes the harvest command.
func runHarvestCmd(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := buildConfig(cmd, args, os.LookupEnv)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal, stopping harvest")
			cancel()
		case <-ctx.Done():
		}
	}()

	if cfg.MaxDuration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, cfg.MaxDuration)
		defer stop()
	}

	return runHarvest(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg, logger)
}

// newLogger returns the progress logger. Logs always go to w, never to
// the report stream.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	if cfg.LogJSON {
		return log.NewSecureJSONLogger(w, cfg.Verbose)
	}
	return log.NewSecureLogger(w, cfg.Verbose)
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	return getPersistentBool(cmd, "verbose")
}

// getPersistentBool reads a root persistent flag from the command or the root.
func getPersistentBool(cmd *cobra.Command, name string) bool {
	v, err := cmd.Flags().GetBool(name)
	if err != nil {
		v, err = cmd.Root().PersistentFlags().GetBool(name)
		if err != nil {
			return false
		}
	}
	return v
}

// buildConfig creates a Config from defaults, the environment, the config
// file and the flags the user actually set, in that order of precedence.
func buildConfig(cmd *cobra.Command, args []string, lookup func(string) (string, bool)) (*config.Config, error) {
	cfg := config.NewConfig()
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	var err error

	if flags.Changed("output") {
		if cfg.OutputDir, err = flags.GetString("output"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("depth") {
		if cfg.Depth, err = flags.GetInt("depth"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("base-url") {
		if cfg.BaseURL, err = flags.GetString("base-url"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("min-size") {
		raw, err := flags.GetString("min-size")
		if err != nil {
			return nil, err
		}
		if cfg.MinSize, err = config.ParseMinSize(raw); err != nil {
			return nil, err
		}
	}
	if flags.Changed("timeout") {
		if cfg.Timeout, err = flags.GetDuration("timeout"); err != nil {
			return nil, err
		}
	}
	if cfg.UsePageURL, err = flags.GetBool("use-page-url"); err != nil {
		return nil, err
	}
	if cfg.IncludeFullQueryArgs, err = flags.GetBool("full-query"); err != nil {
		return nil, err
	}
	if flags.Changed("concurrency") {
		if cfg.Concurrency, err = flags.GetInt("concurrency"); err != nil {
			return nil, err
		}
	}
	if cfg.MaxScrolls, err = flags.GetInt("max-scrolls"); err != nil {
		return nil, err
	}
	if cfg.ScrollWait, err = flags.GetDuration("scroll-wait"); err != nil {
		return nil, err
	}
	if cfg.MaxDuration, err = flags.GetDuration("max-duration"); err != nil {
		return nil, err
	}

	if flags.Changed("no-browser") {
		if cfg.NoBrowser, err = flags.GetBool("no-browser"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("chrome-path") {
		if cfg.ChromePath, err = flags.GetString("chrome-path"); err != nil {
			return nil, err
		}
	}
	if cfg.ShowBrowser, err = flags.GetBool("show-browser"); err != nil {
		return nil, err
	}
	if flags.Changed("proxy") {
		if cfg.ProxyAddress, err = flags.GetString("proxy"); err != nil {
			return nil, err
		}
	}
	if cfg.UseTor, err = flags.GetBool("tor"); err != nil {
		return nil, err
	}
	if cfg.TorStartupTimeout, err = flags.GetDuration("tor-timeout"); err != nil {
		return nil, err
	}
	if flags.Changed("user-agent") {
		if cfg.UserAgent, err = flags.GetString("user-agent"); err != nil {
			return nil, err
		}
	}

	if cfg.ConfigFilePath, err = flags.GetString("config"); err != nil {
		return nil, err
	}
	// An explicit --config must exist; otherwise a missing file means no
	// per-site settings.
	configPath := config.FindConfigFile(cfg.ConfigFilePath)
	switch {
	case configPath != "":
		if cfg.SiteConfigs, err = config.LoadConfigFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	case cfg.ConfigFilePath != "":
		return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, cfg.ConfigFilePath)
	default:
		cfg.SiteConfigs = &config.File{Sites: make(map[string]config.SiteConfig)}
	}

	if cfg.JSONReport, err = flags.GetBool("json"); err != nil {
		return nil, err
	}
	if cfg.MarkdownReport, err = flags.GetBool("markdown"); err != nil {
		return nil, err
	}
	if cfg.ReportFile, err = flags.GetString("report"); err != nil {
		return nil, err
	}

	noDB, err := flags.GetBool("no-db")
	if err != nil {
		return nil, err
	}
	cfg.SaveToDB = !noDB
	if flags.Changed("db-dir") {
		if cfg.DBDir, err = flags.GetString("db-dir"); err != nil {
			return nil, err
		}
	}

	cfg.Verbose = getVerboseFlag(cmd)
	cfg.LogJSON = getPersistentBool(cmd, "log-json")
	cfg.Seeds = args
	cfg.ExplicitFlags = changedFlags(cmd)

	return cfg, nil
}

// changedFlags returns the names of the flags set on the command line.
func changedFlags(cmd *cobra.Command) map[string]bool {
	changed := make(map[string]bool)
	for _, name := range []string{"depth", "base-url", "min-size", "use-page-url"} {
		if cmd.Flags().Changed(name) {
			changed[name] = true
		}
	}
	return changed
}

// siteGroup is a set of seeds sharing one site configuration.
type siteGroup struct {
	key   string
	seeds []string
	site  config.SiteConfig
}

// groupSeeds groups seeds by site, in order of first appearance.
func groupSeeds(cfg *config.Config) []siteGroup {
	index := make(map[string]int)
	var groups []siteGroup
	for _, seed := range cfg.Seeds {
		key := config.SiteKey(seed)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, siteGroup{key: key, site: cfg.SiteConfigs.GetSiteConfig(seed)})
		}
		groups[i].seeds = append(groups[i].seeds, seed)
	}
	return groups
}

// siteScope applies the site settings to the global scope. Flags given on
// the command line win over the config file.
func siteScope(cfg *config.Config, site config.SiteConfig) (model.Scope, error) {
	scope, err := site.Apply(cfg.Scope())
	if err != nil {
		return scope, err
	}
	if cfg.ExplicitFlags["depth"] {
		scope.MaxDepth = cfg.Depth
	}
	if cfg.ExplicitFlags["base-url"] {
		scope.BaseURL = cfg.BaseURL
	}
	if cfg.ExplicitFlags["min-size"] {
		scope.MinSize = cfg.MinSize
	}
	if cfg.ExplicitFlags["use-page-url"] {
		scope.UsePageURL = cfg.UsePageURL
	}
	return scope, nil
}

// runHarvest harvests every site group, then writes the manifest, records
// the run and prints the report to out. Progress goes to progress so that
// out stays machine readable.
func runHarvest(ctx context.Context, out, progress io.Writer, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting harvest",
		"seeds", cfg.Seeds,
		"output", cfg.OutputDir,
		"depth", cfg.Depth,
		"browser", !cfg.NoBrowser,
	)

	if err := os.MkdirAll(cfg.OutputDir, 0o750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	proxyAddr := cfg.ProxyAddress
	if cfg.UseTor {
		embeddedTor, err := startEmbeddedTor(ctx, progress, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			logger.Info("stopping embedded Tor daemon")
			if err := embeddedTor.Stop(); err != nil {
				logger.Error("failed to stop embedded Tor", "error", err)
			}
		}()
		proxyAddr = embeddedTor.SocksAddr()
	} else if proxyAddr != "" {
		probe, err := transport.New(transport.Options{ProxyAddr: proxyAddr, Timeout: cfg.Timeout})
		if err != nil {
			return fmt.Errorf("invalid proxy: %w", err)
		}
		if err := probe.CheckProxy(ctx); err != nil {
			return fmt.Errorf("proxy check failed: %w (make sure a SOCKS5 proxy is running at %s)", err, proxyAddr)
		}
		logger.Info("proxy connection verified", "address", proxyAddr)
	}

	result := model.NewHarvestResult(nil)
	cache := dedup.New()
	for _, group := range groupSeeds(cfg) {
		if ctx.Err() != nil {
			result.Truncated = true
			break
		}
		fmt.Fprintf(progress, "Harvesting %s...\n", group.key)
		siteResult, err := harvestSite(ctx, cfg, group, proxyAddr, cache, logger)
		if err != nil {
			return err
		}
		result.Merge(siteResult)
	}
	result.FinishedAt = time.Now()

	fmt.Fprintf(progress, "Stored %d images in %s (%s)\n",
		result.Assets.Len(), cfg.OutputDir, result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))

	// The run may have been cut short; bookkeeping still has to finish.
	saveCtx := context.WithoutCancel(ctx)
	runID, seen := saveRun(saveCtx, cfg, result, logger)

	manifestPath, err := report.WriteManifest(cfg.OutputDir, runID, result)
	if err != nil {
		return err
	}
	logger.Debug("manifest written", "path", manifestPath)

	summary := report.NewSummary(result, cfg.OutputDir)
	summary.RunID = runID
	summary.Seen = seen
	return outputReport(out, cfg, summary)
}

// harvestSite renders one site group on its own surface. The dedup cache
// is shared across groups.
func harvestSite(ctx context.Context, cfg *config.Config, group siteGroup, proxyAddr string, cache *dedup.Set, logger *slog.Logger) (*model.HarvestResult, error) {
	scope, err := siteScope(cfg, group.site)
	if err != nil {
		return nil, fmt.Errorf("site %s: %w", group.key, err)
	}

	clientOpts := transport.Options{
		ProxyAddr: proxyAddr,
		Timeout:   cfg.Timeout,
		UserAgent: cfg.UserAgent,
		Cookie:    group.site.Cookie,
		Headers:   group.site.Headers,
	}

	var surface render.Surface
	if cfg.NoBrowser {
		client, err := transport.New(clientOpts)
		if err != nil {
			return nil, err
		}
		surface = render.NewStatic(client.HTTPClient())
	} else {
		browser, err := render.NewBrowser(ctx, render.BrowserOptions{
			ExecPath:   cfg.ChromePath,
			ProxyURL:   proxyURL(proxyAddr),
			UserAgent:  cfg.UserAgent,
			Timeout:    cfg.Timeout,
			ShowWindow: cfg.ShowBrowser,
			Headers:    browserHeaders(group.site),
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		// Downloads present the same user agent as the browser.
		clientOpts.UserAgent = browser.UserAgent()
		surface = browser
	}
	defer surface.Close() //nolint:errcheck // nothing to do on close failure

	client, err := transport.New(clientOpts)
	if err != nil {
		return nil, err
	}

	h := crawler.NewHarvester(surface, cfg.OutputDir,
		crawler.WithClient(client.HTTPClient()),
		crawler.WithCache(cache),
		crawler.WithMaxBytes(cfg.MaxBytes),
		crawler.WithIgnorePatterns(group.site.IgnorePatterns),
		crawler.WithFollowPatterns(group.site.FollowPatterns),
		crawler.WithLogger(logger.With("site", group.key)),
	)
	return h.Harvest(ctx, group.seeds, scope)
}

// proxyURL returns the browser proxy setting for a SOCKS5 address.
func proxyURL(addr string) string {
	if addr == "" {
		return ""
	}
	return "socks5://" + addr
}

// browserHeaders merges a site's cookie into its extra headers.
func browserHeaders(site config.SiteConfig) map[string]string {
	if site.Cookie == "" && len(site.Headers) == 0 {
		return nil
	}
	headers := maps.Clone(site.Headers)
	if headers == nil {
		headers = make(map[string]string, 1)
	}
	if site.Cookie != "" {
		headers["Cookie"] = site.Cookie
	}
	return headers
}

// saveRun records result in the history database and returns the run ID
// and the assets already stored by earlier runs. Failures are logged; the
// harvest itself has succeeded at this point.
func saveRun(ctx context.Context, cfg *config.Config, result *model.HarvestResult, logger *slog.Logger) (string, []report.Seen) {
	if !cfg.SaveToDB {
		return "", nil
	}

	db, err := database.Open(cfg.DBDir, database.DefaultOptions())
	if err != nil {
		logger.Error("failed to open history database", "dir", cfg.DBDir, "error", err)
		return "", nil
	}
	defer db.Close()

	outputDir, err := filepath.Abs(cfg.OutputDir)
	if err != nil {
		outputDir = cfg.OutputDir
	}
	runID, err := db.SaveRun(ctx, outputDir, result)
	if err != nil {
		logger.Error("failed to save run", "error", err)
		return "", nil
	}
	logger.Info("run saved to history database", "run_id", runID)

	dups, err := db.FindDuplicates(ctx, runID)
	if err != nil {
		logger.Warn("failed to look up earlier copies", "error", err)
		return runID, nil
	}
	return runID, toSeen(dups)
}

// toSeen converts database duplicates to their report form.
func toSeen(dups []database.Duplicate) []report.Seen {
	seen := make([]report.Seen, 0, len(dups))
	for _, d := range dups {
		seen = append(seen, report.Seen{
			Filename:         d.Filename,
			PreviousRunID:    d.PreviousRunID,
			PreviousFilename: d.PreviousFilename,
		})
	}
	return seen
}

// outputReport writes the summary in the requested format.
func outputReport(out io.Writer, cfg *config.Config, summary *report.Summary) error {
	output := out
	if cfg.ReportFile != "" {
		dir := filepath.Dir(cfg.ReportFile)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return fmt.Errorf("failed to create report directory: %w", err)
			}
		}

		f, err := os.OpenFile(cfg.ReportFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return fmt.Errorf("failed to create report file: %w", err)
		}
		defer f.Close()
		output = f
	}

	var w report.Writer
	switch {
	case cfg.JSONReport:
		w = report.NewJSONWriter(output, report.WithPrettyPrint())
	case cfg.MarkdownReport:
		w = report.NewMarkdownWriter(output)
	default:
		w = report.NewSimpleWriter(output, report.WithVerbose(cfg.Verbose))
	}
	if _, err := w.Write(summary); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// startEmbeddedTor starts an embedded Tor daemon and verifies its proxy.
func startEmbeddedTor(ctx context.Context, out io.Writer, cfg *config.Config, logger *slog.Logger) (*transport.EmbeddedTor, error) {
	fmt.Fprintln(out, "Starting embedded Tor daemon...")
	fmt.Fprintf(out, "This may take 1-3 minutes while Tor bootstraps and connects to the network.\n\n")

	embeddedTor := transport.NewEmbeddedTor(transport.WithStartupTimeout(cfg.TorStartupTimeout))
	if err := embeddedTor.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start embedded Tor: %w", err)
	}

	client, err := embeddedTor.NewClient(transport.Options{Timeout: cfg.Timeout})
	if err != nil {
		_ = embeddedTor.Stop() //nolint:errcheck // best effort cleanup
		return nil, fmt.Errorf("failed to create Tor client: %w", err)
	}
	if err := client.CheckProxy(ctx); err != nil {
		_ = embeddedTor.Stop() //nolint:errcheck // best effort cleanup
		if errors.Is(err, transport.ErrProxyNotSOCKS5) {
			return nil, fmt.Errorf("embedded Tor proxy check failed: %w", err)
		}
		return nil, fmt.Errorf("embedded Tor is unreachable: %w", err)
	}

	logger.Info("embedded Tor daemon started", "socks_addr", embeddedTor.SocksAddr())
	fmt.Fprintf(out, "SOCKS proxy: %s\n\n", embeddedTor.SocksAddr())
	return embeddedTor, nil
}
