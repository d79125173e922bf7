// Package main provides the entry point for the bookvox CLI application.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/dgnsrekt/bookvox/internal/assemble"
	"github.com/dgnsrekt/bookvox/internal/cache"
	"github.com/dgnsrekt/bookvox/internal/chapters"
	"github.com/dgnsrekt/bookvox/internal/ebook"
	"github.com/dgnsrekt/bookvox/internal/job"
	"github.com/dgnsrekt/bookvox/internal/synth"
	"github.com/dgnsrekt/bookvox/ui"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile    string
	outputPath    string
	engineName    string
	voiceName     string
	language      string
	speakingRate  float64
	maxChars      int
	workers       int
	forceOCR      bool
	partialOutput bool
	chaptersFile  string
	workDir       string
	noCache       bool
	plainOutput   bool

	rootCmd = &cobra.Command{
		Use:   "bookvox [EBOOK]",
		Short: "Turn ebooks into audiobooks on the CLI",
		Long: paragraph(
			fmt.Sprintf("\nRead an EPUB, PDF or plain-text book %s as a chaptered audiobook.", keyword("out loud")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.MaximumNArgs(1),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return runConvert(cmd.Context(), args[0])
		},
	}
)

// envOverrides are runtime switches read from the environment, mostly for
// debugging a conversion without touching the config file.
type envOverrides struct {
	Debug bool `env:"BOOKVOX_DEBUG"`
	NoTUI bool `env:"BOOKVOX_NO_TUI"`
}

func validateOptions(cmd *cobra.Command) error {
	engineName = viper.GetString("engine")
	voiceName = viper.GetString("voice")
	language = viper.GetString("language")
	speakingRate = viper.GetFloat64("rate")
	workers = viper.GetInt("workers")
	partialOutput = viper.GetBool("partial_output")

	if !contains(synth.Names(), engineName) {
		return fmt.Errorf("unknown engine %q (available: %s)", engineName, strings.Join(synth.Names(), ", "))
	}
	if speakingRate < 0.1 || speakingRate > 3.0 {
		return fmt.Errorf("rate must be between 0.1 and 3.0, got %.2f", speakingRate)
	}
	if maxChars < 0 {
		return fmt.Errorf("max-chars must not be negative, got %d", maxChars)
	}
	if cmd.Flags().Changed("rate") {
		viper.Set("rate", speakingRate)
	}
	return nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// defaultOutputPath derives the container path from the source when --output
// is not given.
func defaultOutputPath(source string) string {
	base := filepath.Base(source)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".m4b"
}

// loadChapterEdits reads a chapter edit list from a JSON file.
func loadChapterEdits(path string) ([]chapters.Edit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read chapter edits: %w", err)
	}
	var edits []chapters.Edit
	if err := json.Unmarshal(data, &edits); err != nil {
		return nil, fmt.Errorf("unable to parse chapter edits: %w", err)
	}
	return edits, nil
}

func expandPath(path string) string {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return path
	}
	return expanded
}

func voiceConfig() synth.VoiceConfig {
	return synth.VoiceConfig{Voice: voiceName, Language: language, Rate: speakingRate}
}

// buildEngine opens the configured synthesis backend from flags and config.
func buildEngine() (synth.Engine, error) {
	opts := synth.Options{
		PiperBinary:     viper.GetString("piper.binary"),
		PiperModel:      expandPath(viper.GetString("piper.model")),
		PiperConfigPath: expandPath(viper.GetString("piper.config")),
		GTTSBinary:      viper.GetString("gtts.binary"),
		FFmpegBinary:    viper.GetString("ffmpeg.binary"),
		SampleRate:      viper.GetInt("sample_rate"),
		Timeout:         viper.GetDuration("synth_timeout"),
	}
	return synth.Open(engineName, opts)
}

// buildExtractor wires the text extractor with OCR when tesseract is
// reachable. A missing OCR binary is only fatal when OCR was demanded.
func buildExtractor() (*ebook.Extractor, error) {
	extractor := &ebook.Extractor{
		ForceOCR: forceOCR,
		Logger:   log.Default(),
	}
	ocrClient, err := ebook.NewOCRClient(ebook.OCRConfig{
		Binary:   viper.GetString("ocr.binary"),
		Language: viper.GetString("ocr.language"),
	})
	if err != nil {
		if forceOCR {
			return nil, fmt.Errorf("--force-ocr requires a working OCR binary: %w", err)
		}
		log.Debug("OCR unavailable, scanned pages will be skipped", "err", err)
	} else {
		extractor.OCR = ocrClient
	}
	return extractor, nil
}

func runConvert(ctx context.Context, source string) error {
	overrides, err := env.ParseAs[envOverrides]()
	if err != nil {
		return fmt.Errorf("error parsing environment: %w", err)
	}
	if overrides.Debug {
		log.SetLevel(log.DebugLevel)
	}

	source = expandPath(source)
	if _, err := os.Stat(source); err != nil {
		return fmt.Errorf("unable to open book: %w", err)
	}
	if outputPath == "" {
		outputPath = defaultOutputPath(source)
	}

	engine, err := buildEngine()
	if err != nil {
		return err
	}
	extractor, err := buildExtractor()
	if err != nil {
		return err
	}
	muxer, err := assemble.NewMuxer(viper.GetString("ffmpeg.binary"), 0)
	if err != nil {
		return fmt.Errorf("ffmpeg is required for output assembly: %w", err)
	}

	var edits []chapters.Edit
	if chaptersFile != "" {
		edits, err = loadChapterEdits(chaptersFile)
		if err != nil {
			return err
		}
	}

	jobWorkDir := workDir
	if jobWorkDir == "" {
		jobWorkDir, err = os.MkdirTemp("", "bookvox-*")
		if err != nil {
			return fmt.Errorf("unable to create work directory: %w", err)
		}
		defer os.RemoveAll(jobWorkDir)
	}

	cfg := job.Config{
		Source:        source,
		Output:        outputPath,
		WorkDir:       jobWorkDir,
		Engine:        engine,
		Voice:         voiceConfig(),
		Extractor:     extractor,
		Edits:         edits,
		MaxChars:      maxChars,
		Workers:       workers,
		PartialOutput: partialOutput,
		Muxer:         muxer,
		Logger:        log.Default(),
	}

	if !noCache {
		cacheDir, cerr := resolveCacheDir()
		if cerr != nil {
			log.Warn("fragment cache disabled", "err", cerr)
		} else {
			maxBytes := int64(viper.GetInt("cache.max_size_mb")) * 1024 * 1024
			fragCache, cerr := cache.Open(cacheDir, maxBytes, viper.GetInt("cache.compression"))
			if cerr != nil {
				log.Warn("fragment cache disabled", "err", cerr)
			} else {
				defer fragCache.Close() //nolint:errcheck
				cfg.Cache = fragCache
				if ledger, lerr := job.OpenLedger(filepath.Join(cacheDir, "resume.db")); lerr == nil {
					defer ledger.Close() //nolint:errcheck
					cfg.Ledger = ledger
				} else {
					log.Debug("resume ledger unavailable", "err", lerr)
				}
			}
		}
	}

	controller, err := job.New(cfg)
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		<-sigs
		controller.Cancel()
	}()

	interactive := term.IsTerminal(int(os.Stdout.Fd())) && !plainOutput && !overrides.NoTUI
	if !interactive {
		return reportResult(controller.Run(ctx))
	}

	// TUI mode: the job runs on its own goroutine while the progress view
	// owns the terminal.
	log.SetOutput(logFileOrDiscard())
	type runOutcome struct {
		result *job.Result
		err    error
	}
	outcome := make(chan runOutcome, 1)
	go func() {
		result, err := controller.Run(ctx)
		outcome <- runOutcome{result, err}
	}()

	program := tea.NewProgram(ui.NewConvertModel(controller, filepath.Base(source)))
	if _, err := program.Run(); err != nil {
		controller.Cancel()
		<-outcome
		return fmt.Errorf("unable to run progress view: %w", err)
	}
	o := <-outcome
	log.SetOutput(os.Stderr)
	return reportResult(o.result, o.err)
}

// reportResult prints the final job outcome in CLI terms.
func reportResult(result *job.Result, err error) error {
	if errors.Is(err, job.ErrCancelled) {
		if result != nil && result.Partial {
			fmt.Printf("Cancelled. Partial audiobook written to %s (%d chapters).\n",
				result.Output, len(result.Markers))
			return nil
		}
		return errors.New("conversion cancelled")
	}
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %s (%d chapters", result.Output, len(result.Markers))
	if n := len(result.Skipped); n > 0 {
		fmt.Printf(", %d utterances replaced with silence", n)
	}
	fmt.Printf(") in %s.\n", result.Duration.Round(time.Second))
	return nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().StringVarP(&outputPath, "output", "o", "", "output file (default SOURCE.m4b)")
	rootCmd.PersistentFlags().StringVarP(&engineName, "engine", "e", "piper", "speech engine (piper/gtts/mock)")
	rootCmd.PersistentFlags().StringVar(&voiceName, "voice", "", "voice or speaker identifier")
	rootCmd.PersistentFlags().StringVarP(&language, "language", "l", "en", "language code for network engines")
	rootCmd.PersistentFlags().Float64VarP(&speakingRate, "rate", "r", 1.0, "speaking rate multiplier")
	rootCmd.PersistentFlags().IntVar(&maxChars, "max-chars", 0, "utterance size limit (0 = engine default)")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", 0, "synthesis workers (0 = auto)")
	rootCmd.PersistentFlags().BoolVar(&forceOCR, "force-ocr", false, "OCR every page even when a text layer exists")
	rootCmd.PersistentFlags().BoolVar(&partialOutput, "partial-output", false, "write finished chapters when cancelled")
	rootCmd.PersistentFlags().StringVar(&chaptersFile, "chapters", "", "JSON file with chapter boundary edits")
	rootCmd.PersistentFlags().StringVar(&workDir, "work-dir", "", "keep intermediate chapter audio here")
	rootCmd.PersistentFlags().BoolVar(&noCache, "no-cache", false, "disable the fragment cache")
	rootCmd.PersistentFlags().BoolVarP(&plainOutput, "plain", "p", false, "log progress instead of the interactive view")

	_ = viper.BindPFlag("engine", rootCmd.PersistentFlags().Lookup("engine"))
	_ = viper.BindPFlag("voice", rootCmd.PersistentFlags().Lookup("voice"))
	_ = viper.BindPFlag("language", rootCmd.PersistentFlags().Lookup("language"))
	_ = viper.BindPFlag("rate", rootCmd.PersistentFlags().Lookup("rate"))
	_ = viper.BindPFlag("workers", rootCmd.PersistentFlags().Lookup("workers"))
	_ = viper.BindPFlag("partial_output", rootCmd.PersistentFlags().Lookup("partial-output"))

	viper.SetDefault("engine", "piper")
	viper.SetDefault("language", "en")
	viper.SetDefault("rate", 1.0)
	viper.SetDefault("workers", 0)
	viper.SetDefault("sample_rate", 22050)
	viper.SetDefault("synth_timeout", 2*time.Minute)
	viper.SetDefault("cache.max_size_mb", 512)
	viper.SetDefault("cache.compression", 3)
	viper.SetDefault("piper.binary", "piper")
	viper.SetDefault("piper.model", "")
	viper.SetDefault("piper.config", "")
	viper.SetDefault("gtts.binary", "gtts-cli")
	viper.SetDefault("ffmpeg.binary", "ffmpeg")
	viper.SetDefault("ocr.binary", "tesseract")
	viper.SetDefault("ocr.language", "eng")

	rootCmd.AddCommand(convertCmd, previewCmd, configCmd, manCmd)
}

// resolveCacheDir picks the fragment cache location, preferring the config
// value over the user cache scope.
func resolveCacheDir() (string, error) {
	if dir := viper.GetString("cache.dir"); dir != "" {
		return expandPath(dir), nil
	}
	scope := gap.NewScope(gap.User, "bookvox")
	dir, err := scope.CacheDir()
	if err != nil {
		return "", fmt.Errorf("could not resolve cache directory: %w", err)
	}
	return dir, nil
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "bookvox")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "bookvox")}, dirs...)
	}

	if c := os.Getenv("BOOKVOX_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("bookvox")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("bookvox")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], "bookvox.yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
