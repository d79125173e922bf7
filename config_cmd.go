package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# speech engine: piper, gtts, or mock
engine: "piper"
# voice or speaker identifier (engine specific)
voice: ""
# language code for network engines
language: "en"
# speaking rate multiplier (0.1 to 3.0)
rate: 1.0
# synthesis workers (0 = auto, bounded by engine memory needs)
workers: 0
# write finished chapters when a conversion is cancelled
partial_output: false
# working sample rate in Hz
sample_rate: 22050

# fragment cache: finished utterances are reused across runs
cache:
  # directory (empty = user cache dir)
  dir: ""
  max_size_mb: 512
  # zstd level, 0 disables compression
  compression: 3

# Piper engine
piper:
  binary: "piper"
  # model: "~/voices/en_US-lessac-medium.onnx"
  model: ""
  # config: "~/voices/en_US-lessac-medium.onnx.json"
  config: ""

# gTTS engine (requires gtts-cli and network access)
gtts:
  binary: "gtts-cli"

# ffmpeg is used for decoding and final container assembly
ffmpeg:
  binary: "ffmpeg"

# OCR fallback for scanned PDFs
ocr:
  binary: "tesseract"
  language: "eng"
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the bookvox config file",
	Long:    paragraph(fmt.Sprintf("\n%s the bookvox config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("bookvox config\nbookvox config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("Bookvox", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
