package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/bookvox/internal/audio"
	"github.com/dgnsrekt/bookvox/internal/segment"
)

var previewCmd = &cobra.Command{
	Use:   "preview TEXT...",
	Short: "Speak a phrase with the configured voice",
	Long: paragraph(
		fmt.Sprintf("\n%s a voice before committing to a whole book. The phrase is synthesized with the configured engine and played through the speakers.", keyword("Audition")),
	),
	Example: paragraph("bookvox preview \"Call me Ishmael.\"\nbookvox preview --engine gtts --language fr \"Bonjour\""),
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.TrimSpace(strings.Join(args, " "))
		if text == "" {
			return fmt.Errorf("nothing to speak")
		}

		engine, err := buildEngine()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if err := engine.Load(ctx); err != nil {
			return err
		}
		defer engine.Unload() //nolint:errcheck

		frag, err := engine.Synthesize(ctx, segment.Utterance{Text: text}, voiceConfig())
		if err != nil {
			return fmt.Errorf("unable to synthesize preview: %w", err)
		}

		player, err := audio.NewPlayer()
		if err != nil {
			return err
		}
		defer player.Close() //nolint:errcheck
		return player.Play(ctx, frag.PCM, frag.Format)
	},
}
