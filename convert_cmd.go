package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var convertCmd = &cobra.Command{
	Use:   "convert EBOOK",
	Short: "Convert an ebook into an audiobook",
	Long: paragraph(
		fmt.Sprintf("\n%s an EPUB, PDF or plain-text book into a chaptered audiobook. Chapters are detected automatically; pass a JSON edit file with --chapters to override them.", keyword("Convert")),
	),
	Example: paragraph("bookvox convert book.epub\nbookvox convert scan.pdf --force-ocr -o scan.m4b\nbookvox convert book.epub --engine gtts --language de"),
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConvert(cmd.Context(), args[0])
	},
}
