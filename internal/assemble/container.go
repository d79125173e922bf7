package assemble

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgnsrekt/bookvox/internal/subproc"
)

// Manifest summarizes a finished (or partial) conversion. It is written next
// to the output container so listeners can see what was substituted or left
// out.
type Manifest struct {
	Source   string    `json:"source"`
	Output   string    `json:"output"`
	Engine   string    `json:"engine"`
	Voice    string    `json:"voice,omitempty"`
	Status   string    `json:"status"`
	Partial  bool      `json:"partial,omitempty"`
	Created  time.Time `json:"created"`
	Chapters []Marker  `json:"chapters"`

	// Skipped lists utterances replaced with silence after exhausting
	// retries.
	Skipped []SkippedUtterance `json:"skipped_utterances,omitempty"`

	// PageFailures lists source pages whose text could not be recovered.
	PageFailures []string `json:"page_failures,omitempty"`
}

// SkippedUtterance identifies one silence substitution.
type SkippedUtterance struct {
	Chapter int    `json:"chapter"`
	Seq     int    `json:"seq"`
	Text    string `json:"text"`
	Reason  string `json:"reason"`
}

// Muxer joins the assembler's chapter files into a chaptered audio container
// with ffmpeg.
type Muxer struct {
	runner *subproc.Runner
	ffmpeg string
}

// NewMuxer verifies the ffmpeg binary is reachable before any audio work
// starts.
func NewMuxer(ffmpegBinary string, timeout time.Duration) (*Muxer, error) {
	if ffmpegBinary == "" {
		ffmpegBinary = "ffmpeg"
	}
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	if _, err := subproc.LookPath(ffmpegBinary); err != nil {
		return nil, err
	}
	return &Muxer{runner: subproc.NewRunner(timeout), ffmpeg: ffmpegBinary}, nil
}

// Mux concatenates the assembler's chapters into outputPath and embeds the
// chapter markers. The container format follows the output extension; .m4b
// and .m4a get AAC, .wav stays PCM.
func (m *Muxer) Mux(ctx context.Context, a *Assembler, outputPath string, manifest Manifest) error {
	files := a.ChapterFiles()
	if len(files) == 0 {
		return ErrNothingToWrite
	}
	markers := a.Markers()

	listPath := filepath.Join(a.workDir, "chapters.txt")
	if err := writeConcatList(listPath, files); err != nil {
		return err
	}
	metaPath := filepath.Join(a.workDir, "metadata.txt")
	if err := writeFFMetadata(metaPath, manifest, markers); err != nil {
		return err
	}

	args := buildMuxArgs(listPath, metaPath, outputPath)
	if _, err := m.runner.Run(ctx, nil, m.ffmpeg, args...); err != nil {
		return fmt.Errorf("mux output container: %w", err)
	}

	manifest.Output = outputPath
	manifest.Chapters = markers
	manifest.Created = time.Now()
	return writeManifest(outputPath, manifest)
}

// buildMuxArgs builds ffmpeg args for concat demuxing with chapter metadata.
func buildMuxArgs(listPath, metaPath, outputPath string) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-i", metaPath,
		"-map_metadata", "1",
	}
	switch strings.ToLower(filepath.Ext(outputPath)) {
	case ".wav":
		args = append(args, "-c:a", "pcm_s16le")
	default:
		args = append(args, "-c:a", "aac", "-b:a", "64k")
	}
	return append(args, outputPath)
}

// writeConcatList writes the file list in ffmpeg concat demuxer syntax.
func writeConcatList(path string, files []string) error {
	var b strings.Builder
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			abs = f
		}
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	return nil
}

// writeFFMetadata writes chapter markers in ffmpeg's FFMETADATA1 format.
// Timebase is milliseconds.
func writeFFMetadata(path string, manifest Manifest, markers []Marker) error {
	var b strings.Builder
	b.WriteString(";FFMETADATA1\n")
	fmt.Fprintf(&b, "title=%s\n", escapeMetadata(titleFromSource(manifest.Source)))
	if manifest.Engine != "" {
		fmt.Fprintf(&b, "comment=narrated by %s\n", escapeMetadata(manifest.Engine))
	}
	for _, mk := range markers {
		end := mk.Start + mk.Duration
		b.WriteString("\n[CHAPTER]\nTIMEBASE=1/1000\n")
		fmt.Fprintf(&b, "START=%d\n", mk.Start.Milliseconds())
		fmt.Fprintf(&b, "END=%d\n", end.Milliseconds())
		fmt.Fprintf(&b, "title=%s\n", escapeMetadata(mk.Title))
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write chapter metadata: %w", err)
	}
	return nil
}

func escapeMetadata(s string) string {
	replacer := strings.NewReplacer(
		"\\", "\\\\",
		"=", "\\=",
		";", "\\;",
		"#", "\\#",
		"\n", "\\\n",
	)
	return replacer.Replace(s)
}

func titleFromSource(source string) string {
	base := filepath.Base(source)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func writeManifest(outputPath string, manifest Manifest) error {
	path := strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ".manifest.json"
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
