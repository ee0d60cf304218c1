package media

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tiroq/audiopipe/internal/fileutil"
	"github.com/tiroq/audiopipe/internal/runner"
)

// DownloaderConfig configures yt-dlp.
type DownloaderConfig struct {
	Binary    string        // default "yt-dlp"
	Dir       string        // output directory, created if missing
	Format    string        // default "bestaudio/best"
	Sanitize  bool          // rename results with fileutil.SanitizeForFilename
	Timeout   time.Duration // 0 = none
	ExtraArgs []string
	Progress  io.Writer // receives yt-dlp's stderr
}

// Downloader extracts the audio track of a URL as WAV with yt-dlp.
type Downloader struct {
	cfg DownloaderConfig
}

// NewDownloader applies defaults to cfg.
func NewDownloader(cfg DownloaderConfig) *Downloader {
	if cfg.Binary == "" {
		cfg.Binary = "yt-dlp"
	}
	if cfg.Format == "" {
		cfg.Format = "bestaudio/best"
	}
	return &Downloader{cfg: cfg}
}

// Download fetches one URL and returns the files written.
func (d *Downloader) Download(ctx context.Context, url string) ([]string, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("yt-dlp: empty URL")
	}
	return d.run(ctx, url)
}

// DownloadBatch passes a file of URLs (one per line) to yt-dlp.
func (d *Downloader) DownloadBatch(ctx context.Context, batchFile string) ([]string, error) {
	if _, err := os.Stat(batchFile); err != nil {
		return nil, fmt.Errorf("yt-dlp: batch file: %w", err)
	}
	return d.run(ctx, "--batch-file", batchFile)
}

func (d *Downloader) run(ctx context.Context, target ...string) ([]string, error) {
	if err := os.MkdirAll(d.cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("yt-dlp: create output dir: %w", err)
	}
	before, err := snapshot(d.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp: %w", err)
	}

	out, err := runner.Run(ctx, runner.Command{
		Path:    d.cfg.Binary,
		Args:    append(d.args(), target...),
		Stderr:  d.cfg.Progress,
		Timeout: d.cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("yt-dlp: %w", err)
	}

	files := printedPaths(out)
	if len(files) == 0 {
		files, err = newFiles(d.cfg.Dir, before)
		if err != nil {
			return nil, fmt.Errorf("yt-dlp: %w", err)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("yt-dlp: finished but produced no files in %s", d.cfg.Dir)
	}

	if d.cfg.Sanitize {
		for i, f := range files {
			renamed, err := fileutil.RenameToStem(f, fileutil.SanitizeForFilename(fileutil.Stem(f)))
			if err != nil {
				return files, fmt.Errorf("yt-dlp: rename %s: %w", filepath.Base(f), err)
			}
			files[i] = renamed
		}
	}
	return files, nil
}

func (d *Downloader) args() []string {
	args := []string{
		"-f", d.cfg.Format,
		"-x", "--audio-format", "wav",
		"-o", filepath.Join(d.cfg.Dir, "%(title)s.%(ext)s"),
		"--no-simulate",
		"--print", "after_move:filepath",
	}
	return append(args, d.cfg.ExtraArgs...)
}

// printedPaths parses the final paths yt-dlp prints with --print.
func printedPaths(stdout []byte) []string {
	var paths []string
	sc := bufio.NewScanner(bytes.NewReader(stdout))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if _, err := os.Stat(line); err == nil {
			paths = append(paths, line)
		}
	}
	return paths
}

type fileState struct {
	size    int64
	modTime time.Time
}

func snapshot(dir string) (map[string]fileState, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make(map[string]fileState, len(entries))
	for _, e := range entries {
		if info, err := e.Info(); err == nil && !e.IsDir() {
			out[e.Name()] = fileState{size: info.Size(), modTime: info.ModTime()}
		}
	}
	return out, nil
}

// newFiles lists .wav files that are new or changed since before.
func newFiles(dir string, before map[string]fileState) ([]string, error) {
	after, err := snapshot(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for name, st := range after {
		if !strings.EqualFold(filepath.Ext(name), ".wav") {
			continue
		}
		if prev, ok := before[name]; ok && prev.size == st.size && prev.modTime.Equal(st.modTime) {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}

// PromptURL reads a single URL from in after writing the prompt to out.
func PromptURL(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Enter Youtube URL: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	url := strings.TrimSpace(line)
	if url == "" {
		return "", fmt.Errorf("no URL entered")
	}
	return url, nil
}
