// Package media drives the external download tools (yt-dlp, aria2c).
package media

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scribe-cli/internal/config"
)

// Swapped in tests.
var execCommandContext = exec.CommandContext

const (
	defaultConcurrency = 4
	stderrTailLines    = 20
	maxLogLine         = 1 << 20
)

// Runner executes the configured tools. It is safe for concurrent use.
type Runner struct {
	cfg    config.ToolsConfig
	logger *zap.Logger
}

func NewRunner(cfg config.ToolsConfig, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, logger: logger.Named("media")}
}

// Concurrency is the number of tool processes an adapter may run at once.
func (r *Runner) Concurrency() int {
	if r.cfg.Concurrency <= 0 {
		return defaultConcurrency
	}
	return r.cfg.Concurrency
}

// VideoJob describes one yt-dlp download.
type VideoJob struct {
	URL string
	Dir string
	// Title names the output file; the extension is chosen by yt-dlp.
	Title string
	// Proxy routes yt-dlp through the interception proxy. Certificate checks are
	// disabled when set since the proxy re-signs TLS.
	Proxy   string
	Referer string
}

// YTDLP downloads one video.
func (r *Runner) YTDLP(ctx context.Context, job VideoJob) error {
	if job.URL == "" {
		return fmt.Errorf("yt-dlp: empty url for %q", job.Title)
	}
	args := []string{
		"-N", "8",
		"-P", job.Dir,
		"-o", SanitizePath(job.Title) + ".%(ext)s",
		"--no-progress",
	}
	if ffmpeg := r.resolve(r.cfg.FFmpeg); ffmpeg != "" {
		args = append(args, "--ffmpeg-location", ffmpeg)
	}
	if job.Proxy != "" {
		args = append(args, "--proxy", job.Proxy, "--no-check-certificates")
	}
	if job.Referer != "" {
		args = append(args, "--referer", job.Referer)
	}
	args = append(args, job.URL)
	return r.run(ctx, r.cfg.YTDLP, args...)
}

// Entry is one line of an aria2c input list.
type Entry struct {
	URL  string
	Name string
}

// BatchJob describes an aria2c batch download.
type BatchJob struct {
	Dir       string
	Entries   []Entry
	Referer   string
	UserAgent string
}

// Aria2c writes the input list next to the downloads, runs aria2c and removes the list.
func (r *Runner) Aria2c(ctx context.Context, job BatchJob) error {
	if len(job.Entries) == 0 {
		return nil
	}
	if err := os.MkdirAll(job.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", job.Dir, err)
	}

	list, err := os.CreateTemp(job.Dir, "aria2-list-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create aria2c input list: %w", err)
	}
	defer os.Remove(list.Name())

	if _, err := io.WriteString(list, AriaInput(job.Entries)); err != nil {
		list.Close()
		return fmt.Errorf("failed to write aria2c input list: %w", err)
	}
	if err := list.Close(); err != nil {
		return err
	}

	args := []string{
		"-i", list.Name(),
		"-d", job.Dir,
		"-x", "16",
		"-s", "8",
		"-k", "5M",
		"--summary-interval=0",
		"--retry-wait=1",
	}
	if job.Referer != "" {
		args = append(args, "--referer="+job.Referer)
	}
	if job.UserAgent != "" {
		args = append(args, "--user-agent="+job.UserAgent)
	}
	if err := r.run(ctx, r.cfg.Aria2c, args...); err != nil {
		return err
	}
	r.logger.Info("Batch download finished.",
		zap.Int("files", len(job.Entries)),
		zap.String("size", humanize.Bytes(DirSize(job.Dir))),
	)
	return nil
}

// DocumentJob describes one pandoc conversion.
type DocumentJob struct {
	Input  string
	Output string
	// From is the pandoc reader, e.g. "markdown+tex_math_dollars".
	From string
}

// RendersDocuments reports whether a pandoc binary is configured.
func (r *Runner) RendersDocuments() bool { return r.cfg.Pandoc != "" }

// Pandoc converts a document, typically Markdown with TeX math to PDF via xelatex.
func (r *Runner) Pandoc(ctx context.Context, job DocumentJob) error {
	if job.Input == "" || job.Output == "" {
		return fmt.Errorf("pandoc: input and output are required")
	}
	args := []string{"-o", job.Output, "--pdf-engine=xelatex"}
	if job.From != "" {
		args = append([]string{"-f", job.From}, args...)
	}
	if meta := r.resolvePath(r.cfg.PandocMetadata); meta != "" {
		args = append(args, "--metadata-file", meta)
	}
	// Relative images resolve against the document folder.
	args = append(args, "--resource-path", filepath.Dir(job.Input), job.Input)
	return r.run(ctx, r.cfg.Pandoc, args...)
}

// AriaInput renders entries in aria2c's input-file format.
func AriaInput(entries []Entry) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s\n out=%s\n", e.URL, SanitizePath(e.Name))
	}
	return b.String()
}

// run executes a tool and folds the tail of its stderr into the error.
func (r *Runner) run(ctx context.Context, tool string, args ...string) error {
	path := r.resolve(tool)
	if path == "" {
		return fmt.Errorf("tool not configured (args %q)", args)
	}
	r.logger.Debug("Executing tool", zap.String("tool", path), zap.Strings("args", args))

	cmd := execCommandContext(ctx, path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to attach stdout of %s: %w", filepath.Base(path), err)
	}
	tail := newTailBuffer(stderrTailLines)
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", filepath.Base(path), err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLogLine)
	for scanner.Scan() {
		r.logger.Debug(scanner.Text(), zap.String("tool", filepath.Base(path)))
	}
	if err := scanner.Err(); err != nil {
		r.logger.Debug("Tool output no longer logged.", zap.String("tool", filepath.Base(path)), zap.Error(err))
	}
	// The child blocks on a full pipe unless the rest is consumed.
	_, _ = io.Copy(io.Discard, stdout)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s failed: %w\n%s", filepath.Base(path), err, tail.String())
	}
	return nil
}

// resolve expands ~ and, for bare names, searches PATH.
func (r *Runner) resolve(tool string) string {
	if tool == "" {
		return ""
	}
	expanded, err := homedir.Expand(tool)
	if err != nil {
		expanded = tool
	}
	if !strings.ContainsRune(expanded, os.PathSeparator) {
		if p, err := exec.LookPath(expanded); err == nil {
			return p
		}
	}
	return expanded
}

// resolvePath expands ~ in a file argument without searching PATH.
func (r *Runner) resolvePath(p string) string {
	if p == "" {
		return ""
	}
	expanded, err := homedir.Expand(p)
	if err != nil {
		return p
	}
	return expanded
}

// DirSize sums the sizes of regular files below dir.
func DirSize(dir string) uint64 {
	var total uint64
	_ = filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += uint64(info.Size())
		}
		return nil
	})
	return total
}

// tailBuffer keeps the last n lines written to it.
type tailBuffer struct {
	mu    sync.Mutex
	n     int
	lines []string
	part  bytes.Buffer
}

func newTailBuffer(n int) *tailBuffer { return &tailBuffer{n: n} }

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.part.Write(p)
	for {
		line, err := t.part.ReadString('\n')
		if err != nil {
			// incomplete line goes back for the next write
			t.part.Reset()
			t.part.WriteString(line)
			break
		}
		t.push(strings.TrimRight(line, "\r\n"))
	}
	return len(p), nil
}

func (t *tailBuffer) push(line string) {
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	lines := t.lines
	if rest := t.part.String(); rest != "" {
		lines = append(append([]string(nil), lines...), rest)
	}
	return strings.Join(lines, "\n")
}
