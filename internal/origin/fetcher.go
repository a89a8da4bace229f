// SPDX-License-Identifier: MIT

// Package origin fetches source media for a content id by driving an
// external downloader subprocess. The raw best-quality audio arrives on the
// subprocess's stdout; metadata comes from an independent second invocation
// and may fail without affecting the byte stream.
package origin

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/ManuGH/tunecache/internal/linering"
	"github.com/ManuGH/tunecache/internal/log"
	"github.com/ManuGH/tunecache/internal/metrics"
	"github.com/ManuGH/tunecache/internal/procgroup"
)

const stderrRingSize = 64

// Metadata describes the source media. All fields are best-effort.
type Metadata struct {
	Title           string
	Author          string
	DurationSeconds int
	ThumbnailURL    string
}

// ExitError reports a fetch subprocess that terminated with a non-zero exit
// code. The last stderr lines are carried for diagnosis.
type ExitError struct {
	Code   int
	Stderr []string
}

func (e *ExitError) Error() string {
	if len(e.Stderr) == 0 {
		return fmt.Sprintf("origin fetch exited with code %d", e.Code)
	}
	return fmt.Sprintf("origin fetch exited with code %d: %s", e.Code, strings.Join(e.Stderr, " | "))
}

// Fetcher launches the downloader binary for byte streams and metadata.
type Fetcher struct {
	BinPath string

	logger zerolog.Logger
}

// New creates a Fetcher using the given downloader binary (yt-dlp
// compatible CLI surface).
func New(binPath string) *Fetcher {
	if binPath == "" {
		binPath = "yt-dlp"
	}
	return &Fetcher{
		BinPath: binPath,
		logger:  log.WithComponent("origin"),
	}
}

func watchURL(contentID string) string {
	return "https://www.youtube.com/watch?v=" + contentID
}

// Fetch launches the downloader and returns its stdout as the raw audio
// stream. Spawn failure is returned immediately; a non-zero exit surfaces as
// a terminal error on the stream after all buffered bytes were read. Closing
// the stream kills the whole subprocess group.
func (f *Fetcher) Fetch(ctx context.Context, contentID string) (io.ReadCloser, error) {
	args := []string{
		"-f", "bestaudio",
		"-o", "-",
		"--no-playlist",
		"--quiet",
		watchURL(contentID),
	}
	cmd := exec.CommandContext(ctx, f.BinPath, args...) // #nosec G204 -- binary path comes from config
	procgroup.Set(cmd)

	ring := linering.NewRing(stderrRingSize)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("capture origin stderr: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture origin stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		metrics.OriginStartTotal.WithLabelValues("spawn_error").Inc()
		return nil, fmt.Errorf("spawn origin fetch %q: %w", f.BinPath, err)
	}
	metrics.OriginStartTotal.WithLabelValues("ok").Inc()
	f.logger.Debug().Str("content_id", contentID).Str("bin", f.BinPath).Msg("origin fetch started")

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			_, _ = ring.Write(scanner.Bytes())
			_, _ = ring.Write([]byte("\n"))
		}
	}()

	return &processStream{
		cmd:    cmd,
		stdout: stdout,
		ring:   ring,
		logger: f.logger,
	}, nil
}

// Lookup fetches title/author/duration/thumbnail via a separate subprocess
// invocation. It fails independently of any byte stream for the same id.
func (f *Fetcher) Lookup(ctx context.Context, contentID string) (Metadata, error) {
	args := []string{"-J", "--no-download", "--no-playlist", watchURL(contentID)}
	cmd := exec.CommandContext(ctx, f.BinPath, args...) // #nosec G204 -- binary path comes from config
	procgroup.Set(cmd)

	out, err := cmd.Output()
	if err != nil {
		return Metadata{}, fmt.Errorf("metadata lookup for %s: %w", contentID, err)
	}

	var raw struct {
		Title     string  `json:"title"`
		Uploader  string  `json:"uploader"`
		Duration  float64 `json:"duration"`
		Thumbnail string  `json:"thumbnail"`
	}
	if err := json.Unmarshal(out, &raw); err != nil {
		return Metadata{}, fmt.Errorf("decode metadata for %s: %w", contentID, err)
	}
	return Metadata{
		Title:           raw.Title,
		Author:          raw.Uploader,
		DurationSeconds: int(raw.Duration),
		ThumbnailURL:    raw.Thumbnail,
	}, nil
}

// processStream adapts a subprocess stdout into a stream whose terminal
// error reflects the process exit status.
type processStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	ring   *linering.Ring
	logger zerolog.Logger

	waitOnce sync.Once
	waitErr  error
}

func (s *processStream) wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
	})
	return s.waitErr
}

// Read yields stdout bytes. On EOF the process exit status decides whether
// the stream ended cleanly or with an ExitError.
func (s *processStream) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if err == io.EOF {
		if waitErr := s.wait(); waitErr != nil {
			code := 1
			if exitErr, ok := waitErr.(*exec.ExitError); ok {
				code = exitErr.ExitCode()
			}
			tail := s.ring.LastN(5)
			s.logger.Warn().Int("exit_code", code).Strs("stderr", tail).Msg("origin fetch failed")
			return n, &ExitError{Code: code, Stderr: tail}
		}
		return n, io.EOF
	}
	return n, err
}

// Close kills the subprocess group and reaps it. Used when downstream fails
// so the fetch process does not orphan.
func (s *processStream) Close() error {
	_ = procgroup.Kill(s.cmd, syscall.SIGKILL)
	_ = s.stdout.Close()
	_ = s.wait()
	return nil
}
