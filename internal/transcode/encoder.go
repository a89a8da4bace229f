// SPDX-License-Identifier: MIT

// Package transcode normalises a raw audio stream into a constant-bitrate
// MP3 stream by piping it through an external encoder subprocess.
package transcode

import (
	"bufio"
	"context"
	"errors"
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

// Error reports an encoder subprocess that terminated abnormally.
type Error struct {
	Code   int
	Stderr []string
}

func (e *Error) Error() string {
	if len(e.Stderr) == 0 {
		return fmt.Sprintf("encoder exited with code %d", e.Code)
	}
	return fmt.Sprintf("encoder exited with code %d: %s", e.Code, strings.Join(e.Stderr, " | "))
}

// Encoder wraps the external encoding binary.
type Encoder struct {
	BinPath  string
	BitrateK int

	logger zerolog.Logger
}

// New creates an Encoder producing CBR MP3 at bitrateK kbit/s.
func New(binPath string, bitrateK int) *Encoder {
	if binPath == "" {
		binPath = "ffmpeg"
	}
	if bitrateK <= 0 {
		bitrateK = 128
	}
	return &Encoder{
		BinPath:  binPath,
		BitrateK: bitrateK,
		logger:   log.WithComponent("transcode"),
	}
}

// Encode pipes raw through the encoder and returns the encoded stream.
// Encoder failure surfaces as a terminal error on the stream; an input-pipe
// close after the encoder finished cleanly is not a failure. The raw reader
// is drained by the encode and is not closed here; the caller owns it.
func (e *Encoder) Encode(ctx context.Context, raw io.Reader) (io.ReadCloser, error) {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
		"-vn",
		"-c:a", "libmp3lame",
		"-b:a", fmt.Sprintf("%dk", e.BitrateK),
		"-f", "mp3",
		"pipe:1",
	}
	cmd := exec.CommandContext(ctx, e.BinPath, args...) // #nosec G204 -- binary path comes from config
	procgroup.Set(cmd)

	ring := linering.NewRing(stderrRingSize)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("capture encoder stderr: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open encoder stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open encoder stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		metrics.EncoderStartTotal.WithLabelValues("spawn_error").Inc()
		return nil, fmt.Errorf("spawn encoder %q: %w", e.BinPath, err)
	}
	metrics.EncoderStartTotal.WithLabelValues("ok").Inc()
	e.logger.Debug().Str("bin", e.BinPath).Int("bitrate_k", e.BitrateK).Msg("encoder started")

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			_, _ = ring.Write(scanner.Bytes())
			_, _ = ring.Write([]byte("\n"))
		}
	}()

	copyErr := make(chan error, 1)
	go func() {
		_, err := io.Copy(stdin, raw)
		_ = stdin.Close()
		copyErr <- err
	}()

	return &encodedStream{
		cmd:     cmd,
		stdout:  stdout,
		ring:    ring,
		copyErr: copyErr,
		logger:  e.logger,
	}, nil
}

// benignPipeClose reports the error class meaning the encoder closed its
// input after having received complete data. With a clean encoder exit this
// is not a failure.
func benignPipeClose(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrClosedPipe)
}

// encodedStream surfaces the encoder's exit status and input-copy result as
// the terminal state of its stdout stream.
type encodedStream struct {
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	ring    *linering.Ring
	copyErr chan error
	logger  zerolog.Logger

	waitOnce sync.Once
	waitErr  error

	copyOnce  sync.Once
	copyFinal error
}

func (s *encodedStream) wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
	})
	return s.waitErr
}

func (s *encodedStream) inputCopyErr() error {
	s.copyOnce.Do(func() {
		s.copyFinal = <-s.copyErr
	})
	return s.copyFinal
}

func (s *encodedStream) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if err != io.EOF {
		return n, err
	}

	if waitErr := s.wait(); waitErr != nil {
		code := 1
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
		tail := s.ring.LastN(5)
		s.logger.Warn().Int("exit_code", code).Strs("stderr", tail).Msg("encoder failed")
		return n, &Error{Code: code, Stderr: tail}
	}

	// Encoder finished cleanly; a failed input copy still poisons the
	// output unless it is the benign closed-pipe case.
	if cErr := s.inputCopyErr(); cErr != nil && !benignPipeClose(cErr) {
		return n, fmt.Errorf("encode input: %w", cErr)
	}
	return n, io.EOF
}

// Close kills the encoder group and reaps it.
func (s *encodedStream) Close() error {
	_ = procgroup.Kill(s.cmd, syscall.SIGKILL)
	_ = s.stdout.Close()
	_ = s.wait()
	return nil
}
