// Package codeimg renders fenced code blocks into images through an
// external renderer script, for chat surfaces that mangle long code.
package codeimg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTimeout = 20 * time.Second
	defaultMinLine = 4
)

var fenceRe = regexp.MustCompile("(?s)```([\\w+#.-]*)\\n(.*?)```")

// Renderer shells out to a configured command. The command reads a JSON
// document {"code": ..., "lang": ...} on stdin and prints the path of the
// rendered image on stdout.
type Renderer struct {
	Script   string
	Timeout  time.Duration
	MinLines int
	log      *zap.SugaredLogger
}

// New builds a renderer around the given command line. An empty command
// disables rendering.
func New(script string, log *zap.SugaredLogger) *Renderer {
	return &Renderer{
		Script:   script,
		Timeout:  defaultTimeout,
		MinLines: defaultMinLine,
		log:      log,
	}
}

// Enabled reports whether a renderer command is configured.
func (r *Renderer) Enabled() bool {
	return r != nil && r.Script != ""
}

// Extract rewrites text by rendering each sufficiently long fenced code
// block to an image, replacing the block with a marker. Blocks below the
// line threshold, and blocks the renderer fails on, stay inline. The second
// return value lists the rendered image paths in order of appearance.
func (r *Renderer) Extract(ctx context.Context, text string) (string, []string) {
	if !r.Enabled() || !strings.Contains(text, "```") {
		return text, nil
	}
	var images []string
	out := fenceRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := fenceRe.FindStringSubmatch(m)
		if len(sub) < 3 {
			return m
		}
		lang, code := sub[1], sub[2]
		if lineCount(code) < r.MinLines {
			return m
		}
		path, err := r.Render(ctx, code, lang)
		if err != nil {
			r.log.Warnf("render code image: %v", err)
			return m
		}
		images = append(images, path)
		return "[代码见图片]"
	})
	return out, images
}

// Render runs the script on one code block and returns the image path.
func (r *Renderer) Render(ctx context.Context, code, lang string) (string, error) {
	payload, err := json.Marshal(map[string]string{"code": code, "lang": lang})
	if err != nil {
		return "", err
	}

	timeout := r.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", r.Script)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("renderer timed out after %v", timeout)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("renderer: %w: %s", err, msg)
		}
		return "", fmt.Errorf("renderer: %w", err)
	}

	path := lastLine(stdout.String())
	if path == "" {
		return "", errors.New("renderer produced no output path")
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("renderer output %q: %w", path, err)
	}
	return path, nil
}

func lineCount(code string) int {
	trimmed := strings.TrimRight(code, "\n")
	if trimmed == "" {
		return 0
	}
	return strings.Count(trimmed, "\n") + 1
}

// lastLine returns the final non-empty line; renderers are free to print
// progress noise before the path.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
