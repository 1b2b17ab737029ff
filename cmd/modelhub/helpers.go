package main

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/joho/godotenv"
	"golang.org/x/term"

	"github.com/Chanpoe/ModelHub/pkg/chats/content"
	"github.com/Chanpoe/ModelHub/pkg/modeladapter/usage"
)

// loadDotEnv loads environment variables from path. Missing files are ignored.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// resolveConfigPath returns the config file to use. Priority:
// 1. Explicit -config flag (non-empty)
// 2. modelhub.yaml, then modelhub.toml in the working directory
// 3. ~/.modelhub/config.yaml
func resolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	candidates := []string{"modelhub.yaml", "modelhub.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".modelhub", "config.yaml"))
	}

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}

	return "", fmt.Errorf("no config file found (tried %s); pass -config", strings.Join(candidates, ", "))
}

// newRenderer returns a function that renders markdown replies for w. Output
// that is not a terminal is passed through unchanged.
func newRenderer(w io.Writer) func(string) string {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) { //nolint:gosec // fd fits in int
		return plain
	}

	width, _, err := term.GetSize(int(f.Fd())) //nolint:gosec // fd fits in int
	if err != nil || width <= 0 {
		width = 100
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return plain
	}

	return func(text string) string {
		out, err := r.Render(text)
		if err != nil {
			return text
		}
		return strings.TrimRight(out, "\n")
	}
}

func plain(text string) string { return text }

// base64Prefix marks a raw base64 image argument.
const base64Prefix = "base64:"

// loadImage builds an image part from a URL, a data URI, a local file or a
// raw base64 payload (optionally prefixed with "base64:"). Inline images get
// the low detail hint.
func loadImage(ref string) (content.Image, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return content.ParseImage(ref)
	}

	if strings.HasPrefix(ref, "data:") {
		img, err := content.ParseImage(ref)
		if err != nil {
			return content.Image{}, err
		}
		img.Detail = content.DefaultInlineDetail
		return img, nil
	}

	if payload, ok := strings.CutPrefix(ref, base64Prefix); ok {
		return imageFromBase64(payload)
	}

	data, err := os.ReadFile(ref) //nolint:gosec // path is given by the user on purpose
	if errors.Is(err, os.ErrNotExist) {
		if img, b64err := imageFromBase64(ref); b64err == nil {
			return img, nil
		}
	}
	if err != nil {
		return content.Image{}, fmt.Errorf("read image: %w", err)
	}

	mediaType := mime.TypeByExtension(strings.ToLower(filepath.Ext(ref)))
	if !strings.HasPrefix(mediaType, "image/") {
		mediaType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return content.Image{}, fmt.Errorf("read image: %s is not an image (%s)", ref, mediaType)
	}

	return content.Image{Data: data, MediaType: mediaType, Detail: content.DefaultInlineDetail}, nil
}

// imageFromBase64 decodes a raw base64 image, sniffing its media type.
func imageFromBase64(payload string) (content.Image, error) {
	img, err := content.ImageFromBase64(payload, "")
	if err != nil {
		return content.Image{}, err
	}

	if mt := http.DetectContentType(img.Data); strings.HasPrefix(mt, "image/") {
		img.MediaType = mt
	}

	return img, nil
}

// splitList splits a comma-separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// truncate returns s shortened to at most n runes, with "..." appended if
// truncated. Newlines are replaced with spaces for single-line display.
func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// fmtTokens formats a token count for display, using k/M suffixes.
func fmtTokens(n int) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fk", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

// fmtUsage formats a usage total as "in / out / total", marking estimates.
func fmtUsage(tc usage.TokenCount) string {
	s := fmt.Sprintf("%s in / %s out / %s total", fmtTokens(tc.InputTokens), fmtTokens(tc.OutputTokens), fmtTokens(tc.Total()))
	if tc.Estimated {
		s += " (estimated)"
	}
	return s
}

// fmtDuration formats a duration for display.
func fmtDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	m := int(d.Minutes())
	sec := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm %ds", m, sec)
}
