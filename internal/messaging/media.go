package messaging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Attachment kinds the Telegram sender distinguishes.
const (
	KindPhoto    = "photo"
	KindVideo    = "video"
	KindAudio    = "audio"
	KindDocument = "document"
)

// NormalizeKind folds a declared attachment kind onto a sender kind. The
// console accepts loose spellings; anything unrecognized falls back to the
// file extension, and unknown extensions ship as documents.
func NormalizeKind(kind, source string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "photo", "image", "img", "picture":
		return KindPhoto
	case "video":
		return KindVideo
	case "audio":
		return KindAudio
	case "document", "file", "doc", "pdf":
		return KindDocument
	}
	return kindFromExt(source)
}

func kindFromExt(source string) string {
	switch strings.ToLower(filepath.Ext(strings.TrimSpace(source))) {
	case ".jpg", ".jpeg", ".png", ".webp":
		return KindPhoto
	case ".mp4", ".mov", ".m4v", ".webm":
		return KindVideo
	case ".mp3", ".wav", ".m4a", ".ogg":
		return KindAudio
	}
	return KindDocument
}

// EnsureFilename returns a display filename carrying an extension, deriving
// the missing pieces from the source path.
func EnsureFilename(name, source string) string {
	n := sanitizeFilename(name)
	if n == "" {
		n = sanitizeFilename(filepath.Base(strings.TrimSpace(source)))
		if n == "" || n == "." || n == "/" {
			n = "file"
		}
	}
	if !strings.Contains(n, ".") {
		if ext := filepath.Ext(strings.TrimSpace(source)); ext != "" {
			n += ext
		}
	}
	return n
}

func sanitizeFilename(name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	n = filepath.Base(n)
	n = strings.NewReplacer("\x00", "", "\n", " ", "\r", " ").Replace(n)
	return strings.TrimSpace(n)
}

// resolveMedia maps a stored media reference onto something the client can
// send. Absolute URLs pass through. Console uploads ("media/..." paths) are
// rewritten against the public base URL when one is configured, so Telegram
// fetches them over HTTP; otherwise they resolve to files under the media
// directory.
func (s *TelegramService) resolveMedia(source string) (string, error) {
	src := strings.TrimSpace(source)
	if src == "" {
		return "", fmt.Errorf("empty media source")
	}
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return src, nil
	}
	rel := strings.TrimPrefix(src, "/")
	if strings.HasPrefix(rel, "media/") && s.mediaBaseURL != "" {
		return s.mediaBaseURL + "/" + rel, nil
	}
	return s.resolveLocal(src)
}

// resolveLocal locates the file on disk. Relative paths are tried against
// the media directory first as stored, then by bare filename, which covers
// rows written before an upload was moved.
func (s *TelegramService) resolveLocal(src string) (string, error) {
	if filepath.IsAbs(src) {
		return src, nil
	}
	if s.mediaDir == "" {
		return src, nil
	}
	rel := strings.TrimPrefix(strings.TrimPrefix(src, "/"), "media/")
	if cand := filepath.Join(s.mediaDir, rel); fileExists(cand) {
		return cand, nil
	}
	if cand := filepath.Join(s.mediaDir, filepath.Base(src)); fileExists(cand) {
		return cand, nil
	}
	return "", fmt.Errorf("media file not found: %s", src)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
