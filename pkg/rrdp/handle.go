package rrdp

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// localPath derives the on-disk path for a published object's URI,
// rooted at dir. Mirrors pkg/fetch's rsync cache layout: host then
// path, so objects reachable by both rsync and RRDP land in the same
// place on disk.
func localPath(dir, uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		return filepath.Join(dir, strings.TrimLeft(uri, "/"))
	}
	return filepath.Join(dir, u.Host, u.Path)
}

func fileHash(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), true
}

// HandleFile applies one publish/withdraw operation to dir, per
// spec.md 4.5's rrdp_handle_file: ADD fails only if an existing file's
// hash disagrees with expectedHash; UPD and DEL both require the
// existing file's hash to equal expectedHash before proceeding.
func HandleFile(dir string, op Op, uri, expectedHash string, body []byte) error {
	path := localPath(dir, uri)

	switch op {
	case OpAdd:
		if existing, ok := fileHash(path); ok {
			if expectedHash != "" && !strings.EqualFold(existing, expectedHash) {
				return fmt.Errorf("rrdp: add %s: existing file hash %s does not match expected %s", uri, existing, expectedHash)
			}
			return nil // already present with matching content
		}
		return writeFile(path, body)

	case OpUpdate:
		existing, ok := fileHash(path)
		if !ok {
			return fmt.Errorf("rrdp: update %s: no existing file", uri)
		}
		if !strings.EqualFold(existing, expectedHash) {
			return fmt.Errorf("rrdp: update %s: existing file hash %s does not match expected %s", uri, existing, expectedHash)
		}
		return writeFile(path, body)

	case OpDelete:
		existing, ok := fileHash(path)
		if !ok {
			return fmt.Errorf("rrdp: delete %s: no existing file", uri)
		}
		if !strings.EqualFold(existing, expectedHash) {
			return fmt.Errorf("rrdp: delete %s: existing file hash %s does not match expected %s", uri, existing, expectedHash)
		}
		return os.Remove(path)

	default:
		return fmt.Errorf("rrdp: unknown op %v for %s", op, uri)
	}
}

func writeFile(path string, body []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("rrdp: mkdir %s: %w", filepath.Dir(path), err)
	}
	return os.WriteFile(path, body, 0o644)
}

// decodeBody trims the whitespace encoding/xml leaves around base64
// chardata and decodes it.
func decodeBody(raw string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		default:
			return r
		}
	}, raw))
}
