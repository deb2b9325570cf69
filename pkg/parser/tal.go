package parser

import (
	"bufio"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/rpki-client/pkg/types"
)

// ParseTAL is tal_parse: a TAL file is a run of #-prefixed comment
// lines, one or more candidate URIs (one per line), a blank line, then
// the trust anchor's base64-encoded DER public key (RFC 7730/8630).
// Name is derived from the file's basename without extension. The
// decoded key must be a well-formed SubjectPublicKeyInfo; anything
// else is rejected rather than carried forward to ta_parse.
func ParseTAL(path string) (types.TAL, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.TAL{}, fmt.Errorf("parser: tal_parse: open %s: %w", path, err)
	}
	defer f.Close()

	var uris []string
	var keyLines []string
	inKey := false

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case !inKey && line == "":
			inKey = true
		case !inKey && strings.HasPrefix(line, "#"):
			continue
		case !inKey:
			uris = append(uris, line)
		case line != "":
			keyLines = append(keyLines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return types.TAL{}, fmt.Errorf("parser: tal_parse: read %s: %w", path, err)
	}

	if len(uris) == 0 {
		return types.TAL{}, fmt.Errorf("parser: tal_parse: %s: no candidate URIs", path)
	}
	if len(keyLines) == 0 {
		return types.TAL{}, fmt.Errorf("parser: tal_parse: %s: no public key", path)
	}

	der, err := base64.StdEncoding.DecodeString(strings.Join(keyLines, ""))
	if err != nil {
		return types.TAL{}, fmt.Errorf("parser: tal_parse: %s: decode public key: %w", path, err)
	}
	if _, err := x509.ParsePKIXPublicKey(der); err != nil {
		return types.TAL{}, fmt.Errorf("parser: tal_parse: %s: not a well-formed SubjectPublicKeyInfo: %w", path, err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return types.TAL{Name: name, URIs: uris, PublicKeyDER: der}, nil
}
