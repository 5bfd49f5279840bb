package scrub

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"

	"github.com/BurntSushi/toml"
)

// Allowlist exempts matches from redaction. It is read from a TOML file:
//
//	regexes = ['''example-key-\d+''']
//	stopwords = ["placeholder"]
type Allowlist struct {
	Regexes   []string `toml:"regexes"`
	StopWords []string `toml:"stopwords"`
}

// LoadAllowlist reads path. An empty path or a missing file yields an
// empty allowlist; malformed TOML and invalid patterns are errors.
func LoadAllowlist(path string) (*Allowlist, error) {
	var a Allowlist
	if path == "" {
		return &a, nil
	}
	if _, err := toml.DecodeFile(path, &a); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &a, nil
		}
		return nil, fmt.Errorf("parsing allowlist %s: %w", path, err)
	}
	for _, p := range a.Regexes {
		if _, err := regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("allowlist %s: invalid pattern %q: %w", path, p, err)
		}
	}
	return &a, nil
}
