// Package scrub redacts credentials from text before it is embedded and
// stored, using the gitleaks rule set.
package scrub

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	gitleaksconfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksregexp "github.com/zricethezav/gitleaks/v8/regexp"
	"github.com/zricethezav/gitleaks/v8/report"
)

// Finding describes one redacted secret. The secret itself is not kept.
type Finding struct {
	RuleID string
	Line   int
	Length int
}

// Scrubber replaces detected secrets with [REDACTED:rule-id] markers.
// It is safe for concurrent use.
type Scrubber struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// New loads the default gitleaks rules and merges allow into them.
// allow may be nil.
func New(allow *Allowlist) (*Scrubber, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading secret rules: %w", err)
	}
	if allow != nil && (len(allow.Regexes) > 0 || len(allow.StopWords) > 0) {
		extra := &gitleaksconfig.Allowlist{Description: "assistd allowlist"}
		for _, p := range allow.Regexes {
			extra.Regexes = append(extra.Regexes, gitleaksregexp.MustCompile(p))
		}
		extra.StopWords = append(extra.StopWords, allow.StopWords...)
		d.Config.Allowlists = append(d.Config.Allowlists, extra)
	}
	return &Scrubber{detector: d}, nil
}

// Scrub returns text with every detected secret replaced.
func (s *Scrubber) Scrub(text string) (string, []Finding) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	s.mu.Lock()
	found := s.detector.DetectString(text)
	s.mu.Unlock()

	return redact(text, found)
}

// redact replaces secrets longest first so a secret that contains another
// is not split by the shorter marker.
func redact(text string, found []report.Finding) (string, []Finding) {
	if len(found) == 0 {
		return text, nil
	}
	sorted := make([]report.Finding, len(found))
	copy(sorted, found)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(secretOf(sorted[i])) > len(secretOf(sorted[j]))
	})

	findings := make([]Finding, 0, len(sorted))
	for _, f := range sorted {
		secret := secretOf(f)
		if secret == "" {
			continue
		}
		text = strings.ReplaceAll(text, secret, "[REDACTED:"+f.RuleID+"]")
		findings = append(findings, Finding{RuleID: f.RuleID, Line: f.StartLine, Length: len(secret)})
	}
	return text, findings
}

func secretOf(f report.Finding) string {
	if f.Secret != "" {
		return f.Secret
	}
	return f.Match
}
