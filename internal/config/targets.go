package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Target is one monitored URL and its display label.
type Target struct {
	URL   string
	Label string
}

const unknownLabel = "unknown"

// LoadTargets parses conf/targets_<group>.txt. The format is line oriented:
// blank lines and lines starting with '#' are ignored, every other line is
// "url[;label]". Order is preserved; a missing label becomes "unknown".
func LoadTargets(confDir, group string) ([]Target, error) {
	path := filepath.Join(confDir, "targets_"+group+".txt")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open target list: %w", err)
	}
	defer f.Close()

	var targets []Target
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		url, label, found := strings.Cut(line, ";")
		url = strings.TrimSpace(url)
		if url == "" {
			continue
		}
		label = strings.TrimSpace(label)
		if !found || label == "" {
			label = unknownLabel
		}
		targets = append(targets, Target{URL: url, Label: label})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read target list: %w", err)
	}
	return targets, nil
}
