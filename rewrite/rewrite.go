// Package rewrite applies the find/replace edits a plan makes to files before
// any process is started.
package rewrite

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/vojkodrev/build/plan"
)

// Apply replaces the first occurrence of rule.Find in rule.File. It reports
// whether the file changed. A rule whose replacement is already present is
// skipped, so running it twice is harmless.
func Apply(rule plan.Rewrite) (bool, error) {
	if rule.File == "" {
		return false, fmt.Errorf("rewrite has no file")
	}
	if rule.Find == "" {
		return false, fmt.Errorf("rewrite of %s has nothing to find", rule.File)
	}

	info, err := os.Stat(rule.File)
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", rule.File, err)
	}
	data, err := os.ReadFile(rule.File)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", rule.File, err)
	}

	text := string(data)
	if rule.Replace != "" && strings.Contains(text, rule.Replace) {
		return false, nil
	}
	updated := strings.Replace(text, rule.Find, rule.Replace, 1)
	if updated == text {
		return false, nil
	}

	if err := os.WriteFile(rule.File, []byte(updated), info.Mode()&fs.ModePerm); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", rule.File, err)
	}
	return true, nil
}

// ApplyAll runs rules in order and stops at the first error.
func ApplyAll(rules []plan.Rewrite, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	changed := 0
	for _, rule := range rules {
		ok, err := Apply(rule)
		if err != nil {
			return changed, err
		}
		if ok {
			changed++
			logger.Info("rewrote file", "file", rule.File, "find", rule.Find)
		} else {
			logger.Debug("rewrite skipped", "file", rule.File, "find", rule.Find)
		}
	}
	return changed, nil
}
