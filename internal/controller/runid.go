package controller

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
)

// Run ids grow past four digits without truncation, so the pattern accepts
// four or more.
var runIDPattern = regexp.MustCompile(`^run-(\d{4,})$`)

// NextRunID scans attemptsDir and returns the next run id in the run-NNNN
// sequence: one past the highest existing entry, run-0001 for a fresh job.
// Non-matching entries are ignored; matching non-directories still count so
// the sequence never collides with leftovers.
func NextRunID(attemptsDir string) (string, error) {
	entries, err := os.ReadDir(attemptsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "run-0001", nil
		}
		return "", fmt.Errorf("scan attempts dir %s: %w", attemptsDir, err)
	}

	highest := 0
	for _, e := range entries {
		m := runIDPattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return fmt.Sprintf("run-%04d", highest+1), nil
}
