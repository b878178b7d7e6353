package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/janani-sekar/AEAExtensions/internal/domain"
)

var nonNameChars = regexp.MustCompile(`[^a-z0-9_-]+`)

// analysisNameFor derives an analysis name from a dataset path.
func analysisNameFor(dataPath string) string {
	base := strings.ToLower(strings.TrimSuffix(filepath.Base(dataPath), filepath.Ext(dataPath)))
	name := strings.Trim(nonNameChars.ReplaceAllString(base, "-"), "-_")
	if name == "" {
		return "analysis"
	}
	return name
}

// exportFinalCode writes the last successful unit of a succeeded task to
// <outputHome>/<analysis>/A<ordinal>.<ext>. Tasks without a usable result
// are skipped and return "".
func exportFinalCode(outputHome string, task *domain.AnalysisTask, language string) (string, error) {
	if !task.Verdict.Succeeded() {
		return "", nil
	}
	code, ok := task.FinalCode()
	if !ok {
		return "", nil
	}

	dir := filepath.Join(outputHome, task.ID.Analysis)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}
	ext, comment := ".py", "#"
	if language == "go" {
		ext, comment = ".go", "//"
	}
	path := filepath.Join(dir, fmt.Sprintf("A%02d%s", task.ID.Ordinal, ext))

	var b strings.Builder
	header := []string{
		"Task: " + task.ID.String(),
		"Run: " + task.RunID,
		"Verdict: " + string(task.Verdict),
	}
	if task.Reason != "" {
		header = append(header, "Note: "+task.Reason)
	}
	header = append(header, "", "Proposal:")
	header = append(header, strings.Split(strings.TrimSpace(task.Proposal.String()), "\n")...)
	if task.Proposal.Feedback != "" {
		header = append(header, "", "Feedback:")
		header = append(header, strings.Split(strings.TrimSpace(task.Proposal.Feedback), "\n")...)
	}
	for _, line := range header {
		b.WriteString(strings.TrimRight(comment+" "+line, " "))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(strings.TrimRight(code, "\n"))
	b.WriteString("\n")

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return "", err
	}
	return path, nil
}
