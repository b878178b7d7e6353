// Package prompts provides the analysis prompt templates with override support.
package prompts

import "embed"

//go:embed analysis/*.md
var embeddedFS embed.FS
