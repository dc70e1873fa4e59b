// Package analyzer holds the contracts shared by project analyzers and the
// progress tracking they report through.
package analyzer

import "context"

// FileAnalyzer analyzes a set of project files as a whole.
type FileAnalyzer[T any] interface {
	// Analyze processes files and returns the analysis result. The context
	// carries cancellation and an optional progress Tracker.
	Analyze(ctx context.Context, files []string) (T, error)
}
