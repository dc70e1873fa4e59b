package mcpserver

// Tool descriptions with interpretation guidance for LLMs.

func describeDeadCode() string {
	return `Finds unreachable functions, methods and classes in Python, TypeScript, JavaScript and Go projects.

Builds a symbol graph from definitions and references, selects roots (entry points such as main and the script guard, test functions, pinned symbols, and every public symbol in library mode) and walks the graph from them.

USE WHEN:
- Cleaning up code before or after a refactoring
- Finding code orphaned by a removed feature
- Checking whether a function is still used anywhere
- Reviewing a branch or tag without checking it out (ref)

INTERPRETING RESULTS:
- dead: no path from any root. Confidence >= 0.8 is High, >= 0.5 Medium, otherwise Low
- Low confidence dead symbols are often public API, dynamically dispatched or called by name; verify before deleting
- live_via_ambiguous: only reached through a reference that matched several symbols by name (for example obj.method() with an unknown receiver). Treat as "probably live"
- dead_cycles: groups of dead symbols that only call each other; delete them together
- diagnostics: files that could not be parsed or projects with no roots. A missing root makes everything look dead
- Set library=true for packages whose public functions are used by other projects

METRICS RETURNED:
- dead: symbol, kind, location, confidence, confidence_level
- live_via_ambiguous: symbol, location, justifying_path from a root
- dead_cycles: lists of symbol names
- summary: files, symbols, roots, live, dead, dead percentage, references, cache hits`
}

func describeCacheStats() string {
	return `Reports on the incremental fact cache of a project.

USE WHEN:
- Checking whether repeated analyses are served from the cache
- Diagnosing a slow analysis

INTERPRETING RESULTS:
- entries: distinct file contents whose facts are stored
- projects: projects sharing the cache directory
- bytes: database size on disk

METRICS RETURNED:
- path, format_version, entries, projects, bytes, max_entries`
}
