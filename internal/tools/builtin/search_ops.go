package builtin

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"coil/internal/logging"
	"coil/internal/tools"
)

// ListDirTool returns a tool for listing directory contents.
func ListDirTool() *tools.Tool {
	return &tools.Tool{
		Name:        "list_dir",
		Description: "List files in a directory",
		Category:    tools.CategoryFile,
		Execute:     executeListDir,
		Schema: tools.Schema{
			Required: []string{"path"},
			Properties: map[string]tools.Property{
				"path": {
					Type:        "string",
					Description: "The directory path to list",
				},
				"recursive": {
					Type:        "boolean",
					Description: "List recursively (default: false)",
					Default:     false,
				},
				"include_hidden": {
					Type:        "boolean",
					Description: "Include hidden files (default: false)",
					Default:     false,
				},
			},
		},
	}
}

func executeListDir(ctx context.Context, args map[string]any) (string, error) {
	path := stringArg(args, "path")
	if path == "" {
		path = "."
	}
	recursive := boolArg(args, "recursive", false)
	includeHidden := boolArg(args, "include_hidden", false)

	logging.ToolsDebug("list_dir: path=%s, recursive=%v", path, recursive)

	var entries []string

	if recursive {
		err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			name := d.Name()
			if !includeHidden && strings.HasPrefix(name, ".") {
				if d.IsDir() && p != path {
					return filepath.SkipDir
				}
				if !d.IsDir() {
					return nil
				}
			}
			rel, _ := filepath.Rel(path, p)
			if rel == "." {
				return nil
			}
			if d.IsDir() {
				entries = append(entries, rel+"/")
			} else {
				entries = append(entries, rel)
			}
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("failed to walk directory: %w", err)
		}
	} else {
		dirEntries, err := os.ReadDir(path)
		if err != nil {
			return "", fmt.Errorf("failed to read directory: %w", err)
		}
		for _, entry := range dirEntries {
			name := entry.Name()
			if !includeHidden && strings.HasPrefix(name, ".") {
				continue
			}
			if entry.IsDir() {
				entries = append(entries, name+"/")
			} else {
				entries = append(entries, name)
			}
		}
	}

	logging.Tools("list_dir completed: %s (%d entries)", path, len(entries))
	return strings.Join(entries, "\n"), nil
}

// GlobTool returns a tool for finding files matching a pattern.
func GlobTool() *tools.Tool {
	return &tools.Tool{
		Name:        "glob",
		Description: "Find files matching a glob pattern",
		Category:    tools.CategorySearch,
		Execute:     executeGlob,
		Schema: tools.Schema{
			Required: []string{"pattern"},
			Properties: map[string]tools.Property{
				"pattern": {
					Type:        "string",
					Description: "Glob pattern (e.g., '**/*.go', 'src/*.ts')",
				},
				"base_path": {
					Type:        "string",
					Description: "Base directory for search (default: current directory)",
				},
				"max_results": {
					Type:        "integer",
					Description: "Maximum number of results (default: 100)",
					Default:     100,
				},
			},
		},
	}
}

func executeGlob(ctx context.Context, args map[string]any) (string, error) {
	pattern := stringArg(args, "pattern")
	if pattern == "" {
		return "", fmt.Errorf("pattern is required")
	}

	basePath := stringArg(args, "base_path")
	if basePath == "" {
		basePath = "."
	}
	maxResults := intArg(args, "max_results", 100)
	if maxResults <= 0 {
		maxResults = 100
	}

	logging.ToolsDebug("glob: pattern=%s, base=%s", pattern, basePath)

	var matches []string

	if strings.Contains(pattern, "**") {
		// Recursive pattern: walk from the prefix, match the suffix
		// against the file name or its relative path.
		parts := strings.SplitN(pattern, "**", 2)
		prefix := strings.TrimSuffix(parts[0], "/")
		suffix := strings.TrimPrefix(parts[1], "/")

		searchPath := basePath
		if prefix != "" {
			searchPath = filepath.Join(basePath, prefix)
		}

		err := filepath.WalkDir(searchPath, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if len(matches) >= maxResults {
				return filepath.SkipAll
			}
			if d.IsDir() {
				return nil
			}
			matched := suffix == ""
			if !matched {
				matched, _ = filepath.Match(suffix, d.Name())
			}
			if !matched {
				rel, _ := filepath.Rel(searchPath, p)
				matched, _ = filepath.Match(suffix, rel)
			}
			if matched {
				rel, _ := filepath.Rel(basePath, p)
				matches = append(matches, rel)
			}
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("failed to walk directory: %w", err)
		}
	} else {
		globMatches, err := filepath.Glob(filepath.Join(basePath, pattern))
		if err != nil {
			return "", fmt.Errorf("invalid glob pattern: %w", err)
		}
		for i, m := range globMatches {
			if i >= maxResults {
				break
			}
			rel, _ := filepath.Rel(basePath, m)
			matches = append(matches, rel)
		}
	}

	logging.Tools("glob completed: %s (%d matches)", pattern, len(matches))

	if len(matches) == 0 {
		return "No files found matching pattern: " + pattern, nil
	}
	return strings.Join(matches, "\n"), nil
}

// GrepTool returns a tool for searching file contents.
func GrepTool() *tools.Tool {
	return &tools.Tool{
		Name:        "grep",
		Description: "Search for a pattern in file contents",
		Category:    tools.CategorySearch,
		Execute:     executeGrep,
		Schema: tools.Schema{
			Required: []string{"pattern"},
			Properties: map[string]tools.Property{
				"pattern": {
					Type:        "string",
					Description: "Regular expression pattern to search for",
				},
				"path": {
					Type:        "string",
					Description: "File or directory to search (default: current directory)",
				},
				"file_pattern": {
					Type:        "string",
					Description: "Glob pattern for files to search (e.g., '*.go')",
				},
				"max_results": {
					Type:        "integer",
					Description: "Maximum number of matches (default: 50)",
					Default:     50,
				},
				"ignore_case": {
					Type:        "boolean",
					Description: "Case insensitive search (default: false)",
					Default:     false,
				},
			},
		},
	}
}

func executeGrep(ctx context.Context, args map[string]any) (string, error) {
	pattern := stringArg(args, "pattern")
	if pattern == "" {
		return "", fmt.Errorf("pattern is required")
	}

	path := stringArg(args, "path")
	if path == "" {
		path = "."
	}
	filePattern := stringArg(args, "file_pattern")
	maxResults := intArg(args, "max_results", 50)
	if maxResults <= 0 {
		maxResults = 50
	}

	if boolArg(args, "ignore_case", false) {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("invalid regex pattern: %w", err)
	}

	logging.ToolsDebug("grep: pattern=%s, path=%s", pattern, path)

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("path not found: %w", err)
	}

	var files []string
	if info.IsDir() {
		err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			name := d.Name()
			if d.IsDir() {
				if strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor" {
					if p != path {
						return filepath.SkipDir
					}
				}
				return nil
			}
			if filePattern != "" {
				if matched, _ := filepath.Match(filePattern, name); !matched {
					return nil
				}
			}
			files = append(files, p)
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("failed to walk directory: %w", err)
		}
	} else {
		files = []string{path}
	}

	var sb strings.Builder
	total := 0
	for _, file := range files {
		if total >= maxResults {
			break
		}
		n, err := grepFile(&sb, file, re, maxResults-total)
		if err != nil {
			continue
		}
		total += n
	}

	logging.Tools("grep completed: %s (%d matches)", pattern, total)

	if total == 0 {
		return "No matches found for pattern: " + pattern, nil
	}
	return sb.String(), nil
}

func grepFile(sb *strings.Builder, path string, re *regexp.Regexp, maxMatches int) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	matches := 0
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if !re.MatchString(line) {
			continue
		}
		fmt.Fprintf(sb, "%s:%d: %s\n", path, lineNum, strings.TrimSpace(line))
		matches++
		if matches >= maxMatches {
			break
		}
	}
	return matches, scanner.Err()
}
