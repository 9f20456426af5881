package runner

import (
	"path/filepath"
	"strings"
)

// Supported extensions in resolution order.
var extensions = []string{"js", "py", "java", "cpp", "c"}

// Base names tried, in order, before falling back to the first supported file.
var entryPriorities = []string{"main", "index", "app", "server"}

// Stage is one process of a pipeline. Tool is a logical toolchain name
// (node, python, javac, java, g++, gcc) unless Direct is set, in which case
// it is an executable path used as-is.
type Stage struct {
	Tool   string
	Args   []string
	Direct bool
}

// Pipeline is an optional compile stage followed by the run stage.
type Pipeline struct {
	Compile *Stage
	Run     Stage
}

func extensionOf(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return ""
	}
	return name[i+1:]
}

func supported(ext string) bool {
	for _, e := range extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// ResolveEntry picks the file to execute from names (in snapshot order).
// An explicit runFile wins when it has a supported extension and is present;
// then main/index/app/server crossed with the extension order; then the
// first supported file.
func ResolveEntry(names []string, runFile string) (string, bool) {
	present := make(map[string]bool, len(names))
	for _, n := range names {
		present[n] = true
	}

	if runFile != "" && supported(extensionOf(runFile)) && present[runFile] {
		return runFile, true
	}
	for _, base := range entryPriorities {
		for _, ext := range extensions {
			if name := base + "." + ext; present[name] {
				return name, true
			}
		}
	}
	for _, n := range names {
		if supported(extensionOf(n)) {
			return n, true
		}
	}
	return "", false
}

// pipelineFor builds the process pipeline for entry inside dir.
func pipelineFor(entry, dir, goos string) Pipeline {
	binary := "a.out"
	if goos == "windows" {
		binary = "a.exe"
	}
	native := Stage{Tool: filepath.Join(dir, binary), Direct: true}

	switch extensionOf(entry) {
	case "py":
		return Pipeline{Run: Stage{Tool: "python", Args: []string{"-u", entry}}}
	case "java":
		return Pipeline{
			Compile: &Stage{Tool: "javac", Args: []string{entry}},
			Run:     Stage{Tool: "java", Args: []string{strings.TrimSuffix(entry, ".java")}},
		}
	case "cpp":
		return Pipeline{
			Compile: &Stage{Tool: "g++", Args: []string{entry, "-o", binary}},
			Run:     native,
		}
	case "c":
		return Pipeline{
			Compile: &Stage{Tool: "gcc", Args: []string{entry, "-o", binary}},
			Run:     native,
		}
	default:
		return Pipeline{Run: Stage{Tool: "node", Args: []string{entry}}}
	}
}

// safeName reports whether a snapshot name may be written into the run
// directory.
func safeName(name string) bool {
	return name != "" && !strings.Contains(name, "..") &&
		!strings.ContainsAny(name, `/\`)
}
