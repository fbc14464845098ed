package repl

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// mcuEntry is one file or directory reported by the device's _mcu_list.
// size is -1 for directories.
type mcuEntry struct {
	mtime int64
	size  int64
}

// hostEntry is one file or directory discovered by walking a host project
// tree. size is -1 for directories.
type hostEntry struct {
	project string
	mtime   int64
	size    int64
}

// ListEntry is a single path-reconstructed entry from a device directory
// listing, for callers that want to render it themselves (the actual
// colorized terminal rendering is external to this package).
type ListEntry struct {
	Path  string
	IsDir bool
	MTime time.Time
	Size  int64
}

// mcuListParser decodes the level-indexed CSV stream emitted by
// _mcu_list, reconstructing each entry's full relative path from an
// indentation stack keyed by level. Entries whose basename starts with
// '.' are skipped, matching the host-side walk.
type mcuListParser struct {
	files     map[string]mcuEntry
	pathStack []string
	buf       strings.Builder
}

func newMcuListParser() *mcuListParser {
	return &mcuListParser{files: make(map[string]mcuEntry)}
}

// Ans receives an arbitrary byte chunk from the streaming response, which
// may contain zero, one, or several newline-terminated lines plus a
// trailing partial line continued by the next call.
func (p *mcuListParser) Ans(data []byte) {
	p.buf.Write(data)
	buffered := p.buf.String()
	lines := strings.Split(buffered, "\n")
	p.buf.Reset()
	p.buf.WriteString(lines[len(lines)-1])
	for _, line := range lines[:len(lines)-1] {
		p.parseLine(line)
	}
}

func (p *mcuListParser) parseLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	fields := strings.Split(line, ",")
	if len(fields) != 5 {
		return
	}
	kind := fields[0]
	level, err := strconv.Atoi(fields[1])
	if err != nil {
		return
	}
	name := pyUnrepr(fields[2])
	if strings.HasPrefix(name, ".") {
		return
	}
	mtime, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return
	}
	size, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return
	}

	segments := append(append([]string{}, p.pathStack[:level]...), name)
	fullPath := filepath.Join(segments...)

	if kind == "D" {
		p.files[fullPath] = mcuEntry{mtime: mtime, size: -1}
		for len(p.pathStack) < level+1 {
			p.pathStack = append(p.pathStack, "")
		}
		p.pathStack = p.pathStack[:level+1]
		p.pathStack[level] = name
	} else {
		p.files[fullPath] = mcuEntry{mtime: mtime, size: size}
	}
}

func (p *mcuListParser) Err([]byte) {}

func (e *Engine) mcuList(output Output, path string) error {
	callExpr := fmt.Sprintf("_mcu_list(%s, 0)", pyRepr(path))
	return e.evalFuncStream(mcuListSource, callExpr, output)
}

// McuFiles returns every file and directory under path on the device,
// keyed by path relative to the listing root.
func (e *Engine) McuFiles(output Output, path string) (map[string]mcuEntry, error) {
	path = strings.TrimPrefix(strings.TrimSuffix(path, "/"), "/")
	if output == nil {
		output = noopOutput{}
	}
	parser := newMcuListParser()
	if err := e.mcuList(parser, path); err != nil {
		return nil, err
	}
	parser.parseLine(parser.buf.String())
	output.Ans([]byte("\n"))
	return parser.files, nil
}

// RList returns the device's directory tree under path as structured
// entries, sorted by path. Rendering (coloring, indentation) is a caller
// concern.
func (e *Engine) RList(path string) ([]ListEntry, error) {
	files, err := e.McuFiles(nil, path)
	if err != nil {
		return nil, err
	}
	entries := make([]ListEntry, 0, len(files))
	for p, f := range files {
		entries = append(entries, ListEntry{
			Path:  p,
			IsDir: f.size < 0,
			MTime: time.Unix(f.mtime, 0).UTC(),
			Size:  f.size,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// HostFiles walks each project directory under hostDir and returns every
// file and directory under path, keyed by path relative to the listing
// root. Dotfiles are skipped, matching the device-side listing.
func (e *Engine) HostFiles(hostDir, path string, projects []string) (map[string]hostEntry, error) {
	path = strings.TrimPrefix(strings.TrimSuffix(path, "/"), "/")
	files := make(map[string]hostEntry)
	for _, proj := range projects {
		root := filepath.Join(hostDir, proj)
		if err := hostWalk(files, root, proj, path); err != nil {
			return nil, err
		}
	}
	return files, nil
}

func hostWalk(files map[string]hostEntry, root, project, relPath string) error {
	fullPath := filepath.Join(root, relPath)
	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if info.IsDir() {
		files[relPath] = hostEntry{project: project, mtime: info.ModTime().Unix(), size: -1}
		entries, err := os.ReadDir(fullPath)
		if err != nil {
			return err
		}
		for _, ent := range entries {
			if strings.HasPrefix(ent.Name(), ".") {
				continue
			}
			if err := hostWalk(files, root, project, filepath.Join(relPath, ent.Name())); err != nil {
				return err
			}
		}
		return nil
	}

	files[relPath] = hostEntry{project: project, mtime: info.ModTime().Unix(), size: info.Size()}
	return nil
}

// DiffResult is the three-way set diff produced by RDiff: Add and Update
// map a path to the host project it should be copied from; Delete is in
// reverse-lexical order so children are removed before their parents.
type DiffResult struct {
	Add    map[string]string
	Delete []string
	Update map[string]string
}

// RDiff compares the device's tree under path against the named host
// project directories.
func (e *Engine) RDiff(hostDir, path string, projects []string) (*DiffResult, error) {
	mcuFiles, err := e.McuFiles(nil, path)
	if err != nil {
		return nil, err
	}
	hostFiles, err := e.HostFiles(hostDir, path, projects)
	if err != nil {
		return nil, err
	}

	add := make(map[string]string)
	for p, hf := range hostFiles {
		if _, ok := mcuFiles[p]; !ok {
			add[p] = hf.project
		}
	}

	var del []string
	for p := range mcuFiles {
		if _, ok := hostFiles[p]; !ok {
			del = append(del, p)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(del)))

	update := make(map[string]string)
	for p, mf := range mcuFiles {
		hf, ok := hostFiles[p]
		if !ok {
			continue
		}
		if mf.size != hf.size || (mf.mtime < hf.mtime && mf.size >= 0) {
			update[p] = hf.project
		}
	}

	return &DiffResult{Add: add, Delete: del, Update: update}, nil
}

// SyncEntry is one planned or applied rsync action.
type SyncEntry struct {
	Action string // "COPY", "DELETE", "UPDATE"
	Path   string
}

// RSync computes the diff between the device and the host projects under
// path and, unless dryRun, applies it (device clock sync, file puts,
// recursive removes). It returns the plan it computed or applied; if an
// operation fails while applying, it returns the entries planned up to
// and including the failing one along with the error, and if the clock
// sync or the diff fails, it returns no plan.
func (e *Engine) RSync(hostDir, path string, projects []string, dryRun bool) ([]SyncEntry, error) {
	if !dryRun {
		if err := e.SyncTime(3 * time.Second); err != nil {
			return nil, err
		}
	}

	diff, err := e.RDiff(hostDir, path, projects)
	if err != nil {
		return nil, err
	}

	var plan []SyncEntry

	addKeys := sortedKeys(diff.Add)
	for _, a := range addKeys {
		plan = append(plan, SyncEntry{Action: "COPY", Path: a})
		if !dryRun {
			if _, err := e.FilePut(filepath.Join(diff.Add[a], a), a, hostDir); err != nil {
				return plan, err
			}
			e.recordOp("add")
		}
	}

	for _, d := range diff.Delete {
		plan = append(plan, SyncEntry{Action: "DELETE", Path: d})
		if !dryRun {
			if _, err := e.RmRf(d, true); err != nil {
				return plan, err
			}
			e.recordOp("delete")
		}
	}

	updateKeys := sortedKeys(diff.Update)
	for _, u := range updateKeys {
		plan = append(plan, SyncEntry{Action: "UPDATE", Path: u})
		if !dryRun {
			if _, err := e.FilePut(filepath.Join(diff.Update[u], u), u, hostDir); err != nil {
				return plan, err
			}
			e.recordOp("update")
		}
	}

	return plan, nil
}

// recordOp notifies Ops, if set, that one sync operation of the given
// kind was applied.
func (e *Engine) recordOp(kind string) {
	if e.Ops != nil {
		e.Ops(kind)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
