package repl

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeHostFile(t *testing.T, root, rel string, mtime time.Time) {
	t.Helper()
	full := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, []byte("content"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Chtimes(full, mtime, mtime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

// mcuListingChannel scripts one raw-REPL exchange whose response is a
// device directory listing, for exercising RDiff/McuFiles end to end.
func mcuListingChannel(lines []string) *fakeChannel {
	body := ""
	for _, l := range lines {
		body += l + "\n"
	}
	return &fakeChannel{
		id:         "fake-listing",
		readStream: append([]byte("raw REPL; CTRL-B to exit\r\n>"), "OK"...),
		readAllSeq: [][]byte{[]byte(body + "\x04\x04")},
	}
}

// TestRDiffThreeWayScenario reproduces the canonical scenario: host tree
// {foo.py, bar/baz.py}, device tree {foo.py (stale), quux.py}. Expected:
// add = {bar/, bar/baz.py}, delete = [quux.py], update = {foo.py}.
func TestRDiffThreeWayScenario(t *testing.T) {
	hostDir := t.TempDir()
	newTime := time.Now()
	staleTime := newTime.Add(-time.Hour)

	writeHostFile(t, filepath.Join(hostDir, "base"), "foo.py", newTime)
	writeHostFile(t, filepath.Join(hostDir, "base"), "bar/baz.py", newTime)

	lines := []string{
		fmt.Sprintf(" D,0,'',%d,0", staleTime.Unix()),
		fmt.Sprintf(" F,1,'foo.py',%d,999", staleTime.Unix()), // size differs from host -> update
		fmt.Sprintf(" F,1,'quux.py',%d,5", staleTime.Unix()),  // absent on host -> delete
	}
	engine, _ := newEngineWithChannel(mcuListingChannel(lines))

	diff, err := engine.RDiff(hostDir, "/", []string{"base"})
	if err != nil {
		t.Fatalf("RDiff failed: %v", err)
	}

	wantAddKeys := []string{"bar", "bar/baz.py"}
	gotAddKeys := sortedKeys(diff.Add)
	if !reflect.DeepEqual(gotAddKeys, wantAddKeys) {
		t.Errorf("add keys = %v, want %v", gotAddKeys, wantAddKeys)
	}

	if !reflect.DeepEqual(diff.Delete, []string{"quux.py"}) {
		t.Errorf("delete = %v, want [quux.py]", diff.Delete)
	}

	if _, ok := diff.Update["foo.py"]; !ok {
		t.Errorf("expected foo.py in update set, got %v", diff.Update)
	}
}

func TestRDiffDeleteOrderIsReverseLexical(t *testing.T) {
	// No host projects, so every device entry lands in the delete set.
	lines := []string{
		" D,0,'',1000,0",
		" F,1,'a',1000,1",
		" D,1,'b',1000,0",
		" F,2,'c',1000,1",
		" F,1,'z',1000,1",
	}
	engine, _ := newEngineWithChannel(mcuListingChannel(lines))

	diff, err := engine.RDiff(t.TempDir(), "/", nil)
	if err != nil {
		t.Fatalf("RDiff failed: %v", err)
	}
	del := diff.Delete
	if len(del) != 5 {
		t.Fatalf("delete = %v, want 5 entries", del)
	}
	for i := 1; i < len(del); i++ {
		if del[i-1] < del[i] {
			t.Fatalf("delete order not reverse-lexical: %v", del)
		}
	}
}

func TestMcuListParserReconstructsNestedPaths(t *testing.T) {
	parser := newMcuListParser()
	lines := []string{
		" D,0,'',1000,0",
		" D,1,'bar',1000,0",
		" F,2,'baz.py',1000,42",
		" F,1,'foo.py',1000,10",
	}
	for _, l := range lines {
		parser.Ans([]byte(l + "\n"))
	}

	if _, ok := parser.files["bar/baz.py"]; !ok {
		t.Errorf("expected bar/baz.py in parsed files, got %v", parser.files)
	}
	if _, ok := parser.files["foo.py"]; !ok {
		t.Errorf("expected foo.py in parsed files, got %v", parser.files)
	}
	if e, ok := parser.files["bar"]; !ok || e.size != -1 {
		t.Errorf("expected bar to be a directory entry, got %v, ok=%v", e, ok)
	}
}

func TestMcuListParserSkipsDotfiles(t *testing.T) {
	parser := newMcuListParser()
	parser.Ans([]byte(" F,0,'.hidden',1000,3\n"))
	if len(parser.files) != 0 {
		t.Errorf("expected dotfile entry to be skipped, got %v", parser.files)
	}
}

func TestHostFilesSkipsDotfiles(t *testing.T) {
	hostDir := t.TempDir()
	now := time.Now()
	writeHostFile(t, filepath.Join(hostDir, "base"), "keep.py", now)
	writeHostFile(t, filepath.Join(hostDir, "base"), ".hidden.py", now)

	engine := &Engine{}
	files, err := engine.HostFiles(hostDir, "/", []string{"base"})
	if err != nil {
		t.Fatalf("HostFiles failed: %v", err)
	}
	if _, ok := files["keep.py"]; !ok {
		t.Errorf("expected keep.py to be present")
	}
	if _, ok := files[".hidden.py"]; ok {
		t.Errorf("expected .hidden.py to be skipped")
	}
}

func TestRecordOpCallsOpsWhenSet(t *testing.T) {
	var got []string
	engine := &Engine{Ops: func(kind string) { got = append(got, kind) }}

	engine.recordOp("add")
	engine.recordOp("delete")

	want := []string{"add", "delete"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestRecordOpNilOpsIsNoop(t *testing.T) {
	engine := &Engine{}
	engine.recordOp("add") // must not panic with no Ops set
}
