package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
)

func TestFlush_Dedup(t *testing.T) {
	m := New()
	for _, u := range []string{"a", "b", "a", "c", "b"} {
		m.Add("leagues", u)
	}

	dir := t.TempDir()
	files, err := m.Flush(dir)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if len(files) != 1 || files[0] != filepath.Join(dir, "leagues.txt") {
		t.Fatalf("files = %v", files)
	}

	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	lines := strings.Split(string(data), "\n")
	sort.Strings(lines)
	if strings.Join(lines, ",") != "a,b,c" {
		t.Errorf("manifest lines = %q, want exactly a, b, c", lines)
	}
}

func TestFlush_SkipsEmptyGroupsAndSeparatesGroups(t *testing.T) {
	m := New()
	m.Add("teams", "https://cdn/t/1.png")
	m.Add("players", "https://cdn/p/1.png")
	m.Add("players", "https://cdn/p/2.png")

	dir := t.TempDir()
	files, err := m.Flush(dir)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("files = %v, want players.txt and teams.txt", files)
	}

	links, err := Read(filepath.Join(dir, "players.txt"))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(links) != 2 {
		t.Errorf("players links = %v", links)
	}
	if _, err := os.Stat(filepath.Join(dir, "leagues.txt")); !os.IsNotExist(err) {
		t.Error("no file should be written for a group without links")
	}
}

func TestAdd_Concurrent(t *testing.T) {
	m := New()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				m.Add("matches", fmt.Sprintf("u%d", i))
				m.Add(fmt.Sprintf("g%d", w), "x")
			}
		}(w)
	}
	wg.Wait()

	groups := m.Groups()
	if len(groups["matches"]) != 100 {
		t.Errorf("matches has %d distinct links, want 100", len(groups["matches"]))
	}
	for w := 0; w < 8; w++ {
		if got := groups[fmt.Sprintf("g%d", w)]; len(got) != 1 {
			t.Errorf("g%d = %v", w, got)
		}
	}
	m.Close()
}

func TestAdd_AfterCloseIsDropped(t *testing.T) {
	m := New()
	m.Add("leagues", "a")
	m.Close()
	m.Add("leagues", "b")
	m.Close()

	if got := m.Groups()["leagues"]; len(got) != 1 || got[0] != "a" {
		t.Errorf("leagues = %v, want [a]", got)
	}
}

func TestDedup(t *testing.T) {
	got := Dedup([]string{"c", "a", "c", "b", "a"})
	if strings.Join(got, ",") != "a,b,c" {
		t.Errorf("Dedup = %v", got)
	}
}
