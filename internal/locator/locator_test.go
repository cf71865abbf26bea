package locator

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"void/internal/fits"
)

func writeFrame(t *testing.T, path, dateObs string, extra ...fits.Card) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	cards := []fits.Card{
		fits.NewValueCard("SIMPLE", "T", ""),
		fits.NewValueCard("BITPIX", "8", ""),
		fits.NewValueCard("NAXIS", "0", ""),
		fits.NewStringCard("DATE-OBS", dateObs, ""),
	}
	cards = append(cards, extra...)
	if err := fits.WriteFile(path, &fits.Header{Cards: cards}, nil); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func fixtureTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFrame(t, filepath.Join(root, "a_unflagged.fit"), "2019-04-24T10:07:28")
	writeFrame(t, filepath.Join(root, "b_flagged.fit"), "2019-04-24T11:00:00",
		fits.NewStringCard("VISNJAN", "True", ""))
	writeFrame(t, filepath.Join(root, "sub", "c_unflagged.fits"), "2019-05-01")
	writeFrame(t, filepath.Join(root, "d_blankflag.fit"), "2019-03-01T00:00:00",
		fits.NewStringCard("VISNJAN", " ", ""))
	if err := os.WriteFile(filepath.Join(root, "readme.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

func names(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = filepath.Base(p)
	}
	return out
}

func TestParseTimeFilter(t *testing.T) {
	t1 := time.Date(2019, 4, 24, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2019, 4, 25, 12, 30, 0, 0, time.UTC)

	cases := []struct {
		in   string
		want TimeFilter
	}{
		{"", TimeFilter{}},
		{"<2019-04-24", TimeFilter{Before: t1}},
		{">2019-04-24T00:00:00", TimeFilter{After: t1}},
		{"[2019-04-24,2019-04-25T12:30:00]", TimeFilter{After: t1, Before: t2}},
	}
	for _, tc := range cases {
		got, err := ParseTimeFilter(tc.in)
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if !got.After.Equal(tc.want.After) || !got.Before.Equal(tc.want.Before) {
			t.Fatalf("%q: got %+v want %+v", tc.in, got, tc.want)
		}
	}

	for _, bad := range []string{"2019-04-24", "[2019-04-24]", "<yesterday", "[2019-04-25,2019-04-24]"} {
		if _, err := ParseTimeFilter(bad); err == nil {
			t.Fatalf("%q should be rejected", bad)
		}
	}
}

func TestTimeFilterBoundsAreExclusive(t *testing.T) {
	t1 := time.Date(2019, 4, 24, 0, 0, 0, 0, time.UTC)
	f := TimeFilter{After: t1, Before: t1.Add(time.Hour)}
	if f.Match(t1) || f.Match(t1.Add(time.Hour)) {
		t.Fatalf("bounds must be exclusive")
	}
	if !f.Match(t1.Add(time.Minute)) {
		t.Fatalf("inner time should match")
	}
	if !(TimeFilter{}).Match(t1) {
		t.Fatalf("zero filter accepts all")
	}
}

func TestSnifferFlagHandling(t *testing.T) {
	root := fixtureTree(t)

	cases := []struct {
		name string
		flag string
		want []string
	}{
		{"default flag", "VISNJAN", []string{"a_unflagged.fit", "d_blankflag.fit", "c_unflagged.fits"}},
		{"disabled flag", DisabledFlag, []string{"a_unflagged.fit", "b_flagged.fit", "d_blankflag.fit", "c_unflagged.fits"}},
		{"no flag", "", []string{"a_unflagged.fit", "b_flagged.fit", "d_blankflag.fit", "c_unflagged.fits"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &Sniffer{SearchDir: root, FlagName: tc.flag}
			got, err := s.Find(context.Background())
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if !reflect.DeepEqual(names(got), tc.want) {
				t.Fatalf("got %v want %v", names(got), tc.want)
			}
		})
	}
}

func TestSnifferTimeRangeAndMaxN(t *testing.T) {
	root := fixtureTree(t)
	f, err := ParseTimeFilter(">2019-04-01")
	if err != nil {
		t.Fatal(err)
	}

	s := &Sniffer{SearchDir: root, FlagName: "VISNJAN", TimeRange: f}
	got, err := s.Find(context.Background())
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if want := []string{"a_unflagged.fit", "c_unflagged.fits"}; !reflect.DeepEqual(names(got), want) {
		t.Fatalf("got %v want %v", names(got), want)
	}

	s.MaxN = 1
	got, err = s.Find(context.Background())
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 1 || filepath.Base(got[0]) != "a_unflagged.fit" {
		t.Fatalf("maxn not honoured: %v", names(got))
	}
}

func TestSnifferUpdateFlag(t *testing.T) {
	root := fixtureTree(t)
	s := &Sniffer{SearchDir: root, FlagName: "VISNJAN", UpdateFlag: true}

	first, err := s.Find(context.Background())
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(first) != 3 {
		t.Fatalf("expected 3 files, got %v", names(first))
	}
	for _, p := range first {
		h, err := fits.ReadHeaderFile(p)
		if err != nil {
			t.Fatal(err)
		}
		if !fits.IsFlagged(h, "VISNJAN") {
			t.Fatalf("%s was not flagged", p)
		}
	}

	second, err := s.Find(context.Background())
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("flagged files returned again: %v", names(second))
	}
}

func TestSnifferSkipsCorruptFiles(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "broken.fit"), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	writeFrame(t, filepath.Join(root, "ok.fit"), "2019-04-24T10:07:28")

	got, err := (&Sniffer{SearchDir: root, FlagName: "VISNJAN"}).Find(context.Background())
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if want := []string{"ok.fit"}; !reflect.DeepEqual(names(got), want) {
		t.Fatalf("got %v want %v", names(got), want)
	}
}

func TestWatcherEmitsNewFrames(t *testing.T) {
	root := t.TempDir()
	s := &Sniffer{SearchDir: root, FlagName: "VISNJAN", UpdateFlag: true}
	w, err := NewWatcher(s)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	w.settle = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go w.Run(ctx)

	path := filepath.Join(root, "new.fit")
	writeFrame(t, path, "2019-04-24T10:07:28")
	os.WriteFile(filepath.Join(root, "ignored.txt"), []byte("x"), 0o644)

	select {
	case got := <-w.Paths:
		if got != path {
			t.Fatalf("got %q want %q", got, path)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for watcher")
	}

	h, err := fits.ReadHeaderFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !fits.IsFlagged(h, "VISNJAN") {
		t.Fatalf("watcher did not flag the file")
	}
	cancel()
	for range w.Paths {
	}
}

func TestWatcherStopsAfterMaxN(t *testing.T) {
	root := t.TempDir()
	s := &Sniffer{SearchDir: root, MaxN: 1, FlagName: "VISNJAN", UpdateFlag: true}
	w, err := NewWatcher(s)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	w.settle = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	a := filepath.Join(root, "a.fit")
	b := filepath.Join(root, "b.fit")
	writeFrame(t, a, "2019-04-24T10:07:28")
	writeFrame(t, b, "2019-04-24T10:08:28")

	var got []string
	for path := range w.Paths {
		got = append(got, path)
	}
	if len(got) != 1 {
		t.Fatalf("expected a single path, got %q", got)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-ctx.Done():
		t.Fatalf("watcher did not stop after maxn")
	}
	if ctx.Err() != nil {
		t.Fatalf("watcher stopped only on timeout")
	}

	flaggedCount := 0
	for _, p := range []string{a, b} {
		h, err := fits.ReadHeaderFile(p)
		if err != nil {
			t.Fatal(err)
		}
		if fits.IsFlagged(h, "VISNJAN") {
			flaggedCount++
		}
	}
	if flaggedCount != 1 {
		t.Fatalf("expected only the emitted file to be flagged, got %d", flaggedCount)
	}
}
