package telegram

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitTextShort(t *testing.T) {
	t.Parallel()
	got := splitText("hello", 10, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("splitText = %q, want [hello]", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	line := strings.Repeat("a", 6)
	s := strings.Join([]string{line, line, line, line}, "\n") // 27 runes
	got := splitText(s, 15, "")
	for _, c := range got {
		if utf8.RuneCountInString(c) > 15 {
			t.Fatalf("chunk %q longer than limit", c)
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk %q has edge newline", c)
		}
	}
	if strings.Join(got, "\n") != s {
		t.Fatalf("rejoined chunks = %q, want %q", strings.Join(got, "\n"), s)
	}
}

func TestSplitTextHTMLKeepsTags(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("x", 8) + "<b>bold</b>"
	got := splitText(s, 10, "HTML")
	if len(got) < 2 {
		t.Fatalf("splitText = %q, want several chunks", got)
	}
	if got[0] != strings.Repeat("x", 8) {
		t.Fatalf("first chunk = %q, want the text before the tag", got[0])
	}
}

func TestSplitTextMultibyte(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("雨", 25)
	got := splitText(s, 10, "")
	if len(got) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(got))
	}
	if strings.Join(got, "") != s {
		t.Fatalf("chunks lost runes")
	}
}
