package ingestion

import (
	"strings"
	"testing"
	"unicode"
)

// stitch rebuilds the source text from passages by dropping each passage's
// overlap with its predecessor.
func stitch(chunks []Chunk) string {
	if len(chunks) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(chunks[0].Text)
	prevEnd := chunks[0].End
	for _, c := range chunks[1:] {
		b.WriteString(string([]rune(c.Text)[prevEnd-c.Start:]))
		prevEnd = c.End
	}
	return b.String()
}

// manualText builds a multi-paragraph document of roughly n characters.
func manualText(n int) string {
	sentences := []string{
		"Open the Retailer App and log in with your registered number.",
		"Tap Device Registration on the dashboard to add a new handset.",
		"Fill in the form and press Submit to send it for approval.",
		"Commission and lifting reports are listed under the Reports category.",
		"Use Voice of Retailer to send feedback directly to the operator.",
	}
	var b strings.Builder
	for i := 0; b.Len() < n; i++ {
		b.WriteString(sentences[i%len(sentences)])
		if i%4 == 3 {
			b.WriteString("\n\n")
		} else {
			b.WriteString(" ")
		}
	}
	return b.String()
}

func TestSplit_EmptyAndWhitespace(t *testing.T) {
	t.Parallel()
	s := NewSplitter(1000, 200)
	for _, in := range []string{"", "   ", "\n\n\t"} {
		if got := s.Split(in); len(got) != 0 {
			t.Errorf("Split(%q) returned %d passages, want 0", in, len(got))
		}
	}
}

func TestSplit_ShortTextIsOnePassage(t *testing.T) {
	t.Parallel()
	in := "How to edit your profile: open Settings and tap Edit."
	got := NewSplitter(1000, 200).Split(in)
	if len(got) != 1 || got[0].Text != in || got[0].Start != 0 || got[0].End != len([]rune(in)) {
		t.Fatalf("unexpected passages: %+v", got)
	}
}

func TestSplit_RoundTrip(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name          string
		text          string
		size, overlap int
	}{
		{"manual 1000/200", manualText(5000), 1000, 200},
		{"manual 300/50", manualText(2000), 300, 50},
		{"no overlap", manualText(2500), 400, 0},
		{"no boundaries", strings.Repeat("x", 2345), 1000, 200},
		{"bangla", strings.Repeat("রিটেইলার অ্যাপে লগইন করুন। প্রোফাইল এডিট করুন। ", 60), 250, 60},
		{"exact multiple", strings.Repeat("abcd ", 400), 1000, 200},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := NewSplitter(tc.size, tc.overlap)
			chunks := s.Split(tc.text)
			if len(chunks) < 2 {
				t.Fatalf("expected several passages, got %d", len(chunks))
			}
			if got := stitch(chunks); got != tc.text {
				t.Fatalf("stitched text differs from input (len %d vs %d)", len(got), len(tc.text))
			}
			for i, c := range chunks {
				if n := len([]rune(c.Text)); n > tc.size || n == 0 {
					t.Errorf("passage %d has %d runes, limit %d", i, n, tc.size)
				}
				if i > 0 {
					prev := chunks[i-1]
					if c.Start <= prev.Start {
						t.Errorf("passage %d does not advance: start %d <= %d", i, c.Start, prev.Start)
					}
					if c.Start > prev.End {
						t.Errorf("passage %d leaves a gap: start %d > previous end %d", i, c.Start, prev.End)
					}
					if overlap := prev.End - c.Start; overlap > tc.overlap {
						t.Errorf("passage %d overlaps by %d, limit %d", i, overlap, tc.overlap)
					}
				}
			}
		})
	}
}

func TestSplit_PrefersParagraphBoundary(t *testing.T) {
	t.Parallel()
	first := strings.Repeat("Login steps are listed here. ", 20) // 580 chars
	second := strings.Repeat("Logout steps follow. ", 40)        // 840 chars
	text := first + "\n\n" + second

	chunks := NewSplitter(1000, 200).Split(text)
	if !strings.HasSuffix(chunks[0].Text, "\n\n") {
		t.Errorf("first passage should end at the paragraph break, ends with %q",
			chunks[0].Text[len(chunks[0].Text)-20:])
	}
}

func TestSplit_AvoidsCuttingWords(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("registration ", 200)
	chunks := NewSplitter(100, 20).Split(text)
	for i, c := range chunks[:len(chunks)-1] {
		r := []rune(c.Text)
		if !unicode.IsSpace(r[len(r)-1]) {
			t.Errorf("passage %d ends mid-word: %q", i, c.Text)
		}
	}
	for i, c := range chunks[1:] {
		if strings.HasPrefix(c.Text, " ") || !strings.HasPrefix(c.Text, "registration") {
			t.Errorf("passage %d does not start on a word: %q", i+1, c.Text)
		}
	}
}

func TestNewSplitter_Defaults(t *testing.T) {
	t.Parallel()
	s := NewSplitter(0, -1)
	if s.size != 1000 || s.overlap != 200 {
		t.Errorf("defaults: size=%d overlap=%d", s.size, s.overlap)
	}
	s = NewSplitter(100, 100)
	if s.overlap != 20 {
		t.Errorf("overlap >= size should reset to size/5, got %d", s.overlap)
	}
}
