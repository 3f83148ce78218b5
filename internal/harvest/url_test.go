package harvest

import "testing"

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		in         string
		stripQuery bool
		want       string
	}{
		{
			name:       "lowercases scheme and host",
			in:         "HTTPS://Portal.Example.GOV/Reports/fy2026.PDF",
			stripQuery: true,
			want:       "https://portal.example.gov/Reports/fy2026.PDF",
		},
		{
			name:       "removes default https port",
			in:         "https://portal.example.gov:443/a.pdf",
			stripQuery: true,
			want:       "https://portal.example.gov/a.pdf",
		},
		{
			name:       "removes default http port",
			in:         "http://portal.example.gov:80/a.pdf",
			stripQuery: true,
			want:       "http://portal.example.gov/a.pdf",
		},
		{
			name:       "keeps explicit nonstandard port",
			in:         "https://portal.example.gov:8443/a.pdf",
			stripQuery: true,
			want:       "https://portal.example.gov:8443/a.pdf",
		},
		{
			name:       "strips fragment always",
			in:         "https://portal.example.gov/a.pdf#page=2",
			stripQuery: false,
			want:       "https://portal.example.gov/a.pdf",
		},
		{
			name:       "strips query when policy says so",
			in:         "https://portal.example.gov/a.pdf?session=123",
			stripQuery: true,
			want:       "https://portal.example.gov/a.pdf",
		},
		{
			name:       "preserves query for sources that encode identity in it",
			in:         "https://portal.example.gov/get?doc=42",
			stripQuery: false,
			want:       "https://portal.example.gov/get?doc=42",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeURL(tc.in, tc.stripQuery)
			if err != nil {
				t.Fatalf("NormalizeURL(%q) error = %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("NormalizeURL(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeURLRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := NormalizeURL("ht tp://bad url", true); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestFilenameFromURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"https://portal.example.gov/fy2026/debt-schedule.xlsx", "debt-schedule.xlsx"},
		{"https://portal.example.gov/docs/Annual%20Report.pdf", "Annual_Report.pdf"},
		{"https://portal.example.gov/", "document"},
		{"https://portal.example.gov/archive.zip?v=2", "archive_v_2.zip"},
		{"https://portal.example.gov/awards/report.pdf?docId=7&rev=3", "report_docId_7_rev_3.pdf"},
	}
	for _, tc := range cases {
		if got := FilenameFromURL(tc.in); got != tc.want {
			t.Fatalf("FilenameFromURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
