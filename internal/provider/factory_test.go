package provider

import (
	"strings"
	"testing"

	"github.com/Mu-L/lastversion/internal/log"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	noop := log.NewNoop()
	gh, err := NewGitHub(WithGitHubLogger(noop))
	if err != nil {
		t.Fatalf("NewGitHub: %v", err)
	}
	return NewRegistry(
		gh,
		NewGitLab(WithGitLabLogger(noop)),
		NewPyPI(WithPyPILogger(noop)),
		NewGitRepo(WithGitRepoLogger(noop)),
		NewScrape(WithScrapeLogger(noop)),
	)
}

func TestRegistry_Get(t *testing.T) {
	r := newTestRegistry(t)

	if _, ok := r.Get("github"); !ok {
		t.Error("github should be registered")
	}
	if _, ok := r.Get("bitbucket"); ok {
		t.Error("bitbucket should not be registered")
	}
}

func TestRegistry_Candidates(t *testing.T) {
	r := newTestRegistry(t)

	tests := []struct {
		name  string
		input string
		hint  string
		want  []string
	}{
		{
			name:  "hint pins provider",
			input: "dvisvgm/dvisvgm",
			hint:  "github",
			want:  []string{"github"},
		},
		{
			name:  "github url",
			input: "https://github.com/dvisvgm/dvisvgm",
			want:  []string{"github"},
		},
		{
			name:  "gitlab url with www",
			input: "https://www.gitlab.com/inkscape/inkscape",
			want:  []string{"gitlab"},
		},
		{
			name:  "pypi url",
			input: "https://pypi.org/project/requests/",
			want:  []string{"pypi"},
		},
		{
			name:  "unknown host clone url",
			input: "https://git.example.org/proj.git",
			want:  []string{"git", "scrape"},
		},
		{
			name:  "unknown host page",
			input: "https://download.example.org/releases/",
			want:  []string{"scrape"},
		},
		{
			name:  "ssh clone url",
			input: "git@example.org:proj/proj.git",
			want:  []string{"git"},
		},
		{
			name:  "owner and name",
			input: "dvisvgm/dvisvgm",
			want:  []string{"github", "gitlab"},
		},
		{
			name:  "bare name",
			input: "requests",
			want:  []string{"pypi"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clients, err := r.Candidates(tt.input, tt.hint)
			if err != nil {
				t.Fatalf("Candidates: %v", err)
			}
			var got []string
			for _, c := range clients {
				got = append(got, c.Name())
			}
			if len(got) != len(tt.want) {
				t.Fatalf("candidates = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("candidates[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestRegistry_Candidates_LocalPath(t *testing.T) {
	r := newTestRegistry(t)
	dir := initTaggedRepo(t, "v1.0.0")

	clients, err := r.Candidates(dir, "")
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(clients) != 1 || clients[0].Name() != "git" {
		t.Errorf("local path should select git, got %v", clients)
	}
}

func TestRegistry_Candidates_UnknownHint(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Candidates("requests", "sourceforge")
	if err == nil {
		t.Fatal("expected error for unknown hint")
	}
	if !strings.Contains(err.Error(), "sourceforge") {
		t.Errorf("error should name the hint: %v", err)
	}
}

func TestRegistry_Candidates_Unconfigured(t *testing.T) {
	// A registry carrying only the forge clients cannot serve a bare
	// package name.
	gh, err := NewGitHub(WithGitHubLogger(log.NewNoop()))
	if err != nil {
		t.Fatalf("NewGitHub: %v", err)
	}
	r := NewRegistry(gh)

	if _, err := r.Candidates("requests", ""); err == nil {
		t.Fatal("expected error when no candidate is configured")
	}
}
