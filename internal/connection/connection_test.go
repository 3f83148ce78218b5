package connection

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestManagerClientTimeouts(t *testing.T) {
	t.Parallel()

	m := NewManager(Config{
		DownloadTimeout: 30 * time.Second,
		PrefetchTimeout: 2 * time.Second,
	}, zap.NewNop())

	if got := m.DownloadClient().Timeout; got != 30*time.Second {
		t.Fatalf("download client timeout = %v", got)
	}
	if got := m.PrefetchClient().Timeout; got != 2*time.Second {
		t.Fatalf("prefetch client timeout = %v", got)
	}
	if m.DownloadClient().Transport != m.PrefetchClient().Transport {
		t.Fatal("clients should share one transport")
	}
}

func TestBrowserRespectsCanceledContext(t *testing.T) {
	t.Parallel()

	m := NewManager(Config{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.Browser(ctx); err == nil {
		t.Fatal("expected error for canceled context")
	}
	if m.browser != nil {
		t.Fatal("browser should not start under a canceled context")
	}
}

func TestBrowserConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := browserConfig{}
	if cfg.NavTimeout != 0 || cfg.DownloadTimeout != 0 {
		t.Fatal("zero value expected")
	}
	// Defaults are applied inside newBrowser; verify the constants line up
	// with what the scheduler assumes about transfer bounds.
	if defaultNavTimeout != 45*time.Second {
		t.Fatalf("nav timeout default = %v", defaultNavTimeout)
	}
	if defaultDownloadTimeout != 120*time.Second {
		t.Fatalf("download timeout default = %v", defaultDownloadTimeout)
	}
}

func TestOriginOf(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "https with path", in: "https://pensions.newessex.gov/docs/2024/v.pdf", want: "https://pensions.newessex.gov/"},
		{name: "keeps port", in: "http://localhost:8080/a.zip", want: "http://localhost:8080/"},
		{name: "strips query", in: "https://portal.example.gov/download?docId=7", want: "https://portal.example.gov/"},
		{name: "relative url", in: "/docs/a.pdf", wantErr: true},
		{name: "garbage", in: "://", wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := originOf(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("originOf(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestForwardCancelPropagates(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()

	stop := forwardCancel(parent, cancelChild)
	defer stop()

	cancelParent()

	select {
	case <-child.Done():
	case <-time.After(time.Second):
		t.Fatal("child context was not canceled")
	}
}

func TestForwardCancelStopDetaches(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()

	stop := forwardCancel(parent, cancelChild)
	stop()
	cancelParent()

	select {
	case <-child.Done():
		t.Fatal("child canceled after stop")
	case <-time.After(50 * time.Millisecond):
	}
}
