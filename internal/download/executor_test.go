package download

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/civicdata/fiscalharvest/internal/harvest"
	"github.com/civicdata/fiscalharvest/internal/hash/sha256"
)

func TestExecutorDirectDispatchChecksums(t *testing.T) {
	t.Parallel()

	payload := "%PDF-1.7 audited financial statements"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		fmt.Fprint(w, payload)
	}))
	defer srv.Close()

	store, _ := newDownloadStore(t)
	direct := NewDirect(store, DirectConfig{Client: srv.Client(), Retry: fastRetry()})
	e := NewExecutor(store, direct, nil, true, nil)

	task := directTask(srv.URL+"/doc.pdf", "/harvest/comptroller/2026/doc.pdf")
	result, err := e.Execute(context.Background(), task)
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), result.SizeBytes)

	want, err := sha256.New().Hash([]byte(payload))
	require.NoError(t, err)
	require.Equal(t, want, result.SHA256)
}

func TestExecutorChecksumDisabled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		fmt.Fprint(w, "%PDF-1.7 quarterly ledger")
	}))
	defer srv.Close()

	store, _ := newDownloadStore(t)
	direct := NewDirect(store, DirectConfig{Client: srv.Client(), Retry: fastRetry()})
	e := NewExecutor(store, direct, nil, false, nil)

	result, err := e.Execute(context.Background(), directTask(srv.URL+"/doc.pdf", "/harvest/comptroller/2026/doc.pdf"))
	require.NoError(t, err)
	require.Empty(t, result.SHA256)
	require.NotZero(t, result.SizeBytes)
}

func TestExecutorBrowserDispatch(t *testing.T) {
	t.Parallel()

	store, _ := newDownloadStore(t)
	session := &fakeSession{
		fetch: func(context.Context, string) (harvest.BrowserBytes, error) {
			return harvest.BrowserBytes{Body: []byte("valuation"), ContentType: "application/pdf"}, nil
		},
	}
	browser := NewBrowser(store, &fakeProvider{session: session}, nil, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "direct must not be used", http.StatusTeapot)
	}))
	defer srv.Close()
	direct := NewDirect(store, DirectConfig{Client: srv.Client(), Retry: fastRetry()})

	e := NewExecutor(store, direct, browser, true, nil)
	task := browserTask("https://pensions.newessex.gov/v.pdf", "/harvest/pensions/2026/v.pdf")
	result, err := e.Execute(context.Background(), task)
	require.NoError(t, err)
	require.Equal(t, []string{"fetch"}, session.callLog())
	require.NotEmpty(t, result.SHA256)
}

func TestExecutorBrowserTaskWithoutStrategy(t *testing.T) {
	t.Parallel()

	store, _ := newDownloadStore(t)
	direct := NewDirect(store, DirectConfig{Retry: fastRetry()})
	e := NewExecutor(store, direct, nil, true, nil)

	_, err := e.Execute(context.Background(), browserTask("https://pensions.newessex.gov/v.pdf", "/harvest/pensions/2026/v.pdf"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "no browser strategy")
}

func TestExecutorFailureYieldsEmptyResult(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such document", http.StatusNotFound)
	}))
	defer srv.Close()

	store, _ := newDownloadStore(t)
	direct := NewDirect(store, DirectConfig{Client: srv.Client(), Retry: fastRetry()})
	e := NewExecutor(store, direct, nil, true, nil)

	result, err := e.Execute(context.Background(), directTask(srv.URL+"/doc.pdf", "/harvest/comptroller/2026/doc.pdf"))
	require.Error(t, err)
	require.Zero(t, result.SizeBytes)
	require.Empty(t, result.SHA256)
}
