package fetch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestFetch_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "clashctl/test" {
			t.Errorf("User-Agent = %q", ua)
		}
		_, _ = w.Write([]byte("proxies: []\n"))
	}))
	defer ts.Close()

	c := &Client{UserAgent: "clashctl/test"}
	body, err := c.Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != "proxies: []\n" {
		t.Errorf("body = %q", body)
	}
}

func TestFetch_UnsupportedScheme(t *testing.T) {
	c := &Client{}
	for _, u := range []string{"file:///etc/passwd", "ftp://example.com/sub", "://bad", "http://"} {
		_, err := c.Fetch(context.Background(), u)
		var ne *NetworkError
		if !errors.As(err, &ne) {
			t.Fatalf("%s: expected *NetworkError, got %T: %v", u, err, err)
		}
		if ne.StatusCode != 0 {
			t.Errorf("%s: StatusCode = %d, want 0", u, ne.StatusCode)
		}
	}
}

func TestFetch_Non2xx(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusForbidden)
	}))
	defer ts.Close()

	_, err := (&Client{}).Fetch(context.Background(), ts.URL)
	var ne *NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("expected *NetworkError, got %T: %v", err, err)
	}
	if ne.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want %d", ne.StatusCode, http.StatusForbidden)
	}
	if ne.URL != ts.URL {
		t.Errorf("URL = %q, want %q", ne.URL, ts.URL)
	}
}

func TestFetch_TooLarge(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", 32)))
	}))
	defer ts.Close()

	_, err := (&Client{MaxBytes: 10}).Fetch(context.Background(), ts.URL)
	if !errors.Is(err, errTooLarge) {
		t.Fatalf("expected errTooLarge, got %v", err)
	}
}

func TestFetch_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()

	_, err := (&Client{Timeout: 50 * time.Millisecond}).Fetch(context.Background(), ts.URL)
	var ne *NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("expected *NetworkError, got %T: %v", err, err)
	}
	if !ne.Timeout() {
		t.Errorf("expected Timeout() to be true for %v", err)
	}
}

func TestFetch_TooManyRedirects(t *testing.T) {
	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, ts.URL+"/again", http.StatusFound)
	}))
	defer ts.Close()

	_, err := (&Client{MaxRedirects: 2}).Fetch(context.Background(), ts.URL)
	if !errors.Is(err, errTooManyRedirects) {
		t.Fatalf("expected errTooManyRedirects, got %v", err)
	}
}

func TestDownload(t *testing.T) {
	payload := bytes.Repeat([]byte{0x1f, 0x8b}, 4096)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer ts.Close()

	var buf bytes.Buffer
	n, err := (&Client{MaxBytes: 10}).Download(context.Background(), ts.URL, &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != int64(len(payload)) || !bytes.Equal(buf.Bytes(), payload) {
		t.Errorf("downloaded %d bytes, want %d", n, len(payload))
	}
}
