package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

var baseURL = &url.URL{Scheme: "http", Host: "example.com", Path: "/api/v3/"}

func TestNewClient(t *testing.T) {
	c := NewClient(baseURL, nil)

	if c.BaseURL.String() != baseURL.String() {
		t.Errorf("expected BaseURL %v, got %v", baseURL, c.BaseURL)
	}
	if c.client != http.DefaultClient {
		t.Error("expected http.DefaultClient when none is given")
	}
}

func TestNewRequest(t *testing.T) {
	c := NewClient(baseURL, nil)

	type lap struct {
		Name     string  `json:"name"`
		Distance float64 `json:"distance"`
	}

	tests := []struct {
		name     string
		method   string
		path     string
		body     any
		wantURL  string
		wantBody string
		wantErr  bool
	}{
		{
			name:     "relative path with body",
			method:   http.MethodPost,
			path:     "activities/1/laps",
			body:     &lap{Name: "Lap <1>", Distance: 1000},
			wantURL:  "http://example.com/api/v3/activities/1/laps",
			wantBody: `{"name":"Lap <1>","distance":1000}` + "\n",
		},
		{
			name:    "query string without body",
			method:  http.MethodGet,
			path:    "athlete/activities?page=2",
			wantURL: "http://example.com/api/v3/athlete/activities?page=2",
		},
		{name: "unencodable body", method: http.MethodGet, path: ".", body: map[any]any{1: 1}, wantErr: true},
		{name: "invalid url", method: http.MethodGet, path: ":", wantErr: true},
		{name: "invalid method", method: "\n", path: ".", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req, err := c.NewRequest(context.Background(), tc.method, tc.path, tc.body)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if req.URL.String() != tc.wantURL {
				t.Errorf("expected URL %v, got %v", tc.wantURL, req.URL)
			}
			if req.Header.Get("User-Agent") != userAgent {
				t.Errorf("expected User-Agent %v, got %v", userAgent, req.Header.Get("User-Agent"))
			}
			if tc.body == nil {
				if req.Body != nil {
					t.Error("expected nil body")
				}
				return
			}
			got, _ := io.ReadAll(req.Body)
			if string(got) != tc.wantBody {
				t.Errorf("expected body %q, got %q", tc.wantBody, got)
			}
			if req.Header.Get("Content-Type") != "application/json" {
				t.Errorf("expected JSON content type, got %q", req.Header.Get("Content-Type"))
			}
		})
	}
}

func TestDo(t *testing.T) {
	type athlete struct {
		ID int64 `json:"id"`
	}

	t.Run("decodes a JSON body", func(t *testing.T) {
		c, mux, teardown := setup()
		defer teardown()

		mux.HandleFunc("/athlete", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"id":42}`)
		})

		req, _ := c.NewRequest(context.Background(), http.MethodGet, "athlete", nil)
		got := new(athlete)
		if _, err := c.Do(req, got); err != nil { //nolint:bodyclose
			t.Fatalf("unexpected error: %v", err)
		}
		if got.ID != 42 {
			t.Errorf("expected id 42, got %d", got.ID)
		}
	})

	t.Run("empty body is not an error", func(t *testing.T) {
		c, mux, teardown := setup()
		defer teardown()

		mux.HandleFunc("/athlete", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})

		req, _ := c.NewRequest(context.Background(), http.MethodGet, "athlete", nil)
		if _, err := c.Do(req, new(athlete)); err != nil { //nolint:bodyclose
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("non JSON body fails to decode", func(t *testing.T) {
		c, mux, teardown := setup()
		defer teardown()

		mux.HandleFunc("/athlete", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, "<!doctype html><html></html>")
		})

		req, _ := c.NewRequest(context.Background(), http.MethodGet, "athlete", nil)
		if _, err := c.Do(req, new(athlete)); err == nil { //nolint:bodyclose
			t.Error("expected error, got nil")
		}
	})

	t.Run("error status is returned as ErrorResponse", func(t *testing.T) {
		c, mux, teardown := setup()
		defer teardown()

		mux.HandleFunc("/activities/9", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message":"Record Not Found"}`)
		})

		req, _ := c.NewRequest(context.Background(), http.MethodGet, "activities/9", nil)
		resp, err := c.Do(req, nil) //nolint:bodyclose
		if resp == nil || resp.StatusCode != http.StatusNotFound {
			t.Fatalf("expected a 404 response, got %v", resp)
		}

		var er *ErrorResponse
		if !errors.As(err, &er) {
			t.Fatalf("expected *ErrorResponse, got %T", err)
		}
		if er.StatusCode() != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", er.StatusCode())
		}
		if !strings.Contains(er.Error(), "Record Not Found") {
			t.Errorf("expected body in error message, got %q", er.Error())
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		c, _, teardown := setup()
		defer teardown()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		req, _ := c.NewRequest(ctx, http.MethodGet, "athlete", nil)

		resp, err := c.Do(req, nil) //nolint:bodyclose
		if err == nil {
			t.Error("expected error, got nil")
		}
		if resp != nil {
			t.Error("expected nil response")
		}
	})
}

// setup starts a test server and returns a client pointed at it, the mux
// to register handlers on and a teardown func.
func setup() (client *Client, mux *http.ServeMux, teardown func()) {
	mux = http.NewServeMux()
	server := httptest.NewServer(mux)

	surl, _ := url.Parse(server.URL + "/")
	c := NewClient(surl, nil)

	return c, mux, server.Close
}
