package lokiapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func TestQueryTarget(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		now := time.Now().UnixNano()
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "success",
			"data": map[string]interface{}{
				"result": []map[string]interface{}{{
					"stream": map[string]string{"container": "app"},
					"values": [][]string{
						{strconv.FormatInt(now, 10), "second line"},
						{strconv.FormatInt(now-int64(time.Minute), 10), "first line"},
					},
				}},
			},
		})
	}))
	t.Cleanup(srv.Close)
	c := New(srv.URL, 5*time.Second)

	entries, err := c.QueryTarget(context.Background(), "container", "app", 15)
	if err != nil {
		t.Fatalf("QueryTarget: %v", err)
	}
	if gotQuery != `{container="app"}` {
		t.Errorf("logql = %q", gotQuery)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries", len(entries))
	}
	// Oldest first.
	if entries[0].Line != "first line" || entries[1].Line != "second line" {
		t.Errorf("entries out of order: %+v", entries)
	}
}

func TestQueryTargetTypes(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "success",
			"data":   map[string]interface{}{"result": []interface{}{}},
		})
	}))
	t.Cleanup(srv.Close)
	c := New(srv.URL, 5*time.Second)

	tests := []struct {
		queryType string
		target    string
		want      string
	}{
		{"service", "nginx", `{unit="nginx.service"}`},
		{"host", "web1", `{host="web1"}`},
		{"errors", "web1", `{host="web1"} |~ "(?i)(error|fail|fatal|panic)"`},
	}
	for _, tt := range tests {
		if _, err := c.QueryTarget(context.Background(), tt.queryType, tt.target, 5); err != nil {
			t.Fatalf("QueryTarget(%s): %v", tt.queryType, err)
		}
		if gotQuery != tt.want {
			t.Errorf("logql for %s = %q, want %q", tt.queryType, gotQuery, tt.want)
		}
	}

	if _, err := c.QueryTarget(context.Background(), "bogus", "x", 5); err == nil {
		t.Error("unknown query type accepted")
	}
}
