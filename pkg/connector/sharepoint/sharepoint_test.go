package sharepoint

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontier-framework/fmf/pkg/connector"
)

func newGraphServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var throttleOnce atomic.Int32

	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(v))
	}

	mux.HandleFunc("/sites/contoso.sharepoint.com:/sites/HR", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": "site-1"})
	})
	mux.HandleFunc("/sites/site-1/drives", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"value": []map[string]any{
			{"id": "drive-1", "name": "Documents"},
			{"id": "drive-2", "name": "Archive"},
		}})
	})
	mux.HandleFunc("/sites/site-1/drives/drive-1/root:/reports:/children", func(w http.ResponseWriter, r *http.Request) {
		if throttleOnce.CompareAndSwap(0, 1) {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, map[string]any{"value": []map[string]any{
			{"name": "q1.md", "size": 3, "eTag": "e1", "lastModifiedDateTime": "2024-05-01T12:00:00Z"},
			{"name": "old", "folder": map[string]any{}},
			{"name": "data.bin", "size": 9},
		}})
	})
	mux.HandleFunc("/sites/site-1/drives/drive-1/root:/reports/old:/children", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"value": []map[string]any{
			{"name": "q0.md", "size": 5},
		}})
	})
	mux.HandleFunc("/sites/site-1/drives/drive-1/root:/reports/q1.md:/content", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# q1"))
	})
	mux.HandleFunc("/sites/site-1/drives/drive-1/root:/reports/q1.md", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"name": "q1.md", "size": 4, "eTag": "e1", "lastModifiedDateTime": "2024-05-01T12:00:00Z"})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &throttleOnce
}

func newConnector(t *testing.T) *Connector {
	t.Helper()
	srv, _ := newGraphServer(t)
	c, err := New(t.Context(), Config{
		Name:       "hr",
		SiteURL:    "https://contoso.sharepoint.com/sites/HR",
		Drive:      "Documents",
		RootPath:   "reports",
		HTTPClient: srv.Client(),
		BaseURL:    srv.URL,
	})
	require.NoError(t, err)
	return c
}

func TestListTraversesFoldersAndRetriesThrottle(t *testing.T) {
	t.Parallel()

	c := newConnector(t)
	refs, err := c.List(t.Context(), []string{"**/*.md"})
	require.NoError(t, err)

	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, ref.ID)
	}
	assert.ElementsMatch(t, []string{"q1.md", "old/q0.md"}, ids)
}

func TestOpen(t *testing.T) {
	t.Parallel()

	c := newConnector(t)
	r, err := c.Open(t.Context(), connector.ResourceRef{ID: "q1.md"})
	require.NoError(t, err)
	defer r.Close()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "# q1", string(data))
}

func TestInfo(t *testing.T) {
	t.Parallel()

	c := newConnector(t)
	info, err := c.Info(t.Context(), connector.ResourceRef{ID: "q1.md"})
	require.NoError(t, err)

	require.NotNil(t, info.Size)
	assert.Equal(t, int64(4), *info.Size)
	assert.Equal(t, "e1", info.ETag)
	require.NotNil(t, info.ModifiedAt)
	assert.Equal(t, "sharepoint:/sites/site-1/drives/drive-1/root:/reports/q1.md", info.SourceURI)
}

func TestDriveNotFound(t *testing.T) {
	t.Parallel()

	srv, _ := newGraphServer(t)
	c, err := New(t.Context(), Config{
		Name:       "hr",
		SiteURL:    "https://contoso.sharepoint.com/sites/HR",
		Drive:      "Missing",
		HTTPClient: srv.Client(),
		BaseURL:    srv.URL,
	})
	require.NoError(t, err)

	_, err = c.List(t.Context(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestNewRequiresSiteAndDrive(t *testing.T) {
	t.Parallel()

	_, err := New(t.Context(), Config{Name: "hr"})
	require.Error(t, err)
}
