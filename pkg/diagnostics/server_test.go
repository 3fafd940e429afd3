package diagnostics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotnet-acquire/acquire-core/model/install"
)

type stubTracker struct {
	recs []install.Record
}

func (s stubTracker) GetInstalled(ctx context.Context) ([]install.Record, error) {
	return s.recs, nil
}

func TestStatusReportsTrackedInstalls(t *testing.T) {
	tracker := stubTracker{recs: []install.Record{{InstallID: "8.0.1~sdk~x64~local", Owners: []string{"ext-a"}}}}
	srv := New(tracker, nil)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "8.0.1~sdk~x64~local")
}
