package debug

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMux(t *testing.T) {
	mux, err := Mux()
	require.NoError(t, err)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	for _, path := range []string{"/debug/pprof/", "/debug/vars", "/debug/statsviz/"} {
		t.Run(path, func(t *testing.T) {
			resp, err := srv.Client().Get(srv.URL + path)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)
		})
	}
}
