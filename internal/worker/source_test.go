package worker_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prodsync/apps/backend/internal/worker"
)

func TestLocationOpener_HTTP(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/products.csv":
			w.Write([]byte("id,title\np1,Shoe\n"))
		case "/gone.csv":
			w.WriteHeader(http.StatusGone)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer ts.Close()

	opener := worker.LocationOpener{Client: ts.Client()}
	ctx := context.Background()

	rc, err := opener.Open(ctx, ts.URL+"/products.csv")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "id,title\np1,Shoe\n", string(body))

	_, err = opener.Open(ctx, ts.URL+"/gone.csv")
	assert.ErrorIs(t, err, worker.ErrSourceNotFound)

	_, err = opener.Open(ctx, ts.URL+"/flaky.csv")
	require.Error(t, err)
	assert.NotErrorIs(t, err, worker.ErrSourceNotFound)
}

func TestLocationOpener_UnsupportedScheme(t *testing.T) {
	_, err := worker.LocationOpener{}.Open(context.Background(), "s3://bucket/products.csv")
	assert.ErrorIs(t, err, worker.ErrSourceNotFound)
}
