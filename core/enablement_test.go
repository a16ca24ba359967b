package core

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"chat-gateway/core/apierr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEnablement(t *testing.T) {
	e := NewProviderEnablement([]string{"qwen", "claude"}, []string{"Claude"}, "", time.Hour, nil, testLogger())
	ctx := context.Background()

	ok, err := e.IsEnabled(ctx, "qwen")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.ErrorIs(t, e.Check(ctx, "claude"), apierr.ErrProviderDisabled)

	list, err := e.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "claude", list[0].ID)
	assert.False(t, list[0].Enabled)
}

func TestRemoteEnablementCached(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, `[{"provider_id":"DeepSeek","provider_name":"DeepSeek","is_enabled":true},
			{"provider_id":"qwen","provider_name":"Qwen","is_enabled":false}]`)
	}))
	defer srv.Close()

	e := NewProviderEnablement(nil, nil, srv.URL, time.Hour, srv.Client(), testLogger())
	ctx := context.Background()

	assert.NoError(t, e.Check(ctx, "deepseek"))
	assert.ErrorIs(t, e.Check(ctx, "qwen"), apierr.ErrProviderDisabled)
	assert.ErrorIs(t, e.Check(ctx, "claude"), apierr.ErrProviderDisabled, "missing from remote list")
	assert.Equal(t, int32(1), hits.Load())
}

func TestRemoteEnablementUnavailableDisables(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	e := NewProviderEnablement(nil, nil, srv.URL, time.Hour, srv.Client(), testLogger())
	ok, err := e.IsEnabled(context.Background(), "deepseek")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(1), hits.Load(), "4xx is not retried")
}

func TestModelCatalogShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"array", `[{"id":"a"},{"id":"b"}]`, 2},
		{"data", `{"data":[{"id":"a"}]}`, 1},
		{"grouped", `{"claude":[{"id":"a"}],"qwen":[{"id":"b"},{"id":"c"}]}`, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()
			c := NewModelCatalog(srv.URL, time.Minute, srv.Client(), testLogger())
			assert.Len(t, c.Models(context.Background()), tt.want)
		})
	}
}

func TestModelCatalogWithoutURL(t *testing.T) {
	c := NewModelCatalog("", time.Minute, nil, testLogger())
	assert.Empty(t, c.Refresh(context.Background()))
}
