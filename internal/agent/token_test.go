package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "ws://127.0.0.1:8080/api/v1/ws/agent?url=x", want: "http://127.0.0.1:8080/api/v1/tabs"},
		{in: "wss://relay.test/ws/agent", want: "https://relay.test/tabs"},
		{in: "http://relay.test/api/v1/ws/agent", wantErr: true},
		{in: "ws://relay.test/agent", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := TokenURL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequestTabToken(t *testing.T) {
	var gotTab string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/tabs", r.URL.Path)
		var req struct {
			TabID string `json:"tab_id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotTab = req.TabID
		w.Write([]byte(`{"code":200,"message":"success","data":{"tab_id":"tab-7","token":"signed"}}`))
	}))
	defer srv.Close()

	ws := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws/agent"
	token, err := RequestTabToken(context.Background(), srv.Client(), ws, "tab-7")
	require.NoError(t, err)
	assert.Equal(t, "tab-7", gotTab)
	assert.Equal(t, "tab-7", token.TabID)
	assert.Equal(t, "signed", token.Token)
}

func TestRequestTabTokenRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":500,"message":"failed to issue tab token"}`))
	}))
	defer srv.Close()

	ws := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/agent"
	_, err := RequestTabToken(context.Background(), srv.Client(), ws, "")
	assert.ErrorContains(t, err, "failed to issue tab token")
}
