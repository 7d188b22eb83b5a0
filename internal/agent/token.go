package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"webtestflow/replayer/pkg/response"
)

// TabToken is the identity the background issued to this tab.
type TabToken struct {
	TabID string `json:"tab_id"`
	Token string `json:"token"`
}

// TokenURL derives the tab registration endpoint from the agent websocket
// endpoint, e.g. ws://host/api/v1/ws/agent becomes http://host/api/v1/tabs.
func TokenURL(wsEndpoint string) (string, error) {
	u, err := url.Parse(wsEndpoint)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported websocket scheme %q", u.Scheme)
	}
	prefix, _, ok := strings.Cut(u.Path, "/ws/")
	if !ok {
		return "", fmt.Errorf("websocket path %q has no /ws/ segment", u.Path)
	}
	u.Path = prefix + "/tabs"
	u.RawQuery = ""
	return u.String(), nil
}

// RequestTabToken asks the background for a tab token. A non-empty tabID is
// re-signed so a restarted agent keeps its bindings.
func RequestTabToken(ctx context.Context, client *http.Client, wsEndpoint, tabID string) (*TabToken, error) {
	endpoint, err := TokenURL(wsEndpoint)
	if err != nil {
		return nil, err
	}
	body, _ := json.Marshal(map[string]string{"tab_id": tabID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request tab token: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		response.Response
		Data TabToken `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode tab token: %w", err)
	}
	if out.Code != 200 || out.Data.Token == "" {
		return nil, fmt.Errorf("tab token refused: %d %s", out.Code, out.Message)
	}
	return &out.Data, nil
}
