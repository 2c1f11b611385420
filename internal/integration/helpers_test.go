package integration_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/metinatakli/seat-hold-coordinator/api"
	"github.com/metinatakli/seat-hold-coordinator/internal/domain"
	"github.com/stretchr/testify/require"
)

var keysToIgnore = map[string]struct{}{
	"timestamp": {},
	"requestId": {},
	"createdAt": {},
	"reference": {},
}

func prepareRequest(method, path string, body io.Reader, headers map[string]string, cookies []*http.Cookie) (*http.Request, error) {
	req := httptest.NewRequest(method, path, body)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	for _, c := range cookies {
		req.AddCookie(c)
	}

	return req, nil
}

func compareResponse(t *testing.T, body io.Reader, expectedResponse string) {
	var actual map[string]any
	require.NoError(t, json.NewDecoder(body).Decode(&actual))

	cleanMap(actual)

	var expected map[string]any
	require.NoError(t, json.Unmarshal([]byte(expectedResponse), &expected))

	// ignore indetermistic fields while comparing
	opts := cmpopts.IgnoreMapEntries(func(k string, _ any) bool {
		_, ok := keysToIgnore[k]
		return ok
	})

	if diff := cmp.Diff(expected, actual, opts); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}
}

func cleanMap(m map[string]any) {
	for k := range m {
		if _, ok := keysToIgnore[k]; ok {
			delete(m, k)
			continue
		}
		if nested, ok := m[k].(map[string]any); ok {
			cleanMap(nested)
		}
	}
}

func executeSQLFile(t testing.TB, db *pgxpool.Pool, path string) {
	t.Helper()

	sql, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = db.Exec(context.Background(), string(sql))
	require.NoError(t, err, "failed to execute %s", path)
}

// resetInventory reloads the units of every test showtime and removes all
// bookings.
func resetInventory(t testing.TB, app *TestApp) {
	t.Helper()

	executeSQLFile(t, app.DB, "testdata/units_down.sql")
	executeSQLFile(t, app.DB, "testdata/units_up.sql")
}

// sessionCookie starts a guest session against the running server.
func sessionCookie(t testing.TB, serverURL string) *http.Cookie {
	t.Helper()

	resp, err := http.Get(serverURL + "/v1/healthcheck")
	require.NoError(t, err)
	defer resp.Body.Close()

	for _, c := range resp.Cookies() {
		if c.Name == "session_id" {
			return c
		}
	}

	t.Fatal("no session cookie in response")
	return nil
}

type wsClient struct {
	t     testing.TB
	ws    *websocket.Conn
	token string
}

// serverFrame holds any ack or event sent by the server.
type serverFrame struct {
	Type       string             `json:"type"`
	RequestId  string             `json:"requestId"`
	Ok         bool               `json:"ok"`
	Error      *api.AckError      `json:"error"`
	ShowtimeID int                `json:"showtimeId"`
	OwnerToken string             `json:"ownerToken"`
	UnitID     string             `json:"unitId"`
	Deltas     []domain.UnitDelta `json:"deltas"`
	Units      []domain.Unit      `json:"units"`
}

func dialWS(t testing.TB, serverURL string, cookie *http.Cookie) *wsClient {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(serverURL, "http")+"/ws", &websocket.DialOptions{
		HTTPHeader: http.Header{"Cookie": []string{cookie.String()}},
	})
	require.NoError(t, err)

	c := &wsClient{t: t, ws: ws}

	welcome := c.next()
	require.Equal(t, string(domain.EventWelcome), welcome.Type)
	c.token = welcome.OwnerToken

	return c
}

func (c *wsClient) close() {
	c.ws.Close(websocket.StatusNormalClosure, "")
}

func (c *wsClient) next() serverFrame {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var f serverFrame
	require.NoError(c.t, wsjson.Read(ctx, c.ws, &f))

	return f
}

func (c *wsClient) until(match func(serverFrame) bool) serverFrame {
	for i := 0; i < 50; i++ {
		if f := c.next(); match(f) {
			return f
		}
	}

	c.t.Fatal("expected frame not received")
	return serverFrame{}
}

func (c *wsClient) request(msg api.ClientMessage) serverFrame {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(c.t, wsjson.Write(ctx, c.ws, msg))

	return c.until(func(f serverFrame) bool {
		return f.Type == api.AckType && f.RequestId == msg.RequestId
	})
}

func (c *wsClient) hold(showtimeID int, unitIDs ...string) {
	for _, id := range unitIDs {
		ack := c.request(api.ClientMessage{Type: api.HoldUnit, RequestId: "hold-" + id, ShowtimeId: showtimeID, UnitId: id})
		require.True(c.t, ack.Ok, "hold %s: %+v", id, ack.Error)
	}
}
