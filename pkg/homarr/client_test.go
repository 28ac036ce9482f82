package homarr_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardsync/pkg/homarr"
	"boardsync/pkg/homarr/homarrtest"
)

func newClient(t *testing.T, url string, opts ...homarr.Option) *homarr.Client {
	t.Helper()
	c, err := homarr.NewClient(url, opts...)
	require.NoError(t, err)
	return c
}

func TestNewClientValidatesURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:80", "ftp://host", "http://"} {
		_, err := homarr.NewClient(raw)
		assert.Error(t, err, raw)
	}

	c := newClient(t, "http://localhost:7575/homarr/")
	assert.Equal(t, "http://localhost:7575/homarr", c.BaseURL())
}

func TestWithCredentialCopies(t *testing.T) {
	c := newClient(t, "http://localhost")
	keyed := c.WithCredential(homarr.APIKey(" k1 "))

	assert.False(t, c.Credential().IsAPIKey())
	assert.Equal(t, "k1", keyed.Credential().APIKey)
}

func TestErrorClassification(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		status int
		want   error
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, want: homarr.ErrAuthRejected},
		{name: "forbidden", status: http.StatusForbidden, want: homarr.ErrAuthRejected},
		{name: "not found", status: http.StatusNotFound, want: homarr.ErrNotFound},
		{name: "bad request", status: http.StatusBadRequest, want: homarr.ErrRemoteRejected},
		{name: "server error", status: http.StatusBadGateway, want: homarr.ErrRemoteUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := homarrtest.New(t)
			srv.Fail("app.all", tt.status)

			_, err := newClient(t, srv.URL).AllApps(ctx)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var apiErr *homarr.APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, "app.all", apiErr.Procedure)
			assert.Equal(t, tt.status, apiErr.StatusCode)
		})
	}
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newClient(t, url).OnboardingStep(context.Background())
	assert.ErrorIs(t, err, homarr.ErrRemoteUnavailable)
	assert.True(t, homarr.IsRetryable(err))
}

func TestMalformedResponseIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":`))
	}))
	defer srv.Close()

	_, err := newClient(t, srv.URL).OnboardingStep(context.Background())
	assert.ErrorIs(t, err, homarr.ErrRemoteProtocol)
	assert.False(t, homarr.IsRetryable(err))
}

func TestBearerCredential(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"result":{"data":{"json":[]}}}`))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, homarr.WithCredential(homarr.APIKey("secret")))
	_, err := c.AllApps(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", got)
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	srv := homarrtest.New(t)
	srv.RequireAuth()
	srv.AddUser("admin", "pw")

	c := newClient(t, srv.URL)

	_, err := c.AllApps(ctx)
	assert.ErrorIs(t, err, homarr.ErrAuthRejected)

	err = c.Login(ctx, "admin", "wrong")
	assert.ErrorIs(t, err, homarr.ErrAuthRejected)

	require.NoError(t, c.Login(ctx, "admin", "pw"))
	_, err = c.AllApps(ctx)
	assert.NoError(t, err)
}

func TestRotateAPIKey(t *testing.T) {
	ctx := context.Background()
	srv := homarrtest.New(t)
	srv.RequireAuth()
	srv.AddAPIKey("bootstrap")

	c := newClient(t, srv.URL)

	_, err := c.RotateAPIKey(ctx, "bogus")
	assert.ErrorIs(t, err, homarr.ErrAuthRejected)

	key, err := c.RotateAPIKey(ctx, "bootstrap")
	require.NoError(t, err)
	assert.NotEmpty(t, key)
	assert.NotEqual(t, "bootstrap", key)

	_, err = c.WithCredential(homarr.APIKey(key)).AllApps(ctx)
	assert.NoError(t, err)
}

func TestOnboardingCalls(t *testing.T) {
	ctx := context.Background()
	srv := homarrtest.New(t)
	srv.SetOnboarding("start", "user", "settings")
	c := newClient(t, srv.URL)

	step, err := c.OnboardingStep(ctx)
	require.NoError(t, err)
	assert.Equal(t, "start", step)

	require.NoError(t, c.AdvanceOnboarding(ctx))
	require.NoError(t, c.CreateInitialUser(ctx, "admin", "pw"))
	assert.True(t, srv.HasUser("admin"))

	settings := homarr.Settings{CrawlingAndIndexing: homarr.CrawlingSettings{NoIndex: true}}
	require.NoError(t, c.ApplySettings(ctx, settings))
	got, ok := srv.Settings()
	require.True(t, ok)
	assert.Equal(t, settings, got)

	step, err = c.OnboardingStep(ctx)
	require.NoError(t, err)
	assert.Equal(t, "finish", step)
}

func TestCreateInitialUserRejected(t *testing.T) {
	srv := homarrtest.New(t)
	srv.SetOnboarding("user")
	srv.Fail("user.initUser", http.StatusBadRequest)

	err := newClient(t, srv.URL).CreateInitialUser(context.Background(), "admin", "pw")
	assert.ErrorIs(t, err, homarr.ErrRemoteRejected)
}

func TestBoards(t *testing.T) {
	ctx := context.Background()
	srv := homarrtest.New(t)
	srv.AddBoard("readonly", 12, false)
	c := newClient(t, srv.URL)

	_, err := c.BoardByName(ctx, "default")
	assert.ErrorIs(t, err, homarr.ErrNotFound)

	id, err := c.CreateBoard(ctx, homarr.BoardSpec{Name: "default", ColumnCount: 10, IsPublic: true})
	require.NoError(t, err)

	board, err := c.BoardByName(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, id, board.ID)
	assert.Equal(t, 10, board.ColumnCount())

	writable, err := c.WritableBoards(ctx)
	require.NoError(t, err)
	require.Len(t, writable, 1)
	assert.Equal(t, "default", writable[0].Name)

	item := homarr.NewAppItem("a1", homarr.ItemLayout{LayoutID: board.PrimaryLayoutID(), SectionID: board.PrimarySectionID()})
	require.NoError(t, c.SaveBoardItems(ctx, board, append(board.Items, item)))

	saved, ok := srv.Board("default")
	require.True(t, ok)
	require.Len(t, saved.Items, 1)
	assert.Equal(t, "a1", saved.Items[0].AppID())
	assert.Equal(t, board.Sections[0].ID, saved.Sections[0].ID)

	readonly, ok := srv.Board("readonly")
	require.True(t, ok)
	err = c.SaveBoardItems(ctx, readonly, []homarr.BoardItem{item})
	assert.ErrorIs(t, err, homarr.ErrAuthRejected)

	require.NoError(t, c.SetHomeBoard(ctx, id))
	assert.Equal(t, id, srv.HomeBoard())
	require.NoError(t, c.SetColorScheme(ctx, "dark"))
	assert.Equal(t, "dark", srv.ColorScheme())
}

func TestUpsertApp(t *testing.T) {
	ctx := context.Background()
	srv := homarrtest.New(t)
	c := newClient(t, srv.URL, homarr.WithAssetServer("http://assets:8771/"))

	spec := c.AppSpecFor(homarr.AppEntry{Name: "Grafana", URL: " http://grafana ", IconURL: "/usr/share/pixmaps/grafana.svg"})
	assert.Equal(t, "http://assets:8771/icons/grafana.svg", spec.IconURL)
	assert.Equal(t, "http://grafana", spec.Href)

	id, err := c.UpsertApp(ctx, "", spec)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	spec.Description = "dashboards"
	updated, err := c.UpsertApp(ctx, id, spec)
	require.NoError(t, err)
	assert.Equal(t, id, updated)

	apps, err := c.AllApps(ctx)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "dashboards", apps[0].Description)

	_, err = c.UpsertApp(ctx, "missing", spec)
	assert.ErrorIs(t, err, homarr.ErrNotFound)
}
