package httpserver_test

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"finitefield.org/bookfinder/internal/catalog"
	"finitefield.org/bookfinder/internal/identity"
	"finitefield.org/bookfinder/internal/live"
	"finitefield.org/bookfinder/internal/testutil"
)

type browser struct {
	t    *testing.T
	base string
	http *http.Client
	csrf string
}

func newBrowser(t *testing.T, base string) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{
		t:    t,
		base: base,
		http: &http.Client{
			Jar: jar,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (b *browser) do(req *http.Request) (*http.Response, []byte) {
	b.t.Helper()
	resp, err := b.http.Do(req)
	require.NoError(b.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(b.t, err)
	return resp, body
}

func (b *browser) get(path string, htmx bool) (*http.Response, []byte) {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodGet, b.base+path, nil)
	require.NoError(b.t, err)
	if htmx {
		req.Header.Set("HX-Request", "true")
	}
	resp, body := b.do(req)
	if resp.StatusCode == http.StatusOK && !htmx {
		doc := testutil.ParseHTML(b.t, body)
		if token, ok := doc.Find("meta[name=csrf-token]").Attr("content"); ok {
			b.csrf = token
		}
	}
	return resp, body
}

func (b *browser) post(path string, form url.Values, htmx bool) (*http.Response, []byte) {
	b.t.Helper()
	if form == nil {
		form = url.Values{}
	}
	if !htmx && form.Get("_csrf") == "" {
		form.Set("_csrf", b.csrf)
	}
	req, err := http.NewRequest(http.MethodPost, b.base+path, strings.NewReader(form.Encode()))
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if htmx {
		req.Header.Set("HX-Request", "true")
		req.Header.Set("X-CSRF-Token", b.csrf)
	}
	return b.do(req)
}

// fragment issues an htmx GET without failing the test, so it can run on a
// goroutine other than the test's.
func (b *browser) fragment(path string) (int, []byte, error) {
	req, err := http.NewRequest(http.MethodGet, b.base+path, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("HX-Request", "true")
	resp, err := b.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return resp.StatusCode, body, err
}

func (b *browser) signUpAndIn(email, password string) {
	b.t.Helper()
	resp, _ := b.get("/signup", false)
	require.Equal(b.t, http.StatusOK, resp.StatusCode)

	resp, _ = b.post("/signup", url.Values{"email": {email}, "password": {password}}, false)
	require.Equal(b.t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(b.t, "/login", resp.Header.Get("Location"))

	b.signIn(email, password)
}

func (b *browser) signIn(email, password string) {
	b.t.Helper()
	resp, _ := b.get("/login", false)
	require.Equal(b.t, http.StatusOK, resp.StatusCode)

	resp, _ = b.post("/login", url.Values{"email": {email}, "password": {password}}, false)
	require.Equal(b.t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(b.t, "/", resp.Header.Get("Location"))
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	ts := testutil.NewServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", string(body))
}

func TestHomeRedirectsWithoutSession(t *testing.T) {
	t.Parallel()
	search := testutil.NewStaticCatalog(35)
	ts := testutil.NewServer(t, testutil.WithCatalog(search))
	b := newBrowser(t, ts.URL)

	resp, _ := b.get("/?genre=Fantasy", false)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/login", resp.Header.Get("Location"))
	require.Empty(t, search.Queries())

	resp, _ = b.get("/books?genre=Fantasy", true)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "/login", resp.Header.Get("HX-Redirect"))
}

func TestLoginPageRenders(t *testing.T) {
	t.Parallel()
	ts := testutil.NewServer(t)
	b := newBrowser(t, ts.URL)

	resp, body := b.get("/login", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	doc := testutil.ParseHTML(t, body)
	require.Equal(t, "Log In | Bookfinder", doc.Find("title").Text())
	require.Equal(t, "New user? Sign up here", doc.Find("a[href='/signup']").Text())
	require.NotEmpty(t, b.csrf)
}

func TestFormPostWithoutCSRFIsRejected(t *testing.T) {
	t.Parallel()
	ts := testutil.NewServer(t)
	b := newBrowser(t, ts.URL)
	b.get("/login", false)

	resp, _ := b.post("/login", url.Values{"email": {"a@example.com"}, "password": {"secret1"}, "_csrf": {"forged"}}, false)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestFailedLoginKeepsUserOnForm(t *testing.T) {
	t.Parallel()
	ts := testutil.NewServer(t)
	b := newBrowser(t, ts.URL)
	b.get("/login", false)

	resp, body := b.post("/login", url.Values{"email": {"ghost@example.com"}, "password": {"nope123"}}, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	doc := testutil.ParseHTML(t, body)
	require.Equal(t, "ghost@example.com", doc.Find("input[name=email]").AttrOr("value", ""))
	require.Zero(t, doc.Find(".error").Length())

	resp, _ = b.get("/", false)
	require.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestSearchWishlistAndSignOut(t *testing.T) {
	t.Parallel()
	search := testutil.NewStaticCatalog(35)
	ts := testutil.NewServer(t, testutil.WithCatalog(search))
	b := newBrowser(t, ts.URL)
	b.signUpAndIn("reader@example.com", "hunter22")

	resp, body := b.get("/", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc := testutil.ParseHTML(t, body)
	require.Equal(t, "reader@example.com", doc.Find(".who").Text())
	require.Zero(t, doc.Find("li.book").Length())
	require.Zero(t, doc.Find("li.wish").Length())

	resp, _ = b.get("/?genre=genre", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, search.Queries())

	resp, body = b.get("/?genre=Fantasy", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc = testutil.ParseHTML(t, body)
	books := doc.Find("li.book")
	require.Equal(t, catalog.SampleSize, books.Length())
	titles := map[string]bool{}
	for _, title := range testutil.Texts(books.Find("h3")) {
		titles[title] = true
	}
	require.Len(t, titles, catalog.SampleSize)
	require.Equal(t, []string{"Fantasy"}, search.Queries())

	resp, _ = b.get("/books?genre=Mystery", false)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = b.get("/books?genre=Mystery", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	fragment := testutil.ParseHTML(t, body)
	require.Equal(t, 0, fragment.Find("title").Length())
	require.Equal(t, catalog.SampleSize, fragment.Find("#results li.book").Length())

	first := books.First()
	form := url.Values{}
	first.Find("form input").Each(func(_ int, s *goquery.Selection) {
		form.Set(s.AttrOr("name", ""), s.AttrOr("value", ""))
	})
	form.Del("_csrf")
	resp, body = b.post("/wishlist", form, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	wish := testutil.ParseHTML(t, body)
	require.Equal(t, 1, wish.Find("#wishlist li.wish").Length())
	require.Equal(t, first.Find("h3").Text(), wish.Find("#wishlist li.wish .title").Text())

	resp, body = b.get("/", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, testutil.ParseHTML(t, body).Find("li.wish").Length())

	resp, _ = b.post("/logout", nil, false)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/login", resp.Header.Get("Location"))

	resp, _ = b.get("/", false)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/login", resp.Header.Get("Location"))
}

// gatedCatalog holds every Romance search until Release is called.
type gatedCatalog struct {
	*testutil.StaticCatalog
	started     chan struct{}
	release     chan struct{}
	startOnce   sync.Once
	releaseOnce sync.Once
}

func newGatedCatalog() *gatedCatalog {
	return &gatedCatalog{
		StaticCatalog: testutil.NewStaticCatalog(35),
		started:       make(chan struct{}),
		release:       make(chan struct{}),
	}
}

func (c *gatedCatalog) Search(ctx context.Context, query string) ([]catalog.Book, error) {
	if query == "Romance" {
		c.startOnce.Do(func() { close(c.started) })
		<-c.release
	}
	return c.StaticCatalog.Search(ctx, query)
}

func (c *gatedCatalog) Release() {
	c.releaseOnce.Do(func() { close(c.release) })
}

func TestStaleSearchDoesNotReplaceNewerResults(t *testing.T) {
	t.Parallel()
	search := newGatedCatalog()
	ts := testutil.NewServer(t, testutil.WithCatalog(search))
	t.Cleanup(search.Release)
	b := newBrowser(t, ts.URL)
	b.signUpAndIn("reader@example.com", "hunter22")

	_, body := b.get("/", false)
	form := testutil.ParseHTML(t, body).Find("#search")
	require.Equal(t, "this:replace", form.AttrOr("hx-sync", ""))
	tab := form.Find("input[name=tab]").AttrOr("value", "")
	require.NotEmpty(t, tab)

	type response struct {
		status int
		body   []byte
		err    error
	}
	stale := make(chan response, 1)
	go func() {
		status, body, err := b.fragment("/books?genre=Romance&tab=" + url.QueryEscape(tab))
		stale <- response{status: status, body: body, err: err}
	}()
	select {
	case <-search.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first search never reached the catalog")
	}

	resp, body := b.get("/books?genre=Mystery&tab="+url.QueryEscape(tab), true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	titles := testutil.Texts(testutil.ParseHTML(t, body).Find("#results li.book h3"))
	require.Len(t, titles, catalog.SampleSize)
	for _, title := range titles {
		require.True(t, strings.HasPrefix(title, "Mystery"), title)
	}

	search.Release()
	got := <-stale
	require.NoError(t, got.err)
	require.Equal(t, http.StatusNoContent, got.status)
	require.Empty(t, got.body)
}

func TestSearchesFromDifferentTabsBothRender(t *testing.T) {
	t.Parallel()
	ts := testutil.NewServer(t)
	b := newBrowser(t, ts.URL)
	b.signUpAndIn("reader@example.com", "hunter22")

	tabs := make([]string, 2)
	for i := range tabs {
		_, body := b.get("/", false)
		tabs[i] = testutil.ParseHTML(t, body).Find("#search input[name=tab]").AttrOr("value", "")
	}
	require.NotEqual(t, tabs[0], tabs[1])

	for _, tab := range tabs {
		resp, body := b.get("/books?genre=Fantasy&tab="+url.QueryEscape(tab), true)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, catalog.SampleSize, testutil.ParseHTML(t, body).Find("li.book").Length())
	}
}

func TestExpiredSessionIsRefreshed(t *testing.T) {
	t.Parallel()
	// Every ID token is issued two hours ago with a one hour lifetime, so
	// each request has to refresh it.
	past := func() time.Time { return time.Now().Add(-2 * time.Hour) }
	provider := identity.NewMemoryProvider([]byte("refresh-secret"),
		identity.WithBcryptCost(4), identity.WithClock(past), identity.WithTokenTTL(time.Hour))
	ts := testutil.NewServer(t, testutil.WithIdentity(provider))
	b := newBrowser(t, ts.URL)
	b.signUpAndIn("reader@example.com", "hunter22")

	for i := 0; i < 3; i++ {
		resp, body := b.get("/", false)
		require.Equal(t, http.StatusOK, resp.StatusCode, "request %d", i)
		require.Equal(t, "reader@example.com", testutil.ParseHTML(t, body).Find(".who").Text())
	}
}

func TestExpiredSessionEndsWhenRefreshIsRejected(t *testing.T) {
	t.Parallel()
	past := func() time.Time { return time.Now().Add(-2 * time.Hour) }
	provider := identity.NewMemoryProvider([]byte("refresh-secret"),
		identity.WithBcryptCost(4), identity.WithClock(past), identity.WithTokenTTL(time.Hour))
	user, err := provider.CreateAccount(context.Background(), "reader@example.com", "hunter22")
	require.NoError(t, err)
	ts := testutil.NewServer(t, testutil.WithIdentity(provider))
	b := newBrowser(t, ts.URL)
	b.signIn("reader@example.com", "hunter22")

	provider.Disable(user.UID)
	resp, _ := b.get("/", false)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/login", resp.Header.Get("Location"))
}

func TestWishlistIsScopedToIdentity(t *testing.T) {
	t.Parallel()
	ts := testutil.NewServer(t)

	alice := newBrowser(t, ts.URL)
	alice.signUpAndIn("alice@example.com", "hunter22")
	alice.get("/", false)
	resp, _ := alice.post("/wishlist", url.Values{"id": {"1"}, "title": {"Emma"}, "author": {"Jane Austen"}}, false)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	bob := newBrowser(t, ts.URL)
	bob.signUpAndIn("bob@example.com", "hunter22")
	_, body := bob.get("/", false)
	require.Zero(t, testutil.ParseHTML(t, body).Find("li.wish").Length())

	_, body = alice.get("/", false)
	require.Equal(t, "Emma", testutil.ParseHTML(t, body).Find("li.wish .title").Text())
}

func TestSignOutNotifiesOtherTabs(t *testing.T) {
	t.Parallel()
	hub := live.NewHub()
	provider := identity.NewMemoryProvider([]byte("live-secret"), identity.WithBcryptCost(4))
	user, err := provider.CreateAccount(context.Background(), "reader@example.com", "hunter22")
	require.NoError(t, err)

	ts := testutil.NewServer(t, testutil.WithHub(hub), testutil.WithIdentity(provider))
	b := newBrowser(t, ts.URL)
	b.signIn("reader@example.com", "hunter22")
	b.get("/", false)

	base, err := url.Parse(ts.URL)
	require.NoError(t, err)
	header := http.Header{}
	for _, c := range b.http.Jar.Cookies(base) {
		header.Add("Cookie", c.String())
	}

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/live", header)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	require.Eventually(t, func() bool {
		return hub.Connections(user.UID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	resp, _ = b.post("/logout", nil, false)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg live.Message
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, live.TypeSignedOut, msg.Type)
	require.Equal(t, "/login", msg.Location)
}

func TestLiveRejectsAnonymous(t *testing.T) {
	t.Parallel()
	ts := testutil.NewServer(t)

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/live", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
