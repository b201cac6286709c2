package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/axellelanca/linkcloak/internal/auth"
	"github.com/axellelanca/linkcloak/internal/classifier"
	"github.com/axellelanca/linkcloak/internal/database/dbtest"
	"github.com/axellelanca/linkcloak/internal/decision"
	"github.com/axellelanca/linkcloak/internal/handshake"
	"github.com/axellelanca/linkcloak/internal/ledger"
	"github.com/axellelanca/linkcloak/internal/models"
	"github.com/axellelanca/linkcloak/internal/oracle"
	"github.com/axellelanca/linkcloak/internal/render"
	"github.com/axellelanca/linkcloak/internal/repository"
	"github.com/axellelanca/linkcloak/internal/services"
)

const (
	humanUA    = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 Mobile/15E148"
	facebookUA = "facebookexternalhit/1.1 (+http://www.facebook.com/externalhit_uatext.php)"

	vnResidential = "113.161.1.1"
	usResidential = "8.8.4.4"
	vnDatacenter  = "34.1.1.1"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	router   *gin.Engine
	deps     Dependencies
	links    *repository.GormLinkRepository
	clicks   *repository.GormClickRepository
	recorder *ledger.Recorder
	tokens   *auth.Tokens
	bearer   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := dbtest.Open(t)
	links := repository.NewLinkRepository(db)
	clicks := repository.NewClickRepository(db)

	reputations := oracle.Static{
		vnResidential: {CountryCode: "VN"},
		usResidential: {CountryCode: "US"},
		vnDatacenter:  {CountryCode: "VN", IsDatacenter: true},
	}
	cls := classifier.New(reputations, nil, classifier.Policy{TargetMarket: "VN", OracleTimeout: 200 * time.Millisecond}, nil)

	recorder := ledger.NewRecorder(ledger.New(clicks, ledger.NopPublisher{}, nil), ledger.Options{BufferSize: 64, Workers: 2}, nil)
	t.Cleanup(func() { _ = recorder.Close(context.Background()) })

	tokens, err := auth.NewTokens("test-secret", "linkcloak", time.Hour)
	require.NoError(t, err)
	bearer, _, err := tokens.Issue("ops@example.com")
	require.NoError(t, err)

	deps := Dependencies{
		Links:              services.NewLinkService(links, clicks, nil),
		Classifier:         cls,
		Engine:             decision.New(),
		Recorder:           recorder,
		Content:            render.NewContent(),
		Tokens:             tokens,
		Codes:              auth.NewSQLCodeStore(repository.NewCodeRepository(db)),
		CodeTTL:            time.Minute,
		BaseURL:            "https://go.example",
		HandshakeTimeout:   5 * time.Second,
		HandshakeCountdown: 5,
		Logger:             zap.NewNop(),
	}
	router, err := NewRouter(deps, nil)
	require.NoError(t, err)

	return &testEnv{
		router:   router,
		deps:     deps,
		links:    links,
		clicks:   clicks,
		recorder: recorder,
		tokens:   tokens,
		bearer:   bearer,
	}
}

func (e *testEnv) seed(t *testing.T, link models.Link) {
	t.Helper()
	require.NoError(t, e.links.CreateLink(context.Background(), &link))
}

func (e *testEnv) visit(slug, ip, ua string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/"+slug, nil)
	req.RemoteAddr = ip + ":40000"
	req.Header.Set("User-Agent", ua)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) do(method, path, bearer string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// drain waits for queued clicks so the counters can be read.
func (e *testEnv) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.recorder.Close(ctx))
}

func (e *testEnv) counters(t *testing.T, slug string) (int64, int64) {
	t.Helper()
	link, err := e.links.GetLinkBySlug(context.Background(), slug)
	require.NoError(t, err)
	return link.TotalClicks, link.ValidClicks
}

func deal1() models.Link {
	return models.Link{
		Slug:        "deal1",
		TargetURL:   "https://shop.example/p/1",
		Title:       "Summer sale",
		Description: "Half price on everything",
		ImageURL:    "https://cdn.example/deal1.jpg",
		Content:     "Grab it **today**.",
		IsActive:    true,
	}
}

func TestRedirect_PreviewBotGetsCardAndIsNotCounted(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, deal1())

	w := env.visit("deal1", vnResidential, facebookUA)

	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `property="og:title" content="Summer sale"`)
	assert.Contains(t, body, `property="og:url" content="https://go.example/deal1"`)
	assert.NotContains(t, body, "http-equiv=\"refresh\"")
	assert.NotContains(t, body, "shop.example")
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	env.drain(t)
	total, valid := env.counters(t, "deal1")
	assert.Zero(t, total)
	assert.Zero(t, valid)
	assert.Zero(t, env.recorder.Stats().Submitted)
}

func TestRedirect_ValidHumanIsForwardedAndCounted(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, deal1())

	w := env.visit("deal1", vnResidential, humanUA)

	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `<meta http-equiv="refresh" content="0;url=https://shop.example/p/1">`)
	assert.Contains(t, body, `window.location.replace("https://shop.example/p/1")`)
	assert.Contains(t, body, "<strong>today</strong>")

	env.drain(t)
	total, valid := env.counters(t, "deal1")
	assert.Equal(t, int64(1), total)
	assert.Equal(t, int64(1), valid)

	breakdown, err := env.clicks.Breakdown(context.Background(), "deal1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), breakdown.ByDevice[models.DeviceMobile])
}

func TestRedirect_InvalidHumansAreCountedButNotValid(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, deal1())

	for _, ip := range []string{usResidential, vnDatacenter, "203.0.113.9"} {
		w := env.visit("deal1", ip, humanUA)
		assert.Equal(t, http.StatusOK, w.Code, ip)
		assert.Contains(t, w.Body.String(), "shop.example/p/1", "invalid clicks still reach the merchant")
	}

	env.drain(t)
	total, valid := env.counters(t, "deal1")
	assert.Equal(t, int64(3), total)
	assert.Zero(t, valid)

	breakdown, err := env.clicks.Breakdown(context.Background(), "deal1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), breakdown.ByInvalidReason[models.ReasonWrongCountry])
	assert.Equal(t, int64(1), breakdown.ByInvalidReason[models.ReasonDatacenter])
	assert.Equal(t, int64(1), breakdown.ByInvalidReason[models.ReasonOracleUnavailable])
}

func TestRedirect_LedgerFailureStillForwards(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, deal1())
	// a closed recorder rejects every write
	env.drain(t)

	w := env.visit("deal1", vnResidential, humanUA)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `<meta http-equiv="refresh" content="0;url=https://shop.example/p/1">`)
	assert.Equal(t, int64(1), env.recorder.Stats().Dropped)
	total, valid := env.counters(t, "deal1")
	assert.Zero(t, total)
	assert.Zero(t, valid)
}

func TestRedirect_UnavailableAndUnknownLinks(t *testing.T) {
	env := newTestEnv(t)
	inactive := deal1()
	inactive.Slug = "paused"
	inactive.IsActive = false
	env.seed(t, inactive)

	past := time.Now().Add(-time.Hour)
	expired := deal1()
	expired.Slug = "old"
	expired.ExpiresAt = &past
	env.seed(t, expired)

	tests := []struct {
		slug, ua string
		status   int
	}{
		{"paused", humanUA, http.StatusGone},
		{"paused", facebookUA, http.StatusGone},
		{"old", humanUA, http.StatusGone},
		{"missing", humanUA, http.StatusNotFound},
		{"missing", facebookUA, http.StatusNotFound},
	}
	for _, tt := range tests {
		w := env.visit(tt.slug, vnResidential, tt.ua)
		assert.Equal(t, tt.status, w.Code, tt.slug)
		assert.NotContains(t, w.Body.String(), "shop.example", tt.slug)
	}

	env.drain(t)
	assert.Zero(t, env.recorder.Stats().Submitted)
	for _, slug := range []string{"paused", "old"} {
		total, _ := env.counters(t, slug)
		assert.Zero(t, total, slug)
	}
}

type panickingClassifier struct{}

func (panickingClassifier) Classify(context.Context, string, string) models.VisitorClassification {
	panic("classifier exploded")
}

func (panickingClassifier) ClassifyAgent(string, string) models.VisitorClassification {
	panic("classifier exploded")
}

func TestRecovery_RendersErrorPage(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, deal1())

	deps := env.deps
	deps.Classifier = panickingClassifier{}
	router, err := NewRouter(deps, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/deal1", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "req-123")
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Status string       `json:"status"`
		Ledger ledger.Stats `json:"ledger"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestCreateLink(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/v1/links", "", gin.H{"target_url": "https://shop.example/x"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(http.MethodPost, "/api/v1/links", env.bearer, gin.H{"target_url": "https://shop.example/x", "slug": "deal9", "title": "Deal"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created CreateLinkResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "deal9", created.Slug)
	assert.Equal(t, "https://go.example/deal9", created.FullURL)
	assert.True(t, created.IsActive)

	w = env.do(http.MethodPost, "/api/v1/links", env.bearer, gin.H{"target_url": "https://shop.example/y", "slug": "deal9"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(http.MethodPost, "/api/v1/links", env.bearer, gin.H{"target_url": "javascript:alert(1)"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/api/v1/links", env.bearer, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateLink_Batch(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/v1/links", env.bearer, gin.H{"links": []gin.H{
		{"target_url": "https://shop.example/a"},
		{"target_url": "not a url"},
	}})
	require.Equal(t, http.StatusMultiStatus, w.Code, w.Body.String())

	var resp CreateLinksResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Summary.Total)
	assert.Equal(t, 1, resp.Summary.Successful)
	assert.Equal(t, 1, resp.Summary.Failed)
	assert.True(t, resp.Results[0].Success)
	assert.Len(t, resp.Results[0].Slug, 7)
	assert.NotEmpty(t, resp.Results[1].Error)

	w = env.do(http.MethodPost, "/api/v1/links", env.bearer, gin.H{"links": []gin.H{{"target_url": "ftp://x"}}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLinkStats(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, deal1())

	env.visit("deal1", vnResidential, humanUA)
	env.visit("deal1", usResidential, humanUA)
	env.drain(t)

	w := env.do(http.MethodGet, "/api/v1/links/deal1/stats", env.bearer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.EqualValues(t, 2, body["total_clicks"])
	assert.EqualValues(t, 1, body["valid_clicks"])
	assert.EqualValues(t, 2, body["events"])

	w = env.do(http.MethodGet, "/api/v1/links/nope/stats", env.bearer, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExtensionAuthPage(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/extension/auth?code=abc123", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `data-state="pending"`)
	assert.Contains(t, w.Body.String(), handshake.RequestType)

	w = env.do(http.MethodGet, "/extension/auth", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `data-state="failed"`)
	assert.NotContains(t, w.Body.String(), "postMessage")
}

func TestExtensionCodeExchange(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/v1/extension/codes", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(http.MethodPost, "/api/v1/extension/codes", env.bearer, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var issued struct {
		Code    string `json:"code"`
		AuthURL string `json:"auth_url"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issued))
	require.NotEmpty(t, issued.Code)
	assert.Equal(t, "https://go.example/extension/auth?code="+issued.Code, issued.AuthURL)

	w = env.do(http.MethodPost, "/api/v1/extension/exchange", "", gin.H{"code": issued.Code})
	require.Equal(t, http.StatusOK, w.Code)
	var exchanged struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &exchanged))
	subject, err := env.tokens.Verify(exchanged.Token)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", subject)

	w = env.do(http.MethodPost, "/api/v1/extension/exchange", "", gin.H{"code": issued.Code})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "codes are single use")

	w = env.do(http.MethodPost, "/api/v1/extension/exchange", "", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandshakeAgainstServer(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	code, err := env.deps.Codes.Issue(context.Background(), "ops@example.com", time.Minute)
	require.NoError(t, err)

	bus := handshake.NewLocalBus()
	responder := handshake.NewResponder(bus, &handshake.HTTPExchanger{BaseURL: srv.URL}, 2*time.Second, nil)
	responder.Listen()
	defer responder.Close()

	session := handshake.Start(bus, code, handshake.Options{Timeout: 3 * time.Second, Countdown: -1})
	select {
	case <-session.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("handshake did not finish")
	}

	assert.Equal(t, handshake.Succeeded, session.State())
	subject, err := env.tokens.Verify(responder.Token())
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", subject)

	// a second page with the same code fails: the server already consumed it
	again := handshake.Start(bus, code, handshake.Options{Timeout: 200 * time.Millisecond, Countdown: -1})
	<-again.Done()
	assert.Equal(t, handshake.TimedOut, again.State(), "the responder ignores a code it already handled")

	other := handshake.NewResponder(bus, &handshake.HTTPExchanger{BaseURL: srv.URL}, 2*time.Second, nil)
	other.Listen()
	defer other.Close()
	third := handshake.Start(bus, code, handshake.Options{Timeout: 3 * time.Second, Countdown: -1})
	<-third.Done()
	assert.Equal(t, handshake.Failed, third.State())
	assert.True(t, strings.HasPrefix(third.Outcome().Message, handshake.FailureText))
}
