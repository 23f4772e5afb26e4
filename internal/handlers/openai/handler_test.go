package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"gempool-go/internal/config"
	"gempool-go/internal/middleware"
	"gempool-go/internal/models"
	"gempool-go/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type tierStub struct {
	hasTier3 bool
}

func (s tierStub) UserHasActiveTier3Credential(context.Context, int64) (bool, error) {
	return s.hasTier3, nil
}

func TestListModelsServesFullCatalog(t *testing.T) {
	h := New(nil, nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/v1/models", nil)

	h.ListModels(c)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Object string `json:"object"`
		Data   []struct {
			ID     string `json:"id"`
			Object string `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Object != "list" {
		t.Errorf("object = %q", resp.Object)
	}
	if len(resp.Data) != len(models.Catalog()) {
		t.Errorf("models = %d, want %d", len(resp.Data), len(models.Catalog()))
	}
	for _, m := range resp.Data {
		if m.Object != "model" {
			t.Errorf("entry object = %q", m.Object)
		}
	}
}

func TestListModelsHidesTierThreeModels(t *testing.T) {
	h := New(nil, tierStub{hasTier3: false})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/v1/models", nil)
	c.Set(middleware.CtxUser, &store.User{ID: 7, IsActive: true})

	h.ListModels(c)

	var resp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Data) != len(models.CatalogFor(false)) {
		t.Errorf("models = %d, want %d", len(resp.Data), len(models.CatalogFor(false)))
	}
	for _, m := range resp.Data {
		if strings.Contains(m.ID, "gemini-3") {
			t.Errorf("%q listed without a tier-3 credential", m.ID)
		}
	}
}

func TestListModelsIncludesTierThreeForOwners(t *testing.T) {
	h := New(nil, tierStub{hasTier3: true})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/v1/models", nil)
	c.Set(middleware.CtxUser, &store.User{ID: 7, IsActive: true})

	h.ListModels(c)

	var resp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Data) != len(models.Catalog()) {
		t.Errorf("models = %d, want %d", len(resp.Data), len(models.Catalog()))
	}
}

func TestReverseProxyDisabledWithoutKey(t *testing.T) {
	if ReverseProxy(config.OpenAISettings{APIBase: "https://api.openai.com"}) != nil {
		t.Error("proxy should be disabled when no key is configured")
	}
}

func TestReverseProxyRewritesRequest(t *testing.T) {
	var gotPath, gotAuth string
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("{}"))
	}))
	defer target.Close()

	proxy := ReverseProxy(config.OpenAISettings{APIKey: "sk-real", APIBase: target.URL})
	if proxy == nil {
		t.Fatal("proxy not built")
	}

	engine := gin.New()
	engine.Any("/openai/*path", proxy)

	// The proxy needs a real ResponseWriter, so drive it through a server
	// rather than a bare recorder.
	front := httptest.NewServer(engine)
	defer front.Close()

	req, err := http.NewRequest("GET", front.URL+"/openai/v1/models", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer sk-gp-client")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if gotPath != "/v1/models" {
		t.Errorf("upstream path = %q", gotPath)
	}
	if gotAuth != "Bearer sk-real" {
		t.Errorf("upstream auth = %q, client key must not leak through", gotAuth)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
