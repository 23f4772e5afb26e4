package gemini

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"gempool-go/internal/middleware"
	"gempool-go/internal/models"
	"gempool-go/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestSplitModelAction(t *testing.T) {
	cases := []struct {
		tail, model, action string
		wantErr             bool
	}{
		{"/gemini-2.5-flash:generateContent", "gemini-2.5-flash", "generateContent", false},
		{"/gemini-2.5-pro:streamGenerateContent", "gemini-2.5-pro", "streamGenerateContent", false},
		{"/假流式/gemini-2.5-flash:generateContent", "假流式/gemini-2.5-flash", "generateContent", false},
		{"/gemini-2.5-flash-nothinking:countTokens", "gemini-2.5-flash-nothinking", "countTokens", false},
		{"/gemini-2.5-flash", "", "", true},
		{"/:generateContent", "", "", true},
		{"/gemini-2.5-flash:", "", "", true},
	}
	for _, tc := range cases {
		model, action, err := splitModelAction(tc.tail)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tc.tail)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: %v", tc.tail, err)
			continue
		}
		if model != tc.model || action != tc.action {
			t.Errorf("%q: got (%q, %q), want (%q, %q)", tc.tail, model, action, tc.model, tc.action)
		}
	}
}

func TestSplitModelActionPrefixedModelParses(t *testing.T) {
	model, _, err := splitModelAction("/流式抗截断/gemini-3-pro-preview-search:streamGenerateContent")
	if err != nil {
		t.Fatal(err)
	}
	v := models.Parse(model)
	if v.Mode != models.StreamAntiTrunc || !v.Search || v.Base != "gemini-3-pro-preview" {
		t.Errorf("parsed variant = %+v", v)
	}
}

type tierStub struct {
	hasTier3 bool
}

func (s tierStub) UserHasActiveTier3Credential(context.Context, int64) (bool, error) {
	return s.hasTier3, nil
}

func TestListModelsShape(t *testing.T) {
	h := New(nil, nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/v1beta/models", nil)

	h.ListModels(c)

	var resp struct {
		Models []modelInfo `json:"models"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Models) != len(models.Catalog()) {
		t.Errorf("models = %d, want %d", len(resp.Models), len(models.Catalog()))
	}
	for _, m := range resp.Models {
		if !strings.HasPrefix(m.Name, "models/") {
			t.Errorf("name = %q, want models/ prefix", m.Name)
		}
	}
}

func TestListModelsHidesTierThreeModels(t *testing.T) {
	h := New(nil, tierStub{hasTier3: false})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/v1beta/models", nil)
	c.Set(middleware.CtxUser, &store.User{ID: 7, IsActive: true})

	h.ListModels(c)

	var resp struct {
		Models []modelInfo `json:"models"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Models) != len(models.CatalogFor(false)) {
		t.Errorf("models = %d, want %d", len(resp.Models), len(models.CatalogFor(false)))
	}
	for _, m := range resp.Models {
		if strings.Contains(m.Name, "gemini-3") {
			t.Errorf("%q listed without a tier-3 credential", m.Name)
		}
	}
}
