package pool

import (
	"context"
	"testing"

	"gempool-go/internal/config"
	"gempool-go/internal/models"
	"gempool-go/internal/store"
	"gempool-go/internal/vault"
)

func runtimeWithMode(mode string) config.Runtime {
	rt := config.Defaults().Runtime
	rt.CredentialPoolMode = mode
	return rt
}

func TestRewardByTier(t *testing.T) {
	rt := config.Defaults().Runtime
	rt.QuotaFlash = 100
	rt.Quota25Pro = 50
	rt.Quota30Pro = 50

	if got := Reward(rt, store.Tier25); got != 150 {
		t.Errorf("tier-2.5 reward = %d, want 150", got)
	}
	if got := Reward(rt, store.Tier3); got != 200 {
		t.Errorf("tier-3 reward = %d, want 200", got)
	}
}

func TestResolveAPIKeyCredentialSkipsRefresh(t *testing.T) {
	v, err := vault.New("resolve-test-key")
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	ct, err := v.Encrypt("AIza-plain-key")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	// No store, refresher or client: the api_key path must not reach them.
	p := New(nil, v, nil, nil, nil)
	tok, err := p.Resolve(context.Background(), &store.Credential{
		ID:             3,
		CredentialType: store.CredentialTypeAPIKey,
		AccessTokenCT:  ct,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if tok.AccessToken != "AIza-plain-key" {
		t.Errorf("token = %q", tok.AccessToken)
	}
}

func TestBuildQueryPrivateMode(t *testing.T) {
	q, apiErr := buildQuery(runtimeWithMode(config.PoolModePrivate), 9, ownership{}, models.Parse("gemini-2.5-flash"), nil)
	if apiErr != nil {
		t.Fatalf("unexpected policy error: %v", apiErr)
	}
	if q.IncludePublic {
		t.Error("private mode must not admit public credentials")
	}
	if q.OwnerID != 9 {
		t.Errorf("owner = %d", q.OwnerID)
	}
}

func TestBuildQueryTier3SharedGate(t *testing.T) {
	// Without an own tier-3 credential, public access narrows to tier 2.5.
	q, apiErr := buildQuery(runtimeWithMode(config.PoolModeTier3Shared), 1, ownership{}, models.Parse("gemini-2.5-pro"), nil)
	if apiErr != nil {
		t.Fatalf("unexpected policy error: %v", apiErr)
	}
	if !q.IncludePublic || len(q.PublicTiers) != 1 || q.PublicTiers[0] != store.Tier25 {
		t.Errorf("expected public tier-2.5 only, got %+v", q)
	}

	// A tier-3 request with no tier-3 ownership is a policy rejection.
	_, apiErr = buildQuery(runtimeWithMode(config.PoolModeTier3Shared), 1, ownership{}, models.Parse("gemini-3-pro-preview"), nil)
	if apiErr == nil {
		t.Fatal("tier-3 request without tier-3 ownership should be rejected")
	}
	if apiErr.HTTPStatus != 503 {
		t.Errorf("status = %d, want 503", apiErr.HTTPStatus)
	}

	// Owning a tier-3 credential opens the full public pool.
	q, apiErr = buildQuery(runtimeWithMode(config.PoolModeTier3Shared), 1, ownership{hasTier3: true}, models.Parse("gemini-3-pro-preview"), nil)
	if apiErr != nil {
		t.Fatalf("unexpected policy error: %v", apiErr)
	}
	if !q.IncludePublic || q.PublicTiers != nil {
		t.Errorf("tier-3 owner should see all public tiers, got %+v", q)
	}
	if q.RequiredTier != store.Tier3 {
		t.Errorf("required tier = %q, want 3", q.RequiredTier)
	}
}

func TestBuildQueryFullSharedPotluck(t *testing.T) {
	q, apiErr := buildQuery(runtimeWithMode(config.PoolModeFullShared), 1, ownership{}, models.Parse("gemini-2.5-flash"), nil)
	if apiErr != nil {
		t.Fatalf("unexpected policy error: %v", apiErr)
	}
	if q.IncludePublic {
		t.Error("user without a public donation must not draw from the pool")
	}

	q, _ = buildQuery(runtimeWithMode(config.PoolModeFullShared), 1, ownership{hasPublic: true}, models.Parse("gemini-2.5-flash"), nil)
	if !q.IncludePublic {
		t.Error("donor should draw from the full pool")
	}
}

func TestBuildQueryTierUpwardCompatibility(t *testing.T) {
	// Tier-2.5 requests accept any tier, so no tier constraint is emitted.
	q, _ := buildQuery(runtimeWithMode(config.PoolModePrivate), 1, ownership{}, models.Parse("gemini-2.5-pro"), nil)
	if q.RequiredTier != "" {
		t.Errorf("tier-2.5 request should accept any tier, got %q", q.RequiredTier)
	}
}

func TestBuildQueryCarriesExclusions(t *testing.T) {
	q, _ := buildQuery(runtimeWithMode(config.PoolModePrivate), 1, ownership{}, models.Parse("gemini-2.5-flash"), []int64{5, 6})
	if len(q.ExcludedIDs) != 2 {
		t.Errorf("exclusions = %v", q.ExcludedIDs)
	}
}

func TestCooldownSecsPerGroup(t *testing.T) {
	rt := config.Defaults().Runtime
	rt.CDFlash, rt.CDPro, rt.CD30 = 5, 30, 60

	if got := cooldownSecs(rt, models.GroupFlash); got != 5 {
		t.Errorf("flash cooldown = %d", got)
	}
	if got := cooldownSecs(rt, models.GroupPro); got != 30 {
		t.Errorf("pro cooldown = %d", got)
	}
	if got := cooldownSecs(rt, models.Group30); got != 60 {
		t.Errorf("30 cooldown = %d", got)
	}
}

func TestNoCredentialErrorMessages(t *testing.T) {
	rt := runtimeWithMode(config.PoolModePrivate)

	e := noCredentialError(rt, models.Parse("gemini-3-pro-preview"), false)
	if e.HTTPStatus != 503 {
		t.Errorf("status = %d", e.HTTPStatus)
	}

	retried := noCredentialError(rt, models.Parse("gemini-2.5-flash"), true)
	if retried.Message == e.Message {
		t.Error("retry exhaustion should carry a distinct message")
	}
}
