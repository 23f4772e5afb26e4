package config

import (
	"context"
	"testing"
)

type memStore struct {
	data map[string]string
}

func newMemStore() *memStore { return &memStore{data: map[string]string{}} }

func (m *memStore) ListSystemConfig(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) UpsertSystemConfig(ctx context.Context, key, value string) error {
	m.data[key] = value
	return nil
}

func (m *memStore) DeleteSystemConfig(ctx context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func TestRegistryUpdatePersistsAndApplies(t *testing.T) {
	store := newMemStore()
	reg := NewRegistry(Defaults().Runtime, store)

	if err := reg.Update(context.Background(), "base_rpm", "20"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := reg.Snapshot().BaseRPM; got != 20 {
		t.Errorf("BaseRPM = %d, want 20", got)
	}
	if store.data["base_rpm"] != "20" {
		t.Errorf("store value = %q, want 20", store.data["base_rpm"])
	}
}

func TestRegistryRejectsInvalidValues(t *testing.T) {
	reg := NewRegistry(Defaults().Runtime, newMemStore())

	if err := reg.Update(context.Background(), "base_rpm", "many"); err == nil {
		t.Error("non-numeric base_rpm should be rejected")
	}
	if err := reg.Update(context.Background(), "credential_pool_mode", "everything"); err == nil {
		t.Error("unknown pool mode should be rejected")
	}
	if err := reg.Update(context.Background(), "no_such_key", "1"); err == nil {
		t.Error("unknown key should be rejected")
	}
	if got := reg.Snapshot(); got != Defaults().Runtime {
		t.Error("failed updates must not mutate the snapshot")
	}
}

func TestRegistryLoadOverridesSkipsBadRows(t *testing.T) {
	store := newMemStore()
	store.data["quota_flash"] = "250"
	store.data["force_donate"] = "true"
	store.data["cd_pro"] = "garbage"

	reg := NewRegistry(Defaults().Runtime, store)
	if err := reg.LoadOverrides(context.Background()); err != nil {
		t.Fatalf("LoadOverrides: %v", err)
	}
	rt := reg.Snapshot()
	if rt.QuotaFlash != 250 {
		t.Errorf("QuotaFlash = %d, want 250", rt.QuotaFlash)
	}
	if !rt.ForceDonate {
		t.Error("ForceDonate should be true")
	}
	if rt.CDPro != Defaults().Runtime.CDPro {
		t.Errorf("CDPro = %d, want default after bad override", rt.CDPro)
	}
}

func TestRegistryResetRestoresBase(t *testing.T) {
	store := newMemStore()
	reg := NewRegistry(Defaults().Runtime, store)

	if err := reg.Update(context.Background(), "cd_flash", "90"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := reg.Reset(context.Background(), "cd_flash"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if got := reg.Snapshot().CDFlash; got != Defaults().Runtime.CDFlash {
		t.Errorf("CDFlash = %d, want default", got)
	}
	if _, ok := store.data["cd_flash"]; ok {
		t.Error("override row should be deleted")
	}
}
