package tools

import (
	"context"
	"errors"
	"testing"
)

// stubTransport records requests and serves canned responses keyed by
// "METHOD path".
type stubTransport struct {
	responses map[string]any
	errs      map[string]error
	calls     []string
	lastBody  any
}

func newStubTransport() *stubTransport {
	return &stubTransport{
		responses: map[string]any{},
		errs:      map[string]error{},
	}
}

func (s *stubTransport) do(method, path string, body any) (any, error) {
	key := method + " " + path
	s.calls = append(s.calls, key)
	s.lastBody = body
	if err, ok := s.errs[key]; ok {
		return nil, err
	}
	return s.responses[key], nil
}

func (s *stubTransport) Get(ctx context.Context, path string) (any, error) {
	return s.do("GET", path, nil)
}

func (s *stubTransport) Post(ctx context.Context, path string, body any) (any, error) {
	return s.do("POST", path, body)
}

func (s *stubTransport) Put(ctx context.Context, path string, body any) (any, error) {
	return s.do("PUT", path, body)
}

func (s *stubTransport) Delete(ctx context.Context, path string, body any) (any, error) {
	return s.do("DELETE", path, body)
}

func poolFixture(name string, size, allocated float64, healthy bool) map[string]any {
	return map[string]any{
		"name":      name,
		"status":    "ONLINE",
		"healthy":   healthy,
		"size":      size,
		"allocated": allocated,
		"free":      size - allocated,
	}
}

func TestListPools(t *testing.T) {
	st := newStubTransport()
	st.responses["GET /pool"] = []any{
		poolFixture("tank", 1 << 40, 1 << 39, true),
		poolFixture("scratch", 1 << 30, 0, false),
	}

	raw, err := NewStorageTools(st).listPools(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := raw.(map[string]any)

	pools := result["pools"].([]map[string]any)
	if len(pools) != 2 {
		t.Fatalf("expected 2 pools, got %d", len(pools))
	}
	if pools[0]["usage_percent"] != 50.0 {
		t.Errorf("expected 50%% usage, got %v", pools[0]["usage_percent"])
	}
	if pools[0]["size"] != "1.00 TiB" {
		t.Errorf("unexpected size formatting: %v", pools[0]["size"])
	}

	meta := result["metadata"].(map[string]any)
	if meta["healthy_pools"] != 1 || meta["degraded_pools"] != 1 {
		t.Errorf("unexpected health counts: %v", meta)
	}
}

func TestListPools_Pagination(t *testing.T) {
	st := newStubTransport()
	st.responses["GET /pool"] = []any{
		poolFixture("a", 100, 10, true),
		poolFixture("b", 100, 10, true),
		poolFixture("c", 100, 10, true),
	}

	raw, err := NewStorageTools(st).listPools(context.Background(), map[string]any{
		"limit":  float64(2),
		"offset": float64(1),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := raw.(map[string]any)

	pools := result["pools"].([]map[string]any)
	if len(pools) != 2 {
		t.Fatalf("expected 2 pools on page, got %d", len(pools))
	}
	if pools[0]["name"] != "b" {
		t.Errorf("expected page to start at b, got %v", pools[0]["name"])
	}

	pagination := result["pagination"].(map[string]any)
	if pagination["total"] != 3 || pagination["has_more"] != false {
		t.Errorf("unexpected pagination: %v", pagination)
	}
}

func TestGetPool_IDLookupFallsBackToList(t *testing.T) {
	st := newStubTransport()
	st.errs["GET /pool/id/tank"] = errors.New("not supported")
	st.responses["GET /pool"] = []any{poolFixture("tank", 100, 50, true)}

	raw, err := NewStorageTools(st).getPool(context.Background(), map[string]any{"pool_name": "tank"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := raw.(map[string]any)
	if result["name"] != "tank" {
		t.Errorf("expected tank, got %v", result["name"])
	}
}

func TestGetPool_NotFound(t *testing.T) {
	st := newStubTransport()
	st.errs["GET /pool/id/nope"] = errors.New("not supported")
	st.responses["GET /pool"] = []any{poolFixture("tank", 100, 50, true)}

	if _, err := NewStorageTools(st).getPool(context.Background(), map[string]any{"pool_name": "nope"}); err == nil {
		t.Error("expected not-found error")
	}
}

func TestGetPool_MissingArgument(t *testing.T) {
	st := newStubTransport()
	if _, err := NewStorageTools(st).getPool(context.Background(), map[string]any{}); err == nil {
		t.Error("expected error for missing pool_name")
	}
}

func TestListDatasets_FilterByPool(t *testing.T) {
	st := newStubTransport()
	st.responses["GET /pool/dataset"] = []any{
		map[string]any{"id": "tank/a", "name": "tank/a", "pool": "tank", "type": "FILESYSTEM"},
		map[string]any{"id": "scratch/b", "name": "scratch/b", "pool": "scratch", "type": "FILESYSTEM"},
	}

	raw, err := NewStorageTools(st).listDatasets(context.Background(), map[string]any{"pool_name": "tank"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := raw.(map[string]any)
	datasets := result["datasets"].([]map[string]any)
	if len(datasets) != 1 || datasets[0]["pool"] != "tank" {
		t.Errorf("unexpected filter result: %v", datasets)
	}
}

func TestCreateDataset_OptionalProperties(t *testing.T) {
	st := newStubTransport()
	st.responses["POST /pool/dataset"] = map[string]any{"id": "tank/media"}

	_, err := NewStorageTools(st).createDataset(context.Background(), map[string]any{
		"pool_name":    "tank",
		"dataset_name": "media",
		"compression":  "lz4",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body := st.lastBody.(map[string]any)
	if body["name"] != "tank/media" {
		t.Errorf("unexpected name: %v", body["name"])
	}
	if body["type"] != "FILESYSTEM" {
		t.Errorf("unexpected type: %v", body["type"])
	}
	if body["compression"] != "lz4" {
		t.Errorf("expected compression set, got %v", body["compression"])
	}
	if _, ok := body["quota"]; ok {
		t.Error("quota must be omitted when not supplied")
	}
}

func TestDeleteDataset_EscapesPath(t *testing.T) {
	st := newStubTransport()

	_, err := NewStorageTools(st).deleteDataset(context.Background(), map[string]any{
		"dataset":   "tank/media",
		"recursive": true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "DELETE /pool/dataset/id/tank%2Fmedia"
	if st.calls[0] != want {
		t.Errorf("expected %s, got %s", want, st.calls[0])
	}
	body := st.lastBody.(map[string]any)
	if body["recursive"] != true {
		t.Errorf("expected recursive body, got %v", body)
	}
}

func TestSetQuota(t *testing.T) {
	st := newStubTransport()
	st.responses["PUT /pool/dataset/id/tank%2Fmedia"] = map[string]any{"quota": "10G"}

	raw, err := NewStorageTools(st).setQuota(context.Background(), map[string]any{
		"dataset": "tank/media",
		"quota":   "10G",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := raw.(map[string]any)
	if result["success"] != true {
		t.Errorf("expected success, got %v", result)
	}
	body := st.lastBody.(map[string]any)
	if body["quota"] != "10G" {
		t.Errorf("expected quota in body, got %v", body)
	}
}

func TestFormatSize(t *testing.T) {
	cases := map[float64]string{
		512:     "512.00 B",
		1 << 10: "1.00 KiB",
		1 << 20: "1.00 MiB",
		1 << 40: "1.00 TiB",
	}
	for in, want := range cases {
		if got := formatSize(in); got != want {
			t.Errorf("formatSize(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestPaginate_Bounds(t *testing.T) {
	items := []map[string]any{{"n": 1}, {"n": 2}, {"n": 3}}

	page, meta := paginate(items, 2, 0)
	if len(page) != 2 || meta["has_more"] != true {
		t.Errorf("unexpected first page: %v %v", page, meta)
	}

	page, meta = paginate(items, 2, 10)
	if len(page) != 0 || meta["returned"] != 0 {
		t.Errorf("expected empty page past the end, got %v %v", page, meta)
	}

	_, meta = paginate(items, 9999, 0)
	if meta["limit"] != maxPageLimit {
		t.Errorf("expected limit clamped to %d, got %v", maxPageLimit, meta["limit"])
	}
}
