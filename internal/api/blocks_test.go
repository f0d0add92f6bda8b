package api_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jmerrifield20/chainledger/internal/identity"
	"github.com/jmerrifield20/chainledger/internal/ledger"
)

func TestCommit_201(t *testing.T) {
	env := setupRouter(t)

	first := env.commit(t, "META-001", map[string]any{"valor": 10, "unidad": "%"})
	second := env.commit(t, "META-002", "free text note")

	if first.Index != 0 || first.ParentFingerprint != nil {
		t.Errorf("genesis block = %+v", first)
	}
	if second.Index != 1 || second.Parent() != first.Fingerprint {
		t.Errorf("second block not linked: %+v", second)
	}
	if first.Reference != ledger.ReferenceFor(0) {
		t.Errorf("reference = %q", first.Reference)
	}
}

func TestCommit_400(t *testing.T) {
	env := setupRouter(t)

	cases := []struct {
		name string
		body any
	}{
		{"missing record_id", map[string]any{"entity_kind": "goal", "content": 1, "actor": "a"}},
		{"missing entity_kind", map[string]any{"record_id": "X", "content": 1, "actor": "a"}},
		{"missing content", map[string]any{"record_id": "X", "entity_kind": "goal", "actor": "a"}},
		{"missing actor", map[string]any{"record_id": "X", "entity_kind": "goal", "content": 1}},
		{"not json", "{"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/blocks", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
	if n, _ := env.ledger.Len(t.Context()); n != 0 {
		t.Errorf("rejected commits must not append, len = %d", n)
	}
}

func TestCommit_actorFromToken(t *testing.T) {
	ti, err := identity.NewActorTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), "ledgerd", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	env := setupRouter(t, withTokens(ti))
	body := map[string]any{
		"record_id": "META-001", "entity_kind": "goal",
		"content": map[string]any{"valor": 10}, "actor": "spoofed",
	}

	if w := env.do(t, http.MethodPost, "/api/v1/blocks", body); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	token, _ := ti.Issue("analyst@example.com")
	w := env.do(t, http.MethodPost, "/api/v1/blocks", body, "Authorization", "Bearer "+token)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if actor := decode(t, w)["actor"]; actor != "analyst@example.com" {
		t.Errorf("actor = %v, want token actor", actor)
	}
}

func TestListBlocks(t *testing.T) {
	env := setupRouter(t)
	for _, id := range []string{"A", "B", "C", "D"} {
		env.commit(t, id, map[string]any{"id": id})
	}

	w := env.do(t, http.MethodGet, "/api/v1/blocks?from=1&limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	blocks := resp["blocks"].([]any)
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	if id := blocks[0].(map[string]any)["record_id"]; id != "B" {
		t.Errorf("first block = %v, want B", id)
	}
	if int(resp["total"].(float64)) != 4 {
		t.Errorf("total = %v", resp["total"])
	}

	for _, q := range []string{"from=-1", "limit=0", "limit=abc", "limit=5000"} {
		if w := env.do(t, http.MethodGet, "/api/v1/blocks?"+q, nil); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, w.Code)
		}
	}
}

func TestListBlocks_empty(t *testing.T) {
	env := setupRouter(t)
	w := env.do(t, http.MethodGet, "/api/v1/blocks", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if blocks := decode(t, w)["blocks"].([]any); len(blocks) != 0 {
		t.Errorf("expected empty list, got %v", blocks)
	}
}

func TestGetBlock(t *testing.T) {
	env := setupRouter(t)
	env.commit(t, "META-001", map[string]any{"valor": 10})

	if w := env.do(t, http.MethodGet, "/api/v1/blocks/0", nil); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/blocks/7", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/blocks/abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestGetRecord_latestWins(t *testing.T) {
	env := setupRouter(t)
	env.commit(t, "META-001", map[string]any{"valor": 10})
	env.commit(t, "META-001", map[string]any{"valor": 20})

	w := env.do(t, http.MethodGet, "/api/v1/records/META-001", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if idx := decode(t, w)["index"]; idx != float64(1) {
		t.Errorf("index = %v, want 1", idx)
	}

	w = env.do(t, http.MethodGet, "/api/v1/records/NOPE", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if msg := decode(t, w)["error"]; msg != ledger.ErrNotFound.Error() {
		t.Errorf("error = %v", msg)
	}
}

func TestVerifyRecord_selfCheck(t *testing.T) {
	env := setupRouter(t)
	env.commit(t, "META-001", map[string]any{"valor": 10, "unidad": "%"})

	w := env.do(t, http.MethodPost, "/api/v1/records/META-001/verify", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["is_valid"] != true {
		t.Errorf("is_valid = %v", resp["is_valid"])
	}
	if divs := resp["divergences"].([]any); len(divs) != 0 {
		t.Errorf("divergences = %v", divs)
	}
}

func TestVerifyRecord_nullCurrentIsSelfCheck(t *testing.T) {
	env := setupRouter(t)
	env.commit(t, "META-001", map[string]any{"valor": 10, "unidad": "%"})

	w := env.do(t, http.MethodPost, "/api/v1/records/META-001/verify", map[string]any{"current_content": nil})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["is_valid"] != true {
		t.Errorf("is_valid = %v, want true for null current_content", resp["is_valid"])
	}
	if divs := resp["divergences"].([]any); len(divs) != 0 {
		t.Errorf("divergences = %v", divs)
	}
}

func TestVerifyRecord_divergence(t *testing.T) {
	env := setupRouter(t)
	env.commit(t, "META-001", map[string]any{"valor": 10, "unidad": "%"})
	env.commit(t, "META-002", map[string]any{"valor": 3})

	w := env.do(t, http.MethodPost, "/api/v1/records/META-001/verify", map[string]any{
		"current_content": map[string]any{"valor": 55, "unidad": "%"},
		"reason":          "value edited after approval",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["is_valid"] != false {
		t.Fatalf("is_valid = %v", resp["is_valid"])
	}
	divs := resp["divergences"].([]any)
	if len(divs) != 1 {
		t.Fatalf("divergences = %v", divs)
	}
	d := divs[0].(map[string]any)
	if d["field_path"] != "valor" || d["expected_value"] != float64(10) || d["actual_value"] != float64(55) {
		t.Errorf("divergence = %v", d)
	}
	meta := resp["metadata"].(map[string]any)
	if meta["explanation"] != "value edited after approval" {
		t.Errorf("explanation = %v", meta["explanation"])
	}
}

func TestVerifyRecord_errors(t *testing.T) {
	env := setupRouter(t)
	env.commit(t, "META-001", map[string]any{"valor": 10})

	if w := env.do(t, http.MethodPost, "/api/v1/records/NOPE/verify", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown record: expected 404, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/records/META-001/verify", map[string]any{"delay_ms": -1}); w.Code != http.StatusBadRequest {
		t.Errorf("negative delay: expected 400, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/records/META-001/verify", map[string]any{"delay_ms": 60_000}); w.Code != http.StatusBadRequest {
		t.Errorf("huge delay: expected 400, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/records/META-001/verify", `{"current_content": }`); w.Code != http.StatusBadRequest {
		t.Errorf("bad json: expected 400, got %d", w.Code)
	}
}

func TestCommit_inexactNumber422(t *testing.T) {
	env := setupRouter(t)

	w := env.do(t, http.MethodPost, "/api/v1/blocks",
		`{"record_id":"BIG","entity_kind":"goal","actor":"a","content":{"v":9007199254740993}}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
	if n, _ := env.ledger.Len(context.Background()); n != 0 {
		t.Errorf("rejected commit left %d blocks", n)
	}

	w = env.do(t, http.MethodPost, "/api/v1/blocks",
		`{"record_id":"N","entity_kind":"goal","actor":"a","content":null}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("null content: expected 400, got %d", w.Code)
	}
}

func TestVerifyBlock_tampered(t *testing.T) {
	env := setupRouter(t)
	env.commit(t, "META-001", map[string]any{"valor": 10})
	if !env.store.Tamper(0, `{"valor": 11}`) {
		t.Fatal("Tamper failed")
	}

	w := env.do(t, http.MethodGet, "/api/v1/blocks/0/verify", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if decode(t, w)["is_valid"] != false {
		t.Error("expected tampered block to fail verification")
	}
}

func TestReport(t *testing.T) {
	env := setupRouter(t)
	env.commit(t, "META-001", map[string]any{"valor": 10})

	w := env.do(t, http.MethodGet, "/api/v1/records/META-001/report", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decode(t, w)
	if resp["outcome"] != "valid" || resp["record_id"] != "META-001" {
		t.Errorf("report = %v", resp)
	}
}

func TestExplain(t *testing.T) {
	env := setupRouter(t)

	w := env.do(t, http.MethodPost, "/api/v1/explain", map[string]any{
		"expected": map[string]any{"a": 1, "b": map[string]any{"c": 2}},
		"actual":   map[string]any{"a": 1, "b": map[string]any{"c": 3}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	divs := decode(t, w)["divergences"].([]any)
	if len(divs) != 1 || divs[0].(map[string]any)["field_path"] != "b.c" {
		t.Errorf("divergences = %v", divs)
	}

	w = env.do(t, http.MethodPost, "/api/v1/explain", map[string]any{
		"expected":  map[string]any{"a": 1},
		"actual":    map[string]any{"a": 2},
		"max_depth": 0,
	})
	divs = decode(t, w)["divergences"].([]any)
	if len(divs) != 1 || divs[0].(map[string]any)["field_path"] != "(root)" {
		t.Errorf("max_depth 0 divergences = %v", divs)
	}

	if w := env.do(t, http.MethodPost, "/api/v1/explain", map[string]any{"expected": 1}); w.Code != http.StatusBadRequest {
		t.Errorf("missing actual: expected 400, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/explain", map[string]any{"expected": 1, "actual": 2, "max_depth": -1}); w.Code != http.StatusBadRequest {
		t.Errorf("negative depth: expected 400, got %d", w.Code)
	}
}
