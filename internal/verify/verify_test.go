package verify_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/chainledger/internal/canonical"
	"github.com/jmerrifield20/chainledger/internal/diverge"
	"github.com/jmerrifield20/chainledger/internal/ledger"
	"github.com/jmerrifield20/chainledger/internal/verify"
)

var ctx = context.Background()

func setup(t *testing.T, opts ...verify.Option) (*ledger.Ledger, *verify.Engine) {
	t.Helper()
	l := ledger.New(ledger.NewMemoryStore(), ledger.WithLogger(zap.NewNop()))
	opts = append([]verify.Option{verify.WithLogger(zap.NewNop())}, opts...)
	return l, verify.New(l, opts...)
}

func appendContent(t *testing.T, l *ledger.Ledger, recordID string, c canonical.Content) *ledger.Block {
	t.Helper()
	b, err := l.Append(ctx, ledger.AppendRequest{
		RecordID:   recordID,
		EntityKind: "goal",
		Content:    c,
		Actor:      "analyst@example.com",
		Reason:     "baseline",
	})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func contentPtr(c canonical.Content) *canonical.Content { return &c }

func TestVerify_scenario(t *testing.T) {
	l, eng := setup(t)

	a := appendContent(t, l, "META-001", canonical.Structured(map[string]any{"meta": "x", "valor": 10}))

	res, err := eng.Verify(ctx, "META-001", verify.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || len(res.Divergences) != 0 {
		t.Fatalf("self-check: valid=%v divergences=%v", res.Valid, res.Divergences)
	}

	b := appendContent(t, l, "META-002", canonical.Raw("second"))
	if b.Parent() != a.Fingerprint || b.Index != 1 {
		t.Fatalf("B: parent=%q index=%d", b.Parent(), b.Index)
	}

	res, err = eng.Verify(ctx, "META-001", verify.Options{
		Current: contentPtr(canonical.Structured(map[string]any{"meta": "x", "valor": 55})),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid {
		t.Fatal("tampered content reported valid")
	}
	want := []diverge.Divergence{{FieldPath: "valor", Expected: float64(10), Actual: float64(55)}}
	if !reflect.DeepEqual(res.Divergences, want) {
		t.Errorf("Divergences = %#v, want %#v", res.Divergences, want)
	}
	if res.StoredFingerprint != a.Fingerprint || res.RecomputedFingerprint == a.Fingerprint {
		t.Errorf("fingerprints: stored=%q recomputed=%q", res.StoredFingerprint, res.RecomputedFingerprint)
	}
	if res.Metadata.Explanation != verify.DefaultExplanation {
		t.Errorf("Explanation = %q", res.Metadata.Explanation)
	}
	if res.Metadata.Actor != "analyst@example.com" || res.Metadata.EntityKind != "goal" {
		t.Errorf("Metadata = %+v", res.Metadata)
	}
}

func TestVerify_notFound(t *testing.T) {
	_, eng := setup(t)
	if _, err := eng.Verify(ctx, "missing", verify.Options{}); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestVerify_rawTextSelfCheck(t *testing.T) {
	l, eng := setup(t)
	appendContent(t, l, "NOTE-1", canonical.Raw("free text,\n  with odd   spacing"))

	res, err := eng.Verify(ctx, "NOTE-1", verify.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid {
		t.Error("raw text self-check failed")
	}
	if res.ExpectedContent != "free text,\n  with odd   spacing" {
		t.Errorf("ExpectedContent = %#v", res.ExpectedContent)
	}
}

func TestVerify_whitespaceVariantIsValid(t *testing.T) {
	l, eng := setup(t)
	appendContent(t, l, "META-001", canonical.Structured(map[string]any{"meta": "x", "valor": 10}))

	res, err := eng.Verify(ctx, "META-001", verify.Options{
		Current: contentPtr(canonical.Raw(`{ "valor": 10.0, "meta": "x" }`)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid {
		t.Errorf("equivalent JSON reported invalid: %#v", res.Divergences)
	}
}

func TestVerify_nestedDivergence(t *testing.T) {
	l, eng := setup(t)
	appendContent(t, l, "META-001", canonical.Structured(map[string]any{
		"meta":      "Reduce emissions",
		"lineaBase": map[string]any{"valor": 100, "anio": 2020},
		"hitos":     []any{1, 2, 3},
	}))

	res, err := eng.Verify(ctx, "META-001", verify.Options{
		Current: contentPtr(canonical.Structured(map[string]any{
			"meta":      "Reduce emissions",
			"lineaBase": map[string]any{"valor": 90, "anio": 2020},
			"hitos":     []any{1, 2, 4},
		})),
		Reason: "baseline edited after approval",
	})
	if err != nil {
		t.Fatal(err)
	}
	var paths []string
	for _, d := range res.Divergences {
		paths = append(paths, d.FieldPath)
	}
	if !reflect.DeepEqual(paths, []string{"hitos", "lineaBase.valor"}) {
		t.Errorf("paths = %v", paths)
	}
	if res.Metadata.Explanation != "baseline edited after approval" {
		t.Errorf("Explanation = %q", res.Metadata.Explanation)
	}
}

func TestVerify_maxDepthOption(t *testing.T) {
	l, eng := setup(t, verify.WithMaxDepth(1))
	appendContent(t, l, "R", canonical.Structured(map[string]any{"a": map[string]any{"b": 1}}))

	res, err := eng.Verify(ctx, "R", verify.Options{
		Current: contentPtr(canonical.Structured(map[string]any{"a": map[string]any{"b": 2}})),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Divergences) != 1 || res.Divergences[0].FieldPath != "a" {
		t.Errorf("Divergences = %#v", res.Divergences)
	}
}

func TestVerify_malformedCurrent(t *testing.T) {
	l, eng := setup(t)
	appendContent(t, l, "R", canonical.Raw("x"))

	_, err := eng.Verify(ctx, "R", verify.Options{
		Current: contentPtr(canonical.Structured(map[string]any{"f": func() {}})),
	})
	if !errors.Is(err, canonical.ErrMalformedContent) {
		t.Errorf("err = %v, want ErrMalformedContent", err)
	}
}

func TestVerify_largeIntegerTamperDetected(t *testing.T) {
	l, eng := setup(t)

	if _, err := l.Append(ctx, ledger.AppendRequest{
		RecordID: "BIG", EntityKind: "goal",
		Content: canonical.Structured(map[string]any{"v": int64(9007199254740993)}),
		Actor:   "a",
	}); !errors.Is(err, canonical.ErrMalformedContent) {
		t.Fatalf("structured 2^53+1: err = %v, want ErrMalformedContent", err)
	}

	appendContent(t, l, "BIG", canonical.Raw(`{"v": 9007199254740993}`))
	res, err := eng.Verify(ctx, "BIG", verify.Options{
		Current: contentPtr(canonical.Raw(`{"v": 9007199254740992}`)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid {
		t.Fatal("changed large integer verified as valid")
	}
	if len(res.Divergences) == 0 {
		t.Error("invalid result without divergences")
	}
}

func TestVerify_sameDecodedValueDifferentText(t *testing.T) {
	l, eng := setup(t)
	b := appendContent(t, l, "S", canonical.Structured("hello"))

	res, err := eng.Verify(ctx, "S", verify.Options{Current: contentPtr(canonical.Raw("hello"))})
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid {
		t.Fatal("quoted JSON string and bare text should hash differently")
	}
	want := []diverge.Divergence{{FieldPath: diverge.RootPath, Expected: b.Content, Actual: "hello"}}
	if !reflect.DeepEqual(res.Divergences, want) {
		t.Errorf("Divergences = %#v, want %#v", res.Divergences, want)
	}
}

// fakeClock returns the given instants in order.
func fakeClock(ms ...int64) func() time.Time {
	i := 0
	return func() time.Time {
		t := time.UnixMilli(ms[i])
		if i < len(ms)-1 {
			i++
		}
		return t
	}
}

func TestVerify_elapsedFromClock(t *testing.T) {
	l, eng := setup(t, verify.WithClock(fakeClock(1000, 2205)))
	appendContent(t, l, "R", canonical.Raw("x"))

	res, err := eng.Verify(ctx, "R", verify.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.ElapsedMS != 1205 {
		t.Errorf("ElapsedMS = %v, want 1205", res.ElapsedMS)
	}
}

func TestVerify_delayCountsTowardElapsed(t *testing.T) {
	l, eng := setup(t, verify.WithDelay(time.Hour))
	appendContent(t, l, "R", canonical.Raw("x"))

	res, err := eng.Verify(ctx, "R", verify.Options{Delay: 20 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	if res.ElapsedMS < 20 {
		t.Errorf("ElapsedMS = %v, want >= 20", res.ElapsedMS)
	}
}

func TestVerify_delayHonoursCancellation(t *testing.T) {
	l, eng := setup(t, verify.WithDelay(time.Hour))
	appendContent(t, l, "R", canonical.Raw("x"))

	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()

	_, err := eng.Verify(cctx, "R", verify.Options{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
	if n, _ := l.Len(ctx); n != 1 {
		t.Errorf("ledger changed by a cancelled verification: len %d", n)
	}
}

func TestVerifyAt(t *testing.T) {
	l, eng := setup(t)
	appendContent(t, l, "A", canonical.Raw("a"))
	appendContent(t, l, "B", canonical.Raw("b"))

	res, err := eng.VerifyAt(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || res.RecordID != "B" || res.Metadata.Reference != "BLOCK-0001" {
		t.Errorf("VerifyAt(1) = %+v", res)
	}
	if _, err := eng.VerifyAt(ctx, 7); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("VerifyAt(7) err = %v", err)
	}
}

func TestVerify_tamperedStoreDetected(t *testing.T) {
	store := ledger.NewMemoryStore()
	l := ledger.New(store)
	eng := verify.New(l)
	appendContent(t, l, "META-001", canonical.Structured(map[string]any{"valor": 10}))
	store.Tamper(0, `{"valor": 11}`)

	res, err := eng.VerifyAt(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid {
		t.Error("tampered store content reported valid")
	}
}

func TestNewReport(t *testing.T) {
	l, eng := setup(t)
	appendContent(t, l, "META-001", canonical.Raw(`{"valor":10}`))

	res, err := eng.Verify(ctx, "META-001", verify.Options{Current: contentPtr(canonical.Raw(`{"valor":12}`))})
	if err != nil {
		t.Fatal(err)
	}
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))
	rep := verify.NewReport(res, at)
	if rep.Outcome != verify.OutcomeInvalid || !rep.VerifiedAt.Equal(at) || rep.VerifiedAt.Location() != time.UTC {
		t.Errorf("report = %+v", rep)
	}
	if len(rep.Divergences) != 1 {
		t.Errorf("Divergences = %#v", rep.Divergences)
	}
}

func TestExplain(t *testing.T) {
	_, eng := setup(t)
	got, err := eng.Explain(canonical.Raw(`{"a":{"b":{"c":1}}}`), canonical.Raw(`{"a":{"b":{"c":2}}}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].FieldPath != "a.b" {
		t.Errorf("Explain() = %#v", got)
	}
	got, _ = eng.ExplainDepth(canonical.Raw(`{"a":{"b":{"c":1}}}`), canonical.Raw(`{"a":{"b":{"c":2}}}`), 3)
	if len(got) != 1 || got[0].FieldPath != "a.b.c" {
		t.Errorf("ExplainDepth(3) = %#v", got)
	}
}
