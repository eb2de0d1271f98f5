package controls

import (
	"context"
	"testing"
	"time"

	"pgregory.net/rapid"

	"isin-controls/internal/instrument"
	"isin-controls/internal/registry"
	"isin-controls/internal/registry/registrytest"
)

func wall(year int, month time.Month, day, hour, min, sec int) time.Time {
	return time.Date(year, month, day, hour, min, sec, 0, time.UTC)
}

func verdicts(o *instrument.Order) [instrument.ControlCount]instrument.Verdict {
	return o.Controls
}

func TestScenarioA_OffExchangeWithoutMaturityPassesAll(t *testing.T) {
	lookup := registrytest.NewStatic().
		Found("IT0000000001", registrytest.Record("IT0000000001", "MTAA", "2020-01-15", "", ""))
	order := &instrument.Order{OrderNumber: "1", MarketCode: "XOFF", ExecutedAt: wall(2025, 9, 15, 10, 0, 0)}
	group := &instrument.Group{ISIN: "IT0000000001", ExpectedOrderCount: 1, Orders: []*instrument.Order{order}}

	summary := NewEvaluator(lookup, nil, nil).Run(context.Background(), []*instrument.Group{group})

	want := [4]instrument.Verdict{instrument.Passed, instrument.Passed, instrument.Passed, instrument.Passed}
	if verdicts(order) != want || order.APIError {
		t.Fatalf("expected all controls passed, got %v apiError=%v", order.Controls, order.APIError)
	}
	if summary.FullyPassed != 1 || summary.Orders != 1 {
		t.Errorf("unexpected summary %+v", summary)
	}
}

func TestScenarioB_NotRegisteredFailsControlOne(t *testing.T) {
	lookup := registrytest.NewStatic().NotFound("XX9999999999")
	order := &instrument.Order{OrderNumber: "1", MarketCode: "MTAA", ExecutedAt: wall(2025, 9, 15, 10, 0, 0)}

	NewEvaluator(lookup, nil, nil).Evaluate(context.Background(), "XX9999999999", order)

	want := [4]instrument.Verdict{instrument.Failed}
	if verdicts(order) != want || order.APIError {
		t.Fatalf("expected only control 1 failed, got %v", order.Controls)
	}
	if idx, errored := order.Outcome(); idx != 1 || errored {
		t.Errorf("outcome = %d %v", idx, errored)
	}
}

func TestScenarioC_VenueMismatchFailsControlTwo(t *testing.T) {
	lookup := registrytest.NewStatic().
		Found("IT0000000001", registrytest.Record("IT0000000001", "XETR", "2020-01-15", "", ""))
	order := &instrument.Order{OrderNumber: "1", MarketCode: "MTAA(MTA)", ExecutedAt: wall(2025, 9, 15, 10, 0, 0)}

	NewEvaluator(lookup, nil, nil).Evaluate(context.Background(), "IT0000000001", order)

	want := [4]instrument.Verdict{instrument.Passed, instrument.Failed}
	if verdicts(order) != want {
		t.Fatalf("expected control 2 failed, got %v", order.Controls)
	}
}

func TestRegistryErrorsMarkAPIErrorOnly(t *testing.T) {
	for _, kind := range []registry.ErrorKind{registry.ErrorTransport, registry.ErrorMalformedPayload} {
		lookup := registrytest.NewStatic().Fail("IT0000000001", kind)
		order := &instrument.Order{OrderNumber: "1", MarketCode: "XOFF", ExecutedAt: wall(2025, 1, 1, 10, 0, 0)}

		NewEvaluator(lookup, nil, nil).Evaluate(context.Background(), "IT0000000001", order)

		if !order.APIError {
			t.Fatalf("%s: expected api error", kind)
		}
		if verdicts(order) != ([4]instrument.Verdict{}) {
			t.Fatalf("%s: no control may be recorded on api error, got %v", kind, order.Controls)
		}
		if idx, errored := order.Outcome(); idx != 1 || !errored {
			t.Errorf("%s: outcome = %d %v", kind, idx, errored)
		}
	}
}

func TestVenueMatchSelectsMatchingRecord(t *testing.T) {
	lookup := registrytest.NewStatic().Found("IT0000000001",
		registrytest.Record("IT0000000001", "XETR", "2030-01-01", "", ""),
		registrytest.Record("IT0000000001", "mtaa", "2020-01-01", "", ""),
	)
	order := &instrument.Order{OrderNumber: "1", MarketCode: "MTAA (Borsa)", ExecutedAt: wall(2025, 1, 1, 10, 0, 0)}

	NewEvaluator(lookup, nil, nil).Evaluate(context.Background(), "IT0000000001", order)

	// 选中 MTAA 记录，因此上市日期取 2020 年而非 2030 年。
	if !order.FullyPassed() {
		t.Fatalf("expected matching record to be selected, got %v", order.Controls)
	}
}

func TestDateControls(t *testing.T) {
	cases := []struct {
		name     string
		record   registry.Record
		executed time.Time
		want     [4]instrument.Verdict
	}{
		{
			name:     "summer start equal to execution fails",
			record:   registrytest.Record("IT0000000001", "XOFF", "2024-06-01T08:00:00Z", "", ""),
			executed: wall(2024, 6, 1, 10, 0, 0),
			want:     [4]instrument.Verdict{instrument.Passed, instrument.Passed, instrument.Failed},
		},
		{
			name:     "summer start one second before execution passes",
			record:   registrytest.Record("IT0000000001", "XOFF", "2024-06-01T08:00:00Z", "", ""),
			executed: wall(2024, 6, 1, 10, 0, 1),
			want:     [4]instrument.Verdict{instrument.Passed, instrument.Passed, instrument.Passed, instrument.Passed},
		},
		{
			name:     "winter start converted before comparing",
			record:   registrytest.Record("IT0000000001", "XOFF", "2024-01-10T08:00:00Z", "", ""),
			executed: wall(2024, 1, 10, 8, 30, 0),
			want:     [4]instrument.Verdict{instrument.Passed, instrument.Passed, instrument.Failed},
		},
		{
			name:     "missing start fails closed",
			record:   registrytest.Record("IT0000000001", "XOFF", "", "", ""),
			executed: wall(2024, 1, 10, 8, 30, 0),
			want:     [4]instrument.Verdict{instrument.Passed, instrument.Passed, instrument.Failed},
		},
		{
			name:     "unparsable start fails closed",
			record:   registrytest.Record("IT0000000001", "XOFF", "n/a", "", ""),
			executed: wall(2024, 1, 10, 8, 30, 0),
			want:     [4]instrument.Verdict{instrument.Passed, instrument.Passed, instrument.Failed},
		},
		{
			name:     "missing execution time fails closed",
			record:   registrytest.Record("IT0000000001", "XOFF", "2020-01-01", "", ""),
			executed: time.Time{},
			want:     [4]instrument.Verdict{instrument.Passed, instrument.Passed, instrument.Failed},
		},
		{
			name:     "execution before local maturity passes",
			record:   registrytest.Record("IT0000000001", "XOFF", "2020-01-01", "2024-07-01T00:00:00Z", ""),
			executed: wall(2024, 7, 1, 1, 59, 59),
			want:     [4]instrument.Verdict{instrument.Passed, instrument.Passed, instrument.Passed, instrument.Passed},
		},
		{
			name:     "execution at local maturity fails",
			record:   registrytest.Record("IT0000000001", "XOFF", "2020-01-01", "2024-07-01T00:00:00Z", ""),
			executed: wall(2024, 7, 1, 2, 0, 0),
			want:     [4]instrument.Verdict{instrument.Passed, instrument.Passed, instrument.Passed, instrument.Failed},
		},
		{
			name:     "termination used when maturity missing",
			record:   registrytest.Record("IT0000000001", "XOFF", "2020-01-01", "", "2024-01-31T00:00:00Z"),
			executed: wall(2024, 1, 31, 1, 0, 0),
			want:     [4]instrument.Verdict{instrument.Passed, instrument.Passed, instrument.Passed, instrument.Failed},
		},
		{
			name:     "maturity takes precedence over termination",
			record:   registrytest.Record("IT0000000001", "XOFF", "2020-01-01", "2030-01-01", "2021-01-01"),
			executed: wall(2024, 1, 31, 1, 0, 0),
			want:     [4]instrument.Verdict{instrument.Passed, instrument.Passed, instrument.Passed, instrument.Passed},
		},
		{
			name:     "unparsable maturity fails closed",
			record:   registrytest.Record("IT0000000001", "XOFF", "2020-01-01", "perpetual", ""),
			executed: wall(2024, 1, 31, 1, 0, 0),
			want:     [4]instrument.Verdict{instrument.Passed, instrument.Passed, instrument.Passed, instrument.Failed},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lookup := registrytest.NewStatic().Found("IT0000000001", tc.record)
			order := &instrument.Order{OrderNumber: "1", MarketCode: "XOFF", ExecutedAt: tc.executed}

			NewEvaluator(lookup, nil, nil).Evaluate(context.Background(), "IT0000000001", order)

			if verdicts(order) != tc.want {
				t.Fatalf("got %v, want %v", order.Controls, tc.want)
			}
		})
	}
}

func TestVirtualOrderRunsPresenceOnly(t *testing.T) {
	lookup := registrytest.NewStatic().
		Found("IT0000000001", registrytest.Record("IT0000000001", "XETR", "", "", ""))
	group := &instrument.Group{ISIN: "IT0000000001", ExpectedOrderCount: 0, SourceRowRef: 4}
	group.Orders = []*instrument.Order{instrument.VirtualOrder(group)}

	summary := NewEvaluator(lookup, nil, nil).Run(context.Background(), []*instrument.Group{group})

	virtual := group.Orders[0]
	if virtual.Control(1) != instrument.Passed || virtual.Control(2) != instrument.NotEvaluated {
		t.Fatalf("virtual order should stop after presence, got %v", virtual.Controls)
	}
	if summary.Orders != 0 || summary.VirtualOrders != 1 || summary.VirtualFlagged != 0 {
		t.Errorf("unexpected summary %+v", summary)
	}
}

func TestRunSummaryAndSharedLookups(t *testing.T) {
	lookup := registrytest.NewStatic().
		Found("IT0000000001", registrytest.Record("IT0000000001", "MTAA", "2020-01-01", "", "")).
		NotFound("IT0000000002").
		Fail("IT0000000003", registry.ErrorTransport)

	exec := wall(2025, 3, 3, 9, 0, 0)
	groups := []*instrument.Group{
		{ISIN: "IT0000000001", Orders: []*instrument.Order{
			{OrderNumber: "a", MarketCode: "MTAA", ExecutedAt: exec},
			{OrderNumber: "b", MarketCode: "XETR", ExecutedAt: exec},
		}},
		{ISIN: "IT0000000002", Orders: []*instrument.Order{{OrderNumber: "c", MarketCode: "MTAA", ExecutedAt: exec}}},
		{ISIN: "IT0000000003", Orders: []*instrument.Order{{OrderNumber: "d", MarketCode: "MTAA", ExecutedAt: exec}}},
		{ISIN: "IT0000000001", Orders: []*instrument.Order{{OrderNumber: "e", MarketCode: "XOFF"}}},
	}

	summary := NewEvaluator(lookup, nil, nil).Run(context.Background(), groups)

	if summary.Groups != 4 || summary.Orders != 5 {
		t.Fatalf("unexpected totals %+v", summary)
	}
	if summary.FullyPassed != 1 || summary.APIErrors != 1 {
		t.Errorf("unexpected pass/api counts %+v", summary)
	}
	if summary.FailedAt != [4]int{1, 1, 1, 0} {
		t.Errorf("unexpected failures %v", summary.FailedAt)
	}
	if n := lookup.Calls("IT0000000001"); n != 3 {
		t.Errorf("expected one lookup per order, got %d", n)
	}
}

func TestNewEvaluator_NilLookupPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	NewEvaluator(nil, nil, nil)
}

func TestProperty_OffExchangeAlwaysPassesVenue(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		mics := rapid.SliceOfN(rapid.SampledFrom([]string{"MTAA", "XETR", "XPAR", "", "XOFF", "BOND"}), 1, 5).Draw(t, "mics")
		market := rapid.SampledFrom([]string{"XOFF", "xoff", "XOFF(OTC)", " XoFf "}).Draw(t, "market")

		records := make([]registry.Record, 0, len(mics))
		for _, mic := range mics {
			records = append(records, registrytest.Record("IT0000000001", mic, "2020-01-01", "", ""))
		}
		lookup := registrytest.NewStatic().Found("IT0000000001", records...)
		order := &instrument.Order{OrderNumber: "1", MarketCode: market, ExecutedAt: wall(2025, 1, 1, 12, 0, 0)}

		NewEvaluator(lookup, nil, nil).Evaluate(context.Background(), "IT0000000001", order)

		if order.Control(2) != instrument.Passed {
			t.Fatalf("market %q with MICs %v: control 2 = %s", market, mics, order.Control(2))
		}
	})
}

func TestProperty_ShortCircuitIsMonotonic(t *testing.T) {
	dates := []string{"", "garbage", "2019-05-05", "2024-06-01T08:00:00Z", "2031-12-31"}

	rapid.Check(t, func(t *rapid.T) {
		lookup := registrytest.NewStatic()
		switch rapid.IntRange(0, 3).Draw(t, "registry") {
		case 0:
			lookup.NotFound("IT0000000001")
		case 1:
			lookup.Fail("IT0000000001", registry.ErrorTransport)
		default:
			lookup.Found("IT0000000001", registrytest.Record("IT0000000001",
				rapid.SampledFrom([]string{"MTAA", "XETR"}).Draw(t, "mic"),
				rapid.SampledFrom(dates).Draw(t, "start"),
				rapid.SampledFrom(dates).Draw(t, "maturity"),
				rapid.SampledFrom(dates).Draw(t, "termination"),
			))
		}

		var executed time.Time
		if rapid.Bool().Draw(t, "hasTime") {
			executed = wall(rapid.IntRange(2018, 2032).Draw(t, "year"), time.June, 1, 10, 0, 0)
		}
		order := &instrument.Order{
			OrderNumber: "1",
			MarketCode:  rapid.SampledFrom([]string{"MTAA", "XETR(GER)", "XOFF", ""}).Draw(t, "market"),
			ExecutedAt:  executed,
		}

		NewEvaluator(lookup, nil, nil).Evaluate(context.Background(), "IT0000000001", order)

		if order.APIError {
			if verdicts(order) != ([4]instrument.Verdict{}) {
				t.Fatalf("api error with recorded verdicts %v", order.Controls)
			}
			return
		}

		stopped := false
		for i, v := range order.Controls {
			switch {
			case stopped && v != instrument.NotEvaluated:
				t.Fatalf("control %d evaluated after a failure: %v", i+1, order.Controls)
			case !stopped && v == instrument.NotEvaluated:
				t.Fatalf("control %d skipped without a prior failure: %v", i+1, order.Controls)
			case v == instrument.Failed:
				stopped = true
			}
		}
	})
}
