package verify

import (
	"strings"
	"testing"
)

func TestScore(t *testing.T) {
	healthy := Facts{
		Connected: true, NotifyReceived: true, HasOutputs: true,
		Share: 0.99, MinShare: 0.98, LargestPaysYou: true, RecipientValid: true,
	}

	tests := []struct {
		name      string
		mutate    func(f *Facts)
		wantScore int
		wantLabel Label
	}{
		{"healthy over TCP", func(f *Facts) {}, 15, LabelLow},
		{"healthy over TLS", func(f *Facts) { f.TLS = true }, 10, LabelLow},
		{"share exactly at minimum", func(f *Facts) { f.Share = 0.98 }, 15, LabelLow},
		{"not connected", func(f *Facts) {
			*f = Facts{MinShare: 0.98, RecipientValid: true}
		}, 75, LabelHigh},
		{"connected without notify", func(f *Facts) {
			*f = Facts{Connected: true, MinShare: 0.98, RecipientValid: true}
		}, 50, LabelMedium},
		{"recipient paid a small minority", func(f *Facts) {
			f.Share, f.LargestPaysYou = 0.01, false
		}, 100, LabelHigh},
		{"recipient not paid at all over TLS", func(f *Facts) {
			f.Share, f.LargestPaysYou, f.TLS = 0, false, true
		}, 100, LabelHigh},
		{"largest output elsewhere but share met", func(f *Facts) {
			f.LargestPaysYou = false
		}, 35, LabelMedium},
		{"no recipient with outputs is capped", func(f *Facts) {
			f.RecipientValid, f.Share, f.LargestPaysYou = false, 0, false
		}, 49, LabelMedium},
		{"no recipient and not connected is capped", func(f *Facts) {
			*f = Facts{MinShare: 0.98}
		}, 49, LabelMedium},
		{"no recipient healthy TLS pool", func(f *Facts) {
			*f = Facts{Connected: true, NotifyReceived: true, TLS: true, MinShare: 0.98}
		}, 25, LabelLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := healthy
			tt.mutate(&f)
			score, label := Score(f)
			if score != tt.wantScore || label != tt.wantLabel {
				t.Errorf("Score() = %d %s, want %d %s", score, label, tt.wantScore, tt.wantLabel)
			}
		})
	}
}

func TestLabelThresholds(t *testing.T) {
	tests := []struct {
		score int
		want  Label
	}{
		{0, LabelLow},
		{34, LabelLow},
		{35, LabelMedium},
		{69, LabelMedium},
		{70, LabelHigh},
		{100, LabelHigh},
	}
	for _, tt := range tests {
		if got := labelFor(tt.score); got != tt.want {
			t.Errorf("labelFor(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestAssess_ChecklistOrder(t *testing.T) {
	want := []string{
		CheckRecipient, CheckTransport, CheckConnection, CheckNotify,
		CheckCoinbaseDecode, CheckAddressPresent, CheckPayoutSplit, CheckLargestOutput,
	}

	for _, res := range []*Result{
		{},
		{Connected: true, NotifyReceived: true, RecipientValid: true, RecipientAddress: "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"},
		{
			Connected: true, NotifyReceived: true, CoinbaseParsed: true, RecipientValid: true,
			Outputs:   []OutputView{{Index: 0, ValueSats: 100, SharePct: 100, IsYou: true}},
			YourShare: 1, LargestPaysYou: true, Transport: "tls",
		},
	} {
		report := Assess(res, 0.98)
		if len(report.Checklist) != len(want) {
			t.Fatalf("checklist has %d entries, want %d", len(report.Checklist), len(want))
		}
		for i, item := range report.Checklist {
			if item.Name != want[i] {
				t.Errorf("checklist[%d] = %q, want %q", i, item.Name, want[i])
			}
			if item.Detail == "" {
				t.Errorf("checklist[%d] %q has no detail", i, item.Name)
			}
		}
	}
}

func TestAssess_SkipsPayoutChecksWithoutRecipient(t *testing.T) {
	res := &Result{
		Connected: true, NotifyReceived: true, CoinbaseParsed: true,
		RecipientAddress: "acct-7731.rig1",
		Outputs:          []OutputView{{Index: 0, ValueSats: 100, SharePct: 100, Address: "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2"}},
	}
	report := Assess(res, 0.98)

	for _, name := range []string{CheckRecipient, CheckAddressPresent, CheckPayoutSplit, CheckLargestOutput} {
		item, _ := report.Check(name)
		if item.Status != StatusWarn {
			t.Errorf("%s status = %s, want WARN", name, item.Status)
		}
	}
	item, _ := report.Check(CheckPayoutSplit)
	if !strings.HasPrefix(item.Detail, "skipped") {
		t.Errorf("%s detail = %q", CheckPayoutSplit, item.Detail)
	}
	if !strings.Contains(report.Summary, "cannot be confirmed") {
		t.Errorf("Summary = %q", report.Summary)
	}
	if report.Label == LabelHigh {
		t.Error("label HIGH without a recipient")
	}
}

func TestAssess_ConnectionFailure(t *testing.T) {
	res := &Result{RecipientValid: true, RecipientAddress: "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", Message: "connection refused"}
	report := Assess(res, 0.98)

	for name, want := range map[string]Status{
		CheckConnection:     StatusFail,
		CheckNotify:         StatusFail,
		CheckCoinbaseDecode: StatusWarn,
		CheckAddressPresent: StatusWarn,
	} {
		item, ok := report.Check(name)
		if !ok || item.Status != want {
			t.Errorf("%s = %+v, want %s", name, item, want)
		}
	}
	if item, _ := report.Check(CheckConnection); item.Detail != "connection refused" {
		t.Errorf("connection detail = %q", item.Detail)
	}
	if report.Label != LabelHigh {
		t.Errorf("Label = %s, want HIGH", report.Label)
	}
}
