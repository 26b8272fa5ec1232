package macros

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func testContext() *ExpansionContext {
	return &ExpansionContext{
		EventID:    "evt-123",
		Timestamp:  time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC),
		CampaignID: "C1",
		TemplateID: "T1",
		AdID:       "1-2",
		SegmentID:  "news & sport",
		CustomParams: map[string]string{
			"utm_source": "google",
		},
	}
}

func TestMacroExpander_ExpandURL(t *testing.T) {
	expander := NewMacroExpanderForTesting(zaptest.NewLogger(t), false)
	ctx := testContext()

	tests := []struct {
		name     string
		rawURL   string
		expected string
	}{
		{"No macros", "https://example.com/landing", "https://example.com/landing"},
		{"Empty", "", ""},
		{"Identifiers", "https://example.com/?c={CAMPAIGN_ID}&t={TEMPLATE_ID}&ad={AD_ID}", "https://example.com/?c=C1&t=T1&ad=1-2"},
		{"Escaped segment", "https://example.com/?s={SEGMENT_ID}", "https://example.com/?s=news+%26+sport"},
		{"Event and time", "https://example.com/?e={EVENT_ID}&ts={TIMESTAMP}", "https://example.com/?e=evt-123&ts=1705314645"},
		{"ISO timestamp", "https://example.com/?ts={ISO_TIMESTAMP}", "https://example.com/?ts=2024-01-15T10%3A30%3A45Z"},
		{"Custom parameter", "https://example.com/?src={CUSTOM.utm_source}", "https://example.com/?src=google"},
		{"Unknown macro kept", "https://example.com/?x={NOPE}", "https://example.com/?x={NOPE}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := expander.ExpandURL(tt.rawURL, ctx)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("ExpandURL(%q) = %q, want %q", tt.rawURL, got, tt.expected)
			}
		})
	}
}

func TestMacroExpander_RandomAndUUID(t *testing.T) {
	expander := NewMacroExpanderForTesting(zaptest.NewLogger(t), false)
	got, err := expander.ExpandURL("https://example.com/?r={RANDOM}&u={UUID}", testContext())
	if err != nil {
		t.Fatal(err)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := strconv.ParseInt(u.Query().Get("r"), 10, 64); err != nil {
		t.Errorf("RANDOM not numeric: %q", u.Query().Get("r"))
	}
	if len(u.Query().Get("u")) != 36 {
		t.Errorf("UUID has wrong length: %q", u.Query().Get("u"))
	}
}

func TestMacroExpander_StrictMode(t *testing.T) {
	expander := NewMacroExpanderForTesting(zaptest.NewLogger(t), true)
	ctx := testContext()
	ctx.EventID = ""
	if _, err := expander.ExpandURL("https://example.com/?e={EVENT_ID}", ctx); err == nil {
		t.Fatal("expected strict mode failure")
	}

	expander.SetStrictMode(false)
	got, err := expander.ExpandURL("https://example.com/?e={EVENT_ID}&c={CAMPAIGN_ID}", ctx)
	if err != nil {
		t.Fatalf("lenient mode should not fail: %v", err)
	}
	if !strings.Contains(got, "c=C1") || !strings.Contains(got, "{EVENT_ID}") {
		t.Errorf("unexpected partial expansion %q", got)
	}
}

func TestMacroExpander_MissingEventID(t *testing.T) {
	expander := NewMacroExpanderForTesting(zaptest.NewLogger(t), true)
	ctx := testContext()
	ctx.EventID = ""
	if _, err := expander.ExpandURL("https://example.com/?e={EVENT_ID}", ctx); err == nil {
		t.Fatal("expected error for missing event id")
	}
}

func TestMacroExpander_GetRegisteredMacros(t *testing.T) {
	expander := NewMacroExpanderForTesting(zaptest.NewLogger(t), false)
	names := expander.GetRegisteredMacros()
	if !sort.StringsAreSorted(names) {
		t.Errorf("names not sorted: %v", names)
	}
	for _, want := range []string{"CAMPAIGN_ID", "EVENT_ID", "TIMESTAMP_MS", "UUID"} {
		if i := sort.SearchStrings(names, want); i >= len(names) || names[i] != want {
			t.Errorf("%s missing from %v", want, names)
		}
	}
}

func TestMacroExpander_ValidateURL(t *testing.T) {
	expander := NewMacroExpanderForTesting(zaptest.NewLogger(t), false)
	got := expander.ValidateURL("https://example.com/?a={AD_ID}&b={BOGUS}&c={CUSTOM.k}&d={ALSO_BAD}")
	if len(got) != 2 || got[0] != "BOGUS" || got[1] != "ALSO_BAD" {
		t.Errorf("ValidateURL = %v", got)
	}
	if got := expander.ValidateURL("https://example.com/{unterminated"); len(got) != 0 {
		t.Errorf("unterminated placeholder should be ignored, got %v", got)
	}
}

func TestMacroExpander_ValuesAreNotRescanned(t *testing.T) {
	expander := NewMacroExpanderForTesting(zaptest.NewLogger(t), false)
	ctx := testContext()
	ctx.CampaignID = "{AD_ID}"
	ctx.SegmentID = ""
	got, err := expander.ExpandURL("https://example.com/?c={CAMPAIGN_ID}&s={SEGMENT_ID}&x={CUSTOM.missing}", ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := "https://example.com/?c=%7BAD_ID%7D&s=&x={CUSTOM.missing}"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
