package polymarket

import (
	"testing"
	"time"

	"github.com/alejandrodnm/weatherbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var parseNow = time.Date(2026, 1, 18, 12, 0, 0, 0, time.UTC)

func TestParseCriteria_Thresholds(t *testing.T) {
	cases := []struct {
		name    string
		outcome string
		cmp     domain.Comparison
		value   float64
		unit    domain.Unit
	}{
		{"or higher", "85°F or higher", domain.CompareGTE, 85, domain.UnitFahrenheit},
		{"or lower", "84°F or lower", domain.CompareLTE, 84, domain.UnitFahrenheit},
		{"above", "Above 85°F", domain.CompareGT, 85, domain.UnitFahrenheit},
		{"below", "Below 10°C", domain.CompareLT, 10, domain.UnitCelsius},
		{"negative", "-5°C or lower", domain.CompareLTE, -5, domain.UnitCelsius},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := parseCriteria(gammaMarket{
				ID:       "m",
				Question: "Highest temperature in NYC on January 20?",
				Outcomes: stringList{tc.outcome},
			}, parseNow)
			require.NoError(t, err)
			assert.Equal(t, tc.cmp, m.Comparison)
			assert.Equal(t, tc.value, m.Threshold)
			assert.Equal(t, tc.unit, m.Unit)
		})
	}
}

func TestParseCriteria_Bracket(t *testing.T) {
	m, err := parseCriteria(gammaMarket{
		ID:       "m",
		Question: "Highest temperature in Los Angeles on Jan 22?",
		Outcomes: stringList{"70-71°F"},
	}, parseNow)
	require.NoError(t, err)
	assert.Equal(t, domain.CompareBracket, m.Comparison)
	assert.True(t, m.Bracket.Contains(70))
	assert.True(t, m.Bracket.Contains(71.9))
	assert.False(t, m.Bracket.Contains(72))
	assert.Equal(t, "LOS_ANGELES_INTL", m.Location)
	assert.Equal(t, domain.ClusterUSWestCoast, m.Cluster)
	assert.Equal(t, "America/Los_Angeles", m.Timezone)
}

func TestParseCriteria_Failures(t *testing.T) {
	cases := map[string]gammaMarket{
		"unknown city":  {ID: "m", Question: "Highest temperature in Gotham on January 20?", Outcomes: stringList{"85°F or higher"}},
		"no threshold":  {ID: "m", Question: "Highest temperature in NYC on January 20?", Outcomes: stringList{"Yes", "No"}},
		"no date":       {ID: "m", Question: "Highest temperature in NYC on someday?", Outcomes: stringList{"85°F or higher"}},
		"not a weather": {ID: "m", Question: "Will the Fed cut rates in March?"},
	}
	for name, gm := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseCriteria(gm, parseNow)
			assert.ErrorIs(t, err, domain.ErrParseFailure)
		})
	}
}

func TestParseCriteria_FallsBackToConditionID(t *testing.T) {
	m, err := parseCriteria(gammaMarket{
		ConditionID: "0xabc",
		Question:    "Any rain in London on Feb 5?",
	}, parseNow)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", m.ID)
	assert.Equal(t, "2026-02-05", m.ResolutionDate())
}

func TestParseDate(t *testing.T) {
	cases := map[string]string{
		"January 20, 2026": "2026-01-20",
		"Jan 20 2026":      "2026-01-20",
		"01/20/2026":       "2026-01-20",
		"2026-01-20":       "2026-01-20",
		"January 20":       "2026-01-20",
		"Feb 3?":           "2026-02-03",
		"December 30":      "2025-12-30",
		"June 30":          "2026-06-30",
		"March 1":          "2026-03-01",
	}
	for in, want := range cases {
		got, ok := parseDate(in, parseNow)
		require.True(t, ok, in)
		assert.Equal(t, want, domain.DateKey(got), in)
	}

	_, ok := parseDate("next tuesday", parseNow)
	assert.False(t, ok)
}

func TestParseDate_RollsIntoNextYear(t *testing.T) {
	now := time.Date(2026, 12, 28, 0, 0, 0, 0, time.UTC)
	got, ok := parseDate("January 3", now)
	require.True(t, ok)
	assert.Equal(t, "2027-01-03", domain.DateKey(got))
}

func TestStringList_AcceptsEncodedArrays(t *testing.T) {
	var l stringList
	require.NoError(t, l.UnmarshalJSON([]byte(`"[\"Yes\", \"No\"]"`)))
	assert.Equal(t, stringList{"Yes", "No"}, l)

	require.NoError(t, l.UnmarshalJSON([]byte(`["a","b","c"]`)))
	assert.Len(t, l, 3)

	require.NoError(t, l.UnmarshalJSON([]byte(`null`)))
	assert.Nil(t, l)
}
