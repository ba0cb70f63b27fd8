package polymarket

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/weatherbot/internal/domain"
)

// Umbral de "lluvia medible" para los mercados de precipitación, en pulgadas.
const measurableRain = 0.01

const halfYear = 183 * 24 * time.Hour

var temperatureQuestions = []*regexp.Regexp{
	// "Will the highest temperature in NYC be 85°F or higher on January 20?"
	regexp.MustCompile(`(?i)highest temperature in (?P<city>[\w\s]+?) be .+? on (?P<date>[\w\s,/-]+)`),
	// "Highest temperature in NYC on January 20?"
	regexp.MustCompile(`(?i)highest temperature in (?P<city>[\w\s]+?) on (?P<date>[\w\s,/-]+)`),
	// "Will the high in London exceed 50°F on Feb 5?"
	regexp.MustCompile(`(?i)high in (?P<city>[\w\s]+?) (?:exceed|above) -?\d+(?:\.\d+)?°\s?[FC] on (?P<date>[\w\s,/-]+)`),
	// "Temperature in New York on Jan 20"
	regexp.MustCompile(`(?i)temperature in (?P<city>[\w\s]+?) on (?P<date>[\w\s,/-]+)`),
	// "NYC temperature on January 20"
	regexp.MustCompile(`(?i)(?P<city>[\w\s]+?) temperature on (?P<date>[\w\s,/-]+)`),
}

var precipitationQuestions = []*regexp.Regexp{
	// "Will it rain in NYC on January 20?"
	regexp.MustCompile(`(?i)will it rain in (?P<city>[\w\s]+?) on (?P<date>[\w\s,/-]+)`),
	// "Precipitation in London on Feb 5"
	regexp.MustCompile(`(?i)precipitation in (?P<city>[\w\s]+?) on (?P<date>[\w\s,/-]+)`),
	// "Any rain in Miami on Jan 21"
	regexp.MustCompile(`(?i)any rain in (?P<city>[\w\s]+?) on (?P<date>[\w\s,/-]+)`),
}

type thresholdPattern struct {
	re  *regexp.Regexp
	cmp domain.Comparison
}

// Los rangos se prueban primero.
var thresholdPatterns = []thresholdPattern{
	{regexp.MustCompile(`(?i)(?P<low>-?\d+(?:\.\d+)?)\s?-\s?(?P<high>-?\d+(?:\.\d+)?)\s?°\s?(?P<unit>[FC])`), domain.CompareBracket},
	{regexp.MustCompile(`(?i)(?P<threshold>-?\d+(?:\.\d+)?)\s?°\s?(?P<unit>[FC])\s+or\s+(?:higher|above|more)`), domain.CompareGTE},
	{regexp.MustCompile(`(?i)(?P<threshold>-?\d+(?:\.\d+)?)\s?°\s?(?P<unit>[FC])\s+or\s+(?:lower|below|less)`), domain.CompareLTE},
	{regexp.MustCompile(`(?i)(?:above|exceed|over)\s+(?P<threshold>-?\d+(?:\.\d+)?)\s?°\s?(?P<unit>[FC])`), domain.CompareGT},
	{regexp.MustCompile(`(?i)below\s+(?P<threshold>-?\d+(?:\.\d+)?)\s?°\s?(?P<unit>[FC])`), domain.CompareLT},
}

var dateLayouts = []struct {
	layout  string
	hasYear bool
}{
	{"January 2, 2006", true},
	{"January 2 2006", true},
	{"Jan 2, 2006", true},
	{"Jan 2 2006", true},
	{"01/02/2006", true},
	{"2006-01-02", true},
	{"January 2", false},
	{"Jan 2", false},
}

// parseCriteria convierte un mercado de Gamma en criterios estructurados.
// Devuelve un error que envuelve domain.ErrParseFailure si la pregunta no
// corresponde a un mercado de clima reconocible.
func parseCriteria(gm gammaMarket, now time.Time) (domain.MarketCriteria, error) {
	m := domain.MarketCriteria{
		ID:        gm.ID,
		Question:  gm.Question,
		Liquidity: float64(gm.Liquidity),
		Volume:    float64(gm.Volume),
	}
	if m.ID == "" {
		m.ID = gm.ConditionID
	}
	if len(gm.ClobTokenIDs) > 0 {
		m.YesTokenID = gm.ClobTokenIDs[0]
	}
	if len(gm.ClobTokenIDs) > 1 {
		m.NoTokenID = gm.ClobTokenIDs[1]
	}

	if city, date, ok := matchQuestion(temperatureQuestions, gm.Question); ok {
		m.Variable = domain.VariableTempMax
		texts := append([]string{gm.GroupTitle}, gm.Outcomes...)
		texts = append(texts, gm.Question)
		if err := applyThreshold(&m, texts); err != nil {
			return domain.MarketCriteria{}, err
		}
		return finish(m, city, date, gm.EndDateISO, now)
	}

	if city, date, ok := matchQuestion(precipitationQuestions, gm.Question); ok {
		m.Variable = domain.VariablePrecipitation
		m.Comparison = domain.CompareGT
		m.Threshold = measurableRain
		m.Unit = domain.UnitInches
		return finish(m, city, date, gm.EndDateISO, now)
	}

	return domain.MarketCriteria{}, fmt.Errorf("%w: not a weather question: %q", domain.ErrParseFailure, gm.Question)
}

// finish resuelve la estación y la fecha y valida el resultado.
func finish(m domain.MarketCriteria, city, date, endDate string, now time.Time) (domain.MarketCriteria, error) {
	key, ok := domain.StandardizeCity(city)
	if !ok {
		return domain.MarketCriteria{}, fmt.Errorf("%w: unknown city %q", domain.ErrParseFailure, city)
	}
	st, _ := domain.LookupStation(key)
	m.Location = key
	m.Latitude = st.Latitude
	m.Longitude = st.Longitude
	m.Timezone = st.Timezone
	m.Cluster = domain.ClusterFor(key)

	day, ok := parseDate(date, now)
	if !ok {
		day, ok = parseDate(endDate, now)
	}
	if !ok {
		return domain.MarketCriteria{}, fmt.Errorf("%w: unparsable date %q", domain.ErrParseFailure, date)
	}
	// La resolución es el final del día objetivo en UTC, así DateKey(Resolution)
	// sigue siendo la fecha del pronóstico.
	m.Resolution = day.Add(24*time.Hour - time.Second)

	if err := m.Validate(); err != nil {
		return domain.MarketCriteria{}, err
	}
	return m, nil
}

func matchQuestion(patterns []*regexp.Regexp, question string) (city, date string, ok bool) {
	for _, re := range patterns {
		match := re.FindStringSubmatch(question)
		if match == nil {
			continue
		}
		city = strings.TrimSpace(match[re.SubexpIndex("city")])
		city = strings.TrimPrefix(strings.TrimPrefix(city, "the "), "The ")
		date = strings.TrimSpace(match[re.SubexpIndex("date")])
		if _, known := domain.StandardizeCity(city); !known {
			continue
		}
		return city, date, true
	}
	return "", "", false
}

// applyThreshold busca el umbral en los textos dados, en orden.
func applyThreshold(m *domain.MarketCriteria, texts []string) error {
	for _, text := range texts {
		for _, p := range thresholdPatterns {
			match := p.re.FindStringSubmatch(text)
			if match == nil {
				continue
			}
			m.Comparison = p.cmp
			m.Unit = unitFor(match[p.re.SubexpIndex("unit")])
			if p.cmp == domain.CompareBracket {
				lo, _ := strconv.ParseFloat(match[p.re.SubexpIndex("low")], 64)
				hi, _ := strconv.ParseFloat(match[p.re.SubexpIndex("high")], 64)
				// "85-86°F" cubre las lecturas enteras 85 y 86.
				m.Bracket = domain.NewBracket(lo, hi+1)
				return nil
			}
			m.Threshold, _ = strconv.ParseFloat(match[p.re.SubexpIndex("threshold")], 64)
			return nil
		}
	}
	return fmt.Errorf("%w: no threshold in %q", domain.ErrParseFailure, texts)
}

func unitFor(s string) domain.Unit {
	if strings.EqualFold(s, "C") {
		return domain.UnitCelsius
	}
	return domain.UnitFahrenheit
}

// parseDate interpreta la fecha de la pregunta. Sin año se elige el año que
// deja la fecha a menos de seis meses de now.
func parseDate(s string, now time.Time) (time.Time, bool) {
	s = strings.TrimSpace(strings.TrimRight(s, "?. "))
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.UTC()
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
	}
	for _, l := range dateLayouts {
		t, err := time.Parse(l.layout, s)
		if err != nil {
			continue
		}
		if !l.hasYear {
			t = time.Date(now.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			switch {
			case now.Sub(t) > halfYear:
				t = t.AddDate(1, 0, 0)
			case t.Sub(now) > halfYear:
				t = t.AddDate(-1, 0, 0)
			}
		}
		return t, true
	}
	return time.Time{}, false
}
