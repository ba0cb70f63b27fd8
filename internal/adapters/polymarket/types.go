package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
)

// DTOs raw de la API de Polymarket. Solo se usan dentro de este paquete.
// La conversión a tipos de dominio vive en clob.go y criteria.go.

// --- CLOB API ---

// midpointResponse es la respuesta de GET /midpoint.
type midpointResponse struct {
	Mid string `json:"mid"`
}

// orderBookResponse es la respuesta de GET /book.
type orderBookResponse struct {
	AssetID string         `json:"asset_id"`
	Bids    []bookEntryRaw `json:"bids"`
	Asks    []bookEntryRaw `json:"asks"`
}

// bookEntryRaw es un nivel de precio raw de la API (strings para mayor precisión).
type bookEntryRaw struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// --- Gamma API ---

// gammaMarket es un mercado de GET /markets de Gamma.
type gammaMarket struct {
	ID           string      `json:"id"`
	ConditionID  string      `json:"conditionId"`
	Question     string      `json:"question"`
	Description  string      `json:"description"`
	GroupTitle   string      `json:"groupItemTitle"`
	EndDateISO   string      `json:"endDate"`
	Outcomes     stringList  `json:"outcomes"`
	ClobTokenIDs stringList  `json:"clobTokenIds"`
	Volume       number      `json:"volume"`
	Liquidity    number      `json:"liquidity"`
	Active       bool        `json:"active"`
	Closed       bool        `json:"closed"`
}

// stringList acepta tanto un array JSON como un array codificado dentro de
// un string ("[\"Yes\", \"No\"]"), que es como Gamma devuelve outcomes y tokens.
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*l = nil
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			*l = nil
			return nil
		}
		b = []byte(s)
	}
	var out []string
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}
	*l = out
	return nil
}

// number acepta números JSON y números como string; "" y null valen 0.
// Gamma devuelve volume y liquidity de las dos formas.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*n = number(v)
	return nil
}
