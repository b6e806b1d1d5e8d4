// Package parser extrae instrumento, strike y dirección del título de un
// mercado binario. Es best-effort: lo que no entiende lo rechaza.
package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/alejandrodnm/binarybot/internal/domain"
)

var (
	dollarRe = regexp.MustCompile(`\$\s*([\d,]+(?:\.\d+)?)`)
	monthRe  = regexp.MustCompile(`(?i)(?:january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2}`)
	clockRe  = regexp.MustCompile(`(?i)\d{1,2}:\d{2}(?::\d{2})?(?:\s*[AP]M)?`)
	numberRe = regexp.MustCompile(`\d+(?:,\d{3})*(?:\.\d+)?`)
	belowRe  = regexp.MustCompile(`(?i)\b(?:below|under|down|lower|less than)\b`)
	upDownRe = regexp.MustCompile(`(?i)\bup or down\b`)
)

// instruments en orden de prioridad si el título nombra varias monedas.
// Se compara por palabra completa: "SOLD" no es Solana.
var instruments = []struct {
	symbol string
	names  []string
}{
	{"BTC", []string{"BTC", "BITCOIN"}},
	{"ETH", []string{"ETH", "ETHEREUM"}},
	{"SOL", []string{"SOL", "SOLANA"}},
	{"XRP", []string{"XRP", "RIPPLE"}},
}

// strikeFloor: números por debajo de esto en un título de esa moneda son
// días u horas, no precios.
var strikeFloor = map[string]float64{
	"BTC": 1000,
	"ETH": 100,
	"SOL": 10,
}

// Title implementa ports.MarketParser.
type Title struct{}

// ParseMarket devuelve ok=false si el título no menciona un instrumento
// conocido. Un Strike 0 significa que el mercado es up/down respecto al
// precio de apertura y el caller debe usar el spot.
func (Title) ParseMarket(title string) (domain.MarketSpec, bool) {
	inst := Instrument(title)
	if inst == "" {
		return domain.MarketSpec{}, false
	}
	spec := domain.MarketSpec{
		Instrument: inst,
		Strike:     Strike(title, inst),
		Direction:  domain.DirectionAbove,
	}
	// "Up or Down" pregunta por arriba: YES = Up
	if !upDownRe.MatchString(title) && belowRe.MatchString(title) {
		spec.Direction = domain.DirectionBelow
	}
	return spec, true
}

// Instrument detecta la moneda del título, "" si ninguna.
func Instrument(title string) string {
	words := strings.FieldsFunc(strings.ToUpper(title), func(r rune) bool {
		return (r < 'A' || r > 'Z') && (r < '0' || r > '9')
	})
	for _, inst := range instruments {
		for _, w := range words {
			for _, n := range inst.names {
				if w == n {
					return inst.symbol
				}
			}
		}
	}
	return ""
}

// Strike extrae el precio de ejercicio. Primero los importes con $, tomando
// el mayor; si no hay, cualquier número que no sea fecha, hora o año y que
// supere el suelo de la moneda. 0 si no encuentra nada.
func Strike(title, instrument string) float64 {
	q := strings.TrimSpace(strings.ReplaceAll(title, "?", ""))

	if m := dollarRe.FindAllStringSubmatch(q, -1); len(m) > 0 {
		var best float64
		for _, g := range m {
			if v := parseNumber(g[1]); v > best {
				best = v
			}
		}
		if best > 0 {
			return best
		}
	}

	clean := monthRe.ReplaceAllString(q, "")
	clean = clockRe.ReplaceAllString(clean, "")

	var best float64
	for _, s := range numberRe.FindAllString(clean, -1) {
		v := parseNumber(s)
		if v <= 0 {
			continue
		}
		if v >= 2024 && v <= 2030 && v == float64(int64(v)) {
			continue // año
		}
		if v < strikeFloor[instrument] {
			continue
		}
		if v > best {
			best = v
		}
	}
	return best
}

func parseNumber(s string) float64 {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0
	}
	return v
}
