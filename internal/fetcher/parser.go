package fetcher

import (
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

const (
	recordPrefix = "var hq_str_"
	minFields    = 6
)

// Field positions within a record's comma-separated value list.
const (
	fieldPrice = 0
	fieldOpen  = 2
	fieldHigh  = 4
	fieldLow   = 5
)

// Parser decodes `var hq_str_<symbol>="v0,v1,...";` records from the feed body.
type Parser struct {
	logger zerolog.Logger
}

// NewParser constructs a feed parser.
func NewParser(logger zerolog.Logger) *Parser {
	return &Parser{logger: logger.With().Str("component", "feed_parser").Logger()}
}

// Parse never fails: malformed records are skipped with a warning and short
// records yield a price-only quote. Output keeps scan order.
func (p *Parser) Parse(text string) []Quote {
	quotes := make([]Quote, 0)
	for _, rec := range tokenize(text) {
		if rec.err != "" {
			p.logger.Warn().Str("symbol", rec.name).Str("reason", rec.err).Msg("skipping malformed feed record")
			continue
		}
		q, partial := decodeRecord(rec.name, rec.values)
		if partial {
			p.logger.Warn().Str("symbol", rec.name).Msg("feed record has insufficient fields, using price only")
		}
		quotes = append(quotes, q)
	}
	return quotes
}

type rawRecord struct {
	name   string
	values string
	err    string
}

// tokenize walks text and yields every record it can delimit.
func tokenize(text string) []rawRecord {
	var out []rawRecord
	rest := text
	for {
		idx := strings.Index(rest, recordPrefix)
		if idx < 0 {
			return out
		}
		rest = rest[idx+len(recordPrefix):]

		nameEnd := 0
		for nameEnd < len(rest) && isNameByte(rest[nameEnd]) {
			nameEnd++
		}
		name := rest[:nameEnd]
		rest = rest[nameEnd:]

		if name == "" {
			out = append(out, rawRecord{err: "empty symbol"})
			continue
		}
		if !strings.HasPrefix(rest, `="`) {
			out = append(out, rawRecord{name: name, err: "missing assignment"})
			continue
		}
		rest = rest[2:]

		end := strings.IndexByte(rest, '"')
		if end < 0 {
			out = append(out, rawRecord{name: name, err: "unterminated value"})
			return out
		}
		values := rest[:end]
		rest = rest[end+1:]

		if values == "" {
			out = append(out, rawRecord{name: name, err: "empty value"})
			continue
		}
		out = append(out, rawRecord{name: name, values: values})
	}
}

func isNameByte(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// decodeRecord maps the value list to a Quote; partial reports a short record.
func decodeRecord(symbol, values string) (Quote, bool) {
	fields := strings.Split(values, ",")
	q := Quote{Symbol: symbol, Price: parsePrice(fields[fieldPrice])}
	if len(fields) < minFields {
		return q, true
	}
	q.Open = parseOptional(fields[fieldOpen])
	q.High = parseOptional(fields[fieldHigh])
	q.Low = parseOptional(fields[fieldLow])
	return q, false
}

func parsePrice(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// parseOptional treats unparsable and zero values as unknown; the feed uses 0
// for fields it has no data for.
func parseOptional(raw string) *float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
