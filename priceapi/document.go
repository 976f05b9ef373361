package priceapi

import (
	"encoding/xml"
	"fmt"
	"io"
	"time"
)

// marketDocument mirrors the ENTSO-E day-ahead Publication_MarketDocument
// shape just far enough to extract a price curve: period boundaries,
// resolution and points. Everything else in the feed is ignored.
type marketDocument struct {
	XMLName    xml.Name     `xml:"Publication_MarketDocument"`
	TimeSeries []timeSeries `xml:"TimeSeries"`
}

type timeSeries struct {
	Period period `xml:"Period"`
}

type period struct {
	TimeInterval timeInterval
	Resolution   time.Duration
	Points       []point `xml:"Point"`
}

type point struct {
	Position    int     `xml:"position"`
	PriceAmount float64 `xml:"price.amount"`
}

type timeInterval struct {
	Start time.Time
	End   time.Time
}

func (ti *timeInterval) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var aux struct {
		Start string `xml:"start"`
		End   string `xml:"end"`
	}
	if err := d.DecodeElement(&aux, &start); err != nil {
		return err
	}
	var err error
	if ti.Start, err = parseTimeString(aux.Start); err != nil {
		return fmt.Errorf("parse interval start: %w", err)
	}
	if ti.End, err = parseTimeString(aux.End); err != nil {
		return fmt.Errorf("parse interval end: %w", err)
	}
	return nil
}

func (p *period) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var aux struct {
		TimeInterval timeInterval `xml:"timeInterval"`
		Resolution   string       `xml:"resolution"`
		Points       []point      `xml:"Point"`
	}
	if err := d.DecodeElement(&aux, &start); err != nil {
		return err
	}
	p.TimeInterval = aux.TimeInterval
	p.Points = aux.Points
	var err error
	if p.Resolution, err = parseISO8601Duration(aux.Resolution); err != nil {
		return fmt.Errorf("parse resolution: %w", err)
	}
	return nil
}

func parseTimeString(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02T15:04Z", s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02T15:04Z07:00", s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp format: %s", s)
}

// parseISO8601Duration parses the subset of ISO-8601 durations the
// day-ahead feed actually emits for period resolution (PT15M, PT60M, ...).
func parseISO8601Duration(s string) (time.Duration, error) {
	if len(s) < 2 || s[0] != 'P' {
		return 0, fmt.Errorf("invalid ISO-8601 duration: %s", s)
	}
	rest := s[1:]
	timeIdx := -1
	for i, c := range rest {
		if c == 'T' {
			timeIdx = i
			break
		}
	}
	var total time.Duration
	if timeIdx >= 0 {
		if datePart := rest[:timeIdx]; datePart != "" {
			d, err := parseDurationUnits(datePart, map[byte]time.Duration{
				'Y': 365 * 24 * time.Hour,
				'M': 30 * 24 * time.Hour,
				'D': 24 * time.Hour,
			})
			if err != nil {
				return 0, err
			}
			total += d
		}
		rest = rest[timeIdx+1:]
	}
	d, err := parseDurationUnits(rest, map[byte]time.Duration{
		'H': time.Hour,
		'M': time.Minute,
		'S': time.Second,
	})
	if err != nil {
		return 0, err
	}
	return total + d, nil
}

func parseDurationUnits(s string, units map[byte]time.Duration) (time.Duration, error) {
	var total time.Duration
	var num string
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= '0' && c <= '9' || c == '.' {
			num += string(c)
			continue
		}
		if num == "" {
			continue
		}
		unit, ok := units[c]
		if !ok {
			return 0, fmt.Errorf("unknown duration unit %q", c)
		}
		var n float64
		if _, err := fmt.Sscanf(num, "%f", &n); err != nil {
			return 0, fmt.Errorf("invalid duration quantity %q: %w", num, err)
		}
		total += time.Duration(n * float64(unit))
		num = ""
	}
	return total, nil
}

func decodeMarketDocument(r io.Reader) (*marketDocument, error) {
	var doc marketDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode publication market document: %w", err)
	}
	return &doc, nil
}

// timestampsAndPrices expands every TimeSeries/Period/Point into absolute
// timestamps and raw market prices (PLN/MWh), in position order.
func (doc *marketDocument) timestampsAndPrices() ([]time.Time, []float64) {
	var ts []time.Time
	var prices []float64
	for _, series := range doc.TimeSeries {
		p := series.Period
		for _, pt := range p.Points {
			start := p.TimeInterval.Start.Add(time.Duration(pt.Position-1) * p.Resolution)
			ts = append(ts, start)
			prices = append(prices, pt.PriceAmount)
		}
	}
	return ts, prices
}
