package analysis

import (
	"encoding/json"
	"strings"
	"time"

	"collections-platform/internal/calls"
)

// rawAnalysis tolerates whatever shape the model returns; every field is
// optional and validated afterwards.
type rawAnalysis struct {
	Summary     string `json:"summary"`
	Sentiment   string `json:"sentiment"`
	Intent      string `json:"intent"`
	PaymentDate string `json:"payment_date"`
}

// Parse turns model output into a fully populated Analysis. Malformed or
// partial output degrades field by field to the defaults; parsing failures
// never propagate.
func Parse(out string) calls.Analysis {
	res := calls.DefaultAnalysis()

	var raw rawAnalysis
	if err := json.Unmarshal([]byte(stripFences(out)), &raw); err != nil {
		return res
	}

	if s := strings.TrimSpace(raw.Summary); s != "" {
		res.Summary = s
	}
	switch calls.Sentiment(strings.TrimSpace(raw.Sentiment)) {
	case calls.SentimentPositive:
		res.Sentiment = calls.SentimentPositive
	case calls.SentimentNegative:
		res.Sentiment = calls.SentimentNegative
	case calls.SentimentNeutral:
		res.Sentiment = calls.SentimentNeutral
	}
	switch calls.Intent(strings.TrimSpace(raw.Intent)) {
	case calls.IntentPaid:
		res.Intent = calls.IntentPaid
	case calls.IntentWillPay:
		res.Intent = calls.IntentWillPay
	case calls.IntentNeedsExtension:
		res.Intent = calls.IntentNeedsExtension
	case calls.IntentDispute:
		res.Intent = calls.IntentDispute
	case calls.IntentNoResponse:
		res.Intent = calls.IntentNoResponse
	}

	// A payment date is only meaningful for a Will Pay commitment.
	if res.Intent == calls.IntentWillPay {
		if d := strings.TrimSpace(raw.PaymentDate); d != "" && !strings.EqualFold(d, "null") {
			if ts, err := time.Parse("2006-01-02", d); err == nil {
				res.PaymentDate = &ts
			}
		}
	}
	return res
}

// stripFences removes the markdown code fences models like to wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = s[len("```json"):]
	} else if strings.HasPrefix(s, "```") {
		s = s[len("```"):]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
