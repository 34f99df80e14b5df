package language

import (
	"fmt"
)

// Code is a BCP-47-ish language code as used by the speech vendor
// (e.g. "en-IN", "hi-IN", "ta-IN").
type Code string

// Auto is the pseudo-code a caller submits to request live detection
// instead of a fixed language.
const Auto Code = "auto"

// Voice is the static per-language synthesis configuration.
//
// The mapping is a configuration table keyed by language code, not computed.
// Preprocess signals that the speech vendor should normalize text before
// synthesis (needed for Indic scripts).
type Voice struct {
	Code       Code
	Name       string
	Speaker    string
	Preprocess bool

	// Greeting is the opening line the agent speaks when the call connects.
	Greeting string

	// Fallback is the line spoken when reply generation is unavailable.
	Fallback string
}

// Table maps language codes to their voice configuration.
type Table map[Code]Voice

// DefaultTable returns the built-in language table.
func DefaultTable() Table {
	return Table{
		"en-IN": {
			Code:       "en-IN",
			Name:       "English",
			Speaker:    "vidya",
			Preprocess: false,
			Greeting:   "Hello, I am calling from the finance agency regarding your loan payment. May I know your current payment status?",
			Fallback:   "I'm sorry, I'm having a bit of trouble hearing you clearly. Could you please repeat that?",
		},
		"hi-IN": {
			Code:       "hi-IN",
			Name:       "Hindi",
			Speaker:    "vidya",
			Preprocess: true,
			Greeting:   "नमस्ते, मैं वित्त एजेंसी से आपके लोन भुगतान के बारे में कॉल कर रही हूं। कृपया अपनी वर्तमान भुगतान स्थिति बताएं?",
			Fallback:   "क्षमा करें, मुझे आपकी बात सुनने में थोड़ी कठिनाई हो रही है। क्या आप कृपया उसे फिर से दोहरा सकते हैं?",
		},
		"ta-IN": {
			Code:       "ta-IN",
			Name:       "Tamil",
			Speaker:    "manisha",
			Preprocess: true,
			Greeting:   "வணக்கம், நான் நிதி நிறுவனத்திலிருந்து உங்கள் கடன் செலுத்துதல் பற்றி அழைக்கிறேன். உங்கள் தற்போதைய கட்டண நிலையை தயவுசெய்து கூறுங்கள்?",
			Fallback:   "மன்னிக்கவும், உங்கள் பேச்சைக் கேட்பதில் எனக்கு சற்று சிரமம் உள்ளது. தயவுசெய்து அதை மீண்டும் கூற முடியுமா?",
		},
	}
}

// DefaultCode is the language used while auto-detect has not yet seen a
// confident detection.
const DefaultCode Code = "en-IN"

// Policy decides which language/voice applies to each conversation turn.
//
// A Policy belongs to exactly one call session and is driven only by that
// session's turn loop, so it carries no locking.
//
// Switching rule:
//   - fixed mode: the active language never changes.
//   - auto mode: the active language changes to a newly detected code only
//     when the detector's confidence exceeds the configured threshold. A
//     single low-confidence misdetection must not flap the voice mid-call.
type Policy struct {
	table     Table
	auto      bool
	active    Code
	threshold float64
}

// NewPolicy builds a policy for one session.
//
// requested is either a code present in the table or Auto. threshold is the
// auto-detect confidence bar (only used in auto mode).
func NewPolicy(table Table, requested Code, threshold float64) (*Policy, error) {
	if len(table) == 0 {
		return nil, fmt.Errorf("language: empty table")
	}
	p := &Policy{table: table, threshold: threshold}
	if requested == Auto {
		p.auto = true
		p.active = DefaultCode
		if _, ok := table[DefaultCode]; !ok {
			return nil, fmt.Errorf("language: table has no default %q", DefaultCode)
		}
		return p, nil
	}
	if _, ok := table[requested]; !ok {
		return nil, fmt.Errorf("language: unsupported language %q", requested)
	}
	p.active = requested
	return p, nil
}

// Active returns the code currently in effect.
func (p *Policy) Active() Code { return p.active }

// AutoDetect reports whether the policy is in auto-detect mode.
func (p *Policy) AutoDetect() bool { return p.auto }

// Voice returns the voice configuration for the active language.
func (p *Policy) Voice() Voice { return p.table[p.active] }

// Observe feeds one detection result into the policy and reports whether the
// active language switched as a result.
func (p *Policy) Observe(detected Code, confidence float64) bool {
	if !p.auto {
		return false
	}
	if detected == "" || detected == p.active {
		return false
	}
	if confidence <= p.threshold {
		return false
	}
	if _, ok := p.table[detected]; !ok {
		return false
	}
	p.active = detected
	return true
}
