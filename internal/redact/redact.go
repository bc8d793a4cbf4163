// Package redact implements the PII Guard & Redactor.
//
// It detects and masks personally-identifying entities in free text before
// the text leaves the process — digests, postmortems, operator notes,
// explain cards, and generic log payloads all flow through here first.
//
// Grounded on the teacher's anomaly package: profile-driven detection with
// bounded per-chunk cost (entropy.go), plus the escalation package's
// severity-threshold style for classification.
package redact

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"

	"github.com/laylaymen/vivo-opscore/internal/bus"
)

// Profile selects which preservation rules apply to a redaction request.
type Profile string

const (
	ProfileDigest     Profile = "digest"
	ProfilePostmortem Profile = "postmortem"
	ProfileNotes      Profile = "notes"
	ProfileCards      Profile = "cards"
	ProfileGeneric    Profile = "generic"
)

// ProfileSettings controls what a profile preserves unmasked.
type ProfileSettings struct {
	PreserveCodeBlocks bool
	PreservePaths      bool
	PreserveTickers    bool
	Aggressive         bool
}

// DefaultProfiles returns the built-in profile table. Callers may override
// entries (e.g. to add tickers) before constructing a Guard.
func DefaultProfiles() map[Profile]ProfileSettings {
	return map[Profile]ProfileSettings{
		ProfileDigest:     {PreserveCodeBlocks: true, PreservePaths: true, PreserveTickers: true},
		ProfilePostmortem: {PreserveCodeBlocks: true, PreservePaths: true, PreserveTickers: true, Aggressive: true},
		ProfileNotes:      {PreserveCodeBlocks: true, PreservePaths: false, PreserveTickers: true},
		ProfileCards:      {PreserveCodeBlocks: false, PreservePaths: false, PreserveTickers: true},
		ProfileGeneric:    {PreserveCodeBlocks: false, PreservePaths: false, PreserveTickers: false, Aggressive: true},
	}
}

// Stats reports what a Redact call found.
type Stats struct {
	EntitiesFound        int            `json:"entitiesFound"`
	FalsePositiveAvoided int            `json:"falsePositiveAvoided"`
	BytesIn              int            `json:"bytesIn"`
	BytesOut             int            `json:"bytesOut"`
	ByKind               map[string]int `json:"byKind,omitempty"`
	Truncated            bool           `json:"truncated"`
}

// Result is the output of a redaction pass.
type Result struct {
	Classification bus.Classification `json:"classification"`
	MaskedContent  string             `json:"maskedContent"`
	Stats          Stats              `json:"stats"`
	Hash           string             `json:"hash"`
}

// Request is one redaction call, matching the redact.request topic payload.
type Request struct {
	CorrID  string
	Profile Profile
	Content string
}

// Guard is the PII Guard & Redactor. It is safe for concurrent use: the
// allow lists live in a dictionary whose maps are replaced wholesale under
// its lock, and the daily salt in a mutex-guarded rotator, so in-flight
// redactions never observe a half-updated dictionary (§5: "PII
// dictionaries and routing rules: copy-on-write; updates replace the
// reference atomically").
type Guard struct {
	maxBytes     int
	chunkOverlap int
	profiles     map[Profile]ProfileSettings
	dict         *dictionary
	salt         *saltRotator
}

// NewGuard constructs a Guard. tickerAllow and domainAllow are the initial
// allow lists; they may later be swapped wholesale via SetDictionary to
// implement the redact.dictionary.update hot path.
func NewGuard(maxBytes, chunkOverlap int, tickerAllow, domainAllow []string, saltRotateUTC string) *Guard {
	if chunkOverlap <= 0 {
		chunkOverlap = 128
	}
	return &Guard{
		maxBytes:     maxBytes,
		chunkOverlap: chunkOverlap,
		profiles:     DefaultProfiles(),
		dict:         newDictionary(tickerAllow, domainAllow),
		salt:         newSaltRotator(saltRotateUTC),
	}
}

// SetDictionary atomically replaces the allow lists, e.g. on a
// redact.dictionary.update event.
func (g *Guard) SetDictionary(tickerAllow, domainAllow []string) {
	g.dict.replace(tickerAllow, domainAllow)
}

// Redact runs the full detection + masking pipeline over req.Content under
// req.Profile, producing a Result per §4.D.
func (g *Guard) Redact(req Request) Result {
	settings, ok := g.profiles[req.Profile]
	if !ok {
		settings = g.profiles[ProfileGeneric]
	}

	content := req.Content
	bytesIn := len(content)
	truncated := false
	if g.maxBytes > 0 && bytesIn > g.maxBytes {
		content = content[:g.maxBytes]
		truncated = true
	}

	stats := Stats{BytesIn: bytesIn, ByKind: map[string]int{}, Truncated: truncated}
	masked := g.maskChunked(content, settings, &stats)

	class := classify(stats, settings)

	sum := sha256.Sum256([]byte(masked))
	hash := hex.EncodeToString(sum[:])[:16]

	stats.BytesOut = len(masked)
	return Result{
		Classification: class,
		MaskedContent:  masked,
		Stats:          stats,
		Hash:           hash,
	}
}

// maskChunked scans content for entities and masks them. Detection runs
// over non-overlapping windows sized so that no single detector's longest
// match (bounded by chunkOverlap) can straddle a boundary undetected: each
// window is widened by chunkOverlap bytes on both sides before matching,
// and only the interior [chunkOverlap:len-chunkOverlap) span of the result
// is kept, except at the start and end of content.
func (g *Guard) maskChunked(content string, settings ProfileSettings, stats *Stats) string {
	n := len(content)
	windowSize := 4096
	if windowSize < g.chunkOverlap*4 {
		windowSize = g.chunkOverlap * 4
	}
	if n <= windowSize {
		return g.maskRegion(content, settings, stats)
	}

	var out bytes.Buffer
	pos := 0
	for pos < n {
		winStart := pos - g.chunkOverlap
		if winStart < 0 {
			winStart = 0
		}
		winEnd := pos + windowSize
		if winEnd > n {
			winEnd = n
		}
		masked := g.maskRegion(content[winStart:winEnd], settings, stats)

		// Keep only the portion of the masked window corresponding to
		// [pos, winEnd) in the original offsets — the lead-in overlap was
		// only there to give detectors full context for matches that start
		// before pos.
		keepFrom := pos - winStart
		if keepFrom < 0 {
			keepFrom = 0
		}
		if keepFrom <= len(masked) {
			out.WriteString(masked[keepFrom:])
		}
		pos = winEnd
	}
	return out.String()
}

// maskRegion detects and masks entities within chunk. A code fence's
// ``` delimiters never match an entity pattern, so they pass through
// untouched on their own; PreserveCodeBlocks preserves that fence syntax,
// never the sensitive content inside it — every entity match is masked
// and counted regardless of whether it falls inside a fenced block.
func (g *Guard) maskRegion(chunk string, settings ProfileSettings, stats *Stats) string {
	result := chunk
	for _, d := range detectors {
		result = d.pattern.ReplaceAllStringFunc(result, func(match string) string {
			// Ticker and domain matches are not themselves sensitive
			// entities — they exist only so an allowlisted match can be
			// counted as a suppressed false positive. Anything not on the
			// allowlist is left untouched and uncounted.
			if d.kind == kindTicker {
				if settings.PreserveTickers && g.dict.allowsTicker(match) {
					stats.FalsePositiveAvoided++
				}
				return match
			}
			if d.kind == kindDomain {
				if g.dict.allowsDomain(match) {
					stats.FalsePositiveAvoided++
				}
				return match
			}
			stats.EntitiesFound++
			stats.ByKind[string(d.kind)]++
			return d.mask(match, g.salt.current())
		})
	}
	return result
}

// classify applies §4.D's classification rule: SENSITIVE_HIGH if any
// sensitive entity survived masking detection, PUBLIC if only preserved
// tokens were seen, SENSITIVE_LOW otherwise.
func classify(stats Stats, settings ProfileSettings) bus.Classification {
	for kind := range stats.ByKind {
		if isSensitiveKind(kind) && stats.ByKind[kind] > 0 {
			return bus.SensitiveHigh
		}
	}
	if stats.EntitiesFound == 0 {
		return bus.Public
	}
	return bus.SensitiveLow
}

func isSensitiveKind(kind string) bool {
	switch kind {
	case string(kindEmail), string(kindPhone), string(kindIBAN), string(kindGovID), string(kindWallet), string(kindName):
		return true
	}
	return false
}

