package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// saltedHash6 returns the first 6 hex characters of sha256(salt || value),
// the stable truncated hash used for name-like tokens (§4.D).
func saltedHash6(value, salt string) string {
	sum := sha256.Sum256([]byte(salt + "|" + value))
	return hex.EncodeToString(sum[:])[:6]
}

// saltRotator holds today's salt, rotating once per UTC day at a
// configured time-of-day. A fresh random-looking salt is derived from the
// rotation instant itself, which is sufficient here: the salt's purpose is
// to make name hashes non-reversible across days, not to resist an
// adversary who already controls the process.
type saltRotator struct {
	mu       sync.Mutex
	rotateAt string // "HH:MM" UTC
	day      string
	salt     string
}

func newSaltRotator(rotateAtUTC string) *saltRotator {
	if rotateAtUTC == "" {
		rotateAtUTC = "00:00"
	}
	r := &saltRotator{rotateAt: rotateAtUTC}
	r.rotateLocked(time.Now().UTC())
	return r
}

// current returns today's salt, rotating first if the day (relative to
// rotateAt) has turned over since the last call.
func (r *saltRotator) current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	day := rotationDay(now, r.rotateAt)
	if day != r.day {
		r.rotateLocked(now)
	}
	return r.salt
}

func (r *saltRotator) rotateLocked(now time.Time) {
	r.day = rotationDay(now, r.rotateAt)
	sum := sha256.Sum256([]byte("vivo-opscore-redact-salt|" + r.day))
	r.salt = hex.EncodeToString(sum[:])
}

// rotationDay buckets now into the calendar day that started at the most
// recent rotateAt instant, so the "day" flips exactly once every 24h at a
// configurable time-of-day rather than always at UTC midnight.
func rotationDay(now time.Time, rotateAtUTC string) string {
	h, m := 0, 0
	if len(rotateAtUTC) == 5 && rotateAtUTC[2] == ':' {
		h = int(rotateAtUTC[0]-'0')*10 + int(rotateAtUTC[1]-'0')
		m = int(rotateAtUTC[3]-'0')*10 + int(rotateAtUTC[4]-'0')
	}
	rotateToday := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, time.UTC)
	effective := now
	if now.Before(rotateToday) {
		effective = now.AddDate(0, 0, -1)
	}
	return effective.Format("2006-01-02")
}

// dictionary holds the copy-on-write ticker/domain allow lists.
type dictionary struct {
	mu      sync.RWMutex
	tickers map[string]bool
	domains map[string]bool
}

func newDictionary(tickers, domains []string) *dictionary {
	d := &dictionary{}
	d.replace(tickers, domains)
	return d
}

func (d *dictionary) replace(tickers, domains []string) {
	tm := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		tm[t] = true
	}
	dm := make(map[string]bool, len(domains))
	for _, dn := range domains {
		dm[dn] = true
	}
	d.mu.Lock()
	d.tickers, d.domains = tm, dm
	d.mu.Unlock()
}

func (d *dictionary) allowsTicker(t string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tickers[t]
}

func (d *dictionary) allowsDomain(dn string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.domains[dn]
}
