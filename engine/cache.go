package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// MARK: cacheKey
type cacheKey struct {
	name   string
	rrtype uint16
}

// MARK: cachedRecord
type cachedRecord struct {
	rr        dns.RR
	rdata     string
	expiresAt time.Time
}

// MARK: recordCache

// recordCache holds every browse-relevant record heard on the wire, keyed by
// (name, record type). Owned exclusively by the engine run loop.
type recordCache struct {
	records map[cacheKey][]*cachedRecord
}

// MARK: newRecordCache
func newRecordCache() *recordCache {
	return &recordCache{
		records: make(map[cacheKey][]*cachedRecord),
	}
}

// MARK: keyFor
func keyFor(rr dns.RR) cacheKey {
	hdr := rr.Header()
	return cacheKey{name: strings.ToLower(hdr.Name), rrtype: hdr.Rrtype}
}

// MARK: rdataString
// Canonical identity of a record's data, ignoring the header TTL so that
// periodic refreshes of the same record compare equal.
func rdataString(rr dns.RR) string {
	switch r := rr.(type) {
	case *dns.PTR:
		return strings.ToLower(r.Ptr)
	case *dns.SRV:
		return fmt.Sprintf("%s:%d:%d:%d", strings.ToLower(r.Target), r.Port, r.Priority, r.Weight)
	case *dns.TXT:
		return strings.Join(r.Txt, "\x00")
	case *dns.A:
		return r.A.String()
	case *dns.AAAA:
		return r.AAAA.String()
	default:
		return rr.String()
	}
}

// MARK: add
// Merges a record, returning true when it is new or its data changed.
// A pure TTL refresh updates the deadline and returns false.
func (rc *recordCache) add(rr dns.RR, now time.Time) bool {
	key := keyFor(rr)
	rdata := rdataString(rr)

	ttl := rr.Header().Ttl
	if ttl > maxRecordTTL {
		ttl = maxRecordTTL
	}
	expiresAt := now.Add(time.Duration(ttl) * time.Second)

	// TXT and SRV carry one live value per name; an updated value replaces
	// the older record instead of accumulating beside it.
	replace := key.rrtype == dns.TypeTXT || key.rrtype == dns.TypeSRV

	for _, cached := range rc.records[key] {
		if cached.rdata == rdata {
			cached.rr = rr
			cached.expiresAt = expiresAt
			return false
		}
	}

	entry := &cachedRecord{rr: rr, rdata: rdata, expiresAt: expiresAt}
	if replace && len(rc.records[key]) > 0 {
		rc.records[key] = []*cachedRecord{entry}
		return true
	}
	rc.records[key] = append(rc.records[key], entry)
	return true
}

// MARK: remove
// Drops the record matching rr's data, returning true if it was cached.
func (rc *recordCache) remove(rr dns.RR) bool {
	key := keyFor(rr)
	rdata := rdataString(rr)

	entries := rc.records[key]
	for i, cached := range entries {
		if cached.rdata == rdata {
			rc.records[key] = append(entries[:i], entries[i+1:]...)
			if len(rc.records[key]) == 0 {
				delete(rc.records, key)
			}
			return true
		}
	}
	return false
}

// MARK: expire
// Removes every record past its TTL deadline and returns them.
func (rc *recordCache) expire(now time.Time) []dns.RR {
	var expired []dns.RR
	for key, entries := range rc.records {
		kept := entries[:0]
		for _, cached := range entries {
			if now.After(cached.expiresAt) {
				expired = append(expired, cached.rr)
			} else {
				kept = append(kept, cached)
			}
		}
		if len(kept) == 0 {
			delete(rc.records, key)
		} else {
			rc.records[key] = kept
		}
	}
	return expired
}

// MARK: all
// Returns every cached record, for replay to a new subscription.
func (rc *recordCache) all() []dns.RR {
	var out []dns.RR
	for _, entries := range rc.records {
		for _, cached := range entries {
			out = append(out, cached.rr)
		}
	}
	return out
}

// MARK: size
func (rc *recordCache) size() int {
	count := 0
	for _, entries := range rc.records {
		count += len(entries)
	}
	return count
}
