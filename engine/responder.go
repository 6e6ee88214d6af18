package engine

import (
	"strings"

	"github.com/miekg/dns"
)

// Unique records (SRV/TXT/A/AAAA) carry the cache-flush bit so peers replace
// rather than accumulate older copies (RFC 6762 section 10.2).
const classCacheFlush = dns.ClassINET | 1<<15

// MARK: answerSet
// Builds the full record set announced for a registration.
func (r *Registration) answerSet(recordTTL, hostTTL uint32) []dns.RR {
	answers := []dns.RR{
		&dns.PTR{
			Hdr: dns.RR_Header{Name: r.serviceType, Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: recordTTL},
			Ptr: r.fullName,
		},
		&dns.SRV{
			Hdr:      dns.RR_Header{Name: r.fullName, Rrtype: dns.TypeSRV, Class: classCacheFlush, Ttl: recordTTL},
			Priority: 0,
			Weight:   0,
			Port:     r.port,
			Target:   r.hostname,
		},
		&dns.TXT{
			Hdr: dns.RR_Header{Name: r.fullName, Rrtype: dns.TypeTXT, Class: classCacheFlush, Ttl: recordTTL},
			Txt: r.wireTxt(),
		},
	}
	return append(answers, r.addressRecords(hostTTL)...)
}

// MARK: goodbyeSet
// The same record set with zero TTLs, announcing removal.
func (r *Registration) goodbyeSet() []dns.RR {
	return r.answerSet(0, 0)
}

// MARK: wireTxt
// DNS-SD requires a TXT record even for services with no metadata; an empty
// mapping is sent as a single empty string.
func (r *Registration) wireTxt() []string {
	if len(r.txtEntries) == 0 {
		return []string{""}
	}
	return r.txtEntries
}

// MARK: addressRecords
// A/AAAA records for the advertised host.
func (r *Registration) addressRecords(hostTTL uint32) []dns.RR {
	var answers []dns.RR
	for _, ip := range r.ips {
		if ipv4 := ip.To4(); ipv4 != nil {
			answers = append(answers, &dns.A{
				Hdr: dns.RR_Header{Name: r.hostname, Rrtype: dns.TypeA, Class: classCacheFlush, Ttl: hostTTL},
				A:   ipv4,
			})
		} else {
			answers = append(answers, &dns.AAAA{
				Hdr:  dns.RR_Header{Name: r.hostname, Rrtype: dns.TypeAAAA, Class: classCacheFlush, Ttl: hostTTL},
				AAAA: ip,
			})
		}
	}
	return answers
}

// MARK: answersFor
// Matches one peer question (normal queries and probe queries alike) against
// a registration's records.
func (r *Registration) answersFor(q dns.Question, recordTTL, hostTTL uint32) []dns.RR {
	switch q.Qtype {
	case dns.TypePTR:
		if strings.EqualFold(q.Name, r.serviceType) {
			return r.answerSet(recordTTL, hostTTL)
		}
	case dns.TypeSRV:
		if strings.EqualFold(q.Name, r.fullName) {
			set := r.answerSet(recordTTL, hostTTL)
			// SRV plus the address records the client will need next.
			return append([]dns.RR{set[1]}, set[3:]...)
		}
	case dns.TypeTXT:
		if strings.EqualFold(q.Name, r.fullName) {
			return r.answerSet(recordTTL, hostTTL)[2:3]
		}
	case dns.TypeA, dns.TypeAAAA, dns.TypeANY:
		if strings.EqualFold(q.Name, r.hostname) {
			return r.addressRecords(hostTTL)
		}
		if q.Qtype == dns.TypeANY && strings.EqualFold(q.Name, r.fullName) {
			return r.answerSet(recordTTL, hostTTL)
		}
	}
	return nil
}

// MARK: responseMsg
// Wraps answers in an authoritative mDNS response with no question section
// (RFC 6762 section 6).
func responseMsg(answers []dns.RR) *dns.Msg {
	msg := new(dns.Msg)
	msg.Response = true
	msg.Authoritative = true
	msg.Answer = answers
	return msg
}
