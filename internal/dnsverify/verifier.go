// Package dnsverify checks a mailbox domain's SPF, DKIM and DMARC TXT
// records against the stored expectations and persists the outcome.
package dnsverify

import (
	"context"
	"log"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/mailpilot-io/mailpilot-ce/internal/models"
	"github.com/mailpilot-io/mailpilot-ce/internal/repository"
)

// Result is the outcome of one verification pass over a mailbox's records.
type Result struct {
	SPFOk   bool `json:"spf_ok"`
	DKIMOk  bool `json:"dkim_ok"`
	DMARCOk bool `json:"dmarc_ok"`
}

// Authenticated reports whether all three records verified.
func (r Result) Authenticated() bool {
	return r.SPFOk && r.DKIMOk && r.DMARCOk
}

type exchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, addr string) (*dns.Msg, time.Duration, error)
}

// Verifier resolves TXT records through a single configured resolver so
// results do not depend on the host's stub resolver.
type Verifier struct {
	records      *repository.DNSRecordRepository
	client       exchanger
	resolverAddr string
}

func NewVerifier(records *repository.DNSRecordRepository, resolver string, timeout time.Duration) *Verifier {
	host, port, err := net.SplitHostPort(resolver)
	if err != nil {
		host, port = "1.1.1.1", "53"
	}
	return &Verifier{
		records:      records,
		client:       &dns.Client{Timeout: timeout},
		resolverAddr: net.JoinHostPort(host, port),
	}
}

// VerifyAccount runs one pass over the account's three records. Lookup
// failures are transient: they never flip a record to fail, and a record
// that already verified stays verified until its expected value is reset.
func (v *Verifier) VerifyAccount(ctx context.Context, accountID int) (Result, error) {
	records, err := v.records.GetByAccount(ctx, accountID)
	if err != nil {
		return Result{}, err
	}

	var result Result
	for _, rec := range records {
		status := v.checkRecord(ctx, rec)
		if status.persist {
			if err := v.records.UpdateObservation(ctx, accountID, rec.RecordType, status.observed, status.status); err != nil {
				return Result{}, err
			}
		}
		ok := status.status == models.DNSStatusSuccess
		switch rec.RecordType {
		case models.DNSRecordSPF:
			result.SPFOk = ok
		case models.DNSRecordDKIM:
			result.DKIMOk = ok
		case models.DNSRecordDMARC:
			result.DMARCOk = ok
		}
	}
	return result, nil
}

type checkOutcome struct {
	status   string
	observed string
	persist  bool
}

func (v *Verifier) checkRecord(ctx context.Context, rec *models.MailboxDNSRecord) checkOutcome {
	values, err := v.lookupTXT(ctx, rec.Host)
	if err != nil {
		log.Printf("[DNS-VERIFY] lookup %s (%s) failed: %v", rec.Host, rec.RecordType, err)
		// Transient: keep whatever status the record already has.
		return checkOutcome{status: rec.Status, persist: false}
	}

	observed := matchValue(rec, values)
	if observed != "" {
		return checkOutcome{status: models.DNSStatusSuccess, observed: observed, persist: true}
	}

	// The zone answered but no record matched. A previously verified record
	// is not regressed here; operators reset the expectation to re-evaluate.
	if rec.Status == models.DNSStatusSuccess {
		return checkOutcome{status: models.DNSStatusSuccess, observed: strings.Join(values, " | "), persist: false}
	}
	return checkOutcome{status: models.DNSStatusFail, observed: strings.Join(values, " | "), persist: true}
}

func (v *Verifier) lookupTXT(ctx context.Context, host string) ([]string, error) {
	m := &dns.Msg{}
	m.SetQuestion(dns.Fqdn(host), dns.TypeTXT)
	m.RecursionDesired = true

	r, _, err := v.client.ExchangeContext(ctx, m, v.resolverAddr)
	if err != nil {
		return nil, err
	}
	if r.Rcode != dns.RcodeSuccess {
		return nil, &net.DNSError{Err: dns.RcodeToString[r.Rcode], Name: host, IsNotFound: r.Rcode == dns.RcodeNameError}
	}

	var values []string
	for _, answer := range r.Answer {
		txt, ok := answer.(*dns.TXT)
		if !ok {
			continue
		}
		// Long TXT records arrive as multiple character strings.
		values = append(values, strings.Join(txt.Txt, ""))
	}
	return values, nil
}

// matchValue returns the TXT value satisfying the record's expectation, or
// "" when none does. An explicit expected value demands an exact match;
// otherwise the standard version marker for the record type is enough.
func matchValue(rec *models.MailboxDNSRecord, values []string) string {
	expected := strings.TrimSpace(rec.ExpectedValue)
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if expected != "" {
			if trimmed == expected {
				return trimmed
			}
			continue
		}
		switch rec.RecordType {
		case models.DNSRecordSPF:
			if strings.HasPrefix(trimmed, "v=spf1") {
				return trimmed
			}
		case models.DNSRecordDKIM:
			if strings.Contains(trimmed, "v=DKIM1") && strings.Contains(trimmed, "p=") {
				return trimmed
			}
		case models.DNSRecordDMARC:
			if strings.HasPrefix(trimmed, "v=DMARC1") {
				return trimmed
			}
		}
	}
	return ""
}
