package dnsverify

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/mailpilot-io/mailpilot-ce/internal/database"
	"github.com/mailpilot-io/mailpilot-ce/internal/models"
	"github.com/mailpilot-io/mailpilot-ce/internal/repository"
)

// fakeExchanger answers TXT queries from a fixed host->values map and fails
// hosts listed in down.
type fakeExchanger struct {
	answers map[string][]string
	down    map[string]bool
	nx      map[string]bool
}

func (f *fakeExchanger) ExchangeContext(_ context.Context, m *dns.Msg, _ string) (*dns.Msg, time.Duration, error) {
	host := m.Question[0].Name
	if f.down[host] {
		return nil, 0, errors.New("i/o timeout")
	}
	r := &dns.Msg{}
	r.SetReply(m)
	if f.nx[host] {
		r.Rcode = dns.RcodeNameError
		return r, 0, nil
	}
	for _, value := range f.answers[host] {
		r.Answer = append(r.Answer, &dns.TXT{
			Hdr: dns.RR_Header{Name: host, Rrtype: dns.TypeTXT, Class: dns.ClassINET},
			Txt: []string{value},
		})
	}
	return r, 0, nil
}

func setup(t *testing.T, fake *fakeExchanger) (*Verifier, *repository.DNSRecordRepository, int) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(db, "sqlite3"))

	accounts := repository.NewMailAccountRepository(db)
	accountID, err := accounts.Create(context.Background(), &models.MailAccount{
		TenantID:     "tenant-a",
		EmailAddress: "support@acme.example",
		IMAPHost:     "imap.acme.example",
		IMAPUsername: "u", IMAPPasswordEncrypted: "x",
		SMTPHost: "smtp.acme.example",
		SMTPUsername: "u", SMTPPasswordEncrypted: "x",
		InboundType: "imaps",
		IsActive:    true,
	})
	require.NoError(t, err)

	records := repository.NewDNSRecordRepository(db)
	require.NoError(t, records.SeedDefaults(context.Background(), accountID, "acme.example", "s1"))

	verifier := &Verifier{records: records, client: fake, resolverAddr: "1.1.1.1:53"}
	return verifier, records, accountID
}

func statusByType(t *testing.T, records *repository.DNSRecordRepository, accountID int) map[string]string {
	t.Helper()
	recs, err := records.GetByAccount(context.Background(), accountID)
	require.NoError(t, err)
	out := map[string]string{}
	for _, rec := range recs {
		out[rec.RecordType] = rec.Status
	}
	return out
}

func TestVerifyAllRecordsByMarker(t *testing.T) {
	fake := &fakeExchanger{answers: map[string][]string{
		"acme.example.":              {"some-verification=abc", "v=spf1 include:_spf.acme.example ~all"},
		"s1._domainkey.acme.example.": {"v=DKIM1; k=rsa; p=MIGfMA0"},
		"_dmarc.acme.example.":        {"v=DMARC1; p=quarantine; rua=mailto:dmarc@acme.example"},
	}}
	verifier, records, accountID := setup(t, fake)

	result, err := verifier.VerifyAccount(context.Background(), accountID)
	require.NoError(t, err)
	require.True(t, result.Authenticated())

	statuses := statusByType(t, records, accountID)
	require.Equal(t, models.DNSStatusSuccess, statuses[models.DNSRecordSPF])
	require.Equal(t, models.DNSStatusSuccess, statuses[models.DNSRecordDKIM])
	require.Equal(t, models.DNSStatusSuccess, statuses[models.DNSRecordDMARC])
}

func TestVerifyMismatchMarksFail(t *testing.T) {
	fake := &fakeExchanger{
		answers: map[string][]string{
			"acme.example.": {"v=spf1 -all"},
			// DKIM host resolves but carries no DKIM record.
			"s1._domainkey.acme.example.": {"unrelated=1"},
		},
		nx: map[string]bool{"_dmarc.acme.example.": true},
	}
	verifier, records, accountID := setup(t, fake)

	result, err := verifier.VerifyAccount(context.Background(), accountID)
	require.NoError(t, err)
	require.True(t, result.SPFOk)
	require.False(t, result.DKIMOk)
	require.False(t, result.DMARCOk)
	require.False(t, result.Authenticated())

	statuses := statusByType(t, records, accountID)
	require.Equal(t, models.DNSStatusFail, statuses[models.DNSRecordDKIM])
	// NXDOMAIN is transient for a record never verified: stays pending.
	require.Equal(t, models.DNSStatusPending, statuses[models.DNSRecordDMARC])
}

func TestVerifyExpectedValueExactMatch(t *testing.T) {
	fake := &fakeExchanger{answers: map[string][]string{
		"acme.example.":              {"v=spf1 include:other.example ~all"},
		"s1._domainkey.acme.example.": {"v=DKIM1; k=rsa; p=AAA"},
		"_dmarc.acme.example.":        {"v=DMARC1; p=none"},
	}}
	verifier, records, accountID := setup(t, fake)
	ctx := context.Background()

	// An explicit expectation overrides the marker check.
	require.NoError(t, records.SetExpected(ctx, accountID, models.DNSRecordSPF,
		"v=spf1 include:_spf.acme.example ~all"))

	result, err := verifier.VerifyAccount(ctx, accountID)
	require.NoError(t, err)
	require.False(t, result.SPFOk)
	require.True(t, result.DKIMOk)

	statuses := statusByType(t, records, accountID)
	require.Equal(t, models.DNSStatusFail, statuses[models.DNSRecordSPF])
}

func TestVerifyDoesNotRegressOnOutage(t *testing.T) {
	fake := &fakeExchanger{answers: map[string][]string{
		"acme.example.":              {"v=spf1 ~all"},
		"s1._domainkey.acme.example.": {"v=DKIM1; k=rsa; p=AAA"},
		"_dmarc.acme.example.":        {"v=DMARC1; p=none"},
	}}
	verifier, records, accountID := setup(t, fake)
	ctx := context.Background()

	result, err := verifier.VerifyAccount(ctx, accountID)
	require.NoError(t, err)
	require.True(t, result.Authenticated())

	// Resolver goes dark: verified statuses survive the outage.
	fake.down = map[string]bool{
		"acme.example.":              true,
		"s1._domainkey.acme.example.": true,
		"_dmarc.acme.example.":        true,
	}
	result, err = verifier.VerifyAccount(ctx, accountID)
	require.NoError(t, err)
	require.True(t, result.Authenticated())

	statuses := statusByType(t, records, accountID)
	require.Equal(t, models.DNSStatusSuccess, statuses[models.DNSRecordSPF])
}
