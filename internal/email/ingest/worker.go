// Package ingest turns raw fetched messages into stored incoming messages,
// de-duplicated by fingerprint per tenant.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	stdmail "net/mail"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	htmlcharset "golang.org/x/net/html/charset"

	"github.com/mailpilot-io/mailpilot-ce/internal/email/connector"
	"github.com/mailpilot-io/mailpilot-ce/internal/metrics"
	"github.com/mailpilot-io/mailpilot-ce/internal/models"
	"github.com/mailpilot-io/mailpilot-ce/internal/repository"
)

func init() {
	gomessage.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return htmlcharset.NewReaderLabel(charset, input)
	}
}

const defaultBodyLimit = 128 * 1024

// Deduper answers whether a fingerprint is seen for the first time. It is a
// fast path only; the database unique constraint is the source of truth.
type Deduper interface {
	FirstSeen(ctx context.Context, tenantID, fingerprint string) (bool, error)
}

// RedisDeduper backs the fast path with SETNX and a TTL.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

func (d *RedisDeduper) FirstSeen(ctx context.Context, tenantID, fingerprint string) (bool, error) {
	key := fmt.Sprintf("mailpilot:fp:%s:%s", tenantID, fingerprint)
	return d.client.SetNX(ctx, key, 1, d.ttl).Result()
}

// Worker is the connector handler that persists fetched messages.
type Worker struct {
	messages  *repository.IncomingMessageRepository
	dedup     Deduper
	sanitizer *bluemonday.Policy
	logger    *log.Logger
	now       func() time.Time
	bodyLimit int64
}

// WorkerOption customizes the ingest worker.
type WorkerOption func(*Worker)

func NewWorker(messages *repository.IncomingMessageRepository, opts ...WorkerOption) *Worker {
	w := &Worker{
		messages:  messages,
		sanitizer: bluemonday.UGCPolicy(),
		logger:    log.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		bodyLimit: defaultBodyLimit,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WithDeduper installs the redis fast path.
func WithDeduper(d Deduper) WorkerOption {
	return func(w *Worker) {
		w.dedup = d
	}
}

// WithWorkerLogger overrides the diagnostics logger.
func WithWorkerLogger(logger *log.Logger) WorkerOption {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithWorkerClock overrides the wall clock, primarily for tests.
func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

var _ connector.Handler = (*Worker)(nil)

// Handle parses, fingerprints and stores one fetched message, reporting
// whether it was newly stored. Duplicates and unparseable messages are
// skipped without error so one bad message never stalls the rest of a
// mailbox pass.
func (w *Worker) Handle(ctx context.Context, msg *connector.FetchedMessage) (bool, error) {
	if msg == nil || len(msg.Raw) == 0 {
		return false, nil
	}

	env, ok := w.parse(msg)
	if !ok {
		w.logger.Printf("[INGEST] account %d: skipping unparseable message uid=%s", msg.AccountID, msg.UID)
		return false, nil
	}

	fingerprint := env.messageID
	if fingerprint == "" {
		fingerprint = fmt.Sprintf("%d-%s-%d", msg.AccountID, msg.UID, msg.ReceivedAt.Unix())
	}

	if w.dedup != nil {
		first, err := w.dedup.FirstSeen(ctx, msg.TenantID, fingerprint)
		if err != nil {
			// Fast path down, fall through to the database check.
			w.logger.Printf("[INGEST] dedup fast path unavailable: %v", err)
		} else if !first {
			return false, nil
		}
	}

	exists, err := w.messages.ExistsByFingerprint(ctx, msg.TenantID, fingerprint)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	record := &models.IncomingMessage{
		TenantID:    msg.TenantID,
		AccountID:   msg.AccountID,
		FromAddress: env.from,
		ToAddress:   env.to,
		Subject:     env.subject,
		Body:        env.plain,
		Fingerprint: fingerprint,
	}
	if env.html != "" {
		sanitized := w.sanitizer.Sanitize(env.html)
		record.HTMLBody = &sanitized
		if record.Body == "" {
			record.Body = sanitized
		}
	}

	if _, err := w.messages.Insert(ctx, record); err != nil {
		// Concurrent pass won the race on (tenant_id, fingerprint).
		if isDuplicateErr(err) {
			return false, nil
		}
		return false, err
	}
	metrics.MessagesIngested.Inc()
	return true, nil
}

func isDuplicateErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

type envelope struct {
	messageID string
	from      string
	to        string
	subject   string
	plain     string
	html      string
}

func (w *Worker) parse(msg *connector.FetchedMessage) (envelope, bool) {
	reader, err := gomail.CreateReader(bytes.NewReader(msg.Raw))
	if err != nil {
		return w.legacyParse(msg)
	}

	var env envelope
	env.messageID = normalizeMessageID(reader.Header.Get("Message-Id"))
	env.from = addressFromHeader(&reader.Header, "From")
	env.to = addressFromHeader(&reader.Header, "To")
	if subject, err := reader.Header.Subject(); err == nil {
		env.subject = subject
	} else {
		env.subject = decodeHeader(reader.Header.Get("Subject"))
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			w.logger.Printf("[INGEST] read part failed: %v", err)
			break
		}
		inline, ok := part.Header.(*gomail.InlineHeader)
		if !ok {
			continue
		}
		mimeType, _, ctErr := inline.ContentType()
		if ctErr != nil {
			mimeType = "text/plain"
		}
		body, readErr := io.ReadAll(io.LimitReader(part.Body, w.bodyLimit))
		if readErr != nil {
			w.logger.Printf("[INGEST] read part body failed: %v", readErr)
			continue
		}
		switch {
		case strings.HasPrefix(mimeType, "text/plain"):
			if env.plain == "" {
				env.plain = string(body)
			}
		case strings.HasPrefix(mimeType, "text/html"):
			if env.html == "" {
				env.html = string(body)
			}
		default:
			if env.plain == "" && env.html == "" {
				env.plain = string(body)
			}
		}
	}

	if env.plain == "" && env.html == "" {
		legacy, ok := w.legacyParse(msg)
		if !ok {
			return env, env.subject != "" || env.from != ""
		}
		if env.subject == "" {
			env.subject = legacy.subject
		}
		if env.from == "" {
			env.from = legacy.from
		}
		env.plain = legacy.plain
	}
	return env, true
}

func (w *Worker) legacyParse(msg *connector.FetchedMessage) (envelope, bool) {
	reader, err := stdmail.ReadMessage(bytes.NewReader(msg.Raw))
	if err != nil {
		return envelope{}, false
	}
	var env envelope
	env.messageID = normalizeMessageID(reader.Header.Get("Message-Id"))
	env.subject = decodeHeader(reader.Header.Get("Subject"))
	env.from = parseAddress(reader.Header.Get("From"))
	env.to = parseAddress(reader.Header.Get("To"))
	body, err := io.ReadAll(io.LimitReader(reader.Body, w.bodyLimit))
	if err == nil {
		env.plain = string(body)
	}
	return env, true
}

func addressFromHeader(header *gomail.Header, field string) string {
	if list, err := header.AddressList(field); err == nil && len(list) > 0 {
		return strings.TrimSpace(list[0].Address)
	}
	return parseAddress(header.Get(field))
}

func parseAddress(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if addrs, err := stdmail.ParseAddressList(value); err == nil && len(addrs) > 0 {
		return addrs[0].Address
	}
	if addr, err := stdmail.ParseAddress(value); err == nil {
		return addr.Address
	}
	return value
}

func decodeHeader(value string) string {
	decoder := &mime.WordDecoder{}
	if decoded, err := decoder.DecodeHeader(value); err == nil {
		return decoded
	}
	return value
}

func normalizeMessageID(value string) string {
	return strings.TrimSpace(value)
}
