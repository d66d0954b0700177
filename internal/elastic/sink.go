package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
)

var (
	// ErrInvalidURI is returned when the cluster URI is missing or not an absolute http(s) URI.
	ErrInvalidURI = errors.New("elasticsearch URI must be an absolute http(s) URI")
	// ErrQueueFull is reported when a document is dropped because the queue is saturated.
	ErrQueueFull = errors.New("elasticsearch queue is full, log entry dropped")
)

const (
	defaultBatchSize     = 50
	defaultQueueSize     = 1000
	defaultFlushInterval = 2 * time.Second
	defaultTimeout       = 5 * time.Second
)

// Options configures a Sink.
type Options struct {
	URI   string
	Index string

	// AutoRegisterTemplate installs an index template named TemplateName
	// matching TemplatePattern before the first bulk request.
	AutoRegisterTemplate bool
	TemplateName         string
	TemplatePattern      string

	BatchSize     int
	QueueSize     int
	FlushInterval time.Duration
	Timeout       time.Duration

	// OnError receives delivery failures. It must not block.
	OnError func(error)
}

// Sink ships encoded log documents to the Elasticsearch bulk API.
// Write never blocks and never fails; delivery happens on a background worker.
type Sink struct {
	opts   Options
	client *resty.Client

	queue    chan []byte
	flushReq chan chan struct{}
	stop     chan struct{}
	done     chan struct{}

	// mu orders enqueues before Close so the final drain sees every accepted document.
	mu                 sync.RWMutex
	closed             bool
	dropped            atomic.Int64
	templateRegistered bool
}

// NewSink validates opts and starts the delivery worker.
func NewSink(opts Options) (*Sink, error) {
	base, err := parseURI(opts.URI)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(opts.Index) == "" {
		return nil, errors.New("elasticsearch index name is required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.OnError == nil {
		opts.OnError = func(error) {}
	}

	client := resty.New().
		SetBaseURL(base).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json")

	s := &Sink{
		opts:     opts,
		client:   client,
		queue:    make(chan []byte, opts.QueueSize),
		flushReq: make(chan chan struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.run()

	return s, nil
}

func parseURI(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidURI
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURI, raw)
	}
	return strings.TrimSuffix(u.String(), "/"), nil
}

// Index returns the index documents are written to.
func (s *Sink) Index() string {
	return s.opts.Index
}

// Dropped returns the number of documents discarded because the queue was full
// or the sink was closed.
func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}

// Write enqueues one encoded JSON document. It implements zapcore.WriteSyncer.
func (s *Sink) Write(p []byte) (int, error) {
	doc := bytes.TrimRight(p, "\r\n")
	if len(doc) == 0 {
		return len(p), nil
	}

	buf := make([]byte, len(doc))
	copy(buf, doc)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return len(p), nil
	}

	select {
	case s.queue <- buf:
	default:
		s.dropped.Add(1)
		s.opts.OnError(ErrQueueFull)
	}
	return len(p), nil
}

// Sync delivers queued documents, bounded by the configured timeout.
func (s *Sink) Sync() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
	defer cancel()
	return s.Flush(ctx)
}

// Flush asks the worker to deliver everything queued so far and waits for it.
func (s *Sink) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case s.flushReq <- ack:
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the worker after it delivers what is already queued.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.stop)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sink) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([][]byte, 0, s.opts.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.send(batch)
		batch = batch[:0]
	}
	drain := func() {
		for {
			select {
			case doc := <-s.queue:
				batch = append(batch, doc)
				if len(batch) >= s.opts.BatchSize {
					flush()
				}
			default:
				flush()
				return
			}
		}
	}

	for {
		select {
		case doc := <-s.queue:
			batch = append(batch, doc)
			if len(batch) >= s.opts.BatchSize {
				flush()
			}
		case ack := <-s.flushReq:
			drain()
			close(ack)
		case <-ticker.C:
			flush()
		case <-s.stop:
			drain()
			return
		}
	}
}

func (s *Sink) send(batch [][]byte) {
	if s.opts.AutoRegisterTemplate && !s.templateRegistered {
		s.templateRegistered = true
		if err := s.registerTemplate(); err != nil {
			s.opts.OnError(err)
		}
	}

	body, err := bulkBody(s.opts.Index, batch)
	if err != nil {
		s.opts.OnError(err)
		return
	}

	resp, err := s.client.R().
		SetHeader("Content-Type", "application/x-ndjson").
		SetBody(body).
		Post("/_bulk")
	if err != nil {
		s.opts.OnError(fmt.Errorf("bulk request: %w", err))
		return
	}
	if resp.IsError() {
		s.opts.OnError(fmt.Errorf("bulk request: unexpected status %d: %s", resp.StatusCode(), truncate(resp.String(), 256)))
		return
	}

	var result bulkResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		s.opts.OnError(fmt.Errorf("decode bulk response: %w", err))
		return
	}
	if result.Errors {
		s.opts.OnError(fmt.Errorf("bulk request: %d of %d documents rejected", result.failed(), len(batch)))
	}
}

func bulkBody(index string, batch [][]byte) ([]byte, error) {
	action, err := json.Marshal(bulkAction{Index: bulkTarget{Index: index}})
	if err != nil {
		return nil, fmt.Errorf("encode bulk action: %w", err)
	}

	var buf bytes.Buffer
	for _, doc := range batch {
		buf.Write(action)
		buf.WriteByte('\n')
		buf.Write(doc)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

type bulkAction struct {
	Index bulkTarget `json:"index"`
}

type bulkTarget struct {
	Index string `json:"_index"`
}

type bulkResponse struct {
	Errors bool                                 `json:"errors"`
	Items  []map[string]bulkItemResponseDetails `json:"items"`
}

type bulkItemResponseDetails struct {
	Status int             `json:"status"`
	Error  json.RawMessage `json:"error,omitempty"`
}

func (r bulkResponse) failed() int {
	n := 0
	for _, item := range r.Items {
		for _, details := range item {
			if details.Status >= 300 || len(details.Error) > 0 {
				n++
			}
		}
	}
	return n
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
