package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ElasticsearchLogger ships entries to Elasticsearch via the bulk API.
// A circuit breaker sheds load while the cluster is unreachable so a
// logging outage never backs up into the dispatch path. Self-managed and
// Elastic Cloud deployments are both supported.
type ElasticsearchLogger struct {
	config    *Config
	client    *http.Client
	bulkURL   string
	apiKey    string
	buffer    chan *LogEntry
	batchBuf  []*LogEntry
	closeChan chan struct{}
	wg        sync.WaitGroup

	// Circuit breaker state
	cbState    atomic.Value // "closed", "open", "half-open"
	cbFailures atomic.Int32
	cbLastFail atomic.Value // time.Time
	cbMutex    sync.Mutex
}

// circuitState represents the circuit breaker state
type circuitState string

const (
	circuitClosed   circuitState = "closed"
	circuitOpen     circuitState = "open"
	circuitHalfOpen circuitState = "half-open"
)

// NewElasticsearchLogger creates the Elasticsearch sink for the given
// config
func NewElasticsearchLogger(config *Config) (*ElasticsearchLogger, error) {
	if !config.Elasticsearch.Enabled {
		return nil, fmt.Errorf("elasticsearch logging is not enabled")
	}

	el := &ElasticsearchLogger{
		config:    config,
		client:    &http.Client{Timeout: 10 * time.Second},
		buffer:    make(chan *LogEntry, 1000),
		batchBuf:  make([]*LogEntry, 0, config.Elasticsearch.BulkSize),
		closeChan: make(chan struct{}),
	}

	el.cbState.Store(circuitClosed)
	el.cbLastFail.Store(time.Time{})

	if err := el.configure(); err != nil {
		return nil, fmt.Errorf("failed to configure elasticsearch: %w", err)
	}

	for i := 0; i < config.Elasticsearch.Workers; i++ {
		el.wg.Add(1)
		go el.bulkIndexer(i)
	}

	return el, nil
}

// configure derives the bulk endpoint and credentials from the mode
func (el *ElasticsearchLogger) configure() error {
	cfg := el.config.Elasticsearch

	if cfg.Mode == "cloud" {
		if cfg.CloudID == "" || cfg.APIKey == "" {
			return fmt.Errorf("cloud mode requires cloud_id and api_key")
		}

		// Cloud ID format: cluster_name:base64_encoded_data
		parts := strings.SplitN(cfg.CloudID, ":", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid cloud_id format")
		}

		el.bulkURL = fmt.Sprintf("https://%s.es.us-east-1.aws.found.io:9243/_bulk", parts[0])
		el.apiKey = cfg.APIKey
	} else {
		if len(cfg.Addresses) == 0 {
			return fmt.Errorf("self-managed mode requires at least one address")
		}

		baseURL := cfg.Addresses[0]
		el.bulkURL = fmt.Sprintf("%s/_bulk", baseURL)
	}

	return nil
}

// log buffers one entry for bulk indexing
func (el *ElasticsearchLogger) log(level LogLevel, msg string, component Component, source LogSource, fields map[string]interface{}) {
	if el.isCircuitOpen() {
		return
	}

	entry := &LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Message:   msg,
		Component: component,
		Source:    source,
		Fields:    fields,
	}

	// Run identity gets dedicated columns in the entry
	if scheduleID, ok := fields["schedule_id"].(string); ok {
		entry.ScheduleID = scheduleID
	}
	if executorID, ok := fields["executor_id"].(string); ok {
		entry.ExecutorID = executorID
	}
	if err, ok := fields["error"]; ok {
		entry.Error = fmt.Sprintf("%v", err)
	}

	select {
	case el.buffer <- entry:
	default:
		// Buffer full, drop the entry rather than block the caller
	}
}

// bulkIndexer collects buffered entries and flushes them by size or age
func (el *ElasticsearchLogger) bulkIndexer(workerID int) {
	defer el.wg.Done()

	ticker := time.NewTicker(el.config.Elasticsearch.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-el.buffer:
			el.batchBuf = append(el.batchBuf, entry)
			if len(el.batchBuf) >= el.config.Elasticsearch.BulkSize {
				el.flushBulk()
			}

		case <-ticker.C:
			if len(el.batchBuf) > 0 {
				el.flushBulk()
			}

		case <-el.closeChan:
			if len(el.batchBuf) > 0 {
				el.flushBulk()
			}
			return
		}
	}
}

// flushBulk sends the current batch to Elasticsearch
func (el *ElasticsearchLogger) flushBulk() {
	if len(el.batchBuf) == 0 {
		return
	}

	if el.isCircuitOpen() {
		el.batchBuf = el.batchBuf[:0]
		return
	}

	// Bulk body: one action line and one document line per entry, daily
	// indices under the configured prefix
	var buf bytes.Buffer
	indexName := fmt.Sprintf("%s-%s", el.config.Elasticsearch.IndexPrefix, time.Now().Format("2006.01.02"))

	for _, entry := range el.batchBuf {
		action := map[string]interface{}{
			"index": map[string]interface{}{
				"_index": indexName,
			},
		}
		actionJSON, err := json.Marshal(action)
		if err != nil {
			continue
		}
		buf.Write(actionJSON)
		buf.WriteByte('\n')

		docJSON, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		buf.Write(docJSON)
		buf.WriteByte('\n')
	}

	if err := el.sendBulkRequest(&buf); err != nil {
		el.recordFailure()
	} else {
		el.recordSuccess()
	}

	el.batchBuf = el.batchBuf[:0]
}

// sendBulkRequest sends a bulk indexing request with retries
func (el *ElasticsearchLogger) sendBulkRequest(body io.Reader) error {
	cfg := el.config.Elasticsearch
	backoff := cfg.RetryBackoff

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(context.Background(), "POST", el.bulkURL, body)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/x-ndjson")

		if el.apiKey != "" {
			req.Header.Set("Authorization", fmt.Sprintf("ApiKey %s", el.apiKey))
		} else if el.config.Elasticsearch.Username != "" {
			req.SetBasicAuth(el.config.Elasticsearch.Username, el.config.Elasticsearch.Password)
		}

		resp, err := el.client.Do(req)
		if err != nil {
			if attempt == cfg.MaxRetries {
				return fmt.Errorf("bulk request failed after %d retries: %w", cfg.MaxRetries, err)
			}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			_ = resp.Body.Close()
			return nil
		}

		respBody, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			respBody = []byte("failed to read response body")
		}
		if attempt == cfg.MaxRetries {
			return fmt.Errorf("bulk request failed with status %d: %s", resp.StatusCode, string(respBody))
		}
	}

	return fmt.Errorf("bulk request failed after %d retries", cfg.MaxRetries)
}

// Circuit breaker methods

func (el *ElasticsearchLogger) isCircuitOpen() bool {
	if !el.config.Elasticsearch.CircuitBreaker {
		return false
	}

	state := el.cbState.Load().(circuitState)

	switch state {
	case circuitOpen:
		// The reset timeout elapsed: let one probe request through
		lastFail := el.cbLastFail.Load().(time.Time)
		if time.Since(lastFail) >= el.config.Elasticsearch.ResetTimeout {
			el.cbMutex.Lock()
			el.cbState.Store(circuitHalfOpen)
			el.cbMutex.Unlock()
			return false
		}
		return true

	case circuitHalfOpen:
		return false

	default: // circuitClosed
		return false
	}
}

func (el *ElasticsearchLogger) recordFailure() {
	if !el.config.Elasticsearch.CircuitBreaker {
		return
	}

	failures := el.cbFailures.Add(1)
	el.cbLastFail.Store(time.Now())

	state := el.cbState.Load().(circuitState)

	if state == circuitHalfOpen {
		el.cbMutex.Lock()
		el.cbState.Store(circuitOpen)
		el.cbFailures.Store(0)
		el.cbMutex.Unlock()
	} else if int(failures) >= el.config.Elasticsearch.FailureThreshold {
		el.cbMutex.Lock()
		el.cbState.Store(circuitOpen)
		el.cbMutex.Unlock()
	}
}

func (el *ElasticsearchLogger) recordSuccess() {
	if !el.config.Elasticsearch.CircuitBreaker {
		return
	}

	state := el.cbState.Load().(circuitState)

	if state == circuitHalfOpen {
		el.cbMutex.Lock()
		el.cbState.Store(circuitClosed)
		el.cbFailures.Store(0)
		el.cbMutex.Unlock()
	} else {
		el.cbFailures.Store(0)
	}
}

// Close flushes and closes the Elasticsearch logger
func (el *ElasticsearchLogger) Close() error {
	close(el.closeChan)
	el.wg.Wait()
	return nil
}

// GetCircuitState returns the current circuit breaker state (for monitoring)
func (el *ElasticsearchLogger) GetCircuitState() string {
	return string(el.cbState.Load().(circuitState))
}
