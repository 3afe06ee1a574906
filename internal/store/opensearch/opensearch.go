// Package opensearch stores records as documents in an OpenSearch index.
package opensearch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"github.com/telhawk-systems/eventsink/internal/models"
	"github.com/telhawk-systems/eventsink/internal/store"
)

// Config holds OpenSearch connection settings.
type Config struct {
	URL           string
	Username      string
	Password      string
	TLSSkipVerify bool
	// Index is the target index, usually "<database>-<collection>".
	Index        string
	ShardCount   int
	ReplicaCount int
	// Refresh is passed through to write calls ("", "true", "wait_for").
	Refresh string
}

// Client is a store.Store backed by a single OpenSearch index.
type Client struct {
	osClient  *opensearch.Client
	transport *http.Transport
	config    Config
}

// NewClient creates the client. It does not contact the cluster; call Initialize.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Index == "" {
		return nil, errors.New("opensearch index is required")
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify,
		},
	}

	osClient, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: transport,
		// Retries belong to the upsert coordinator so every attempt is counted.
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	return &Client{osClient: osClient, transport: transport, config: cfg}, nil
}

// Initialize verifies connectivity and creates the index when missing.
func (c *Client) Initialize(ctx context.Context) error {
	if err := c.Ping(ctx); err != nil {
		return err
	}

	exists, err := c.osClient.Indices.Exists([]string{c.config.Index}, c.osClient.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index: %w", err)
	}
	exists.Body.Close()
	if exists.StatusCode == http.StatusOK {
		return nil
	}

	body, err := json.Marshal(c.indexSettings())
	if err != nil {
		return err
	}

	res, err := c.osClient.Indices.Create(
		c.config.Index,
		c.osClient.Indices.Create.WithBody(bytes.NewReader(body)),
		c.osClient.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer res.Body.Close()

	// 400 resource_already_exists_exception when another instance won the race.
	if res.IsError() && res.StatusCode != http.StatusBadRequest {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("failed to create index: %s - %s", res.Status(), string(bodyBytes))
	}

	slog.Info("OpenSearch index ready", slog.String("index", c.config.Index))
	return nil
}

func (c *Client) indexSettings() map[string]interface{} {
	return map[string]interface{}{
		"settings": map[string]interface{}{
			"number_of_shards":   c.config.ShardCount,
			"number_of_replicas": c.config.ReplicaCount,
		},
		"mappings": map[string]interface{}{
			"dynamic": true,
			"properties": map[string]interface{}{
				"id":           map[string]interface{}{"type": "keyword"},
				"name":         map[string]interface{}{"type": "text", "fields": map[string]interface{}{"keyword": map[string]interface{}{"type": "keyword", "ignore_above": 256}}},
				"source":       map[string]interface{}{"type": "keyword"},
				"processed_by": map[string]interface{}{"type": "keyword"},
				"received_at":  map[string]interface{}{"type": "date"},
				"updated_at":   map[string]interface{}{"type": "date"},
				"created_at":   map[string]interface{}{"type": "date"},
				"eventhub_metadata": map[string]interface{}{
					"properties": map[string]interface{}{
						"partition_key":   map[string]interface{}{"type": "keyword"},
						"sequence_number": map[string]interface{}{"type": "long"},
						"offset":          map[string]interface{}{"type": "keyword"},
						"enqueued_time":   map[string]interface{}{"type": "date"},
						"consumer_group":  map[string]interface{}{"type": "keyword"},
					},
				},
			},
		},
	}
}

// Create indexes doc with op_type=create so an existing id yields 409.
func (c *Client) Create(ctx context.Context, id string, doc models.Record) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return store.Permanent("create", id, err)
	}

	opts := []func(*opensearchapi.CreateRequest){c.osClient.Create.WithContext(ctx)}
	if c.config.Refresh != "" {
		opts = append(opts, c.osClient.Create.WithRefresh(c.config.Refresh))
	}

	res, err := c.osClient.Create(c.config.Index, id, bytes.NewReader(data), opts...)
	if err != nil {
		return store.Transient("create", id, err)
	}
	defer res.Body.Close()

	return classifyResponse("create", id, res.StatusCode, res.Body)
}

// Replace overwrites the document stored under id.
func (c *Client) Replace(ctx context.Context, id string, doc models.Record) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return store.Permanent("replace", id, err)
	}

	opts := []func(*opensearchapi.IndexRequest){
		c.osClient.Index.WithDocumentID(id),
		c.osClient.Index.WithContext(ctx),
	}
	if c.config.Refresh != "" {
		opts = append(opts, c.osClient.Index.WithRefresh(c.config.Refresh))
	}

	res, err := c.osClient.Index(c.config.Index, bytes.NewReader(data), opts...)
	if err != nil {
		return store.Transient("replace", id, err)
	}
	defer res.Body.Close()

	return classifyResponse("replace", id, res.StatusCode, res.Body)
}

// Ping calls the cluster info endpoint.
func (c *Client) Ping(ctx context.Context) error {
	info, err := c.osClient.Info(c.osClient.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to connect to opensearch: %w", err)
	}
	defer info.Body.Close()

	if info.IsError() {
		return fmt.Errorf("opensearch returned error: %s", info.Status())
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

type errorBody struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

func classifyResponse(op, id string, status int, body io.Reader) error {
	if status < 300 {
		return nil
	}
	if status == http.StatusConflict {
		return store.Conflict(op, id)
	}

	raw, _ := io.ReadAll(io.LimitReader(body, 4096))
	detail := fmt.Errorf("status %d: %s", status, string(raw))
	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil && eb.Error.Type != "" {
		detail = fmt.Errorf("status %d: %s: %s", status, eb.Error.Type, eb.Error.Reason)
	}

	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return store.Transient(op, id, detail)
	default:
		return store.Permanent(op, id, detail)
	}
}
