package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// RuntimeConfig is the tunable knob set persisted in the config table.
// Values are re-read per request or per worker cycle so operators can
// adjust behavior without a restart.
type RuntimeConfig struct {
	BM25Weight     float64
	VectorWeight   float64
	RRFK           int
	ChunkSize      int
	ChunkOverlap   int
	EmbedModel     string
	EmbedModelV2   string
	EmbedRetryMax  int
	SearchCacheTTL time.Duration
}

func defaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		BM25Weight:     0.5,
		VectorWeight:   0.5,
		RRFK:           60,
		ChunkSize:      512,
		ChunkOverlap:   50,
		EmbedModel:     "nomic-embed-text",
		EmbedRetryMax:  5,
		SearchCacheTTL: 60 * time.Second,
	}
}

// RuntimeConfig loads the current knob set. A store failure falls back
// to compiled defaults so read paths keep working through an outage.
func (s *Store) RuntimeConfig(ctx context.Context) RuntimeConfig {
	cfg := defaultRuntimeConfig()

	rows, err := s.pool.Query(ctx, `SELECT key, value, value_type FROM config`)
	if err != nil {
		s.log.Warn("runtime config unavailable, using defaults", zap.Error(err))
		return cfg
	}
	defer rows.Close()

	for rows.Next() {
		var key, value, valueType string
		if err := rows.Scan(&key, &value, &valueType); err != nil {
			s.log.Warn("runtime config row unreadable, using defaults", zap.Error(err))
			return defaultRuntimeConfig()
		}
		applyConfigRow(&cfg, key, value, valueType)
	}
	if err := rows.Err(); err != nil {
		s.log.Warn("runtime config unavailable, using defaults", zap.Error(err))
		return defaultRuntimeConfig()
	}
	return cfg
}

// applyConfigRow coerces one key/value row onto cfg. Rows that fail to
// parse are ignored so one bad write cannot take down every reader.
func applyConfigRow(cfg *RuntimeConfig, key, value, valueType string) {
	switch key {
	case "bm25_weight":
		if f, err := parseFloat(value, valueType); err == nil {
			cfg.BM25Weight = f
		}
	case "vector_weight":
		if f, err := parseFloat(value, valueType); err == nil {
			cfg.VectorWeight = f
		}
	case "rrf_k":
		if n, err := parseInt(value, valueType); err == nil && n > 0 {
			cfg.RRFK = n
		}
	case "chunk_size":
		if n, err := parseInt(value, valueType); err == nil && n > 0 {
			cfg.ChunkSize = n
		}
	case "chunk_overlap":
		if n, err := parseInt(value, valueType); err == nil && n >= 0 {
			cfg.ChunkOverlap = n
		}
	case "embed_model":
		if value != "" {
			cfg.EmbedModel = value
		}
	case "embed_model_v2":
		cfg.EmbedModelV2 = value
	case "embed_retry_max":
		if n, err := parseInt(value, valueType); err == nil && n > 0 {
			cfg.EmbedRetryMax = n
		}
	case "search_cache_ttl":
		if n, err := parseInt(value, valueType); err == nil && n >= 0 {
			cfg.SearchCacheTTL = time.Duration(n) * time.Second
		}
	}
}

func parseFloat(value, valueType string) (float64, error) {
	if valueType != "float" && valueType != "int" {
		return 0, fmt.Errorf("config: %q is not numeric", valueType)
	}
	return strconv.ParseFloat(value, 64)
}

func parseInt(value, valueType string) (int, error) {
	if valueType != "int" {
		return 0, fmt.Errorf("config: %q is not an int", valueType)
	}
	return strconv.Atoi(value)
}

// SetSearchWeights updates both fusion weights in one transaction.
// Range validation happens at the API layer.
func (s *Store) SetSearchWeights(ctx context.Context, bm25, vector float64) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for key, val := range map[string]float64{
		"bm25_weight":   bm25,
		"vector_weight": vector,
	} {
		_, err := tx.Exec(ctx, `
			UPDATE config
			SET value = $1, value_type = 'float', updated_at = now()
			WHERE key = $2`,
			strconv.FormatFloat(val, 'g', -1, 64), key)
		if err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("set search weights: %w", err)
	}
	s.log.Info("search weights updated",
		zap.Float64("bm25_weight", bm25),
		zap.Float64("vector_weight", vector))
	return nil
}

// AllConfig returns every stored key for the config inspection endpoint.
func (s *Store) AllConfig(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM config ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan config: %w", err)
		}
		out[key] = value
	}
	return out, rows.Err()
}
