package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"continuity/internal/infra"
	"continuity/internal/sqlinline"
)

const (
	ProviderOpenAI = "openai"
)

// Store reads and writes provider API keys kept in integration_tokens. It is
// consulted at startup only, when the environment does not carry a key.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

func (s *Store) OpenAIAPIKey(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderOpenAI)
}

// Token returns the stored key for provider, or "" when none is stored.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

func (s *Store) SetOpenAIAPIKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("openai api key is required")
	}
	return s.upsert(ctx, ProviderOpenAI, key, map[string]any{"scope": "videos"})
}

func (s *Store) upsert(ctx context.Context, provider, token string, props map[string]any) error {
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token, raw)
	return err
}

// ResolveOpenAIKey returns the configured key, falling back to the stored one.
func ResolveOpenAIKey(ctx context.Context, cfg *infra.Config, store *Store) (string, error) {
	if key := strings.TrimSpace(cfg.OpenAIAPIKey); key != "" {
		return key, nil
	}
	if store == nil {
		return "", nil
	}
	return store.OpenAIAPIKey(ctx)
}
