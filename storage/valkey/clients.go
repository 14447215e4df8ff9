package valkey

import (
	"context"
	"encoding/json"
	"fmt"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/halcyonlabs/oauthcore/storage"
)

// SaveClient registers or updates a client. Registrations have no TTL.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ID == "" {
		return fmt.Errorf("client ID cannot be empty")
	}

	data, err := json.Marshal(toClientJSON(client))
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	key := s.clientKey(client.ID)
	if err := s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	s.logger.Debug("Saved client", "client_id", client.ID)
	return nil
}

// FindClient retrieves a client by ID.
func (s *Store) FindClient(ctx context.Context, clientID string) (*storage.Client, error) {
	key := s.clientKey(clientID)

	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return nil, storage.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	var j clientJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}
	return fromClientJSON(&j), nil
}

// DeleteClient removes a client registration. Deleting an unknown client
// is not an error.
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	key := s.clientKey(clientID)
	if err := s.client.Do(ctx, s.client.B().Del().Key(key).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	return nil
}
