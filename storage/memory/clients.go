package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/halcyonlabs/oauthcore/storage"
)

// SaveClient registers or updates a client. The core only reads clients;
// this is the management surface for the embedding application.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_client", err, startTime)
	}()

	if client == nil || client.ID == "" {
		err = fmt.Errorf("client ID cannot be empty")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.clients[client.ID]
	stored := *client
	s.clients[client.ID] = &stored
	if !existed {
		s.clientsCountAtomic.Add(1)
	}

	s.logger.Debug("Saved client", "client_id", client.ID)
	return nil
}

// FindClient retrieves a client by ID.
func (s *Store) FindClient(ctx context.Context, clientID string) (*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "find_client")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "find_client", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		err = storage.ErrClientNotFound
		return nil, err
	}

	cp := *client
	return &cp, nil
}

// DeleteClient removes a client registration. Deleting an unknown client
// is not an error.
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	ctx, span := s.startStorageSpan(ctx, "delete_client")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "delete_client", nil, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[clientID]; ok {
		delete(s.clients, clientID)
		s.clientsCountAtomic.Add(-1)
	}
	return nil
}

// ListClients returns all registered clients.
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, c := range s.clients {
		cp := *c
		clients = append(clients, &cp)
	}
	return clients, nil
}
