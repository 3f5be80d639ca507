package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"

	"github.com/google/uuid"

	"caseline/internal/domain"
	"caseline/internal/engine/auth"
	"caseline/internal/events"
	"caseline/internal/repo"
)

// CreateAPIKey mints a key for a machine client acting as ownerID with role.
// The plaintext key is returned once; only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, actor domain.Actor, ownerID, role, name string) (string, domain.APIKey, error) {
	if err := e.authorize(actor, auth.APIKeyCreate); err != nil {
		return "", domain.APIKey{}, err
	}
	if err := required("actor_id", ownerID); err != nil {
		return "", domain.APIKey{}, err
	}
	if err := required("role", role); err != nil {
		return "", domain.APIKey{}, err
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", domain.APIKey{}, err
	}
	plain := "cl_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   ownerID,
		Role:      role,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.now().UTC().Format("2006-01-02T15:04:05.000000000Z07:00"),
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, events.Type(events.EntityAPIKey, events.ActionCreated), events.EntityAPIKey, key.ID, actor.ID,
			events.Payload{"actor_id": ownerID, "role": role, "name": name})
	})
	if err != nil {
		return "", domain.APIKey{}, err
	}
	return plain, key, nil
}

// ListAPIKeys returns keys newest first, optionally for one owner. Hashes
// never leave the store.
func (e Engine) ListAPIKeys(ctx context.Context, actor domain.Actor, ownerID string) ([]domain.APIKey, error) {
	if err := e.authorize(actor, auth.APIKeyManage); err != nil {
		return nil, err
	}
	keys, err := e.Repo.ListAPIKeys(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	for i := range keys {
		keys[i].KeyHash = ""
	}
	return keys, nil
}

// RevokeAPIKey deletes a key; requests presenting it fail authentication from then on.
func (e Engine) RevokeAPIKey(ctx context.Context, actor domain.Actor, id string) error {
	if err := e.authorize(actor, auth.APIKeyManage); err != nil {
		return err
	}
	if err := required("id", id); err != nil {
		return err
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteAPIKey(ctx, tx, id); err != nil {
			return err
		}
		return e.events().Append(ctx, tx, events.Type(events.EntityAPIKey, events.ActionDeleted), events.EntityAPIKey, id, actor.ID, nil)
	})
}
