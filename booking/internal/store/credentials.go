package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/hazyhaar/platz/booking/internal/portal"
)

const nonceSize = 24

// PutCredential stores or replaces a user's credential for one portal.
// The password is sealed before it is written; the stored blob is
// nonce || ciphertext.
func (s *Store) PutCredential(ctx context.Context, userID, portalKey, username, password string) error {
	if userID == "" || portalKey == "" {
		return fmt.Errorf("store: put credential: empty user or portal key")
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("store: nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(password), &nonce, &s.key)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (user_id, portal, username, secret, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, portal) DO UPDATE SET
			username = excluded.username,
			secret = excluded.secret,
			updated_at = excluded.updated_at`,
		userID, portalKey, username, sealed, s.timestamp())
	if err != nil {
		return fmt.Errorf("store: put credential: %w", err)
	}
	return nil
}

// GetCredential loads and unseals a credential. Returns ErrNotFound when
// the user has none for the portal.
func (s *Store) GetCredential(ctx context.Context, userID, portalKey string) (*portal.Credential, error) {
	var username string
	var sealed []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT username, secret FROM credentials
		WHERE user_id = ? AND portal = ?`,
		userID, portalKey).Scan(&username, &sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: credential for %s", ErrNotFound, portalKey)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get credential: %w", err)
	}

	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("store: credential blob truncated")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, fmt.Errorf("store: credential unseal failed; wrong key?")
	}

	return &portal.Credential{
		Portal:   portalKey,
		Username: username,
		Password: string(plain),
	}, nil
}

// DeleteCredential removes a credential. Deleting a missing row is not an
// error.
func (s *Store) DeleteCredential(ctx context.Context, userID, portalKey string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM credentials WHERE user_id = ? AND portal = ?`,
		userID, portalKey)
	if err != nil {
		return fmt.Errorf("store: delete credential: %w", err)
	}
	return nil
}
