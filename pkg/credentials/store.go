// Package credentials provides the encrypted credential store. Secret
// values are sealed with AES-256-GCM before they reach the persistence
// backend; plaintext never appears in logs or in stored records. The
// backend is a simple keyed CRUD collaborator, so anything from an
// in-memory map to a database table can carry the records.
package credentials

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vortexdata/vortex/pkg/errors"
	"github.com/vortexdata/vortex/pkg/logger"
)

// maxRotationHistory caps the rotation trail per credential; the oldest
// entry is dropped first.
const maxRotationHistory = 10

// RotationEntry records one rotation of a credential.
type RotationEntry struct {
	RotatedAt time.Time `json:"rotated_at"`
	Reason    string    `json:"reason,omitempty"`
}

// Record is the persisted form of one credential. Encrypted and IV
// together are the sealed secret; the plaintext exists only in memory
// between Decrypt and the caller.
type Record struct {
	Key             string            `json:"key"`
	Encrypted       []byte            `json:"encrypted_value"`
	IV              []byte            `json:"iv"`
	Source          string            `json:"source,omitempty"`
	Group           string            `json:"group,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Enabled         bool              `json:"enabled"`
	ExpiresAt       *time.Time        `json:"expires_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	LastRotatedAt   *time.Time        `json:"last_rotated_at,omitempty"`
	LastAccessedAt  *time.Time        `json:"last_accessed_at,omitempty"`
	AccessCount     int64             `json:"access_count"`
	RotationHistory []RotationEntry   `json:"rotation_history,omitempty"`
}

// Clone deep-copies the record.
func (r *Record) Clone() *Record {
	cp := *r
	cp.Encrypted = append([]byte(nil), r.Encrypted...)
	cp.IV = append([]byte(nil), r.IV...)
	if r.Metadata != nil {
		cp.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	cp.RotationHistory = append([]RotationEntry(nil), r.RotationHistory...)
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		cp.ExpiresAt = &t
	}
	if r.LastRotatedAt != nil {
		t := *r.LastRotatedAt
		cp.LastRotatedAt = &t
	}
	if r.LastAccessedAt != nil {
		t := *r.LastAccessedAt
		cp.LastAccessedAt = &t
	}
	return &cp
}

// Backend is the keyed CRUD collaborator that persists records.
type Backend interface {
	Put(ctx context.Context, record *Record) error
	Fetch(ctx context.Context, key string) (*Record, bool, error)
	Remove(ctx context.Context, key string) (bool, error)
	List(ctx context.Context) ([]*Record, error)
}

// ValidationStatus is the structured result of Validate.
type ValidationStatus struct {
	Valid   bool     `json:"valid"`
	Reasons []string `json:"reasons,omitempty"`
}

func (v *ValidationStatus) fail(reason string) {
	v.Valid = false
	v.Reasons = append(v.Reasons, reason)
}

// StoreOption customizes a Store/Rotate write.
type StoreOption func(*Record)

// WithSource tags the credential with its originating system.
func WithSource(source string) StoreOption {
	return func(r *Record) { r.Source = source }
}

// WithGroup assigns the credential to a logical group.
func WithGroup(group string) StoreOption {
	return func(r *Record) { r.Group = group }
}

// WithMetadata attaches free-form metadata.
func WithMetadata(metadata map[string]string) StoreOption {
	return func(r *Record) {
		r.Metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			r.Metadata[k] = v
		}
	}
}

// WithExpiry sets the expiration instant; Get treats expired entries as
// absent.
func WithExpiry(expiresAt time.Time) StoreOption {
	return func(r *Record) { r.ExpiresAt = &expiresAt }
}

// Store is the encrypted credential store. Mutating operations are
// serialized behind one lock per store so read-modify-write sequences
// never lose updates; reads do not take the lock.
type Store struct {
	backend Backend
	enc     *Encryptor
	writeMu sync.Mutex
	logger  *zap.Logger

	// accessWG lets tests wait for async access-stat bumps.
	accessWG sync.WaitGroup
}

// NewStore builds a store over a backend and encryptor.
func NewStore(backend Backend, enc *Encryptor) *Store {
	return &Store{
		backend: backend,
		enc:     enc,
		logger:  logger.Get().With(zap.String("component", "credential_store")),
	}
}

// Store upserts a credential by key, sealing the value before it reaches
// the backend. An existing record keeps its creation time, rotation
// history and access statistics.
func (s *Store) Store(ctx context.Context, key, value string, opts ...StoreOption) error {
	if key == "" {
		return errors.New(errors.ErrorTypeValidation, "credential key is required")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ciphertext, iv, err := s.enc.Encrypt(value)
	if err != nil {
		return err
	}

	now := time.Now()
	record := &Record{
		Key:       key,
		Encrypted: ciphertext,
		IV:        iv,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing, ok, err := s.backend.Fetch(ctx, key); err != nil {
		return errors.Wrap(err, errors.ErrorTypeCredential, "credential lookup failed")
	} else if ok {
		record.CreatedAt = existing.CreatedAt
		record.RotationHistory = existing.RotationHistory
		record.LastRotatedAt = existing.LastRotatedAt
		record.AccessCount = existing.AccessCount
		record.LastAccessedAt = existing.LastAccessedAt
	}
	for _, opt := range opts {
		opt(record)
	}

	if err := s.backend.Put(ctx, record); err != nil {
		return errors.Wrap(err, errors.ErrorTypeCredential, "credential write failed")
	}
	s.logger.Info("credential stored", zap.String("key", key))
	return nil
}

// Get returns the decrypted value. Missing, disabled and expired
// credentials all surface as not-found; a record that exists but cannot
// be decrypted surfaces as a decryption error instead. Access statistics
// are bumped asynchronously and never fail the read.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	record, ok, err := s.backend.Fetch(ctx, key)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeCredential, "credential lookup failed")
	}
	if !ok || !record.Enabled || expired(record) {
		return "", errors.Newf(errors.ErrorTypeNotFound, "credential %q not found", key)
	}

	value, err := s.enc.Decrypt(record.Encrypted, record.IV)
	if err != nil {
		return "", err
	}

	s.accessWG.Add(1)
	go func() {
		defer s.accessWG.Done()
		s.bumpAccess(key)
	}()
	return value, nil
}

// bumpAccess records one read. It runs outside the caller's request and
// takes the write lock so it never races a concurrent Store/Rotate.
func (s *Store) bumpAccess(key string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	record, ok, err := s.backend.Fetch(ctx, key)
	if err != nil || !ok {
		return
	}
	now := time.Now()
	record.AccessCount++
	record.LastAccessedAt = &now
	if err := s.backend.Put(ctx, record); err != nil {
		s.logger.Warn("access statistics not recorded", zap.String("key", key), zap.Error(err))
	}
}

// Rotate re-encrypts the credential under a new value, appending a
// rotation-history entry. History is capped; the oldest entry drops
// first.
func (s *Store) Rotate(ctx context.Context, key, newValue, reason string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	record, ok, err := s.backend.Fetch(ctx, key)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeCredential, "credential lookup failed")
	}
	if !ok {
		return errors.Newf(errors.ErrorTypeNotFound, "credential %q not found", key)
	}

	ciphertext, iv, err := s.enc.Encrypt(newValue)
	if err != nil {
		return err
	}

	now := time.Now()
	record.Encrypted = ciphertext
	record.IV = iv
	record.UpdatedAt = now
	record.LastRotatedAt = &now
	record.RotationHistory = append(record.RotationHistory, RotationEntry{RotatedAt: now, Reason: reason})
	if len(record.RotationHistory) > maxRotationHistory {
		record.RotationHistory = record.RotationHistory[len(record.RotationHistory)-maxRotationHistory:]
	}

	if err := s.backend.Put(ctx, record); err != nil {
		return errors.Wrap(err, errors.ErrorTypeCredential, "credential write failed")
	}
	s.logger.Info("credential rotated", zap.String("key", key), zap.String("reason", reason))
	return nil
}

// Delete removes the credential.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	removed, err := s.backend.Remove(ctx, key)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeCredential, "credential delete failed")
	}
	if !removed {
		return errors.Newf(errors.ErrorTypeNotFound, "credential %q not found", key)
	}
	s.logger.Info("credential deleted", zap.String("key", key))
	return nil
}

// Validate checks the credential's enabled flag, expiry and
// decryptability without returning the plaintext.
func (s *Store) Validate(ctx context.Context, key string) (*ValidationStatus, error) {
	status := &ValidationStatus{Valid: true}

	record, ok, err := s.backend.Fetch(ctx, key)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCredential, "credential lookup failed")
	}
	if !ok {
		status.fail("credential does not exist")
		return status, nil
	}
	if !record.Enabled {
		status.fail("credential is disabled")
	}
	if expired(record) {
		status.fail("credential has expired")
	}
	if _, err := s.enc.Decrypt(record.Encrypted, record.IV); err != nil {
		status.fail("stored value cannot be decrypted")
	}
	return status, nil
}

// ResolveGroup returns the decrypted values of every enabled, unexpired
// credential in a group, keyed by credential key. The executor uses this
// to merge secrets into connection parameters.
func (s *Store) ResolveGroup(ctx context.Context, group string) (map[string]string, error) {
	records, err := s.backend.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCredential, "credential listing failed")
	}

	out := make(map[string]string)
	for _, record := range records {
		if record.Group != group || !record.Enabled || expired(record) {
			continue
		}
		value, err := s.enc.Decrypt(record.Encrypted, record.IV)
		if err != nil {
			return nil, err
		}
		out[record.Key] = value
	}
	return out, nil
}

// WaitForAccessStats blocks until in-flight async access bumps land.
func (s *Store) WaitForAccessStats() {
	s.accessWG.Wait()
}

func expired(record *Record) bool {
	return record.ExpiresAt != nil && time.Now().After(*record.ExpiresAt)
}
