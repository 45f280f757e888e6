package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/copilotz/pkg/domain"
	"github.com/aretw0/copilotz/pkg/ports"
)

// EnvelopeKey holds the ciphertext in the stored task state.
const EnvelopeKey = "__encrypted__"

// ErrInvalidKey is returned for keys that are not 32 bytes long.
var ErrInvalidKey = errors.New("encryption key must be 32 bytes (AES-256)")

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys are tried when the active key cannot decrypt a task.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	next   ports.TaskStore
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that seals the task context
// (step records and state) with AES-GCM. Identity, workflow, step and status
// stay in clear text so the store can still index active tasks.
func NewEncryptionMiddleware(config EncryptionConfig) (Middleware, error) {
	if len(config.ActiveKey) != 32 {
		return nil, ErrInvalidKey
	}
	for _, k := range config.FallbackKeys {
		if len(k) != 32 {
			return nil, ErrInvalidKey
		}
	}
	return func(next ports.TaskStore) ports.TaskStore {
		return &encryptionMiddleware{next: next, config: config}
	}, nil
}

func (m *encryptionMiddleware) seal(task *domain.Task) (*domain.Task, error) {
	plainText, err := json.Marshal(task.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task context: %w", err)
	}
	ciphertext, err := encrypt(plainText, m.config.ActiveKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt task context: %w", err)
	}

	envelope := *task
	envelope.Context = domain.TaskContext{
		Steps: map[string]domain.StepRecord{},
		State: map[string]any{EnvelopeKey: base64.StdEncoding.EncodeToString(ciphertext)},
	}
	return &envelope, nil
}

func (m *encryptionMiddleware) open(envelope *domain.Task) (*domain.Task, error) {
	encoded, ok := envelope.Context.State[EnvelopeKey].(string)
	if !ok {
		return nil, fmt.Errorf("task %s is missing encrypted data envelope", envelope.ID)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}
	plainText, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt task %s: %w", envelope.ID, err)
	}

	task := *envelope
	task.Context = domain.TaskContext{}
	if err := json.Unmarshal(plainText, &task.Context); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decrypted context: %w", err)
	}
	if task.Context.Steps == nil {
		task.Context.Steps = make(map[string]domain.StepRecord)
	}
	if task.Context.State == nil {
		task.Context.State = make(map[string]any)
	}
	return &task, nil
}

func (m *encryptionMiddleware) Get(ctx context.Context, id string) (*domain.Task, error) {
	envelope, err := m.next.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.open(envelope)
}

func (m *encryptionMiddleware) FindActive(ctx context.Context, extID string) (*domain.Task, error) {
	envelope, err := m.next.FindActive(ctx, extID)
	if err != nil {
		return nil, err
	}
	return m.open(envelope)
}

func (m *encryptionMiddleware) Create(ctx context.Context, task *domain.Task) error {
	envelope, err := m.seal(task)
	if err != nil {
		return err
	}
	return m.next.Create(ctx, envelope)
}

func (m *encryptionMiddleware) Update(ctx context.Context, task *domain.Task) error {
	envelope, err := m.seal(task)
	if err != nil {
		return err
	}
	return m.next.Update(ctx, envelope)
}

func (m *encryptionMiddleware) List(ctx context.Context, extID string) ([]*domain.Task, error) {
	envelopes, err := m.next.List(ctx, extID)
	if err != nil {
		return nil, err
	}
	tasks := make([]*domain.Task, len(envelopes))
	for i, e := range envelopes {
		if tasks[i], err = m.open(e); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

// Helpers

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	return gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
}
