// Package crypto seals license records so that they can only be read back
// on the machine that wrote them.
//
// Keys are derived from the machine fingerprint with PBKDF2 and are never
// persisted. Blobs are self-describing: the first byte names the cipher so a
// vault can always read what any vault with the same key wrote.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/pbkdf2"

	"github.com/MacJediWizard/trialguard/internal/codec"
	"github.com/MacJediWizard/trialguard/internal/models"
)

const (
	// KeySize is the size of the derived key (AES-256 / ChaCha20).
	KeySize = 32

	// NonceSize is the nonce length for both ciphers.
	NonceSize = 12

	// KDFIterations is the PBKDF2-HMAC-SHA256 iteration count.
	KDFIterations = 100_000
)

// Blob version bytes.
const (
	versionAEAD   byte = 0x01
	versionStream byte = 0x02
)

// CipherMode selects how new blobs are sealed.
type CipherMode int

const (
	// CipherAEAD seals with AES-256-GCM.
	CipherAEAD CipherMode = iota + 1
	// CipherStream seals with unauthenticated ChaCha20. Tampering is only
	// caught when it breaks decoding.
	CipherStream
)

// String returns the mode name.
func (m CipherMode) String() string {
	switch m {
	case CipherAEAD:
		return "aes-256-gcm"
	case CipherStream:
		return "chacha20"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidKeySize indicates the key is not KeySize bytes.
	ErrInvalidKeySize = errors.New("encryption key must be 32 bytes")
	// ErrInvalidCiphertext indicates the blob is too short or has an unknown version.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	// ErrDecryptionFailed indicates authentication or decoding failed.
	ErrDecryptionFailed = errors.New("decryption failed")
)

// DeriveKey derives the record key from a machine fingerprint and salt.
func DeriveKey(fingerprint string, salt []byte) []byte {
	return pbkdf2.Key([]byte(fingerprint), salt, KDFIterations, KeySize, sha256.New)
}

// Vault encrypts and decrypts license records with one key.
type Vault struct {
	key    []byte
	mode   CipherMode
	aead   cipher.AEAD
	logger zerolog.Logger
}

// NewVault creates a vault. Requesting CipherAEAD falls back to
// CipherStream when the AEAD cannot be constructed.
func NewVault(key []byte, mode CipherMode, logger zerolog.Logger) (*Vault, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	if mode != CipherAEAD && mode != CipherStream {
		return nil, fmt.Errorf("unsupported cipher mode %d", mode)
	}

	v := &Vault{
		key:    append([]byte(nil), key...),
		mode:   mode,
		logger: logger.With().Str("component", "vault").Logger(),
	}

	if aead, err := newAEAD(v.key); err == nil {
		v.aead = aead
	} else if mode == CipherAEAD {
		v.logger.Warn().Err(err).Msg("authenticated cipher unavailable, falling back to stream cipher")
		v.mode = CipherStream
	}

	return v, nil
}

// Mode returns the mode used for new blobs.
func (v *Vault) Mode() CipherMode {
	return v.mode
}

// Encrypt serializes and seals a record. Every call uses a fresh nonce.
func (v *Vault) Encrypt(record *models.LicenseRecord) ([]byte, error) {
	if record == nil {
		return nil, errors.New("nil license record")
	}

	plaintext, err := codec.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode license record: %w", err)
	}

	return v.seal(plaintext)
}

// Decrypt opens a blob written by Encrypt. Any failure yields (nil, false).
func (v *Vault) Decrypt(blob []byte) (*models.LicenseRecord, bool) {
	plaintext, err := v.open(blob)
	if err != nil {
		v.logger.Debug().Err(err).Msg("license blob could not be opened")
		return nil, false
	}

	var record models.LicenseRecord
	if err := codec.Unmarshal(plaintext, &record); err != nil {
		v.logger.Debug().Err(err).Msg("license blob could not be decoded")
		return nil, false
	}
	if record.AppName == "" || record.MachineID == "" {
		v.logger.Debug().Msg("license blob decoded to an incomplete record")
		return nil, false
	}
	return &record, true
}

func (v *Vault) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, 1+NonceSize+len(plaintext)+16)
	switch v.mode {
	case CipherAEAD:
		out = append(out, versionAEAD)
		out = append(out, nonce...)
		return v.aead.Seal(out, nonce, plaintext, []byte{versionAEAD}), nil
	default:
		stream, err := chacha20.NewUnauthenticatedCipher(v.key, nonce)
		if err != nil {
			return nil, fmt.Errorf("create stream cipher: %w", err)
		}
		out = append(out, versionStream)
		out = append(out, nonce...)
		ct := make([]byte, len(plaintext))
		stream.XORKeyStream(ct, plaintext)
		return append(out, ct...), nil
	}
}

func (v *Vault) open(blob []byte) ([]byte, error) {
	if len(blob) < 1+NonceSize {
		return nil, ErrInvalidCiphertext
	}
	version, nonce, body := blob[0], blob[1:1+NonceSize], blob[1+NonceSize:]

	switch version {
	case versionAEAD:
		if v.aead == nil {
			return nil, fmt.Errorf("%w: authenticated cipher unavailable", ErrDecryptionFailed)
		}
		plaintext, err := v.aead.Open(nil, nonce, body, []byte{versionAEAD})
		if err != nil {
			return nil, ErrDecryptionFailed
		}
		return plaintext, nil
	case versionStream:
		stream, err := chacha20.NewUnauthenticatedCipher(v.key, nonce)
		if err != nil {
			return nil, fmt.Errorf("create stream cipher: %w", err)
		}
		plaintext := make([]byte, len(body))
		stream.XORKeyStream(plaintext, body)
		return plaintext, nil
	default:
		return nil, fmt.Errorf("%w: version 0x%02x", ErrInvalidCiphertext, version)
	}
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}
