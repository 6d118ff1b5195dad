package store

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"beacon/internal/util/memzero"
)

const (
	// The current supported version of the sealed blob format.
	keystoreFormatVersion = 1
)

var (
	// ErrWrongPassphrase is returned when the passphrase is incorrect or the
	// ciphertext has been modified or moved to another name.
	ErrWrongPassphrase = errors.New("wrong passphrase or corrupted blob")
)

// blob is the stored JSON structure holding the ciphertext and KDF parameters.
type blob struct {
	V      int    `json:"v"`
	Salt   []byte `json:"salt"`
	N      int    `json:"scrypt_N"`
	R      int    `json:"scrypt_r"`
	P      int    `json:"scrypt_p"`
	Nonce  []byte `json:"nonce"`
	Cipher []byte `json:"cipher"`
}

// ScryptParams are the tunables for key derivation.
type ScryptParams struct {
	N, R, P int
}

// DefaultScryptParams returns the parameters used outside tests.
func DefaultScryptParams() ScryptParams { return ScryptParams{N: 1 << 15, R: 8, P: 1} }

// Sealer encrypts blobs under a passphrase. The scrypt key is derived once
// per salt and cached, so sealing every blob after every pipeline call costs
// one AEAD operation.
type Sealer struct {
	passphrase []byte
	params     ScryptParams

	mu   sync.Mutex
	salt []byte
	keys map[string][]byte // salt -> derived key
}

// NewSealer returns a Sealer for passphrase.
func NewSealer(passphrase string, params ScryptParams) *Sealer {
	return &Sealer{
		passphrase: []byte(passphrase),
		params:     params,
		keys:       make(map[string][]byte),
	}
}

// Seal encrypts raw and binds it to name.
func (s *Sealer) Seal(name string, raw []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.salt == nil {
		salt := make([]byte, 16)
		if _, err := rand.Read(salt); err != nil {
			return nil, err
		}
		s.salt = salt
	}
	key, err := s.keyLocked(s.salt, s.params)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ct := aead.Seal(nil, nonce, raw, additionalData(s.salt, name))

	return json.Marshal(blob{
		V:      keystoreFormatVersion,
		Salt:   s.salt,
		N:      s.params.N,
		R:      s.params.R,
		P:      s.params.P,
		Nonce:  nonce,
		Cipher: ct,
	})
}

// Open decrypts a blob produced by Seal under the same name.
func (s *Sealer) Open(name string, b []byte) ([]byte, error) {
	var bl blob
	if err := json.Unmarshal(b, &bl); err != nil {
		return nil, err
	}
	if bl.V > keystoreFormatVersion {
		return nil, fmt.Errorf("unsupported keystore version %d", bl.V)
	}

	s.mu.Lock()
	key, err := s.keyLocked(bl.Salt, ScryptParams{N: bl.N, R: bl.R, P: bl.P})
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	if len(bl.Nonce) != aead.NonceSize() {
		return nil, ErrWrongPassphrase
	}
	pt, err := aead.Open(nil, bl.Nonce, bl.Cipher, additionalData(bl.Salt, name))
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return pt, nil
}

// Forget drops cached keys and the current salt.
func (s *Sealer) Forget() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, key := range s.keys {
		memzero.Zero(key)
		delete(s.keys, k)
	}
	s.salt = nil
}

func (s *Sealer) keyLocked(salt []byte, p ScryptParams) ([]byte, error) {
	cacheKey := fmt.Sprintf("%x/%d/%d/%d", salt, p.N, p.R, p.P)
	if key, ok := s.keys[cacheKey]; ok {
		return key, nil
	}
	key, err := scrypt.Key(s.passphrase, salt, p.N, p.R, p.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	s.keys[cacheKey] = key
	return key, nil
}

func additionalData(salt []byte, name string) []byte {
	ad := make([]byte, 0, len(salt)+len(name))
	ad = append(ad, salt...)
	return append(ad, name...)
}
