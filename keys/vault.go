// Package keys manages the node's signing key: a secp256k1 private key
// kept in an encrypted file under the configured key directory.
package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"

	"github.com/decred/dcrd/dcrec/secp256k1/v3"
	log "github.com/inconshreveable/log15"
	"golang.org/x/crypto/scrypt"

	"github.com/emberchain/ember/codec"
	"github.com/emberchain/ember/types"
)

const (
	keyFileName = "node.key"

	saltLen = 16

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

var ErrCorruptKeyFile = errors.New("corrupt key file")

// Vault loads or creates the node key under one directory.
type Vault struct {
	dir string
}

// NewVault returns a vault over [dir].
func NewVault(dir string) *Vault {
	return &Vault{dir: dir}
}

// LoadOrCreate returns the node key, generating and persisting a fresh one
// when the vault is empty. The key file is sealed with a scrypt-derived
// AES-GCM key; an empty passphrase is allowed.
func (v *Vault) LoadOrCreate(passphrase string) (*secp256k1.PrivateKey, error) {
	path := filepath.Join(v.dir, keyFileName)
	raw, err := os.ReadFile(path)
	if err == nil {
		return v.open(raw, passphrase)
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	sealed, err := v.seal(priv, passphrase)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(v.dir, 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, sealed, 0o600); err != nil {
		return nil, err
	}
	log.Info("generated node key", "address", types.AddressFromPublicKey(priv.PubKey()))
	return priv, nil
}

func (v *Vault) seal(priv *secp256k1.PrivateKey, passphrase string) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	gcm, err := newCipher(passphrase, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	sealed := gcm.Seal(nil, nonce, priv.Serialize(), nil)

	w := codec.NewWriter()
	w.WriteBytes(salt)
	w.WriteBytes(nonce)
	w.WriteBytes(sealed)
	return w.Bytes(), nil
}

func (v *Vault) open(raw []byte, passphrase string) (*secp256k1.PrivateKey, error) {
	r := codec.NewReader(raw)
	salt, err := r.ReadBytes()
	if err != nil {
		return nil, ErrCorruptKeyFile
	}
	nonce, err := r.ReadBytes()
	if err != nil {
		return nil, ErrCorruptKeyFile
	}
	sealed, err := r.ReadBytes()
	if err != nil {
		return nil, ErrCorruptKeyFile
	}
	gcm, err := newCipher(passphrase, salt)
	if err != nil {
		return nil, err
	}
	keyBytes, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrCorruptKeyFile
	}
	return secp256k1.PrivKeyFromBytes(keyBytes), nil
}

func newCipher(passphrase string, salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, 32)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
