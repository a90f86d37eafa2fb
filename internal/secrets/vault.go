// Package secrets encrypts proposal payloads at rest. Each loop gets its
// own data encryption key derived from a shared root key.
package secrets

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"pkt.systems/kryptograf"
	"pkt.systems/kryptograf/keymgmt"
	"pkt.systems/pslog"
	"pkt.systems/steward/schema"
)

const descriptorPrefix = "steward:loop:"

// Vault seals and opens loop-scoped payloads.
type Vault struct {
	storePath string
	log       pslog.Logger
}

// NewVault initializes the vault and ensures the root key exists.
func NewVault(storePath string) (*Vault, error) {
	return NewVaultWithLogger(storePath, nil)
}

// NewVaultWithLogger initializes the vault with logging.
func NewVaultWithLogger(storePath string, logger pslog.Logger) (*Vault, error) {
	if strings.TrimSpace(storePath) == "" {
		return nil, fmt.Errorf("vault store path is required")
	}
	if err := EnsureVaultWithLogger(storePath, logger); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("vault_store", storePath)
	}
	return &Vault{storePath: storePath, log: logger}, nil
}

// EnsureVault creates or loads the key store at path and ensures a root key exists.
func EnsureVault(path string) error {
	return EnsureVaultWithLogger(path, nil)
}

// EnsureVaultWithLogger creates or loads the key store with logging.
func EnsureVaultWithLogger(path string, logger pslog.Logger) error {
	if path == "" {
		return fmt.Errorf("vault store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		if logger != nil {
			logger.Warn("vault ensure failed", "err", err)
		}
		return err
	}
	store, err := keymgmt.LoadProto(path)
	if err != nil {
		if logger != nil {
			logger.Warn("vault ensure failed", "err", err)
		}
		return err
	}
	if _, err := store.EnsureRootKey(); err != nil {
		if logger != nil {
			logger.Warn("vault ensure failed", "err", err)
		}
		return err
	}
	if err := store.Commit(); err != nil {
		if logger != nil {
			logger.Warn("vault ensure failed", "err", err)
		}
		return err
	}
	if logger != nil {
		logger.Info("vault ensure ok", "path", path)
	}
	return nil
}

// Seal encrypts plain under the loop's data encryption key.
func (v *Vault) Seal(loopID schema.LoopID, plain []byte) ([]byte, error) {
	material, root, err := v.materialForLoop(loopID)
	if err != nil {
		return nil, err
	}
	kg := kryptograf.New(root)
	var buf bytes.Buffer
	writer, err := kg.EncryptWriter(&buf, material)
	if err != nil {
		if v.log != nil {
			v.log.Warn("vault seal failed", "loop", loopID, "err", err)
		}
		return nil, err
	}
	if _, err := writer.Write(plain); err != nil {
		_ = writer.Close()
		if v.log != nil {
			v.log.Warn("vault seal failed", "loop", loopID, "err", err)
		}
		return nil, err
	}
	if err := writer.Close(); err != nil {
		if v.log != nil {
			v.log.Warn("vault seal failed", "loop", loopID, "err", err)
		}
		return nil, err
	}
	if v.log != nil {
		v.log.Trace("vault seal ok", "loop", loopID, "bytes", len(plain))
	}
	return buf.Bytes(), nil
}

// Open decrypts cipher previously produced by Seal for the same loop.
func (v *Vault) Open(loopID schema.LoopID, cipher []byte) ([]byte, error) {
	material, root, err := v.materialForLoop(loopID)
	if err != nil {
		return nil, err
	}
	kg := kryptograf.New(root)
	reader, err := kg.DecryptReader(bytes.NewReader(cipher), material)
	if err != nil {
		if v.log != nil {
			v.log.Warn("vault open failed", "loop", loopID, "err", err)
		}
		return nil, err
	}
	defer func() { _ = reader.Close() }()
	plain, err := io.ReadAll(reader)
	if err != nil {
		if v.log != nil {
			v.log.Warn("vault open failed", "loop", loopID, "err", err)
		}
		return nil, err
	}
	return plain, nil
}

func (v *Vault) materialForLoop(loopID schema.LoopID) (keymgmt.Material, keymgmt.RootKey, error) {
	store, err := keymgmt.LoadProto(v.storePath)
	if err != nil {
		if v.log != nil {
			v.log.Warn("vault material load failed", "loop", loopID, "err", err)
		}
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	root, err := store.EnsureRootKey()
	if err != nil {
		if v.log != nil {
			v.log.Warn("vault material load failed", "loop", loopID, "err", err)
		}
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	descName := descriptorPrefix + string(loopID)
	material, err := store.EnsureDescriptor(descName, root, []byte(descName))
	if err != nil {
		if v.log != nil {
			v.log.Warn("vault material ensure failed", "loop", loopID, "err", err)
		}
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	if err := store.Commit(); err != nil {
		if v.log != nil {
			v.log.Warn("vault material commit failed", "loop", loopID, "err", err)
		}
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	return material, root, nil
}
