// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"
)

// MinMlockLimitKB is the mlock allowance needed to keep key material
// off swap. Key storage is small, so the bar is low.
const MinMlockLimitKB = 64

// defaultKeyFile is where container secrets mount the API key.
const defaultKeyFile = "/run/secrets/openai_api_key"

// ErrNoAPIKey is returned when no key source yields a key.
var ErrNoAPIKey = errors.New("no api key: set OPENAI_API_KEY or mount a key file")

var (
	secureInitOnce sync.Once
	mlockOK        bool
	mlockLimitKB   int64
)

// initSecureMemory arms memguard's interrupt handler and records
// whether the mlock limit can hold the key material.
func initSecureMemory(logger *slog.Logger) {
	secureInitOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockOK, mlockLimitKB = checkMlockLimit()
		if mlockOK {
			logger.Info("secure key memory initialized",
				slog.Int64("mlock_limit_kb", mlockLimitKB),
			)
		} else {
			logger.Warn("mlock limit below recommended floor, key pages may swap",
				slog.Int64("mlock_limit_kb", mlockLimitKB),
				slog.Int("required_kb", MinMlockLimitKB),
			)
		}
	})
}

// checkMlockLimit queries the kernel's RLIMIT_MEMLOCK.
//
// Outputs:
//   - bool: limit is at least MinMlockLimitKB.
//   - int64: current limit in KB, -1 when unlimited or unknown.
func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		return true, -1
	}
	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}
	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= MinMlockLimitKB, limitKB
}

// KeyVault holds the API key sealed in a memguard enclave between
// uses: encrypted at rest in process memory, decrypted only inside
// Reveal.
type KeyVault struct {
	enclave *memguard.Enclave
}

// NewKeyVault seals a key. The input slice is wiped by the enclave.
func NewKeyVault(secret []byte, logger *slog.Logger) (*KeyVault, error) {
	if len(secret) == 0 {
		return nil, ErrNoAPIKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	initSecureMemory(logger)
	return &KeyVault{enclave: memguard.NewEnclave(secret)}, nil
}

// LoadAPIKey finds the OpenAI key and seals it.
//
// Description:
//
//	Checks OPENAI_API_KEY first, then the key file (OPENAI_API_KEY_FILE
//	or the default secrets mount). Whitespace is trimmed. Whatever
//	source matched, the plaintext is immediately sealed and the
//	intermediate copy wiped.
//
// Outputs:
//   - *KeyVault: the sealed key.
//   - error: ErrNoAPIKey when no source yields one.
func LoadAPIKey(logger *slog.Logger) (*KeyVault, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if key := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); key != "" {
		return NewKeyVault([]byte(key), logger)
	}

	keyFile := os.Getenv("OPENAI_API_KEY_FILE")
	if keyFile == "" {
		keyFile = defaultKeyFile
	}
	data, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("%w (tried %s)", ErrNoAPIKey, keyFile)
	}
	key := []byte(strings.TrimSpace(string(data)))
	if len(key) == 0 {
		return nil, fmt.Errorf("%w (empty key file %s)", ErrNoAPIKey, keyFile)
	}
	logger.Info("api key loaded from file", slog.String("path", keyFile))
	return NewKeyVault(key, logger)
}

// Reveal opens the enclave. The caller must Destroy the returned
// buffer as soon as the key has been used.
func (kv *KeyVault) Reveal() (*memguard.LockedBuffer, error) {
	if kv == nil || kv.enclave == nil {
		return nil, ErrNoAPIKey
	}
	return kv.enclave.Open()
}

// PurgeSecureMemory wipes all memguard-held material. Call on
// shutdown.
func PurgeSecureMemory() {
	memguard.Purge()
}
