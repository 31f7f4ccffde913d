package service

import (
	"encoding/hex"
	"fmt"

	"admission-control/internal/domain"

	"golang.org/x/crypto/blake2b"
)

const keyPrefix = "admission"

// KeyDeriver deriva a Rate Limit Key de forma unidirecional (BLAKE2b-256, com chave opcional)
type KeyDeriver struct {
	secret []byte
}

// NewKeyDeriver cria o derivador; secret vazio gera hash sem chave
func NewKeyDeriver(secret string) (*KeyDeriver, error) {
	if len(secret) > blake2b.Size {
		return nil, fmt.Errorf("key hash secret must be at most %d bytes", blake2b.Size)
	}
	return &KeyDeriver{secret: []byte(secret)}, nil
}

// Derive calcula hash(deviceId || sessionId || module).
// Os campos são separados por NUL para que ("ab","c") e ("a","bc") não colidam.
func (k *KeyDeriver) Derive(deviceID, sessionID, module string) string {
	h, err := blake2b.New256(k.secret)
	if err != nil {
		// tamanho do secret já validado em NewKeyDeriver
		panic(err)
	}
	h.Write([]byte(deviceID))
	h.Write([]byte{0})
	h.Write([]byte(sessionID))
	h.Write([]byte{0})
	h.Write([]byte(module))
	return hex.EncodeToString(h.Sum(nil))
}

// windowKey constrói a chave de storage de um contador de janela
func windowKey(rateKey string, window domain.Window) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, rateKey, window)
}

// recentKey constrói a chave da lista de timestamps recentes
func recentKey(rateKey string) string {
	return fmt.Sprintf("%s:%s:recent", keyPrefix, rateKey)
}

// cooldownKey constrói a chave do bloqueio por atividade suspeita
func cooldownKey(rateKey string) string {
	return fmt.Sprintf("%s:%s:cooldown", keyPrefix, rateKey)
}
