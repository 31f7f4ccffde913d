package domain

import "errors"

var (
	// ErrStoreUnavailable indica falha de I/O no Counter Store
	ErrStoreUnavailable = errors.New("counter store unavailable")

	// ErrCorruptCounter indica um valor ilegível em uma chave de contador
	ErrCorruptCounter = errors.New("corrupt counter value")

	// ErrPolicyNotFound indica um módulo sem política configurada
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrInvalidIdentity indica fingerprint sem deviceId ou sessionId
	ErrInvalidIdentity = errors.New("invalid identity")
)
