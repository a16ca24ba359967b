package core

import (
	"chat-gateway/core/security"
)

// NoOpSecretProvider 未配置凭证密钥时的明文透传实现
type NoOpSecretProvider struct{}

func NewNoOpSecretProvider() *NoOpSecretProvider {
	return &NoOpSecretProvider{}
}

func (s *NoOpSecretProvider) Decrypt(ciphertext string) (string, error) {
	return ciphertext, nil
}

func (s *NoOpSecretProvider) Encrypt(plaintext string) (string, error) {
	return plaintext, nil
}

// NewSecretProvider key 为空时不加密
func NewSecretProvider(key string) (SecretProvider, error) {
	if key == "" {
		return NewNoOpSecretProvider(), nil
	}
	return security.NewAESSecretProvider(key)
}
