package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
)

// Prefix 密文前缀，用于区分历史明文凭证
const Prefix = "enc:v1:"

var ErrCiphertextTooShort = errors.New("ciphertext too short")

// AESSecretProvider 实现基于 AES-GCM 的凭证加解密
type AESSecretProvider struct {
	key []byte
}

// NewAESSecretProvider 创建 AES Secret Provider
// 16/24/32 字节的 key 直接使用，其余长度经 SHA-256 派生为 AES-256 key
func NewAESSecretProvider(keyStr string) (*AESSecretProvider, error) {
	if keyStr == "" {
		return nil, errors.New("empty credential key")
	}
	key := []byte(keyStr)
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		sum := sha256.Sum256(key)
		key = sum[:]
	}
	return &AESSecretProvider{key: key}, nil
}

func (p *AESSecretProvider) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(p.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (p *AESSecretProvider) Encrypt(plaintext string) (string, error) {
	gcm, err := p.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return Prefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt 不带前缀的值视为明文原样返回
func (p *AESSecretProvider) Decrypt(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	data, err := base64.StdEncoding.DecodeString(value[len(Prefix):])
	if err != nil {
		return "", err
	}

	gcm, err := p.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", ErrCiphertextTooShort
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// IsEncrypted 是否为本 provider 生成的密文
func IsEncrypted(s string) bool {
	if len(s) <= len(Prefix) || s[:len(Prefix)] != Prefix {
		return false
	}
	_, err := base64.StdEncoding.DecodeString(s[len(Prefix):])
	return err == nil
}
