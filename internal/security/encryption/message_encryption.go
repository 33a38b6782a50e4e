package encryption

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"sync"

	"chat-relay/internal/constants"

	"golang.org/x/crypto/hkdf"
)

const keyInfoPrefix = "chat-relay/conversation/"

// MessageEncryption 訊息文字落地加密。
// 每段對話的金鑰由主金鑰經 HKDF-SHA256 推導，不需另外保存。
type MessageEncryption struct {
	enabled   bool
	masterKey []byte
	ciphers   sync.Map // conversation key → *AESCTR
}

// NewMessageEncryption 以 base64 主金鑰建立加密服務；enabled 為 false 時原文存放
func NewMessageEncryption(enabled bool, masterKeyB64 string) (*MessageEncryption, error) {
	m := &MessageEncryption{enabled: enabled}
	if !enabled {
		return m, nil
	}

	key, err := base64.StdEncoding.DecodeString(masterKeyB64)
	if err != nil {
		return nil, fmt.Errorf("master key is not valid base64: %w", err)
	}
	if len(key) < constants.MasterKeyLength {
		return nil, fmt.Errorf("master key must be at least %d bytes, got %d", constants.MasterKeyLength, len(key))
	}
	m.masterKey = key
	return m, nil
}

// Enabled 是否啟用加密
func (m *MessageEncryption) Enabled() bool {
	return m != nil && m.enabled
}

// Encrypt 以對話金鑰加密；未啟用或空字串時原樣回傳
func (m *MessageEncryption) Encrypt(plaintext, conversationKey string) (string, error) {
	if !m.Enabled() || plaintext == "" {
		return plaintext, nil
	}
	c, err := m.cipherFor(conversationKey)
	if err != nil {
		return "", err
	}
	return c.Encrypt(plaintext)
}

// Decrypt 解密；非密文格式（加密啟用前寫入的資料）原樣回傳
func (m *MessageEncryption) Decrypt(content, conversationKey string) (string, error) {
	if !IsEncrypted(content) {
		return content, nil
	}
	if !m.Enabled() {
		return "", fmt.Errorf("encrypted content found but encryption is disabled")
	}
	c, err := m.cipherFor(conversationKey)
	if err != nil {
		return "", err
	}
	return c.Decrypt(content)
}

func (m *MessageEncryption) cipherFor(conversationKey string) (*AESCTR, error) {
	if conversationKey == "" {
		return nil, fmt.Errorf("conversation key cannot be empty")
	}
	if c, ok := m.ciphers.Load(conversationKey); ok {
		return c.(*AESCTR), nil
	}

	key := make([]byte, constants.MasterKeyLength)
	reader := hkdf.New(sha256.New, m.masterKey, nil, []byte(keyInfoPrefix+conversationKey))
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("failed to derive conversation key: %w", err)
	}
	c, err := NewAESCTR(key)
	if err != nil {
		return nil, err
	}
	actual, _ := m.ciphers.LoadOrStore(conversationKey, c)
	return actual.(*AESCTR), nil
}
