// Package fieldcrypt はNRICなどの機微な項目を可逆暗号化します。
package fieldcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// KeySize は AES-256 の鍵長です。
const KeySize = 32

// Placeholder は復号に失敗したときに表示用として返す固定文字列です。
const Placeholder = "Error decrypting data"

// ErrDecrypt は暗号文の破損や鍵の不一致で復号できなかったことを表します。
var ErrDecrypt = errors.New("fieldcrypt: decrypt failed")

// Cipher はプロセス起動時に解決した鍵で暗号化・復号を行います。
type Cipher struct {
	aead cipher.AEAD
}

// New は32バイトの鍵から Cipher を作成します。
func New(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("fieldcrypt: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// GenerateKey は一時鍵を生成します。
// この鍵で暗号化したデータはプロセス再起動後に復号できなくなります。
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt は平文を暗号化し base64 文字列（nonce ‖ 暗号文 ‖ タグ）で返します。空文字はそのまま返します。
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return plaintext, nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("fieldcrypt: nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt は Encrypt の出力を復号します。空文字はそのまま返します。
// 失敗した場合は常に ErrDecrypt を返し、panic しません。
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return ciphertext, nil
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns+c.aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plain), nil
}

// Reveal は復号結果を返し、失敗時は Placeholder を返します。表示用途専用です。
func (c *Cipher) Reveal(ciphertext string) string {
	plain, err := c.Decrypt(ciphertext)
	if err != nil {
		return Placeholder
	}
	return plain
}
