/*
Copyright 2024 Quotedesk Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package callback verifies and decrypts approval callbacks sent by the
// remote approval system.
package callback

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrSignatureMismatch = errors.New("callback signature mismatch")
	ErrMalformed         = errors.New("malformed callback payload")
	ErrReceiverMismatch  = errors.New("callback receiver mismatch")
	ErrStaleTimestamp    = errors.New("callback timestamp outside allowed window")
)

const (
	blockSize  = 32
	randPrefix = 16
)

// envelope is the encrypted callback body.
type envelope struct {
	XMLName    xml.Name `xml:"xml"`
	ToUserName string   `xml:"ToUserName"`
	AgentID    string   `xml:"AgentID"`
	Encrypt    string   `xml:"Encrypt"`
}

// Crypter holds the callback credentials of one receiver.
type Crypter struct {
	token      string
	key        []byte
	receiverID string
	maxSkew    time.Duration
	now        func() time.Time
}

type Option func(*Crypter)

// WithMaxSkew rejects callbacks whose timestamp is further than d from now.
// Zero disables the check.
func WithMaxSkew(d time.Duration) Option {
	return func(c *Crypter) { c.maxSkew = d }
}

// WithClock overrides the time source used by the skew check.
func WithClock(now func() time.Time) Option {
	return func(c *Crypter) { c.now = now }
}

// NewCrypter decodes the 43 character EncodingAESKey into the AES-256 key.
func NewCrypter(token, encodingAESKey, receiverID string, opts ...Option) (*Crypter, error) {
	if token == "" {
		return nil, errors.New("callback token is required")
	}
	if len(encodingAESKey) != 43 {
		return nil, fmt.Errorf("callback aes key must be 43 characters, got %d", len(encodingAESKey))
	}
	key, err := base64.StdEncoding.DecodeString(encodingAESKey + "=")
	if err != nil {
		return nil, fmt.Errorf("decode callback aes key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("callback aes key decodes to %d bytes", len(key))
	}

	c := &Crypter{token: token, key: key, receiverID: receiverID, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Signature computes hex(sha1(sorted(token, timestamp, nonce, encrypt))).
func (c *Crypter) Signature(timestamp, nonce, encrypt string) string {
	parts := []string{c.token, timestamp, nonce, encrypt}
	sort.Strings(parts)
	sum := sha1.Sum([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])
}

func (c *Crypter) verify(signature, timestamp, nonce, encrypt string) error {
	expected := c.Signature(timestamp, nonce, encrypt)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(signature))) != 1 {
		return ErrSignatureMismatch
	}
	if c.maxSkew <= 0 {
		return nil
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: timestamp %q", ErrMalformed, timestamp)
	}
	skew := c.now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > c.maxSkew {
		return ErrStaleTimestamp
	}
	return nil
}

// VerifyURL handles the URL verification handshake and returns the plain
// echo string the remote system expects back.
func (c *Crypter) VerifyURL(signature, timestamp, nonce, echostr string) ([]byte, error) {
	if err := c.verify(signature, timestamp, nonce, echostr); err != nil {
		return nil, err
	}
	return c.decrypt(echostr)
}

// DecryptMessage verifies a POSTed callback body and returns the decrypted message.
func (c *Crypter) DecryptMessage(signature, timestamp, nonce string, body []byte) ([]byte, error) {
	var env envelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Encrypt == "" {
		return nil, fmt.Errorf("%w: missing Encrypt element", ErrMalformed)
	}
	if err := c.verify(signature, timestamp, nonce, env.Encrypt); err != nil {
		return nil, err
	}
	return c.decrypt(env.Encrypt)
}

// EncryptMessage builds a signed envelope for msg. The remote system does this
// on its side; it is used to produce replies and test fixtures.
func (c *Crypter) EncryptMessage(msg []byte, timestamp, nonce string) (body []byte, signature string, err error) {
	encrypted, err := c.encrypt(msg)
	if err != nil {
		return nil, "", err
	}
	signature = c.Signature(timestamp, nonce, encrypted)
	body, err = xml.Marshal(envelope{ToUserName: c.receiverID, Encrypt: encrypted})
	if err != nil {
		return nil, "", err
	}
	return body, signature, nil
}

func (c *Crypter) decrypt(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d", ErrMalformed, len(raw))
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	plain := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, c.key[:aes.BlockSize]).CryptBlocks(plain, raw)

	plain, err = unpad(plain)
	if err != nil {
		return nil, err
	}
	if len(plain) < randPrefix+4 {
		return nil, fmt.Errorf("%w: plaintext too short", ErrMalformed)
	}
	size := int(binary.BigEndian.Uint32(plain[randPrefix : randPrefix+4]))
	rest := plain[randPrefix+4:]
	if size > len(rest) {
		return nil, fmt.Errorf("%w: message length %d exceeds payload", ErrMalformed, size)
	}

	msg, receiver := rest[:size], rest[size:]
	if c.receiverID != "" && string(receiver) != c.receiverID {
		return nil, ErrReceiverMismatch
	}
	return msg, nil
}

func (c *Crypter) encrypt(msg []byte) (string, error) {
	var buf bytes.Buffer
	prefix := make([]byte, randPrefix)
	if _, err := io.ReadFull(rand.Reader, prefix); err != nil {
		return "", err
	}
	buf.Write(prefix)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(msg)))
	buf.Write(msg)
	buf.WriteString(c.receiverID)

	plain := pad(buf.Bytes())
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, c.key[:aes.BlockSize]).CryptBlocks(out, plain)
	return base64.StdEncoding.EncodeToString(out), nil
}

// pad applies PKCS#7 padding to a 32 byte block size.
func pad(b []byte) []byte {
	n := blockSize - len(b)%blockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte) ([]byte, error) {
	n := int(b[len(b)-1])
	if n < 1 || n > blockSize || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding", ErrMalformed)
	}
	return b[:len(b)-n], nil
}
