package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	totpPeriod       = 30 // seconds per time step
	totpSkew         = 1  // accept one step before/after for clock drift
	BackupCodeLength = 8
	BackupCodeCount  = 10
)

// TOTPManager handles TOTP secret generation, encryption at rest, code
// validation, and backup codes.
type TOTPManager struct {
	encryptionKey []byte // 32-byte AES-256 key
	issuer        string // issuer shown in authenticator apps
}

// NewTOTPManager creates a new TOTP manager
// encryptionKey must be exactly 32 bytes for AES-256
func NewTOTPManager(encryptionKey []byte, issuer string) (*TOTPManager, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(encryptionKey))
	}

	return &TOTPManager{
		encryptionKey: encryptionKey,
		issuer:        issuer,
	}, nil
}

// SetupResult carries everything a 2FA setup response needs. The plaintext
// secret and QR payload are returned exactly once; only the encrypted form
// is persisted.
type SetupResult struct {
	EncryptedSecret []byte
	Nonce           []byte
	Secret          string
	OTPAuthURL      string
	QRCodeDataURL   string
}

// GenerateSecret creates a fresh TOTP secret for the given account and
// renders its otpauth:// provisioning URI as a QR code PNG data URL.
func (tm *TOTPManager) GenerateSecret(accountEmail string) (*SetupResult, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: accountEmail,
		SecretSize:  32, // 256 bits, above the 160-bit floor
		Period:      totpPeriod,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	encrypted, nonce, err := tm.EncryptSecret([]byte(key.Secret()))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt secret: %w", err)
	}

	qr, err := qrcode.New(key.URL(), qrcode.Highest)
	if err != nil {
		return nil, fmt.Errorf("failed to create QR code: %w", err)
	}

	qrImage, err := qr.PNG(200)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	return &SetupResult{
		EncryptedSecret: encrypted,
		Nonce:           nonce,
		Secret:          key.Secret(),
		OTPAuthURL:      key.URL(),
		QRCodeDataURL:   "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrImage),
	}, nil
}

// EncryptSecret encrypts a TOTP secret using AES-256-GCM
// Returns: (encryptedBytes, nonce, error)
func (tm *TOTPManager) EncryptSecret(secretBytes []byte) ([]byte, []byte, error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, secretBytes, nil)

	return ciphertext, nonce, nil
}

// DecryptSecret decrypts an encrypted TOTP secret
func (tm *TOTPManager) DecryptSecret(encryptedBytes, nonce []byte) ([]byte, error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, encryptedBytes, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secret: %w", err)
	}

	return plaintext, nil
}

// ValidateCode checks a 6-digit code against the base32 secret, accepting
// the current 30-second step plus/minus one step of clock drift. Each step
// is acceptable once: a matched step at or before lastUsedStep is rejected
// as a replay. Returns the matched step for the caller to persist.
func (tm *TOTPManager) ValidateCode(secret, code string, lastUsedStep int64) (bool, int64, error) {
	return tm.validateCodeAt(secret, code, lastUsedStep, time.Now())
}

func (tm *TOTPManager) validateCodeAt(secret, code string, lastUsedStep int64, now time.Time) (bool, int64, error) {
	opts := totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      0,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}

	// Check each step in the skew window individually so the matched step
	// is known and can be recorded against replay.
	for offset := int64(-totpSkew); offset <= totpSkew; offset++ {
		at := now.Add(time.Duration(offset*totpPeriod) * time.Second)
		valid, err := totp.ValidateCustom(code, secret, at, opts)
		if err != nil {
			return false, 0, fmt.Errorf("failed to validate TOTP: %w", err)
		}
		if !valid {
			continue
		}

		step := at.Unix() / totpPeriod
		if step <= lastUsedStep {
			// Correct code, but its window was already consumed
			return false, 0, nil
		}
		return true, step, nil
	}

	return false, 0, nil
}

// GenerateBackupCodes generates N random single-use backup codes.
// Format: 8 characters, uppercase letters and digits.
func (tm *TOTPManager) GenerateBackupCodes(count int) ([]string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// Largest multiple of len(charset) below 256; bytes at or above it are
	// discarded so every charset index is equally likely.
	const rejectAbove = 256 - 256%len(charset)

	codes := make([]string, count)
	buf := make([]byte, 1)
	for i := 0; i < count; i++ {
		code := make([]byte, BackupCodeLength)
		for j := 0; j < BackupCodeLength; {
			if _, err := rand.Read(buf); err != nil {
				return nil, fmt.Errorf("failed to generate backup code: %w", err)
			}
			if int(buf[0]) >= rejectAbove {
				continue
			}
			code[j] = charset[int(buf[0])%len(charset)]
			j++
		}
		codes[i] = string(code)
	}

	return codes, nil
}

// HashBackupCode returns the SHA-256 hex digest of a backup code. Codes are
// stored hashed so a database leak does not yield working credentials.
func HashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// ConsumeBackupCode matches a candidate code against the stored hash set in
// constant time per entry. On a match it returns the set minus the consumed
// hash; the caller persists the reduced set.
func ConsumeBackupCode(code string, hashes []string) (bool, []string) {
	if len(code) != BackupCodeLength {
		return false, hashes
	}

	candidate := HashBackupCode(code)
	matched := -1
	for i, h := range hashes {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(h)) == 1 {
			matched = i
		}
	}
	if matched < 0 {
		return false, hashes
	}

	remaining := make([]string, 0, len(hashes)-1)
	remaining = append(remaining, hashes[:matched]...)
	remaining = append(remaining, hashes[matched+1:]...)
	return true, remaining
}
