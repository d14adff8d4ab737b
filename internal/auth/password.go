package auth

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2の導出パラメータ。変更すると既存ハッシュが検証不能になる。
	pbkdf2Iterations = 10000
	pbkdf2KeyLength  = 64
	saltLength       = 16
)

// GenerateSalt は暗号的に安全なソルトを生成する。
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// HashPassword はパスワードをpbkdf2でハッシュ化し、base64表現で返す。
func HashPassword(password string, salt []byte) string {
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, pbkdf2KeyLength, sha512.New)
	return base64.StdEncoding.EncodeToString(key)
}

// VerifyPassword は平文パスワードが格納ハッシュと一致するかを定数時間比較で検証する。
func VerifyPassword(password string, salt []byte, storedHash string) bool {
	computed := HashPassword(password, salt)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}
