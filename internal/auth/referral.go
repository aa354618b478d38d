package auth

import (
	"encoding/base64"
	"fmt"
	"strings"

	nanoid "github.com/jaevor/go-nanoid"
)

const (
	referralCodeLength   = 10
	referralSuffixLength = 4
	alphanumeric         = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// go-nanoidは5文字未満のIDを生成できないため、長めに生成して切り詰める
	referralSuffixSourceLength = 10
)

// DeriveReferralCode はメールアドレスから紹介コードを導出する。
// base64エンコードの先頭10文字から英数字以外を除いたもの。衝突の確認は行わない。
func DeriveReferralCode(email string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(email))
	if len(encoded) > referralCodeLength {
		encoded = encoded[:referralCodeLength]
	}
	return strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
			return r
		}
		return -1
	}, encoded)
}

// ReferralCodeGenerator は紹介コードを生成する。
// 導出コードが一意制約に衝突した場合はランダムな英数字の接尾辞を付けて再生成する。
type ReferralCodeGenerator struct {
	suffix func() string
}

// NewReferralCodeGenerator はReferralCodeGeneratorを生成する。
func NewReferralCodeGenerator() (*ReferralCodeGenerator, error) {
	gen, err := nanoid.CustomASCII(alphanumeric, referralSuffixSourceLength)
	if err != nil {
		return nil, fmt.Errorf("failed to create referral code generator: %w", err)
	}
	return &ReferralCodeGenerator{
		suffix: func() string { return gen()[:referralSuffixLength] },
	}, nil
}

// Code はattempt回目の紹介コードを返す。0回目は導出コードそのもの。
func (g *ReferralCodeGenerator) Code(email string, attempt int) string {
	base := DeriveReferralCode(email)
	if attempt == 0 && base != "" {
		return base
	}
	return base + g.suffix()
}
