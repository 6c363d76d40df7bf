package auth

import (
	"fmt"

	"github.com/pquerna/otp/totp"
	"github.com/skip2/go-qrcode"
)

// TOTPIssuer is shown in authenticator apps.
const TOTPIssuer = "TrackFlow"

// TOTPSetup is a freshly generated second-factor secret.
type TOTPSetup struct {
	Secret string
	URL    string
	QRCode []byte // PNG
}

// GenerateTOTP creates a new TOTP secret for accountName along with a QR code.
func GenerateTOTP(accountName string) (*TOTPSetup, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      TOTPIssuer,
		AccountName: accountName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	png, err := qrcode.Encode(key.URL(), qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR code: %w", err)
	}

	return &TOTPSetup{
		Secret: key.Secret(),
		URL:    key.URL(),
		QRCode: png,
	}, nil
}

// ValidateTOTP checks a 6-digit code against secret.
func ValidateTOTP(code, secret string) bool {
	if code == "" || secret == "" {
		return false
	}
	return totp.Validate(code, secret)
}
