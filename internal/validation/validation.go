// Package validation provides input checks and request middleware for the faucetd API.
package validation

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/faucetd/internal/btc"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

var (
	// base58 P2PKH/P2SH, mainnet and testnet
	legacyAddressRegex = regexp.MustCompile(`^[13mn2][a-km-zA-HJ-NP-Z1-9]{25,34}$`)
	// bech32/bech32m segwit, lowercase only
	segwitAddressRegex = regexp.MustCompile(`^(bc|tb|bcrt)1[ac-hj-np-z02-9]{8,87}$`)
	// session ids: uuids or caller-chosen slugs
	sessionIDRegex = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidBTCAddress checks the shape of a bitcoin address. Checksums are
// not verified.
func IsValidBTCAddress(addr string) bool {
	return legacyAddressRegex.MatchString(addr) || segwitAddressRegex.MatchString(addr)
}

// IsValidSessionID checks a caller-supplied session id.
func IsValidSessionID(id string) bool {
	return sessionIDRegex.MatchString(id)
}

// SanitizeString trims whitespace, limits length and strips null bytes.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// SanitizeAddress trims an address and lowercases bech32 forms. Base58
// addresses are case-sensitive and left alone.
func SanitizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	lower := strings.ToLower(addr)
	if strings.HasPrefix(lower, "bc1") || strings.HasPrefix(lower, "tb1") || strings.HasPrefix(lower, "bcrt1") {
		return lower
	}
	return addr
}

// ParseLimit reads a list limit. Empty or invalid input yields def; values
// are clamped to [1, max].
func ParseLimit(raw string, def, max int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs validators and collects their failures.
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidAddress checks a bitcoin address field. Empty passes; pair with Required.
func ValidAddress(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidBTCAddress(value) {
			return &ValidationError{Field: field, Message: "must be a valid bitcoin address"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// ValidAmount checks a BTC decimal amount is well formed and positive.
func ValidAmount(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		sats, err := btc.Parse(value)
		if err != nil {
			return &ValidationError{Field: field, Message: "invalid amount format"}
		}
		if sats <= 0 {
			return &ValidationError{Field: field, Message: "amount must be greater than zero"}
		}
		return nil
	}
}

// SessionIDParamMiddleware rejects malformed :id path parameters early.
func SessionIDParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if id != "" && !IsValidSessionID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_session_id",
				"message": "session id must be 1-128 characters of letters, digits, '-', '_', '.' or ':'",
			})
			return
		}
		c.Next()
	}
}
