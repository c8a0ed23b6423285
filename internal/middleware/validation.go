package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// ValidateTenantID validates a tenant ID.
func ValidateTenantID(id string) error {
	if len(id) == 0 {
		return errors.New("tenant ID cannot be empty")
	}
	if len(id) > 64 {
		return errors.New("tenant ID exceeds maximum length")
	}
	if strings.ContainsAny(id, ": \t\n") {
		return errors.New("tenant ID contains invalid characters")
	}
	return nil
}

// ValidateChannelID validates a Messenger page ID.
func ValidateChannelID(id string) error {
	if len(id) == 0 {
		return errors.New("page ID cannot be empty")
	}
	if len(id) > 64 {
		return errors.New("page ID exceeds maximum length")
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return errors.New("page ID must be numeric")
		}
	}
	return nil
}

// ValidateSenderID validates a page-scoped sender ID.
func ValidateSenderID(id string) error {
	if len(id) == 0 {
		return errors.New("sender ID cannot be empty")
	}
	if len(id) > 128 {
		return errors.New("sender ID exceeds maximum length")
	}
	if strings.ContainsAny(id, ": \t\n") {
		return errors.New("sender ID contains invalid characters")
	}
	return nil
}

// ValidatePageToken validates a page access token.
func ValidatePageToken(token string) error {
	if len(token) > 1024 {
		return errors.New("page token exceeds maximum length")
	}
	if !utf8.ValidString(token) || strings.ContainsAny(token, " \t\n") {
		return errors.New("page token contains invalid characters")
	}
	return nil
}
