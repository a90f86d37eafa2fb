package schema

import "strings"

// ValidateUserID ensures a user id matches [a-z0-9._-] with no normalization.
func ValidateUserID(userID UserID) error {
	return validateIdentifier(string(userID), ErrInvalidUser)
}

// ValidateLoopID ensures a loop id matches [a-z0-9._-] with no normalization.
func ValidateLoopID(loopID LoopID) error {
	return validateIdentifier(string(loopID), ErrInvalidLoop)
}

func validateIdentifier(raw string, invalid error) error {
	if raw == "" {
		return invalid
	}
	if strings.TrimSpace(raw) != raw {
		return invalid
	}
	for _, r := range raw {
		if r >= 'a' && r <= 'z' {
			continue
		}
		if r >= '0' && r <= '9' {
			continue
		}
		if r == '.' || r == '_' || r == '-' {
			continue
		}
		return invalid
	}
	return nil
}

// NormalizeTrustMode validates and normalizes a trust mode value.
func NormalizeTrustMode(value string) (TrustMode, error) {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	switch TrustMode(trimmed) {
	case TrustRequireApproval, TrustAutoApproveAll:
		return TrustMode(trimmed), nil
	default:
		return "", ErrInvalidTrustMode
	}
}
