package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/trialhub/trialhub-backend/pkg/enums"
)

var (
	errMissingUserID   = errors.New("token carries no user id")
	errSubjectMismatch = errors.New("token subject does not match user id")
)

// AccessTokenPayload is the data the identity service signs into an access token.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Role   enums.ActorRole
	JTI    string
}

// AccessTokenClaims is the typed JWT presented by sellers, testers and admins.
type AccessTokenClaims struct {
	UserID uuid.UUID       `json:"user_id"`
	Role   enums.ActorRole `json:"role"`
	jwt.RegisteredClaims
}

// Validate runs after the registered-claim checks during parsing. SYSTEM is
// reserved for scheduler-originated actions and never appears in a user token.
func (c *AccessTokenClaims) Validate() error {
	if c.UserID == uuid.Nil {
		return errMissingUserID
	}
	if c.Subject != "" && c.Subject != c.UserID.String() {
		return errSubjectMismatch
	}
	if !c.Role.IsValid() || c.Role == enums.ActorRoleSystem {
		return fmt.Errorf("token carries invalid role %q", c.Role)
	}
	return nil
}
