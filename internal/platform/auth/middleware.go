package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

type Claims struct {
	jwt.RegisteredClaims
	Email        string   `json:"email,omitempty"`
	Roles        []string `json:"roles"`
	PatientID    string   `json:"patient_id,omitempty"`
	DoctorID     string   `json:"doctor_id,omitempty"`
	PharmacistID string   `json:"pharmacist_id,omitempty"`
	FacilityID   string   `json:"facility_id,omitempty"`
}

// Actor converts verified claims into an Actor. Malformed ids are rejected.
func (c *Claims) Actor() (Actor, error) {
	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return Actor{}, err
	}
	a := Actor{UserID: userID, Email: c.Email, Roles: c.Roles}
	for _, f := range []struct {
		raw string
		dst *uuid.UUID
	}{
		{c.PatientID, &a.PatientID},
		{c.DoctorID, &a.DoctorID},
		{c.PharmacistID, &a.PharmacistID},
		{c.FacilityID, &a.FacilityID},
	} {
		if f.raw == "" {
			continue
		}
		if *f.dst, err = uuid.Parse(f.raw); err != nil {
			return Actor{}, err
		}
	}
	return a, nil
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey is used for development/testing only
	SigningKey []byte
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	var keyFunc jwt.Keyfunc
	if len(cfg.SigningKey) > 0 {
		keyFunc = func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }
	} else {
		keyFunc = NewJWKSCache(cfg.JWKSURL, 5*time.Minute).keyFunc
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			scheme, tokenStr, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || tokenStr == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, keyFunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			actor, err := claims.Actor()
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token claims")
			}

			c.SetRequest(c.Request().WithContext(WithActor(c.Request().Context(), actor)))
			return next(c)
		}
	}
}

// Dev identity headers, honoured only by DevAuthMiddleware.
const (
	DevUserHeader       = "X-Dev-User-ID"
	DevEmailHeader      = "X-Dev-Email"
	DevRolesHeader      = "X-Dev-Roles"
	DevPatientHeader    = "X-Dev-Patient-ID"
	DevDoctorHeader     = "X-Dev-Doctor-ID"
	DevPharmacistHeader = "X-Dev-Pharmacist-ID"
	DevFacilityHeader   = "X-Dev-Facility-ID"
)

// DevUserID is the identity used when no dev headers are sent.
var DevUserID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// DevAuthMiddleware trusts identity headers for local development. Without
// headers the caller is an admin.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Request().Header
			actor := Actor{UserID: DevUserID, Roles: []string{RoleAdmin}}

			if v := h.Get(DevUserHeader); v != "" {
				id, err := uuid.Parse(v)
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid "+DevUserHeader)
				}
				actor.UserID = id
				actor.Roles = nil
			}
			actor.Email = h.Get(DevEmailHeader)
			if v := h.Get(DevRolesHeader); v != "" {
				actor.Roles = strings.Split(v, ",")
			}
			for header, dst := range map[string]*uuid.UUID{
				DevPatientHeader:    &actor.PatientID,
				DevDoctorHeader:     &actor.DoctorID,
				DevPharmacistHeader: &actor.PharmacistID,
				DevFacilityHeader:   &actor.FacilityID,
			} {
				v := h.Get(header)
				if v == "" {
					continue
				}
				id, err := uuid.Parse(v)
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid "+header)
				}
				*dst = id
			}

			c.SetRequest(c.Request().WithContext(WithActor(c.Request().Context(), actor)))
			return next(c)
		}
	}
}

// CurrentActor returns the actor placed on the request by either auth
// middleware, or a 401 if none ran.
func CurrentActor(c echo.Context) (Actor, error) {
	a, ok := ActorFromContext(c.Request().Context())
	if !ok {
		return Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "missing actor")
	}
	return a, nil
}
