package jwttoken

import (
	"lagerkoll/internal/platform/middleware"
)

// MiddlewareAdapter exposes JWTService as a middleware.TokenValidator.
type MiddlewareAdapter struct {
	service *JWTService
}

func NewMiddlewareAdapter(service *JWTService) *MiddlewareAdapter {
	return &MiddlewareAdapter{service: service}
}

func (a *MiddlewareAdapter) ValidateToken(tokenString string) (*middleware.Claims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, err
	}
	return &middleware.Claims{UserID: userID, Role: claims.Role}, nil
}
