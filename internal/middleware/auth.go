package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// AuthMiddleware valida el token Bearer emitido por el sistema de sesiones y deja el userId en el contexto
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" && c.Query("token") != "" {
			// Los navegadores no permiten headers en websockets
			authHeader = "Bearer " + c.Query("token")
		}
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Token no proporcionado"})
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		userID, err := parseUserID(tokenString, secret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Token inválido"})
			c.Abort()
			return
		}

		c.Set("userId", userID)
		c.Next()
	}
}

func parseUserID(tokenString, secret string) (string, error) {
	if secret == "" {
		return "", errors.New("JWT_SECRET no configurado")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("método de firma inesperado: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("token inválido: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("claims inválidos")
	}
	userID, _ := claims["userId"].(string)
	if userID == "" {
		return "", errors.New("token sin userId")
	}
	return userID, nil
}

// GenerateToken firma un token para el usuario, usado por herramientas internas y tests
func GenerateToken(secret, userId string, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId": userId,
		"exp":    time.Now().Add(ttl).Unix(),
	})

	return token.SignedString([]byte(secret))
}
