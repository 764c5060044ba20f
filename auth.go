package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"billscope/models"
)

// createSubject registers a new analysis subject with a bcrypt-hashed
// access password.
func createSubject(db *gorm.DB, name, password string) (models.Subject, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Subject{}, fmt.Errorf("name required")
	}
	if len(password) < 3 {
		return models.Subject{}, fmt.Errorf("password too short (min 3)")
	}
	// pre-check existing (optimistic)
	var existing models.Subject
	if err := db.Where("name = ?", name).First(&existing).Error; err == nil {
		return models.Subject{}, fmt.Errorf("subject already exists")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.Subject{}, err
	}
	subject := models.Subject{Name: name, PasswordHash: hash}
	if err := db.Create(&subject).Error; err != nil {
		if isUniqueConstraintError(err) { // race condition after initial check
			return models.Subject{}, fmt.Errorf("subject already exists")
		}
		return models.Subject{}, err
	}
	return subject, nil
}

// verifySubject checks the access password for a subject.
func verifySubject(db *gorm.DB, subjectID uint, password string) (models.Subject, error) {
	var subject models.Subject
	if err := db.First(&subject, subjectID).Error; err != nil {
		return models.Subject{}, fmt.Errorf("subject not found")
	}
	if err := bcrypt.CompareHashAndPassword(subject.PasswordHash, []byte(password)); err != nil {
		return models.Subject{}, fmt.Errorf("incorrect password")
	}
	return subject, nil
}

// issueSubjectToken returns a JWT scoped to one subject; every subject-gated
// route checks the claim against the requested subject id.
func issueSubjectToken(subjectID uint) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"subject_id": float64(subjectID),
		"exp":        time.Now().Add(24 * time.Hour).Unix(),
	})
	return token.SignedString(jwtSecret)
}

func subjectAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || len(authHeader) < 8 || authHeader[:7] != "Bearer " {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid Authorization header"})
			c.Abort()
			return
		}
		tokenString := authHeader[7:]
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrInvalidKeyType
			}
			return jwtSecret, nil
		})
		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid claims"})
			c.Abort()
			return
		}
		id, _ := claims["subject_id"].(float64)
		if id <= 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid claims"})
			c.Abort()
			return
		}
		c.Set("subject_id", uint(id))
		c.Next()
	}
}

// tokenSubjectID returns the subject id carried by the verified token.
func tokenSubjectID(c *gin.Context) (uint, bool) {
	v, ok := c.Get("subject_id")
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok
}

// requireSubject ensures the token is scoped to the requested subject.
func requireSubject(c *gin.Context, subjectID uint) bool {
	id, ok := tokenSubjectID(c)
	if !ok || id != subjectID {
		c.JSON(http.StatusForbidden, gin.H{"error": "token not valid for this subject"})
		return false
	}
	return true
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "duplicate key") || strings.Contains(s, "unique constraint") || strings.Contains(s, "already exists")
}
