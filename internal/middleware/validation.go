package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/temcen/podrex/internal/validation"
	"github.com/temcen/podrex/pkg/models"
)

// ValidateBody checks the request body against a named JSON schema before
// the handler binds it. The body is restored for downstream binding. An
// empty body passes through untouched; both session_create and session_next
// accept bodiless requests.
func ValidateBody(validator *validation.SchemaValidator, schema string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			abortWithValidationError(c, models.NewError(models.ErrInputInvalid, "failed to read request body"))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		if len(body) == 0 {
			c.Next()
			return
		}

		if contentType := c.ContentType(); contentType != "" && !strings.Contains(contentType, "application/json") {
			abortWithValidationError(c, models.NewError(models.ErrInputInvalid,
				"content type %s is not supported, use application/json", contentType))
			return
		}

		if err := validator.ValidateBody(schema, body); err != nil {
			abortWithValidationError(c, err)
			return
		}
		c.Next()
	}
}

func abortWithValidationError(c *gin.Context, err error) {
	code := string(models.ErrInputInvalid)
	message := err.Error()
	var typed *models.Error
	if errors.As(err, &typed) {
		code = string(typed.Kind)
		message = typed.Message
	}
	c.JSON(http.StatusBadRequest, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
	c.Abort()
}
