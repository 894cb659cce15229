// Package response holds the JSON envelope shared by the API handlers.
package response

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// Fail writes {"success": false, "detail": detail} and aborts the chain
func Fail(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "detail": detail})
}

// UserID returns the authenticated user set by the auth middleware
func UserID(c *gin.Context) int {
	return c.GetInt("user_id")
}

// ParamID parses a positive integer path parameter
func ParamID(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

var tagNameOnce sync.Once

// UseJSONFieldNames makes binding errors name fields by their json tag
func UseJSONFieldNames() {
	tagNameOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
}

// BindingMessage turns request binding errors into one readable sentence
func BindingMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "Invalid request body"
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		case "eqfield":
			msgs = append(msgs, "Passwords do not match")
		case "email":
			msgs = append(msgs, "Enter a valid email address")
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return strings.Join(msgs, "; ")
}
