package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

const genericBindError = "invalid request"

// fieldMessages holds client-facing text per struct field and validator
// tag, e.g. {"Scores": {"required": "scores are required"}}.
type fieldMessages map[string]map[string]string

// explain returns the message for the first failed rule that has one.
func (m fieldMessages) explain(err error, fallback string) string {
	var failed validator.ValidationErrors
	if errors.As(err, &failed) {
		for _, fe := range failed {
			if msg := m[fe.Field()][fe.Tag()]; msg != "" {
				return msg
			}
		}
	}
	if fallback == "" {
		return genericBindError
	}
	return fallback
}

// bindOr400 runs bind and answers 400 with an explained error on failure.
func bindOr400(c *gin.Context, bind func(any) error, req any, messages fieldMessages, fallback string) bool {
	err := bind(req)
	if err == nil {
		return true
	}
	writeError(c, http.StatusBadRequest, messages.explain(err, fallback))
	return false
}

func bindJSON(c *gin.Context, req any, messages fieldMessages, fallback string) bool {
	return bindOr400(c, c.ShouldBindJSON, req, messages, fallback)
}

func bindQuery(c *gin.Context, req any, messages fieldMessages, fallback string) bool {
	return bindOr400(c, c.ShouldBindQuery, req, messages, fallback)
}

// bindURI treats a malformed path parameter as a missing resource.
func bindURI(c *gin.Context, req any) bool {
	if c.ShouldBindUri(req) != nil {
		writeError(c, http.StatusNotFound, "not found")
		return false
	}
	return true
}

func writeError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}
