package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

func parseSnowflakeParam(c *gin.Context, name string) (snowflake.ID, error) {
	raw := strings.TrimSpace(c.Param(name))
	if raw == "" {
		return 0, newValidationError(name, "invalid_"+name, name+" is required")
	}
	parsed, err := snowflake.ParseString(raw)
	if err != nil || parsed == 0 {
		return 0, newValidationError(name, "invalid_"+name, name+" is not a valid id")
	}
	return parsed, nil
}
