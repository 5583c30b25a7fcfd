package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AccountHandler exposes the relay session identity and its teams.
type AccountHandler struct {
	platform Platform
}

func NewAccountHandler(platform Platform) *AccountHandler {
	return &AccountHandler{platform: platform}
}

// Me returns the participant the relay is logged in as.
func (h *AccountHandler) Me(c *gin.Context) {
	me, err := h.platform.Me(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":       me.ParticipantID(),
		"name":     me.FullName(),
		"guest":    me.IsGuest(),
		"identity": me,
	})
}

func (h *AccountHandler) GetTeam(c *gin.Context) {
	team, err := h.platform.Team(c.Request.Context(), c.Param("team_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, team)
}
