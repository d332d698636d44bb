package handlers

import (
	"net/http"

	"github.com/XeroHax/accountability-app/middleware"
	"github.com/XeroHax/accountability-app/models"
	"github.com/gin-gonic/gin"
)

type profileRequest struct {
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url"`
}

type goalRequest struct {
	Text      string `json:"text"`
	Challenge string `json:"challenge"`
}

// HandleEnsureProfile creates the caller's profile on first sign-in. The
// request body is optional; token claims fill in what it leaves out.
func (a *API) HandleEnsureProfile(c *gin.Context) {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	var req profileRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
	}
	if req.DisplayName == "" {
		req.DisplayName = claims.Name
	}
	if req.PhotoURL == "" {
		req.PhotoURL = claims.Picture
	}

	u, created, err := a.Tasks.EnsureUser(c.Request.Context(), models.User{
		ID:          claims.UID(),
		Email:       claims.Email,
		DisplayName: req.DisplayName,
		PhotoURL:    req.PhotoURL,
	})
	if err != nil {
		respondError(c, claims.UID(), err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, u)
}

func (a *API) HandleGetProfile(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	u, err := a.Tasks.Profile(c.Request.Context(), userID)
	if err != nil {
		respondError(c, userID, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (a *API) HandleSetGoal(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req goalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	u, err := a.Tasks.SetGoal(c.Request.Context(), userID, req.Text, req.Challenge)
	if err != nil {
		respondError(c, userID, err)
		return
	}
	c.JSON(http.StatusOK, u)
}
