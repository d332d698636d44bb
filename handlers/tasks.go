package handlers

import (
	"net/http"

	"github.com/XeroHax/accountability-app/metrics"
	"github.com/XeroHax/accountability-app/models"
	"github.com/XeroHax/accountability-app/tasks"
	"github.com/gin-gonic/gin"
)

// taskMutation is the response to every counter change: the committed task
// and the owner's reps after it.
type taskMutation struct {
	Task *models.Task `json:"task"`
	User *models.User `json:"user"`
}

type bulkRequest struct {
	Tasks []tasks.Input `json:"tasks"`
}

func (a *API) HandleListTasks(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	ts, err := a.Tasks.ListTasks(c.Request.Context(), userID)
	if err != nil {
		respondError(c, userID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": ts})
}

func (a *API) HandleCreateTask(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var in tasks.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	t, err := a.Tasks.CreateTask(c.Request.Context(), userID, in)
	if err != nil {
		respondError(c, userID, err)
		return
	}
	metrics.RecordTaskMutation("create")
	c.JSON(http.StatusCreated, t)
}

// HandleCreateTasks adds the tasks drafted during goal setup.
func (a *API) HandleCreateTasks(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	ts, err := a.Tasks.CreateTasks(c.Request.Context(), userID, req.Tasks)
	if err != nil {
		respondError(c, userID, err)
		return
	}
	metrics.RecordTaskMutation("create")
	c.JSON(http.StatusCreated, gin.H{"tasks": ts})
}

func (a *API) HandleEditTask(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var in tasks.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	t, err := a.Tasks.EditTask(c.Request.Context(), userID, c.Param("id"), in)
	if err != nil {
		respondError(c, userID, err)
		return
	}
	metrics.RecordTaskMutation("edit")
	c.JSON(http.StatusOK, t)
}

func (a *API) HandleDeleteTask(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if err := a.Tasks.DeleteTask(c.Request.Context(), userID, c.Param("id")); err != nil {
		respondError(c, userID, err)
		return
	}
	metrics.RecordTaskMutation("delete")
	c.Status(http.StatusNoContent)
}

func (a *API) HandleCompleteTask(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	t, u, err := a.Tasks.CompleteTask(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, userID, err)
		return
	}
	metrics.RecordTaskMutation("complete")
	c.JSON(http.StatusOK, taskMutation{Task: t, User: u})
}

func (a *API) HandleDecrementTask(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	t, u, err := a.Tasks.DecrementTask(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, userID, err)
		return
	}
	metrics.RecordTaskMutation("decrement")
	c.JSON(http.StatusOK, taskMutation{Task: t, User: u})
}
