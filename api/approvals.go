package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quotedesk/quotedesk/api/model"
)

func (a Api) SubmitQuote(c *gin.Context) {
	id, ok := quoteID(c)
	if !ok {
		return
	}

	ref, err := a.quotedesk.Service().SubmitForApproval(c.Request.Context(), id)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, ref)
}

func (a Api) ApproveQuote(c *gin.Context) {
	id, ok := quoteID(c)
	if !ok {
		return
	}

	var req model.ApproveQuote
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.ValidateApproveQuote(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := a.quotedesk.Service().Approve(c.Request.Context(), id, req.Actor, req.Comment)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (a Api) RejectQuote(c *gin.Context) {
	id, ok := quoteID(c)
	if !ok {
		return
	}

	var req model.RejectQuote
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.ValidateRejectQuote(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := a.quotedesk.Service().Reject(c.Request.Context(), id, req.Actor, req.Reason)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
