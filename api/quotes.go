package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quotedesk/quotedesk/api/model"
)

func (a Api) CreateQuote(c *gin.Context) {
	var newQuote model.CreateQuote
	if err := c.ShouldBindJSON(&newQuote); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := newQuote.ValidateCreateQuote(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := a.quotedesk.CreateQuote(c.Request.Context(), newQuote.ToQuote())
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetQuote(c *gin.Context) {
	id, ok := quoteID(c)
	if !ok {
		return
	}

	resp, err := a.quotedesk.GetQuote(c.Request.Context(), id)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// CheckConsistency reports whether the stored status pair is sanctioned. It
// never repairs anything.
func (a Api) CheckConsistency(c *gin.Context) {
	id, ok := quoteID(c)
	if !ok {
		return
	}

	report, err := a.quotedesk.Synchronizer().CheckStatusConsistency(c.Request.Context(), id)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

func (a Api) GetApprovalInstances(c *gin.Context) {
	id, ok := quoteID(c)
	if !ok {
		return
	}

	mappings, err := a.quotedesk.ListApprovalInstances(c.Request.Context(), id)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, mappings)
}

func (a Api) GetApprovalEvents(c *gin.Context) {
	id, ok := quoteID(c)
	if !ok {
		return
	}

	events, err := a.quotedesk.ListApprovalEvents(c.Request.Context(), id)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, events)
}
