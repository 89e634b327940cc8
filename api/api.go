/*
Copyright 2024 Quotedesk Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/quotedesk/quotedesk"
	"github.com/quotedesk/quotedesk/api/middleware"
	"github.com/quotedesk/quotedesk/config"
	"github.com/quotedesk/quotedesk/internal/apierror"
)

type Api struct {
	quotedesk *quotedesk.Quotedesk
	router    *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/quotes", a.CreateQuote)
	router.GET("/quotes/:id", a.GetQuote)

	router.POST("/quotes/:id/submit", a.SubmitQuote)
	router.POST("/quotes/:id/approve", a.ApproveQuote)
	router.POST("/quotes/:id/reject", a.RejectQuote)

	router.GET("/quotes/:id/consistency", a.CheckConsistency)
	router.GET("/quotes/:id/approval-instances", a.GetApprovalInstances)
	router.GET("/quotes/:id/approval-events", a.GetApprovalEvents)

	router.GET("/callbacks/approval", a.VerifyCallbackURL)
	router.POST("/callbacks/approval", a.ReceiveCallback)
	return a.router
}

func NewAPI(q *quotedesk.Quotedesk) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(otelgin.Middleware(conf.ProjectName))
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware("/", "/callbacks/"))
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{quotedesk: q, router: r}
}

func respondWithError(c *gin.Context, err error) {
	apiErr := apierror.FromError(err)
	c.JSON(apierror.MapErrorToHTTPStatus(apiErr), gin.H{"error": apiErr.Message, "code": apiErr.Code})
}

func quoteID(c *gin.Context) (string, bool) {
	id, passed := c.Params.Get("id")
	if !passed || id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return "", false
	}
	return id, true
}
