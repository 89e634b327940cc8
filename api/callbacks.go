package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/quotedesk/quotedesk"
)

const (
	callbackAck     = "success"
	maxCallbackBody = 1 << 20
)

// VerifyCallbackURL answers the remote system's URL check by echoing the
// decrypted echostr.
func (a Api) VerifyCallbackURL(c *gin.Context) {
	plain, err := a.quotedesk.Pipeline().VerifyURL(c.Request.Context(),
		c.Query("msg_signature"), c.Query("timestamp"), c.Query("nonce"), c.Query("echostr"))
	if err != nil {
		callbackFailure(c, err)
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", plain)
}

// ReceiveCallback verifies an approval event and acknowledges it. Once the
// signature checks out the ack does not depend on how the event was applied.
func (a Api) ReceiveCallback(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		c.String(http.StatusBadRequest, "unreadable body")
		return
	}

	err = a.quotedesk.Pipeline().Accept(c.Request.Context(), quotedesk.SignedRequest{
		Signature: c.Query("msg_signature"),
		Timestamp: c.Query("timestamp"),
		Nonce:     c.Query("nonce"),
		Body:      body,
	})
	if err != nil {
		callbackFailure(c, err)
		return
	}
	c.String(http.StatusOK, callbackAck)
}

func callbackFailure(c *gin.Context, err error) {
	kind, _ := quotedesk.KindOf(err)
	switch kind {
	case quotedesk.KindIntegrity:
		c.String(http.StatusUnauthorized, "invalid signature")
	case quotedesk.KindConfiguration:
		c.String(http.StatusServiceUnavailable, "callbacks are not configured")
	default:
		logrus.WithError(err).Error("approval callback failed")
		c.String(http.StatusInternalServerError, "error")
	}
}
