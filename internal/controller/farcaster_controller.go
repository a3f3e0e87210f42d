package controller

import (
	"net/http"

	"github.com/trust-ethos/ethos-connect/internal/config"
	"github.com/trust-ethos/ethos-connect/internal/service"

	"github.com/gin-gonic/gin"
)

type ChannelRequest struct {
	Request string `json:"request"`
}

type ChannelResponse struct {
	ChannelToken string `json:"channelToken"`
	URL          string `json:"url"`
	QR           string `json:"qr"`
	ExpiresAt    int64  `json:"expiresAt"`
}

type StatusQuery struct {
	Channel string `form:"channel" binding:"required"`
}

type FarcasterController struct {
	router    *gin.RouterGroup
	limiter   gin.HandlerFunc
	relay     *service.FarcasterRelayService
	authorize *service.AuthorizeService
}

func NewFarcasterController(router *gin.RouterGroup, limiter gin.HandlerFunc, relay *service.FarcasterRelayService, authorize *service.AuthorizeService) *FarcasterController {
	return &FarcasterController{
		router:    router,
		limiter:   limiter,
		relay:     relay,
		authorize: authorize,
	}
}

func (controller *FarcasterController) SetupRoutes() {
	farcasterGroup := controller.router.Group("/auth/farcaster")
	farcasterGroup.POST("/channel", controller.limiter, controller.channelHandler)
	farcasterGroup.GET("/status", controller.statusHandler)
}

func (controller *FarcasterController) channelHandler(c *gin.Context) {
	var req ChannelRequest

	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, service.NewOAuthError(service.ErrCodeInvalidRequest, "Malformed request"))
			return
		}
	}

	if req.Request != "" {
		if _, err := controller.authorize.Peek(c.Request.Context(), req.Request); err != nil {
			respondError(c, err)
			return
		}
	}

	channel, err := controller.relay.CreateChannel(c.Request.Context(), req.Request)
	if err != nil {
		respondError(c, err)
		return
	}

	// The QR code encodes the relay URL, rendering is left to the caller
	c.JSON(http.StatusOK, ChannelResponse{
		ChannelToken: channel.ChannelToken,
		URL:          channel.URL,
		QR:           channel.URL,
		ExpiresAt:    channel.ExpiresAt,
	})
}

func (controller *FarcasterController) statusHandler(c *gin.Context) {
	var req StatusQuery

	if err := c.ShouldBindQuery(&req); err != nil {
		respondError(c, service.NewOAuthError(service.ErrCodeInvalidRequest, "Missing channel"))
		return
	}

	status, err := controller.relay.Poll(c.Request.Context(), req.Channel)
	if err != nil {
		respondError(c, err)
		return
	}

	if !status.Completed {
		c.JSON(http.StatusAccepted, gin.H{
			"state": "pending",
		})
		return
	}

	res, err := finishProof(c, controller.authorize, service.CompleteRequest{
		RequestToken: status.RequestToken,
		Proof: service.Proof{
			AuthMethod: config.AuthMethodFarcaster,
			LookupType: config.LookupFarcaster,
			Identifier: status.FID,
		},
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"state":        "completed",
		"redirect_url": res.RedirectURL,
		"profile":      res.Profile,
	})
}
