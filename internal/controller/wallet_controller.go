package controller

import (
	"net/http"

	"github.com/trust-ethos/ethos-connect/internal/config"
	"github.com/trust-ethos/ethos-connect/internal/service"
	"github.com/trust-ethos/ethos-connect/internal/utils/tlog"

	"github.com/gin-gonic/gin"
)

type NonceResponse struct {
	Nonce     string `json:"nonce"`
	ExpiresAt int64  `json:"expiresAt"`
}

type WalletController struct {
	router    *gin.RouterGroup
	limiter   gin.HandlerFunc
	nonces    *service.NonceService
	wallet    *service.WalletService
	authorize *service.AuthorizeService
}

func NewWalletController(router *gin.RouterGroup, limiter gin.HandlerFunc, nonces *service.NonceService, wallet *service.WalletService, authorize *service.AuthorizeService) *WalletController {
	return &WalletController{
		router:    router,
		limiter:   limiter,
		nonces:    nonces,
		wallet:    wallet,
		authorize: authorize,
	}
}

func (controller *WalletController) SetupRoutes() {
	controller.router.GET("/nonce", controller.limiter, controller.nonceHandler)
	controller.router.POST("/wallet/verify", controller.limiter, controller.verifyHandler)
}

func (controller *WalletController) nonceHandler(c *gin.Context) {
	nonce, err := controller.nonces.IssueNonce(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, NonceResponse{
		Nonce:     nonce.Value,
		ExpiresAt: nonce.ExpiresAt,
	})
}

func (controller *WalletController) verifyHandler(c *gin.Context) {
	var req service.WalletProof

	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, service.NewOAuthError(service.ErrCodeInvalidRequest, "message, signature and address are required"))
		return
	}

	address, err := controller.wallet.Verify(c.Request.Context(), req)
	if err != nil {
		tlog.AuditLoginFailure(c, config.AuthMethodWallet, req.Address, service.AsOAuthError(err).Code)
		respondError(c, err)
		return
	}

	res, err := finishProof(c, controller.authorize, service.CompleteRequest{
		RequestToken: req.Request,
		RedirectURI:  req.RedirectURI,
		State:        req.State,
		Proof: service.Proof{
			AuthMethod:    config.AuthMethodWallet,
			LookupType:    config.LookupAddress,
			Identifier:    address,
			WalletAddress: address,
		},
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}
