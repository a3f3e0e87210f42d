package controller

import (
	"errors"
	"net/http"

	"github.com/trust-ethos/ethos-connect/internal/model"
	"github.com/trust-ethos/ethos-connect/internal/service"
	"github.com/trust-ethos/ethos-connect/internal/utils/tlog"

	"github.com/gin-gonic/gin"
)

type ClientResponse struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret,omitempty"`
	Name         string   `json:"name"`
	RedirectURIs []string `json:"redirect_uris"`
	CreatedAt    int64    `json:"created_at"`
}

type ClientURI struct {
	ID string `uri:"id" binding:"required"`
}

type ClientController struct {
	router  *gin.RouterGroup
	admin   gin.HandlerFunc
	clients *service.ClientService
}

func NewClientController(router *gin.RouterGroup, admin gin.HandlerFunc, clients *service.ClientService) *ClientController {
	return &ClientController{
		router:  router,
		admin:   admin,
		clients: clients,
	}
}

func (controller *ClientController) SetupRoutes() {
	clientGroup := controller.router.Group("/clients", controller.admin)
	clientGroup.POST("", controller.registerHandler)
	clientGroup.GET("", controller.listHandler)
	clientGroup.DELETE("/:id", controller.deleteHandler)
}

func toClientResponse(client model.Client) ClientResponse {
	return ClientResponse{
		ClientID:     client.ClientID,
		Name:         client.Name,
		RedirectURIs: client.RedirectURIs,
		CreatedAt:    client.CreatedAt,
	}
}

func (controller *ClientController) registerHandler(c *gin.Context) {
	var req service.RegisterClientRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, service.NewOAuthError(service.ErrCodeInvalidRequest, "Malformed client registration"))
		return
	}

	client, secret, err := controller.clients.Register(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	tlog.AuditClientRegistered(c, client.ClientID, client.Name)

	// The secret is only ever returned here
	res := toClientResponse(*client)
	res.ClientSecret = secret

	c.JSON(http.StatusCreated, res)
}

func (controller *ClientController) listHandler(c *gin.Context) {
	clients, err := controller.clients.ListClients(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	res := make([]ClientResponse, 0, len(clients))
	for _, client := range clients {
		res = append(res, toClientResponse(client))
	}

	c.JSON(http.StatusOK, gin.H{
		"clients": res,
	})
}

func (controller *ClientController) deleteHandler(c *gin.Context) {
	var req ClientURI

	if err := c.ShouldBindUri(&req); err != nil {
		respondError(c, service.NewOAuthError(service.ErrCodeInvalidRequest, "Missing client id"))
		return
	}

	err := controller.clients.DeleteClient(c.Request.Context(), req.ID)

	if errors.Is(err, service.ErrClientNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":             service.ErrCodeInvalidClient,
			"error_description": "Client not found",
		})
		return
	}

	if err != nil {
		respondError(c, err)
		return
	}

	tlog.AuditClientDeleted(c, req.ID)

	c.Status(http.StatusNoContent)
}
