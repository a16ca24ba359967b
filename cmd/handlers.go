package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"chat-gateway/core"
	"chat-gateway/core/apierr"
	"chat-gateway/models"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-multierror"
)

const gatewayName = "Chat Gateway"

// accountView 对外展示的账号，凭证脱敏
type accountView struct {
	*models.Account
	Credential string `json:"credential"`
	Health     string `json:"health"`
}

func viewAccount(acc *models.Account, health map[string]string) accountView {
	h := health[acc.ID]
	if h == "" {
		h = "healthy"
	}
	return accountView{Account: acc, Credential: models.MaskCredential(acc.Credential), Health: h}
}

// pageParams page 从 1 开始，limit 默认 30
func pageParams(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.Query("page"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit < 1 {
		limit = 30
	}
	return page, limit
}

// providerQuery 路径中的 provider + 可选 email / bearer token
func providerQuery(c *gin.Context) core.ResolveQuery {
	return core.ResolveQuery{
		AuthToken: core.BearerToken(c),
		Provider:  c.Param("provider"),
		Email:     c.Query("email"),
	}
}

// handleRoot 处理根路径请求
func handleRoot(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name": gatewayName,
			"endpoints": gin.H{
				"chat":       "/v1/chat/completions",
				"chat_ws":    "/v1/chat/ws",
				"models":     "/v1/models",
				"providers":  "/v1/providers",
				"health":     "/health",
				"management": "/v1/management",
			},
			"providers": a.dispatcher.Registry().Names(),
			"timestamp": time.Now().Unix(),
		})
	}
}

// handleHealth 处理健康检查
func handleHealth(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, models.HealthResponse{
			Status:    "healthy",
			Gateway:   gatewayName,
			Providers: a.dispatcher.Registry().Names(),
			Accounts:  len(a.dispatcher.Router().Accounts()),
			Timestamp: time.Now().Unix(),
		})
	}
}

// handleListModels GET /v1/models 远程模型目录
func handleListModels(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"object": "list",
			"data":   a.catalog.Models(c.Request.Context()),
		})
	}
}

func handleRefreshModels(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		list := a.catalog.Refresh(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"count":   len(list),
			"message": "Models cache refreshed",
		})
	}
}

// handleListProviders GET /v1/providers
func handleListProviders(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := a.dispatcher.Enablement().List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, models.NewErrorResponse("Failed to fetch providers: "+err.Error()))
			return
		}
		type providerView struct {
			models.ProviderStatus
			Capabilities []string `json:"capabilities"`
		}
		out := make([]providerView, 0, len(list))
		for _, p := range list {
			out = append(out, providerView{ProviderStatus: p, Capabilities: a.dispatcher.Registry().Capabilities(p.ID)})
		}
		c.JSON(http.StatusOK, models.NewSuccessResponse("Providers retrieved successfully", out))
	}
}

func handleProviderModels(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := a.dispatcher.ListModels(c.Request.Context(), providerQuery(c))
		if err != nil {
			core.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.NewSuccessResponse("Provider models retrieved successfully", list))
	}
}

func handleListConversations(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, limit := pageParams(c)
		list, err := a.dispatcher.ListConversations(c.Request.Context(), providerQuery(c), page, limit)
		if err != nil {
			core.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.NewSuccessResponse("Conversations retrieved successfully", gin.H{
			"conversations": list,
			"page":          page,
			"limit":         limit,
		}))
	}
}

func handleConversationDetail(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		detail, err := a.dispatcher.GetConversation(c.Request.Context(), providerQuery(c), c.Param("id"))
		if err != nil {
			core.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.NewSuccessResponse("Conversation details retrieved successfully", gin.H{
			"conversation": detail,
		}))
	}
}

func handleDeleteConversation(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := a.dispatcher.DeleteConversation(c.Request.Context(), providerQuery(c), id); err != nil {
			core.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.NewSuccessResponse("Conversation deleted successfully", gin.H{"id": id}))
	}
}

func handleStopResponse(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			MessageID string `json:"message_id"`
		}
		// body 可选
		_ = c.ShouldBindJSON(&body)
		if err := a.dispatcher.StopResponse(c.Request.Context(), providerQuery(c), c.Param("id"), body.MessageID); err != nil {
			core.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.NewSuccessResponse("Response stopped", nil))
	}
}

// handleAccountConversations GET /v1/accounts/:id/conversations
func handleAccountConversations(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		acc, ok := lookupAccount(a, c)
		if !ok {
			return
		}
		page, limit := pageParams(c)
		list, err := a.dispatcher.ListConversations(c.Request.Context(), core.ResolveQuery{AuthToken: acc.ID, Provider: acc.Provider}, page, limit)
		if err != nil {
			core.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.NewSuccessResponse("Conversations retrieved successfully", gin.H{
			"conversations": list,
			"account":       gin.H{"id": acc.ID, "email": acc.Email, "provider": acc.Provider},
		}))
	}
}

func handleAccountConversationDetail(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		acc, ok := lookupAccount(a, c)
		if !ok {
			return
		}
		detail, err := a.dispatcher.GetConversation(c.Request.Context(), core.ResolveQuery{AuthToken: acc.ID, Provider: acc.Provider}, c.Param("cid"))
		if err != nil {
			core.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.NewSuccessResponse("Conversation details retrieved successfully", gin.H{
			"conversation": detail,
		}))
	}
}

func lookupAccount(a *app, c *gin.Context) (*models.Account, bool) {
	acc, err := a.store.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		core.WriteError(c, err)
		return nil, false
	}
	if !acc.IsActive() {
		core.WriteError(c, apierr.ErrUnauthorized)
		return nil, false
	}
	return acc, true
}

// handleListAccounts GET /v1/management/accounts
func handleListAccounts(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		accounts, err := a.store.GetAll(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, models.NewErrorResponse("Failed to query accounts: "+err.Error()))
			return
		}
		health := a.health.Snapshot()
		out := make([]accountView, 0, len(accounts))
		for _, acc := range accounts {
			out = append(out, viewAccount(acc, health))
		}
		c.JSON(http.StatusOK, models.NewSuccessResponse("Accounts retrieved successfully", out))
	}
}

// handleCreateAccount POST /v1/management/accounts
func handleCreateAccount(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.CreateAccountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.NewErrorResponse("Invalid request format: "+err.Error()))
			return
		}

		acc, err := a.store.Upsert(c.Request.Context(), req.ToAccount())
		if err != nil {
			a.logger.Errorf("[ERROR] CreateAccount | Provider: %s | Error: %v", req.Provider, err)
			c.JSON(http.StatusInternalServerError, models.NewErrorResponse("Failed to save account: "+err.Error()))
			return
		}
		a.health.MarkAvailable(acc.ID)
		refreshRouter(a)

		a.logger.Infof("[INFO] CreateAccount | Provider: %s | ID: %s", acc.Provider, acc.ID)
		c.JSON(http.StatusOK, models.NewSuccessResponse("Account saved successfully", viewAccount(acc, nil)))
	}
}

// handleImportAccounts POST /v1/management/accounts/import
// 非法行跳过并在 errors 中返回，合法行照常导入
func handleImportAccounts(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ImportAccountsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.NewErrorResponse("Invalid request format: "+err.Error()))
			return
		}
		accounts := make([]*models.Account, 0, len(req.Accounts))
		for i := range req.Accounts {
			accounts = append(accounts, req.Accounts[i].ToAccount())
		}

		res, err := a.store.ImportAccounts(c.Request.Context(), accounts)
		var rowErrs *multierror.Error
		if err != nil && !errors.As(err, &rowErrs) {
			c.JSON(http.StatusInternalServerError, models.NewErrorResponse("Failed to import accounts: "+err.Error()))
			return
		}
		for _, acc := range res.Accounts {
			a.health.MarkAvailable(acc.ID)
		}
		refreshRouter(a)

		messages := []string{}
		if rowErrs != nil {
			for _, e := range rowErrs.Errors {
				messages = append(messages, e.Error())
			}
		}
		c.JSON(http.StatusOK, models.NewSuccessResponse("Accounts imported", gin.H{
			"created": res.Created,
			"updated": res.Updated,
			"errors":  messages,
		}))
	}
}

// handleDeleteAccount DELETE /v1/management/accounts/:id
func handleDeleteAccount(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := a.store.Delete(c.Request.Context(), id); err != nil {
			if errors.Is(err, apierr.ErrAccountNotFound) {
				c.JSON(http.StatusNotFound, models.NewErrorResponse("Account not found"))
				return
			}
			c.JSON(http.StatusInternalServerError, models.NewErrorResponse("Failed to delete account: "+err.Error()))
			return
		}
		refreshRouter(a)
		c.JSON(http.StatusOK, models.NewSuccessResponse("Account deleted successfully", gin.H{"id": id}))
	}
}

// handleStats GET /v1/management/stats
func handleStats(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, models.NewSuccessResponse("Stats retrieved successfully", gin.H{
			"router": a.dispatcher.Router().Stats(),
			"health": a.health.Snapshot(),
			"uptime": time.Since(a.started).Round(time.Second).String(),
		}))
	}
}

// refreshRouter 账号变更后刷新路由快照
func refreshRouter(a *app) {
	if err := a.dispatcher.Router().Refresh(context.Background()); err != nil {
		a.logger.Warnf("Failed to refresh accounts after change: %v", err)
	}
}
