package httputil

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 成功訊息常數.
const (
	DataRetrieved = "Data retrieved successfully"
	DataCreated   = "Data created successfully"
	DataUpdated   = "Data updated successfully"
	DataDeleted   = "Data deleted successfully"
	FileUploaded  = "File uploaded successfully"
)

// SuccessResponse 成功回應結構.
type SuccessResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Count   *int64      `json:"count,omitempty"`
}

// OK 回傳 200.
func OK(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Message: message, Data: data})
}

// Created 回傳 201.
func Created(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusCreated, SuccessResponse{Success: true, Message: message, Data: data})
}

// OKWithCount 回傳包含計數的成功回應.
func OKWithCount(c *gin.Context, message string, count int64) {
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Message: message, Count: &count})
}
