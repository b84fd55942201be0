// Package sse 向已连接的内部客户端推送委托变更，按租户隔离。
package sse

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Event Server-Sent Event
type Event struct {
	EventType string `json:"event"`
	Data      string `json:"data"`
}

// Client 已连接的客户端
type Client struct {
	ID       string
	UserID   string
	TenantID string
	Events   chan Event
}

// Hub 管理全部 SSE 连接
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *zap.Logger
}

// NewHub 创建 Hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

// Register 注册客户端
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	h.logger.Debug("SSE client registered",
		zap.String("client_id", client.ID),
		zap.String("user_id", client.UserID),
		zap.Int("total", len(h.clients)),
	)
}

// Unregister 注销客户端并关闭其事件通道
func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.clients[clientID]; ok {
		close(client.Events)
		delete(h.clients, clientID)
		h.logger.Debug("SSE client unregistered", zap.String("client_id", clientID), zap.Int("total", len(h.clients)))
	}
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastTenant 向某租户的全部客户端发送事件，缓冲区满的客户端跳过
func (h *Hub) BroadcastTenant(tenantID string, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.TenantID != tenantID {
			continue
		}
		select {
		case client.Events <- event:
		default:
			h.logger.Warn("SSE client buffer full, skipping event", zap.String("client_id", client.ID))
		}
	}
}

// PublishAssignmentUpdate 委托变更事件
func (h *Hub) PublishAssignmentUpdate(tenantID, assignmentID, action string) {
	data, _ := json.Marshal(map[string]string{
		"assignment_id": assignmentID,
		"action":        action,
	})
	h.BroadcastTenant(tenantID, Event{EventType: "assignment_update", Data: string(data)})
}

// PublishReportUpdate 报告申请变更事件
func (h *Hub) PublishReportUpdate(tenantID, reportRequestID, action string) {
	data, _ := json.Marshal(map[string]string{
		"report_request_id": reportRequestID,
		"action":            action,
	})
	h.BroadcastTenant(tenantID, Event{EventType: "report_update", Data: string(data)})
}
