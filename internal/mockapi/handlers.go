package mockapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/studiowebux/swarm/internal/mockdb"
)

type signupRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	FullName string `json:"full_name"`
}

type itemRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
}

type toolCall struct {
	Name      string             `json:"name" binding:"required"`
	Arguments map[string]float64 `json:"arguments"`
}

func (s *Server) login(c *gin.Context) {
	ip := clientIP(c)
	if !s.limiter.Allow(ip) {
		logrus.WithField("ip", ip).Debug("Login rate limited")
		c.JSON(http.StatusTooManyRequests, gin.H{"detail": "Too many login attempts, please try again later"})
		return
	}

	username := c.PostForm("username")
	password := c.PostForm("password")
	if username == "" || password == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "username and password are required"})
		return
	}

	user, err := s.store.GetUserByEmail(c.Request.Context(), username)
	if err != nil || !user.CheckPassword(password) {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Incorrect email or password"})
		return
	}
	if !user.IsActive {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Inactive user"})
		return
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Could not issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token, "token_type": "bearer"})
}

func (s *Server) signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	user := mockdb.NewUser(req.Email, req.Password, req.FullName, false)
	err := s.store.CreateUser(c.Request.Context(), user)
	if errors.Is(err, mockdb.ErrDuplicate) {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "The user with this email already exists in the system"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) readMe(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

func (s *Server) listUsers(c *gin.Context) {
	if !currentUser(c).IsSuperuser {
		c.JSON(http.StatusForbidden, gin.H{"detail": "The user doesn't have enough privileges"})
		return
	}

	skip, limit := paging(c)
	users, count, err := s.store.ListUsers(c.Request.Context(), skip, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": users, "count": count})
}

func (s *Server) listItems(c *gin.Context) {
	user := currentUser(c)
	owner := user.ID
	if user.IsSuperuser {
		owner = ""
	}

	skip, limit := paging(c)
	items, count, err := s.store.ListItems(c.Request.Context(), owner, skip, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	if items == nil {
		items = []mockdb.Item{}
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "count": count})
}

func (s *Server) createItem(c *gin.Context) {
	var req itemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	item := &mockdb.Item{Title: req.Title, Description: req.Description, OwnerID: currentUser(c).ID}
	if err := s.store.CreateItem(c.Request.Context(), item); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, item)
}

// ownedItem loads the :id item and checks the caller may touch it
func (s *Server) ownedItem(c *gin.Context) (*mockdb.Item, bool) {
	item, err := s.store.GetItem(c.Request.Context(), c.Param("id"))
	if errors.Is(err, mockdb.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Item not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return nil, false
	}

	user := currentUser(c)
	if !user.IsSuperuser && item.OwnerID != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"detail": "Not enough permissions"})
		return nil, false
	}
	return item, true
}

func (s *Server) readItem(c *gin.Context) {
	if item, ok := s.ownedItem(c); ok {
		c.JSON(http.StatusOK, item)
	}
}

func (s *Server) updateItem(c *gin.Context) {
	item, ok := s.ownedItem(c)
	if !ok {
		return
	}

	var req itemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}
	item.Title = req.Title
	item.Description = req.Description

	err := s.store.UpdateItem(c.Request.Context(), item)
	if errors.Is(err, mockdb.ErrNotFound) {
		// deleted by a concurrent request
		c.JSON(http.StatusNotFound, gin.H{"detail": "Item not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, item)
}

func (s *Server) deleteItem(c *gin.Context) {
	item, ok := s.ownedItem(c)
	if !ok {
		return
	}

	err := s.store.DeleteItem(c.Request.Context(), item.ID)
	if errors.Is(err, mockdb.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Item not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Item deleted successfully"})
}

func (s *Server) listNotes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": []gin.H{}, "count": 0})
}

func (s *Server) mcpStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "running",
		"version": Version,
		"tools":   len(tools),
	})
}

var tools = []gin.H{
	{
		"name":        "add",
		"description": "Add two numbers",
		"inputSchema": gin.H{
			"type":       "object",
			"properties": gin.H{"a": gin.H{"type": "number"}, "b": gin.H{"type": "number"}},
			"required":   []string{"a", "b"},
		},
	},
}

var resources = map[string]func() interface{}{
	"config://app-version": func() interface{} { return Version },
}

func (s *Server) mcpDiscovery(c *gin.Context) {
	uris := make([]gin.H, 0, len(resources))
	for uri := range resources {
		uris = append(uris, gin.H{"uri": uri})
	}
	c.JSON(http.StatusOK, gin.H{"tools": tools, "resources": uris})
}

func (s *Server) callTool(c *gin.Context) {
	var call toolCall
	if err := c.ShouldBindJSON(&call); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	switch call.Name {
	case "add":
		a, b := call.Arguments["a"], call.Arguments["b"]
		c.JSON(http.StatusOK, []gin.H{{
			"type": "text",
			"text": strconv.FormatFloat(a+b, 'f', -1, 64),
			"info": gin.H{"sum": a + b},
		}})
	default:
		c.JSON(http.StatusNotFound, gin.H{"detail": "Unknown tool: " + call.Name})
	}
}

func (s *Server) readResource(c *gin.Context) {
	uri := strings.TrimPrefix(c.Param("uri"), "/")
	read, ok := resources[uri]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Unknown resource: " + uri})
		return
	}
	c.JSON(http.StatusOK, read())
}

func paging(c *gin.Context) (int, int) {
	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return skip, limit
}
