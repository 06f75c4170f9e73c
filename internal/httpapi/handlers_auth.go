package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"qrattend/internal/auth"
	"qrattend/internal/directory"
	"qrattend/internal/session"
)

func (s *server) login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	pair, user, err := s.Auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": pair, "user": user})
}

func (s *server) refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	pair, err := s.Auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (s *server) logout(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.Auth.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// actor returns the authenticated caller; Authenticate guarantees claims exist.
func actor(c *gin.Context) session.Actor {
	claims, _ := auth.ClaimsFrom(c)
	return session.Actor{ID: claims.Subject, Role: directory.Role(claims.Role)}
}

func (s *server) me(c *gin.Context) {
	u, err := s.Directory.GetUser(c.Request.Context(), actor(c).ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (s *server) listClasses(c *gin.Context) {
	a := actor(c)
	classes, err := s.Directory.ClassesFor(c.Request.Context(), directory.User{ID: a.ID, Role: a.Role})
	if err != nil {
		s.fail(c, err)
		return
	}
	if classes == nil {
		classes = []directory.Class{}
	}
	c.JSON(http.StatusOK, gin.H{"classes": classes})
}
