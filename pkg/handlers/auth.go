package handlers

import (
	"errors"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	"video-sharing/pkg/auth"
	"video-sharing/pkg/database"
	"video-sharing/pkg/models"
)

const minPasswordLength = 8

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Invalid credentials and unknown accounts share one message so the
// response does not reveal which usernames exist.
const errBadCredentials = "invalid username or password"

type registerRequest struct {
	Username string `json:"username" form:"username" binding:"required"`
	Email    string `json:"email" form:"email" binding:"required"`
	Password string `json:"password" form:"password" binding:"required"`
}

type loginRequest struct {
	Username   string `json:"username" form:"username" binding:"required"`
	Password   string `json:"password" form:"password" binding:"required"`
	RememberMe bool   `json:"remember_me" form:"remember_me"`

	// Browser clients send the camelCase form.
	RememberMeCamel bool `json:"rememberMe" form:"rememberMe"`
}

// Register creates a non-admin account and logs it in.
//
// Uniqueness is checked twice: the lookups give precise messages, and
// InsertUnique catches a concurrent registration that slipped between
// the lookup and the insert.
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "please fill in all required fields"})
		return
	}
	if len(req.Password) < minPasswordLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password must be at least 8 characters"})
		return
	}
	if !emailPattern.MatchString(req.Email) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "please enter a valid email address"})
		return
	}

	ctx := c.Request.Context()
	existing, err := h.store.Get(ctx, database.Users, database.Conditions{models.FieldUsername: req.Username})
	if err != nil {
		h.internalError(c, err, "registration failed, please try again later")
		return
	}
	if existing != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username already exists"})
		return
	}
	existing, err = h.store.Get(ctx, database.Users, database.Conditions{models.FieldEmail: req.Email})
	if err != nil {
		h.internalError(c, err, "registration failed, please try again later")
		return
	}
	if existing != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email already registered"})
		return
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		h.internalError(c, err, "registration failed, please try again later")
		return
	}

	rec, err := h.store.InsertUnique(ctx, database.Users, database.Record{
		models.FieldUsername:     req.Username,
		models.FieldEmail:        req.Email,
		models.FieldPasswordHash: hashedPassword,
		models.FieldIsAdmin:      false,
	}, models.FieldUsername, models.FieldEmail)
	var conflict *database.ConflictError
	if errors.As(err, &conflict) {
		msg := "username already exists"
		if conflict.Field == models.FieldEmail {
			msg = "email already registered"
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}
	if err != nil {
		h.internalError(c, err, "registration failed, please try again later")
		return
	}

	user, err := models.UserFromRecord(rec)
	if err != nil {
		h.internalError(c, err, "registration failed, please try again later")
		return
	}
	if err := h.startSession(c, user.ID, user.Username, user.IsAdmin, h.sessions.TTL(false)); err != nil {
		h.internalError(c, err, "registration failed, please try again later")
		return
	}
	h.log.Infow("user registered", "user_id", user.ID, "username", user.Username)
	c.JSON(http.StatusCreated, gin.H{"message": "registration successful", "user": user.Public()})
}

// Login accepts either the username or the email in the username field.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "please enter username and password"})
		return
	}

	ctx := c.Request.Context()
	rec, err := h.store.Get(ctx, database.Users, database.Conditions{models.FieldUsername: req.Username})
	if err == nil && rec == nil {
		rec, err = h.store.Get(ctx, database.Users, database.Conditions{models.FieldEmail: req.Username})
	}
	if err != nil {
		h.internalError(c, err, "login failed, please try again later")
		return
	}
	if rec == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errBadCredentials})
		return
	}

	user, err := models.UserFromRecord(rec)
	if err != nil {
		h.internalError(c, err, "login failed, please try again later")
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errBadCredentials})
		return
	}

	if err := h.startSession(c, user.ID, user.Username, user.IsAdmin, h.sessions.TTL(req.RememberMe || req.RememberMeCamel)); err != nil {
		h.internalError(c, err, "login failed, please try again later")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "login successful", "user": user.Public()})
}

func (h *Handler) Logout(c *gin.Context) {
	h.clearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Me returns the stored account of the logged in user.
func (h *Handler) Me(c *gin.Context) {
	if _, ok := sessionFrom(c); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not logged in"})
		return
	}
	user, err := h.currentUser(c)
	if err != nil {
		h.internalError(c, err, "failed to load user")
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user.Public()})
}

// Check reports whether the session names an existing user. The state is
// sent under both the snake_case and the camelCase key browser clients read.
func (h *Handler) Check(c *gin.Context) {
	user, err := h.currentUser(c)
	if err != nil {
		h.internalError(c, err, "failed to check session")
		return
	}
	if user == nil {
		c.JSON(http.StatusOK, gin.H{"is_logged_in": false, "isLoggedIn": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"is_logged_in": true,
		"isLoggedIn":   true,
		"user": gin.H{
			"id":       user.ID,
			"username": user.Username,
			"is_admin": user.IsAdmin,
		},
	})
}
