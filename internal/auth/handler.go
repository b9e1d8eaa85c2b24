package auth

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/vidtip/vidtip/internal/identity"
	"github.com/vidtip/vidtip/internal/wallet"
)

// Handler exposes onboarding and session endpoints. Registration and social
// login provision the user's wallet, the one place wallets are created.
type Handler struct {
	ids     *identity.Service
	svc     *Service
	wallets *wallet.Service
}

// NewHandler builds an auth handler.
func NewHandler(ids *identity.Service, svc *Service, wallets *wallet.Service) *Handler {
	return &Handler{ids: ids, svc: svc, wallets: wallets}
}

type registerRequest struct {
	Handle   string `json:"handle"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type socialRequest struct {
	Provider    string `json:"provider"`
	ProviderUID string `json:"provider_uid"`
	Handle      string `json:"handle"`
	Email       string `json:"email"`
}

type sessionResponse struct {
	UserID       string `json:"user_id"`
	Handle       string `json:"handle"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	WalletID     string `json:"wallet_id,omitempty"`
}

// Register creates an email/password account and its wallet.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	user, err := h.ids.Register(c.UserContext(), identity.RegisterInput{
		Handle:   req.Handle,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	w, err := h.wallets.Create(c.UserContext(), wallet.CreateInput{OwnerID: user.ID})
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return h.session(c, http.StatusCreated, user, w.ID)
}

// Login validates credentials and returns a token pair.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	user, err := h.ids.Authenticate(c.UserContext(), identity.Credentials{Email: req.Email, Password: req.Password})
	if err != nil {
		return fiber.NewError(http.StatusUnauthorized, err.Error())
	}
	return h.session(c, http.StatusOK, user, h.walletID(c, user.ID))
}

// Social finds or creates the account for a provider identity, provisioning
// a wallet on first login.
func (h *Handler) Social(c *fiber.Ctx) error {
	var req socialRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	user, created, err := h.ids.SocialLogin(c.UserContext(), identity.SocialProfile{
		Provider:    req.Provider,
		ProviderUID: req.ProviderUID,
		Handle:      req.Handle,
		Email:       req.Email,
	})
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	walletID := ""
	if created {
		w, err := h.wallets.Create(c.UserContext(), wallet.CreateInput{OwnerID: user.ID})
		if err != nil {
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
		walletID = w.ID
	} else {
		walletID = h.walletID(c, user.ID)
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return h.session(c, status, user, walletID)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh issues a new access token using a valid refresh token.
func (h *Handler) Refresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	token, exp, err := h.svc.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return fiber.NewError(http.StatusUnauthorized, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"access_token": token, "expires_in": exp})
}

// Logout invalidates existing tokens by bumping the token version.
func (h *Handler) Logout(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	if err := h.svc.Logout(c.UserContext(), uid); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "logged_out"})
}

func (h *Handler) session(c *fiber.Ctx, status int, user identity.User, walletID string) error {
	pair, err := h.svc.Login(user)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(status).JSON(sessionResponse{
		UserID:       user.ID,
		Handle:       user.Handle,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
		WalletID:     walletID,
	})
}

func (h *Handler) walletID(c *fiber.Ctx, userID string) string {
	if h.wallets == nil {
		return ""
	}
	if w, err := h.wallets.GetByOwner(c.UserContext(), userID); err == nil {
		return w.ID
	}
	return ""
}
