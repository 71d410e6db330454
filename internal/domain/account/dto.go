package account

import "time"

// UpdateProfileRequest is the body of PATCH /api/account
type UpdateProfileRequest struct {
	Name string `json:"name" validate:"required,min=1,max=100"`
}

type ProfileResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Image     string    `json:"image,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func ProfileResponseFromEntity(a *Account) ProfileResponse {
	resp := ProfileResponse{
		ID:        a.ID,
		Email:     a.Email,
		Name:      a.Name,
		CreatedAt: a.CreatedAt,
	}
	if a.ImageURL != nil {
		resp.Image = *a.ImageURL
	}
	return resp
}
