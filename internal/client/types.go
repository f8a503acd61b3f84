package client

// User is the identity directory's view of a person.
type User struct {
	ID          string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	CompanyID   string `json:"company_id,omitempty"`
}

// GetUserRequest is the identity GetUser request message.
type GetUserRequest struct {
	UserID string `json:"user_id"`
}

// GetUserResponse is the identity GetUser response message.
type GetUserResponse struct {
	User *User `json:"user"`
}
