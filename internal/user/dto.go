package user

// CreateUserDTO is the transport shape for creating a user.
type CreateUserDTO struct {
	FullName string  `json:"full_name"`
	Username string  `json:"username"`
	Email    *string `json:"email,omitempty"`
	Phone    *string `json:"phone,omitempty"`
	Password string  `json:"password"`
	Role     Role    `json:"role,omitempty"`
}

// UpdateUserDTO carries optional field updates; nil fields are untouched.
type UpdateUserDTO struct {
	FullName *string `json:"full_name,omitempty"`
	Email    *string `json:"email,omitempty"`
	Phone    *string `json:"phone,omitempty"`
	Role     *Role   `json:"role,omitempty"`
}

type ChangePasswordDTO struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// ValidationError represents a simple validation error from DTO validation.
type ValidationError struct {
	Msg string
}

func (v ValidationError) Error() string { return v.Msg }

func (d CreateUserDTO) Validate() error {
	if d.FullName == "" {
		return ValidationError{Msg: "full_name is required"}
	}
	if len(d.Username) < 3 {
		return ValidationError{Msg: "username must be at least 3 characters"}
	}
	if len(d.Password) < 8 {
		return ValidationError{Msg: "password must be at least 8 characters"}
	}
	if d.Role != "" && !d.Role.Valid() {
		return ValidationError{Msg: "unknown role"}
	}
	return nil
}

func (d UpdateUserDTO) Validate() error {
	if d.Role != nil && !d.Role.Valid() {
		return ValidationError{Msg: "unknown role"}
	}
	if d.FullName != nil && *d.FullName == "" {
		return ValidationError{Msg: "full_name cannot be empty"}
	}
	return nil
}

func (d ChangePasswordDTO) Validate() error {
	if d.OldPassword == "" {
		return ValidationError{Msg: "old_password is required"}
	}
	if len(d.NewPassword) < 8 {
		return ValidationError{Msg: "new_password must be at least 8 characters"}
	}
	return nil
}

// Stats summarizes the user population, cached under a fixed key.
type Stats struct {
	Total    int64          `json:"total"`
	Active   int64          `json:"active"`
	Inactive int64          `json:"inactive"`
	ByRole   map[Role]int64 `json:"by_role"`
}
