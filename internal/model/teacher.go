package model

import "time"

// Teacher is a quiz author.
type Teacher struct {
	ID           int       `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// TeacherRegisterRequest is the payload for teacher sign-up.
type TeacherRegisterRequest struct {
	Name     string `json:"name" binding:"required,min=2,max=255"`
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=6,max=128"`
}

// TeacherLoginRequest is the payload for teacher authentication.
type TeacherLoginRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=6,max=128"`
}

// TeacherLoginResponse is returned after successful login or registration.
type TeacherLoginResponse struct {
	Token   string  `json:"token"`
	Teacher Teacher `json:"teacher"`
}
