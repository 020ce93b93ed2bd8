package dto

import "github.com/bytecinema/cinema-auth/app/entity"

type RegisterResult struct {
	User *entity.User
}

type LoginResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	User         *entity.User
}
