package services

import (
	"github.com/charlesng35/careteam/internal/models"
	"github.com/charlesng35/careteam/pkg/validator"
)

func init() {
	if err := validator.RegisterEnum("team_role", models.TeamRoleNames()...); err != nil {
		panic(err)
	}
	if err := validator.RegisterEnum("mfa_method", models.MFAMethodNames()...); err != nil {
		panic(err)
	}
}
