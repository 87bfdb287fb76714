package model

// Company is a listed company the portal source can resolve.
type Company struct {
	Name   string `json:"name" yaml:"name" validate:"required"`
	Slug   string `json:"slug" yaml:"slug" validate:"required"`
	Code   string `json:"code" yaml:"code" validate:"required"`
	Sector string `json:"sector,omitempty" yaml:"sector"`
}
